package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode"

	"discgrab/pkg/logger"
	"discgrab/pkg/models"
)

const timestampLayout = "2006-01-02_15-04-05"

var (
	underscoreRun = regexp.MustCompile(`_+`)
	extPattern    = regexp.MustCompile(`^\.[a-zA-Z0-9]+$`)
)

// FileMeta is one saved file's manifest entry.
type FileMeta struct {
	URL          string    `json:"url"`
	File         string    `json:"file"`
	Kind         string    `json:"kind"`
	Size         int64     `json:"size"`
	MessageID    string    `json:"message_id"`
	DiscoveredAt time.Time `json:"discovered_at"`
	SavedAt      time.Time `json:"saved_at"`
}

// Manager lays out session directories and writes downloaded media to disk.
// Safe for concurrent use by the download workers.
type Manager struct {
	baseDir string
	logger  logger.Logger

	mu      sync.Mutex
	claimed map[string]bool       // full paths handed out but maybe not written yet
	meta    map[string][]FileMeta // session dir -> manifest entries
}

// New creates a storage manager rooted at baseDir. Directories are created
// lazily on first write, so a scan that downloads nothing leaves no trace.
func New(baseDir string, log logger.Logger) *Manager {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Manager{
		baseDir: baseDir,
		logger:  log,
		claimed: make(map[string]bool),
		meta:    make(map[string][]FileMeta),
	}
}

// BaseDir returns the downloads root.
func (m *Manager) BaseDir() string {
	return m.baseDir
}

// SessionDir returns the destination directory for a scan of the channel,
// <base>/<guild>_<channel>_<timestamp>. It does not create the directory.
func (m *Manager) SessionDir(info models.ChannelInfo, start time.Time) string {
	name := fmt.Sprintf("%s_%s_%s",
		SafeName(info.GuildName),
		SafeName(info.Name),
		start.Format(timestampLayout),
	)
	return filepath.Join(m.baseDir, name)
}

// SafeName makes a string usable as a path component: keeps letters,
// digits and "-_.", maps spaces to underscores, collapses underscore runs
// and caps the result at 50 characters. Empty input becomes "unknown".
func SafeName(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r == ' ':
			b.WriteRune('_')
		case r == '-' || r == '_' || r == '.':
			b.WriteRune(r)
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		}
	}

	name := underscoreRun.ReplaceAllString(b.String(), "_")
	name = strings.Trim(name, "_")

	if runes := []rune(name); len(runes) > 50 {
		name = strings.Trim(string(runes[:50]), "_")
	}
	if name == "" {
		return "unknown"
	}
	return name
}

// Save writes the media bytes into dir under a deterministic name derived
// from the reference, suffixing _1, _2, ... on collision. The write is
// atomic (temp file + rename). Returns the full path and size written.
func (m *Manager) Save(dir string, ref models.MediaReference, data []byte) (string, int64, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", 0, fmt.Errorf("failed to create download directory: %w", err)
	}

	m.mu.Lock()
	filename := m.reserve(dir, m.filenameFor(ref))
	m.mu.Unlock()

	fullPath := filepath.Join(dir, filename)
	tempPath := fullPath + ".tmp"

	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return "", 0, fmt.Errorf("failed to write media file: %w", err)
	}
	if err := os.Rename(tempPath, fullPath); err != nil {
		os.Remove(tempPath)
		return "", 0, fmt.Errorf("failed to rename temporary file: %w", err)
	}

	size := int64(len(data))
	m.mu.Lock()
	m.meta[dir] = append(m.meta[dir], FileMeta{
		URL:          ref.URL,
		File:         filename,
		Kind:         ref.Kind.String(),
		Size:         size,
		MessageID:    ref.MessageID,
		DiscoveredAt: ref.DiscoveredAt,
		SavedAt:      time.Now(),
	})
	m.mu.Unlock()

	return fullPath, size, nil
}

// reserve picks the first free name for the file, checking both disk and
// names already handed to in-flight saves. Caller must hold m.mu.
func (m *Manager) reserve(dir, filename string) string {
	ext := path.Ext(filename)
	stem := strings.TrimSuffix(filename, ext)

	candidate := filename
	for i := 1; ; i++ {
		full := filepath.Join(dir, candidate)
		if !m.claimed[full] {
			if _, err := os.Stat(full); os.IsNotExist(err) {
				m.claimed[full] = true
				return candidate
			}
		}
		candidate = fmt.Sprintf("%s_%d%s", stem, i, ext)
	}
}

// filenameFor derives the on-disk name: the attachment filename when
// present, else the URL path basename, sanitized. Falls back to a hash of
// the URL when neither yields a usable name.
func (m *Manager) filenameFor(ref models.MediaReference) string {
	name := ref.Filename
	if name == "" {
		if u, err := url.Parse(ref.URL); err == nil {
			name = path.Base(u.Path)
		}
	}

	ext := strings.ToLower(path.Ext(name))
	if !extPattern.MatchString(ext) {
		ext = ""
	}
	stem := SafeName(strings.TrimSuffix(name, path.Ext(name)))

	if strings.Trim(stem, "._-") == "" || stem == "unknown" {
		sum := sha256.Sum256([]byte(ref.URL))
		stem = "media_" + hex.EncodeToString(sum[:])[:8]
	}

	return stem + ext
}

// WriteManifest writes manifest.json into the session dir, one entry per
// saved file. A scan that saved nothing writes no manifest.
func (m *Manager) WriteManifest(dir string) error {
	m.mu.Lock()
	entries := m.meta[dir]
	delete(m.meta, dir)
	m.mu.Unlock()

	if len(entries) == 0 {
		return nil
	}

	var total int64
	for _, e := range entries {
		total += e.Size
	}

	doc := struct {
		GeneratedAt time.Time  `json:"generated_at"`
		FileCount   int        `json:"file_count"`
		TotalBytes  int64      `json:"total_bytes"`
		Files       []FileMeta `json:"files"`
	}{
		GeneratedAt: time.Now(),
		FileCount:   len(entries),
		TotalBytes:  total,
		Files:       entries,
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "manifest.json"), data, 0644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}

	m.logger.DebugWithFields("manifest written", map[string]interface{}{
		"dir":   dir,
		"files": len(entries),
	})
	return nil
}
