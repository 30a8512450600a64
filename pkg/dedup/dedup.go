package dedup

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"discgrab/pkg/logger"
)

// historyFile is the on-disk document for one channel.
type historyFile struct {
	URLs       []string  `json:"urls"`
	LastScan   time.Time `json:"last_scan"`
	TotalScans int       `json:"total_scans"`
}

type channelHistory struct {
	urls       map[string]struct{}
	lastScan   time.Time
	totalScans int
}

// Store tracks which media URLs have already been handled per channel so
// repeated scans skip them. One JSON document per channel, loaded lazily
// and flushed once per batch.
type Store struct {
	dir    string
	logger logger.Logger

	mu       sync.RWMutex
	channels map[string]*channelHistory
}

// New creates a dedup store rooted at dir.
func New(dir string, log logger.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create dedup directory: %w", err)
	}
	if log == nil {
		log = logger.GetLogger()
	}
	return &Store{
		dir:      dir,
		logger:   log,
		channels: make(map[string]*channelHistory),
	}, nil
}

func (s *Store) path(channelID string) string {
	return filepath.Join(s.dir, channelID+".json")
}

// history returns the channel's in-memory set, loading it from disk on
// first access. Caller must hold the write lock.
func (s *Store) history(channelID string) *channelHistory {
	if h, ok := s.channels[channelID]; ok {
		return h
	}

	h := &channelHistory{urls: make(map[string]struct{})}
	s.channels[channelID] = h

	data, err := os.ReadFile(s.path(channelID))
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.WarnWithFields("url history unreadable, starting empty", map[string]interface{}{
				"channel_id": channelID,
				"error":      err.Error(),
			})
		}
		return h
	}

	var file historyFile
	if err := json.Unmarshal(data, &file); err != nil {
		s.logger.WarnWithFields("url history corrupt, starting empty", map[string]interface{}{
			"channel_id": channelID,
			"path":       s.path(channelID),
			"error":      err.Error(),
		})
		return h
	}

	for _, u := range file.URLs {
		h.urls[u] = struct{}{}
	}
	h.lastScan = file.LastScan
	h.totalScans = file.TotalScans

	s.logger.DebugWithFields("url history loaded", map[string]interface{}{
		"channel_id": channelID,
		"known_urls": len(h.urls),
	})

	return h
}

// Contains reports whether the URL has already been handled in the channel.
func (s *Store) Contains(channelID, url string) bool {
	s.mu.RLock()
	if h, ok := s.channels[channelID]; ok {
		_, found := h.urls[url]
		s.mu.RUnlock()
		return found
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	_, found := s.history(channelID).urls[url]
	return found
}

// Record marks the URL as handled. Idempotent. Callers record a URL only
// after a terminal outcome: saved, or permanently failed and accepted.
func (s *Store) Record(channelID, url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history(channelID).urls[url] = struct{}{}
}

// Flush persists the channel's document atomically.
func (s *Store) Flush(channelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked(channelID)
}

func (s *Store) flushLocked(channelID string) error {
	h := s.history(channelID)

	file := historyFile{
		URLs:       make([]string, 0, len(h.urls)),
		LastScan:   h.lastScan,
		TotalScans: h.totalScans,
	}
	for u := range h.urls {
		file.URLs = append(file.URLs, u)
	}
	sort.Strings(file.URLs)

	path := s.path(channelID)
	tempPath := path + ".tmp"
	f, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("failed to create temporary history file: %w", err)
	}

	encoder := json.NewEncoder(f)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(&file); err != nil {
		f.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to encode url history: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync history file: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close history file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace history file: %w", err)
	}

	return nil
}

// CompleteScan bumps the channel's scan counter, stamps the scan time and
// flushes. Called once when a session completes.
func (s *Store) CompleteScan(channelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := s.history(channelID)
	h.totalScans++
	h.lastScan = time.Now()

	return s.flushLocked(channelID)
}

// Stats returns the channel's known URL count, last scan time and total
// completed scans.
func (s *Store) Stats(channelID string) (known int, lastScan time.Time, totalScans int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := s.history(channelID)
	return len(h.urls), h.lastScan, h.totalScans
}

// Clear forgets everything known about the channel, in memory and on disk.
func (s *Store) Clear(channelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.channels, channelID)
	if err := os.Remove(s.path(channelID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete url history: %w", err)
	}

	s.logger.WithField("channel_id", channelID).Info("url history cleared")
	return nil
}
