package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"discgrab/pkg/logger"
)

// Status describes what a persisted checkpoint represents.
type Status string

const (
	// StatusInProgress means the scan was running when the checkpoint
	// was written; after a crash it is resumable.
	StatusInProgress Status = "in_progress"
	// StatusPaused means the scan was deliberately suspended.
	StatusPaused Status = "paused"
	// StatusCompleted means the scan ran to the end; kept for history.
	StatusCompleted Status = "completed"
)

// Checkpoint records how far a channel scan has progressed. It is written
// once per batch, only after every message in the batch has been handled,
// so a resume never skips or repeats work.
type Checkpoint struct {
	ChannelID       string    `json:"channel_id"`
	LastMessageID   string    `json:"last_message_id"`
	MessagesScanned int       `json:"messages_scanned"`
	URLsFound       int       `json:"urls_found"`
	Downloaded      int       `json:"downloaded"`
	Skipped         int       `json:"skipped"`
	Failed          int       `json:"failed"`
	RequestedLimit  int       `json:"requested_limit"` // 0 means unlimited
	Dir             string    `json:"dir"`
	Status          Status    `json:"status"`
	StartedAt       time.Time `json:"started_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	Version         int       `json:"version"`
}

// New builds a fresh checkpoint for a channel scan.
func New(channelID string, limit int, dir string) *Checkpoint {
	now := time.Now()
	return &Checkpoint{
		ChannelID:      channelID,
		RequestedLimit: limit,
		Dir:            dir,
		Status:         StatusInProgress,
		StartedAt:      now,
		UpdatedAt:      now,
		Version:        1,
	}
}

// Remaining returns how many messages the session may still scan, or -1
// when the scan is unlimited.
func (c *Checkpoint) Remaining() int {
	if c.RequestedLimit <= 0 {
		return -1
	}
	left := c.RequestedLimit - c.MessagesScanned
	if left < 0 {
		return 0
	}
	return left
}

// Resumable reports whether a resume may pick this checkpoint up.
func (c *Checkpoint) Resumable() bool {
	return c.Status == StatusInProgress || c.Status == StatusPaused
}

// Store reads and writes per-channel checkpoint files.
type Store struct {
	dir    string
	logger logger.Logger
}

// NewStore creates a checkpoint store rooted at dir.
func NewStore(dir string, log logger.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoints directory: %w", err)
	}
	if log == nil {
		log = logger.GetLogger()
	}
	return &Store{dir: dir, logger: log}, nil
}

func (s *Store) path(channelID string) string {
	return filepath.Join(s.dir, channelID+".json")
}

// Load returns the channel's checkpoint, or (nil, nil) when none exists.
// A corrupt file is treated as absent with a warning so a damaged state
// directory never blocks new scans.
func (s *Store) Load(channelID string) (*Checkpoint, error) {
	file, err := os.Open(s.path(channelID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open checkpoint file: %w", err)
	}
	defer file.Close()

	var cp Checkpoint
	if err := json.NewDecoder(file).Decode(&cp); err != nil {
		s.logger.WarnWithFields("checkpoint file corrupt, treating as absent", map[string]interface{}{
			"channel_id": channelID,
			"path":       s.path(channelID),
			"error":      err.Error(),
		})
		return nil, nil
	}

	s.logger.DebugWithFields("checkpoint loaded", map[string]interface{}{
		"channel_id":       cp.ChannelID,
		"last_message_id":  cp.LastMessageID,
		"messages_scanned": cp.MessagesScanned,
		"status":           string(cp.Status),
	})

	return &cp, nil
}

// Save writes the checkpoint to disk atomically.
func (s *Store) Save(cp *Checkpoint) error {
	cp.UpdatedAt = time.Now()

	path := s.path(cp.ChannelID)
	tempPath := path + ".tmp"
	file, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("failed to create temporary checkpoint file: %w", err)
	}

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(cp); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync checkpoint file: %w", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close checkpoint file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace checkpoint file: %w", err)
	}

	s.logger.DebugWithFields("checkpoint saved", map[string]interface{}{
		"channel_id":       cp.ChannelID,
		"last_message_id":  cp.LastMessageID,
		"messages_scanned": cp.MessagesScanned,
		"status":           string(cp.Status),
	})

	return nil
}

// Clear removes the channel's checkpoint file. Clearing a missing
// checkpoint is not an error.
func (s *Store) Clear(channelID string) error {
	if err := os.Remove(s.path(channelID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	s.logger.WithField("channel_id", channelID).Info("checkpoint cleared")
	return nil
}

// Exists checks if a checkpoint file exists for the channel.
func (s *Store) Exists(channelID string) bool {
	_, err := os.Stat(s.path(channelID))
	return err == nil
}
