package scanner

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"discgrab/pkg/checkpoint"
	"discgrab/pkg/models"
)

// SessionInfo is a point-in-time snapshot of a live session.
type SessionInfo struct {
	ID              string              `json:"id"`
	ChannelID       string              `json:"channel_id"`
	Channel         models.ChannelInfo  `json:"channel"`
	State           models.SessionState `json:"state"`
	MessagesScanned int                 `json:"messages_scanned"`
	URLsFound       int                 `json:"urls_found"`
	Downloaded      int                 `json:"downloaded"`
	Skipped         int                 `json:"skipped"`
	Failed          int                 `json:"failed"`
	Started         time.Time           `json:"started"`
}

// session is one channel's scan. Counters are cumulative across resumes.
type session struct {
	id        string
	channelID string
	info      models.ChannelInfo
	dir       string
	started   time.Time

	mu              sync.Mutex
	state           models.SessionState
	pauseFlag       bool
	cancel          context.CancelFunc
	messagesScanned int
	urlsFound       int
	downloaded      int
	skipped         int
	failed          int
	bytesImages     int64
	bytesVideos     int64
}

func newSession(channelID string, info models.ChannelInfo, dir string) *session {
	return &session{
		id:        uuid.New().String(),
		channelID: channelID,
		info:      info,
		dir:       dir,
		started:   time.Now(),
		state:     models.StateScanning,
	}
}

// restore seeds the counters from a checkpoint so resumed sessions keep
// reporting cumulative figures.
func (s *session) restore(cp *checkpoint.Checkpoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messagesScanned = cp.MessagesScanned
	s.urlsFound = cp.URLsFound
	s.downloaded = cp.Downloaded
	s.skipped = cp.Skipped
	s.failed = cp.Failed
}

// bind attaches the cancel func for the current run.
func (s *session) bind(cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancel = cancel
}

func (s *session) cancelRun() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (s *session) State() models.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *session) setState(state models.SessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

func (s *session) requestPause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pauseFlag = true
}

// takePause consumes a pending pause request.
func (s *session) takePause() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.pauseFlag {
		return false
	}
	s.pauseFlag = false
	return true
}

// resumeRun flips a parked session back to scanning. Reports false when
// the session is not paused.
func (s *session) resumeRun() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != models.StatePaused {
		return false
	}
	s.state = models.StateScanning
	s.pauseFlag = false
	return true
}

func (s *session) addBatch(scanned, found, skipped int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messagesScanned += scanned
	s.urlsFound += found
	s.skipped += skipped
}

func (s *session) addDownloaded(size int64, kind models.MediaKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.downloaded++
	switch kind {
	case models.KindVideo:
		s.bytesVideos += size
	default:
		s.bytesImages += size
	}
}

func (s *session) addFailed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed++
}

// syncCheckpoint copies the cumulative counters into the checkpoint.
func (s *session) syncCheckpoint(cp *checkpoint.Checkpoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp.MessagesScanned = s.messagesScanned
	cp.URLsFound = s.urlsFound
	cp.Downloaded = s.downloaded
	cp.Skipped = s.skipped
	cp.Failed = s.failed
}

func (s *session) snapshot() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionInfo{
		ID:              s.id,
		ChannelID:       s.channelID,
		Channel:         s.info,
		State:           s.state,
		MessagesScanned: s.messagesScanned,
		URLsFound:       s.urlsFound,
		Downloaded:      s.downloaded,
		Skipped:         s.skipped,
		Failed:          s.failed,
		Started:         s.started,
	}
}

func (s *session) summary(state models.SessionState) *models.ScanSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
	return &models.ScanSummary{
		SessionID:       s.id,
		ChannelID:       s.channelID,
		Channel:         s.info,
		State:           state,
		MessagesScanned: s.messagesScanned,
		URLsFound:       s.urlsFound,
		Downloaded:      s.downloaded,
		Skipped:         s.skipped,
		Failed:          s.failed,
		BytesImages:     s.bytesImages,
		BytesVideos:     s.bytesVideos,
		Dir:             s.dir,
		Duration:        time.Since(s.started),
	}
}
