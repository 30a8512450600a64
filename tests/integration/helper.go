package integration

import (
	"context"
	"net/url"
	"path"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"discgrab/pkg/config"
	errs "discgrab/pkg/errors"
	"discgrab/pkg/logger"
	"discgrab/pkg/models"
	"discgrab/pkg/scanner"
)

// TestHelper bundles the media server and a test configuration with fast
// retries and effectively unthrottled rate limiting.
type TestHelper struct {
	t      *testing.T
	Server *MediaServer
	Config *config.Config
}

func NewTestHelper(t *testing.T) *TestHelper {
	t.Helper()

	server := NewMediaServer()
	t.Cleanup(server.Close)

	cfg := config.DefaultConfig()
	cfg.Download.BaseDirectory = filepath.Join(t.TempDir(), "downloads")
	cfg.State.Directory = filepath.Join(t.TempDir(), "state")
	cfg.Download.Workers = 3
	cfg.Download.Timeout = config.Duration(5 * time.Second)
	cfg.Scan.BatchSize = 3
	cfg.Retry.MaxAttempts = 2
	cfg.Retry.BaseDelay = config.Duration(time.Millisecond)
	cfg.Retry.MaxDelay = config.Duration(5 * time.Millisecond)
	cfg.Retry.Jitter = false
	cfg.RateLimit.RequestsPerMinute = 60000
	cfg.RateLimit.BurstSize = 1000

	return &TestHelper{t: t, Server: server, Config: cfg}
}

// NewOrchestrator builds a pipeline over the helper's config with started
// workers. Each call makes an independent instance; they share the same
// state directory, which is how a restart is simulated.
func (h *TestHelper) NewOrchestrator(src scanner.MessageSource) *scanner.Orchestrator {
	h.t.Helper()

	orch, err := scanner.New(h.Config, src, logger.NewNopLogger())
	if err != nil {
		h.t.Fatalf("failed to build orchestrator: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	orch.Start(ctx)
	h.t.Cleanup(func() {
		orch.Stop()
		cancel()
	})
	return orch
}

// scriptedSource serves a fixed message history the way the live backend
// would: ascending pages strictly after the cursor.
type scriptedSource struct {
	channel models.ChannelInfo
	msgs    []models.Message // ascending by numeric ID

	mu         sync.Mutex
	pages      int
	failAfter  int            // fail every fetch once this many pages served; 0 disables
	afterFetch func(page int) // runs after a page is served
}

func newScriptedSource(channelID, name string, msgs []models.Message) *scriptedSource {
	for i := range msgs {
		msgs[i].ChannelID = channelID
	}
	return &scriptedSource{
		channel: models.ChannelInfo{
			ID:        channelID,
			Name:      name,
			GuildID:   "guild1",
			GuildName: "Test Guild",
		},
		msgs: msgs,
	}
}

func (s *scriptedSource) FetchMessages(ctx context.Context, channelID, afterID string, limit int) ([]models.Message, error) {
	s.mu.Lock()
	if s.failAfter > 0 && s.pages >= s.failAfter {
		s.mu.Unlock()
		return nil, errs.New(errs.ErrorTypeNetwork, "connection reset")
	}
	s.pages++
	page := s.pages
	hook := s.afterFetch
	s.mu.Unlock()

	start := 0
	if afterID != "" {
		after, err := strconv.ParseInt(afterID, 10, 64)
		if err != nil {
			return nil, errs.New(errs.ErrorTypeRequest, "bad cursor: "+afterID)
		}
		for start < len(s.msgs) {
			id, _ := strconv.ParseInt(s.msgs[start].ID, 10, 64)
			if id > after {
				break
			}
			start++
		}
	}

	end := start + limit
	if end > len(s.msgs) {
		end = len(s.msgs)
	}
	out := append([]models.Message(nil), s.msgs[start:end]...)

	if hook != nil {
		hook(page)
	}
	return out, nil
}

func (s *scriptedSource) CheckAccess(ctx context.Context, channelID string) error {
	return nil
}

func (s *scriptedSource) Describe(ctx context.Context, channelID string) (*models.ChannelInfo, error) {
	info := s.channel
	return &info, nil
}

func attachmentMessage(id int, mediaURL string) models.Message {
	name := ""
	if u, err := url.Parse(mediaURL); err == nil {
		name = path.Base(u.Path)
	}
	msg := baseMessage(id)
	msg.Attachments = []models.Attachment{{
		URL:      mediaURL,
		Filename: name,
	}}
	return msg
}

func textMessage(id int, content string) models.Message {
	msg := baseMessage(id)
	msg.Content = content
	return msg
}

func baseMessage(id int) models.Message {
	return models.Message{
		ID:        strconv.Itoa(id),
		Author:    "tester",
		Timestamp: time.Unix(1700000000+int64(id), 0),
	}
}
