package scanner

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"discgrab/pkg/checkpoint"
	"discgrab/pkg/config"
	errs "discgrab/pkg/errors"
	"discgrab/pkg/logger"
	"discgrab/pkg/models"
)

const testChannel = "chan1"

// fakeSource pages through a fixed message list. afterID cursors behave
// like the real transport: strictly-after, ascending.
type fakeSource struct {
	mu        sync.Mutex
	messages  []models.Message
	byChannel map[string][]models.Message
	info      models.ChannelInfo
	fetchErr  error
	failAfter int // with fetchErr set, this many fetches succeed first
	accessErr error
	fetches   int
	gate      chan struct{} // when set, fetches block until closed
}

func (f *fakeSource) FetchMessages(ctx context.Context, channelID, afterID string, limit int) ([]models.Message, error) {
	f.mu.Lock()
	f.fetches++
	n := f.fetches
	gate := f.gate
	err := f.fetchErr
	msgs := f.messages
	if f.byChannel != nil {
		msgs = f.byChannel[channelID]
	}
	failAfter := f.failAfter
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil && n > failAfter {
		return nil, err
	}

	start := 0
	if afterID != "" {
		start = len(msgs)
		for i, m := range msgs {
			if m.ID == afterID {
				start = i + 1
				break
			}
		}
	}
	if start >= len(msgs) {
		return nil, nil
	}
	end := start + limit
	if end > len(msgs) {
		end = len(msgs)
	}
	page := make([]models.Message, end-start)
	copy(page, msgs[start:end])
	return page, nil
}

func (f *fakeSource) CheckAccess(ctx context.Context, channelID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accessErr
}

func (f *fakeSource) Describe(ctx context.Context, channelID string) (*models.ChannelInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.info.ID != "" {
		info := f.info
		return &info, nil
	}
	return &models.ChannelInfo{
		ID:        channelID,
		Name:      "chan-" + channelID,
		GuildID:   "guild1",
		GuildName: "Test Guild",
	}, nil
}

func (f *fakeSource) setFetchErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchErr = err
}

func (f *fakeSource) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

// cdn is a media host with per-path status overrides and an optional
// per-request delay. first closes when the first request arrives.
type cdn struct {
	srv   *httptest.Server
	mu    sync.Mutex
	codes map[string]int
	delay time.Duration
	once  sync.Once
	first chan struct{}
}

func newCDN(t *testing.T) *cdn {
	t.Helper()
	c := &cdn{codes: make(map[string]int), first: make(chan struct{})}
	c.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.once.Do(func() { close(c.first) })
		c.mu.Lock()
		code := c.codes[r.URL.Path]
		delay := c.delay
		c.mu.Unlock()

		if delay > 0 {
			time.Sleep(delay)
		}
		if code != 0 && code != http.StatusOK {
			http.Error(w, http.StatusText(code), code)
			return
		}
		fmt.Fprintf(w, "data for %s", r.URL.Path)
	}))
	t.Cleanup(c.srv.Close)
	return c
}

func (c *cdn) url(path string) string { return c.srv.URL + path }

func (c *cdn) setStatus(path string, code int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.codes[path] = code
}

func (c *cdn) setDelay(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delay = d
}

func newTestOrchestrator(t *testing.T, src MessageSource) *Orchestrator {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.State.Directory = filepath.Join(t.TempDir(), "state")
	cfg.Download.BaseDirectory = filepath.Join(t.TempDir(), "downloads")
	cfg.Download.Workers = 3
	cfg.Download.Timeout = config.Duration(5 * time.Second)
	cfg.Scan.BatchSize = 2
	cfg.Retry.MaxAttempts = 2
	cfg.Retry.BaseDelay = config.Duration(time.Millisecond)
	cfg.Retry.MaxDelay = config.Duration(5 * time.Millisecond)
	cfg.Retry.Jitter = false
	cfg.RateLimit.RequestsPerMinute = 60000
	cfg.RateLimit.BurstSize = 1000

	o, err := New(cfg, src, logger.NewNopLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	o.cooldown = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	o.Start(ctx)
	t.Cleanup(func() {
		cancel()
		o.Stop()
	})
	return o
}

func attachMsg(id, url, filename string) models.Message {
	return models.Message{
		ID:        id,
		ChannelID: testChannel,
		Author:    "poster",
		Timestamp: time.Now(),
		Attachments: []models.Attachment{{
			URL:         url,
			Filename:    filename,
			ContentType: "image/png",
		}},
	}
}

func contentMsg(id, url string) models.Message {
	return models.Message{
		ID:        id,
		ChannelID: testChannel,
		Author:    "poster",
		Timestamp: time.Now(),
		Content:   "check this out " + url,
	}
}

func countMedia(t *testing.T, dir string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0
		}
		t.Fatalf("read dir: %v", err)
	}
	n := 0
	for _, e := range entries {
		if !e.IsDir() && e.Name() != "manifest.json" {
			n++
		}
	}
	return n
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestScanDownloadsAndCounts(t *testing.T) {
	cdn := newCDN(t)
	src := &fakeSource{messages: []models.Message{
		attachMsg("100", cdn.url("/a.png"), "a.png"),
		contentMsg("101", cdn.url("/b.mp4")),
		{ID: "102", ChannelID: testChannel, Author: "poster", Content: "no media here"},
	}}
	o := newTestOrchestrator(t, src)

	sum, err := o.Scan(context.Background(), testChannel, 0)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if sum.State != models.StateCompleted {
		t.Errorf("state = %s, want completed", sum.State)
	}
	if sum.MessagesScanned != 3 || sum.URLsFound != 2 || sum.Downloaded != 2 {
		t.Errorf("got %d scanned / %d found / %d downloaded, want 3/2/2",
			sum.MessagesScanned, sum.URLsFound, sum.Downloaded)
	}
	if sum.Skipped != 0 || sum.Failed != 0 {
		t.Errorf("got %d skipped / %d failed, want 0/0", sum.Skipped, sum.Failed)
	}
	if sum.BytesImages == 0 || sum.BytesVideos == 0 {
		t.Errorf("byte counters image=%d video=%d, want both nonzero", sum.BytesImages, sum.BytesVideos)
	}

	if got := countMedia(t, sum.Dir); got != 2 {
		t.Errorf("media files in %s = %d, want 2", sum.Dir, got)
	}
	if _, err := os.Stat(filepath.Join(sum.Dir, "manifest.json")); err != nil {
		t.Errorf("manifest missing: %v", err)
	}

	cp, err := o.checkpoints.Load(testChannel)
	if err != nil || cp == nil {
		t.Fatalf("checkpoint load: cp=%v err=%v", cp, err)
	}
	if cp.Status != checkpoint.StatusCompleted || cp.LastMessageID != "102" {
		t.Errorf("checkpoint = %s at %q, want completed at 102", cp.Status, cp.LastMessageID)
	}

	known, _, totalScans := o.dedup.Stats(testChannel)
	if known != 2 || totalScans != 1 {
		t.Errorf("history = %d urls / %d scans, want 2/1", known, totalScans)
	}
	if len(o.Active()) != 0 {
		t.Error("session still registered after completion")
	}
}

func TestScanSecondRunSkipsKnownURLs(t *testing.T) {
	cdn := newCDN(t)
	src := &fakeSource{messages: []models.Message{
		attachMsg("100", cdn.url("/a.png"), "a.png"),
		attachMsg("101", cdn.url("/b.png"), "b.png"),
	}}
	o := newTestOrchestrator(t, src)

	if _, err := o.Scan(context.Background(), testChannel, 0); err != nil {
		t.Fatalf("first scan: %v", err)
	}

	sum, err := o.Scan(context.Background(), testChannel, 0)
	if err != nil {
		t.Fatalf("second scan: %v", err)
	}
	if sum.Downloaded != 0 || sum.Skipped != 2 || sum.URLsFound != 0 {
		t.Errorf("second scan = %d downloaded / %d skipped / %d found, want 0/2/0",
			sum.Downloaded, sum.Skipped, sum.URLsFound)
	}

	_, _, totalScans := o.dedup.Stats(testChannel)
	if totalScans != 2 {
		t.Errorf("total scans = %d, want 2", totalScans)
	}
}

func TestScanEmptyChannel(t *testing.T) {
	o := newTestOrchestrator(t, &fakeSource{})

	sum, err := o.Scan(context.Background(), testChannel, 0)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if sum.State != models.StateCompleted || sum.MessagesScanned != 0 || sum.Downloaded != 0 {
		t.Errorf("summary = %s %d scanned %d downloaded, want completed 0/0",
			sum.State, sum.MessagesScanned, sum.Downloaded)
	}
	if _, err := os.Stat(sum.Dir); !os.IsNotExist(err) {
		t.Errorf("session directory %s should not exist for an empty scan", sum.Dir)
	}

	known, _, totalScans := o.dedup.Stats(testChannel)
	if known != 0 || totalScans != 1 {
		t.Errorf("history = %d urls / %d scans, want 0/1", known, totalScans)
	}
}

func TestScanHonorsLimit(t *testing.T) {
	cdn := newCDN(t)
	var msgs []models.Message
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("10%d", i)
		msgs = append(msgs, attachMsg(id, cdn.url("/"+id+".png"), id+".png"))
	}
	src := &fakeSource{messages: msgs}
	o := newTestOrchestrator(t, src)

	sum, err := o.Scan(context.Background(), testChannel, 3)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if sum.MessagesScanned != 3 || sum.Downloaded != 3 {
		t.Errorf("got %d scanned / %d downloaded, want 3/3", sum.MessagesScanned, sum.Downloaded)
	}
	if got := src.fetchCount(); got != 2 {
		t.Errorf("fetches = %d, want 2 (batch of 2 then batch of 1)", got)
	}

	cp, _ := o.checkpoints.Load(testChannel)
	if cp == nil || cp.RequestedLimit != 3 || cp.LastMessageID != "102" {
		t.Fatalf("checkpoint = %+v, want limit 3 at 102", cp)
	}
}

func TestScanConflictWhileRunning(t *testing.T) {
	cdn := newCDN(t)
	gate := make(chan struct{})
	src := &fakeSource{
		gate:     gate,
		messages: []models.Message{attachMsg("100", cdn.url("/a.png"), "a.png")},
	}
	o := newTestOrchestrator(t, src)

	done := make(chan struct{})
	go func() {
		defer close(done)
		o.Scan(context.Background(), testChannel, 0)
	}()

	waitFor(t, func() bool { return o.hasSession(testChannel) })

	if _, err := o.Scan(context.Background(), testChannel, 0); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("concurrent scan err = %v, want ErrAlreadyRunning", err)
	}
	if _, err := o.Resume(context.Background(), testChannel); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("resume of live scan err = %v, want ErrAlreadyRunning", err)
	}

	active := o.Active()
	if len(active) != 1 || active[0].ChannelID != testChannel || active[0].State != models.StateScanning {
		t.Errorf("active = %+v, want one scanning session on %s", active, testChannel)
	}

	close(gate)
	<-done
}

func TestPauseAtBatchBoundaryThenResume(t *testing.T) {
	cdn := newCDN(t)
	cdn.setDelay(50 * time.Millisecond)
	src := &fakeSource{messages: []models.Message{
		attachMsg("100", cdn.url("/a.png"), "a.png"),
		attachMsg("101", cdn.url("/b.png"), "b.png"),
		attachMsg("102", cdn.url("/c.png"), "c.png"),
		attachMsg("103", cdn.url("/d.png"), "d.png"),
	}}
	o := newTestOrchestrator(t, src)

	type result struct {
		sum *models.ScanSummary
		err error
	}
	resCh := make(chan result, 1)
	go func() {
		sum, err := o.Scan(context.Background(), testChannel, 0)
		resCh <- result{sum, err}
	}()

	// Ask for a pause while the first batch is downloading; it takes
	// effect at the boundary after that batch is checkpointed.
	<-cdn.first
	if err := o.Pause(testChannel); err != nil {
		t.Fatalf("Pause: %v", err)
	}

	res := <-resCh
	if res.err != nil {
		t.Fatalf("paused scan returned error: %v", res.err)
	}
	if res.sum.State != models.StatePaused {
		t.Fatalf("state = %s, want paused", res.sum.State)
	}
	if res.sum.MessagesScanned != 2 || res.sum.Downloaded != 2 {
		t.Errorf("paused at %d scanned / %d downloaded, want 2/2",
			res.sum.MessagesScanned, res.sum.Downloaded)
	}

	active := o.Active()
	if len(active) != 1 || active[0].State != models.StatePaused {
		t.Fatalf("active = %+v, want one paused session", active)
	}
	if _, err := o.Scan(context.Background(), testChannel, 0); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("scan over parked session err = %v, want ErrAlreadyRunning", err)
	}

	cp, err := o.checkpoints.Load(testChannel)
	if err != nil || cp == nil {
		t.Fatalf("checkpoint load: cp=%v err=%v", cp, err)
	}
	if cp.Status != checkpoint.StatusPaused || cp.LastMessageID != "101" {
		t.Errorf("checkpoint = %s at %q, want paused at 101", cp.Status, cp.LastMessageID)
	}

	cdn.setDelay(0)
	sum, err := o.Resume(context.Background(), testChannel)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if sum.State != models.StateCompleted {
		t.Errorf("resumed state = %s, want completed", sum.State)
	}
	if sum.MessagesScanned != 4 || sum.Downloaded != 4 {
		t.Errorf("final totals = %d scanned / %d downloaded, want 4/4",
			sum.MessagesScanned, sum.Downloaded)
	}
	if got := countMedia(t, sum.Dir); got != 4 {
		t.Errorf("media files = %d, want 4 with no repeats", got)
	}
	if len(o.Active()) != 0 {
		t.Error("session still registered after completion")
	}
}

func TestCancelMidBatch(t *testing.T) {
	cdn := newCDN(t)
	cdn.setDelay(200 * time.Millisecond)
	src := &fakeSource{messages: []models.Message{
		attachMsg("100", cdn.url("/a.png"), "a.png"),
		attachMsg("101", cdn.url("/b.png"), "b.png"),
	}}
	o := newTestOrchestrator(t, src)

	type result struct {
		sum *models.ScanSummary
		err error
	}
	resCh := make(chan result, 1)
	go func() {
		sum, err := o.Scan(context.Background(), testChannel, 0)
		resCh <- result{sum, err}
	}()

	<-cdn.first
	if err := o.Cancel(testChannel); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	res := <-resCh
	if !errors.Is(res.err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", res.err)
	}
	if res.sum == nil || res.sum.State != models.StatePaused {
		t.Fatalf("summary = %+v, want paused state", res.sum)
	}

	// The interrupted batch was never checkpointed or recorded.
	cp, err := o.checkpoints.Load(testChannel)
	if err != nil || cp == nil {
		t.Fatalf("checkpoint load: cp=%v err=%v", cp, err)
	}
	if cp.Status != checkpoint.StatusPaused || cp.LastMessageID != "" || cp.MessagesScanned != 0 {
		t.Errorf("checkpoint = %s at %q with %d scanned, want paused at start with 0",
			cp.Status, cp.LastMessageID, cp.MessagesScanned)
	}
	if o.dedup.Contains(testChannel, cdn.url("/a.png")) {
		t.Error("url from an unfinished batch entered history")
	}
	if len(o.Active()) != 0 {
		t.Error("canceled session still registered")
	}
}

func TestPermanentFailureAcceptedIntoHistory(t *testing.T) {
	cdn := newCDN(t)
	cdn.setStatus("/gone.png", http.StatusNotFound)
	src := &fakeSource{messages: []models.Message{
		attachMsg("100", cdn.url("/ok.png"), "ok.png"),
		attachMsg("101", cdn.url("/gone.png"), "gone.png"),
	}}
	o := newTestOrchestrator(t, src)

	sum, err := o.Scan(context.Background(), testChannel, 0)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if sum.State != models.StateCompleted || sum.Downloaded != 1 || sum.Failed != 1 {
		t.Fatalf("summary = %s %d downloaded / %d failed, want completed 1/1",
			sum.State, sum.Downloaded, sum.Failed)
	}
	if !o.dedup.Contains(testChannel, cdn.url("/gone.png")) {
		t.Error("permanently failed url not recorded in history")
	}

	sum2, err := o.Scan(context.Background(), testChannel, 0)
	if err != nil {
		t.Fatalf("second scan: %v", err)
	}
	if sum2.Downloaded != 0 || sum2.Failed != 0 || sum2.Skipped != 2 {
		t.Errorf("second scan = %d downloaded / %d failed / %d skipped, want 0/0/2",
			sum2.Downloaded, sum2.Failed, sum2.Skipped)
	}
}

func TestTransientFailureRetriedNextScan(t *testing.T) {
	cdn := newCDN(t)
	cdn.setStatus("/flaky.png", http.StatusServiceUnavailable)
	src := &fakeSource{messages: []models.Message{
		attachMsg("100", cdn.url("/flaky.png"), "flaky.png"),
	}}
	o := newTestOrchestrator(t, src)

	sum, err := o.Scan(context.Background(), testChannel, 0)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if sum.State != models.StateCompleted || sum.Failed != 1 || sum.Downloaded != 0 {
		t.Fatalf("summary = %s %d failed / %d downloaded, want completed 1/0",
			sum.State, sum.Failed, sum.Downloaded)
	}
	if o.dedup.Contains(testChannel, cdn.url("/flaky.png")) {
		t.Fatal("transient failure must not enter history")
	}

	// Host recovers; the next scan picks the url up again.
	cdn.setStatus("/flaky.png", http.StatusOK)
	sum2, err := o.Scan(context.Background(), testChannel, 0)
	if err != nil {
		t.Fatalf("second scan: %v", err)
	}
	if sum2.Downloaded != 1 || sum2.Failed != 0 || sum2.Skipped != 0 {
		t.Errorf("second scan = %d downloaded / %d failed / %d skipped, want 1/0/0",
			sum2.Downloaded, sum2.Failed, sum2.Skipped)
	}
}

func TestFetchFailureLeavesResumableCheckpoint(t *testing.T) {
	cdn := newCDN(t)
	src := &fakeSource{
		messages: []models.Message{
			attachMsg("100", cdn.url("/a.png"), "a.png"),
			attachMsg("101", cdn.url("/b.png"), "b.png"),
			attachMsg("102", cdn.url("/c.png"), "c.png"),
		},
		fetchErr:  errs.New(errs.ErrorTypeNetwork, "connection reset"),
		failAfter: 1,
	}
	o := newTestOrchestrator(t, src)

	sum, err := o.Scan(context.Background(), testChannel, 0)
	if err == nil || !errs.IsTransient(err) {
		t.Fatalf("err = %v, want transient", err)
	}
	if sum == nil || sum.State != models.StateFailed {
		t.Fatalf("summary = %+v, want failed state", sum)
	}
	if sum.MessagesScanned != 2 || sum.Downloaded != 2 {
		t.Errorf("summary = %d scanned / %d downloaded, want 2/2", sum.MessagesScanned, sum.Downloaded)
	}

	cp, err := o.checkpoints.Load(testChannel)
	if err != nil || cp == nil {
		t.Fatalf("checkpoint load: cp=%v err=%v", cp, err)
	}
	if cp.Status != checkpoint.StatusInProgress || cp.LastMessageID != "101" {
		t.Fatalf("checkpoint = %s at %q, want in_progress at 101", cp.Status, cp.LastMessageID)
	}
	if len(o.Active()) != 0 {
		t.Error("failed session still registered")
	}

	src.setFetchErr(nil)
	sum2, err := o.Resume(context.Background(), testChannel)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if sum2.State != models.StateCompleted {
		t.Errorf("resumed state = %s, want completed", sum2.State)
	}
	if sum2.MessagesScanned != 3 || sum2.Downloaded != 3 {
		t.Errorf("resumed totals = %d scanned / %d downloaded, want 3/3",
			sum2.MessagesScanned, sum2.Downloaded)
	}
}

func TestAccessLostMidScan(t *testing.T) {
	cdn := newCDN(t)
	src := &fakeSource{
		messages: []models.Message{
			attachMsg("100", cdn.url("/a.png"), "a.png"),
			attachMsg("101", cdn.url("/b.png"), "b.png"),
			attachMsg("102", cdn.url("/c.png"), "c.png"),
		},
		fetchErr:  errs.New(errs.ErrorTypeAccess, "missing access"),
		failAfter: 1,
	}
	o := newTestOrchestrator(t, src)

	sum, err := o.Scan(context.Background(), testChannel, 0)
	if !errs.IsAccess(err) {
		t.Fatalf("err = %v, want access error", err)
	}
	if sum == nil || sum.State != models.StateFailed {
		t.Fatalf("summary = %+v, want failed state", sum)
	}

	cp, loadErr := o.checkpoints.Load(testChannel)
	if loadErr != nil || cp == nil {
		t.Fatalf("checkpoint load: cp=%v err=%v", cp, loadErr)
	}
	if cp.Status != checkpoint.StatusPaused || !cp.Resumable() {
		t.Errorf("checkpoint = %s, want paused and resumable", cp.Status)
	}
}

func TestScanAccessDenied(t *testing.T) {
	src := &fakeSource{accessErr: errs.New(errs.ErrorTypeAccess, "not a member")}
	o := newTestOrchestrator(t, src)

	if _, err := o.Scan(context.Background(), testChannel, 0); !errs.IsAccess(err) {
		t.Fatalf("err = %v, want access error", err)
	}
	if o.checkpoints.Exists(testChannel) {
		t.Error("checkpoint created for a rejected scan")
	}
	if len(o.Active()) != 0 {
		t.Error("session registered for a rejected scan")
	}
}

func TestScanOnExistingCheckpoint(t *testing.T) {
	cdn := newCDN(t)
	src := &fakeSource{messages: []models.Message{
		attachMsg("100", cdn.url("/a.png"), "a.png"),
	}}
	o := newTestOrchestrator(t, src)

	stale := checkpoint.New(testChannel, 0, "somewhere")
	stale.LastMessageID = "42"
	stale.MessagesScanned = 7
	if err := o.checkpoints.Save(stale); err != nil {
		t.Fatalf("seed checkpoint: %v", err)
	}

	if _, err := o.Scan(context.Background(), testChannel, 0); !errors.Is(err, ErrCheckpointExists) {
		t.Fatalf("err = %v, want ErrCheckpointExists", err)
	}

	o.cfg.Scan.OnExisting = "overwrite"
	sum, err := o.Scan(context.Background(), testChannel, 0)
	if err != nil {
		t.Fatalf("overwrite scan: %v", err)
	}
	if sum.State != models.StateCompleted || sum.MessagesScanned != 1 || sum.Downloaded != 1 {
		t.Errorf("summary = %s %d/%d, want a fresh completed 1/1 scan",
			sum.State, sum.MessagesScanned, sum.Downloaded)
	}
}

func TestResumeWithoutCheckpoint(t *testing.T) {
	o := newTestOrchestrator(t, &fakeSource{})
	if _, err := o.Resume(context.Background(), testChannel); !errors.Is(err, ErrNoCheckpoint) {
		t.Fatalf("err = %v, want ErrNoCheckpoint", err)
	}
}

func TestResumeCompletedScan(t *testing.T) {
	cdn := newCDN(t)
	src := &fakeSource{messages: []models.Message{
		attachMsg("100", cdn.url("/a.png"), "a.png"),
	}}
	o := newTestOrchestrator(t, src)

	if _, err := o.Scan(context.Background(), testChannel, 0); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if _, err := o.Resume(context.Background(), testChannel); !errors.Is(err, ErrNoCheckpoint) {
		t.Fatalf("err = %v, want ErrNoCheckpoint after completion", err)
	}
}

func TestPauseAndCancelWithoutSession(t *testing.T) {
	o := newTestOrchestrator(t, &fakeSource{})
	if err := o.Pause(testChannel); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Pause err = %v, want ErrNotRunning", err)
	}
	if err := o.Cancel(testChannel); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Cancel err = %v, want ErrNotRunning", err)
	}
}

func TestClearGuardsWhileRunning(t *testing.T) {
	cdn := newCDN(t)
	gate := make(chan struct{})
	src := &fakeSource{
		gate:     gate,
		messages: []models.Message{attachMsg("100", cdn.url("/a.png"), "a.png")},
	}
	o := newTestOrchestrator(t, src)

	done := make(chan struct{})
	go func() {
		defer close(done)
		o.Scan(context.Background(), testChannel, 0)
	}()
	waitFor(t, func() bool { return o.hasSession(testChannel) })

	if err := o.ClearHistory(testChannel); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("ClearHistory err = %v, want ErrAlreadyRunning", err)
	}
	if err := o.ClearRecovery(testChannel); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("ClearRecovery err = %v, want ErrAlreadyRunning", err)
	}

	close(gate)
	<-done
}

func TestClearHistoryAndRecovery(t *testing.T) {
	cdn := newCDN(t)
	src := &fakeSource{messages: []models.Message{
		attachMsg("100", cdn.url("/a.png"), "a.png"),
	}}
	o := newTestOrchestrator(t, src)

	if _, err := o.Scan(context.Background(), testChannel, 0); err != nil {
		t.Fatalf("Scan: %v", err)
	}

	if err := o.ClearHistory(testChannel); err != nil {
		t.Fatalf("ClearHistory: %v", err)
	}
	known, _, totalScans := o.dedup.Stats(testChannel)
	if known != 0 || totalScans != 0 {
		t.Errorf("history after clear = %d urls / %d scans, want 0/0", known, totalScans)
	}

	if err := o.ClearRecovery(testChannel); err != nil {
		t.Fatalf("ClearRecovery: %v", err)
	}
	if o.checkpoints.Exists(testChannel) {
		t.Error("checkpoint still present after ClearRecovery")
	}
}

func TestHistoryReport(t *testing.T) {
	cdn := newCDN(t)
	src := &fakeSource{messages: []models.Message{
		attachMsg("100", cdn.url("/a.png"), "a.png"),
		attachMsg("101", cdn.url("/b.png"), "b.png"),
	}}
	o := newTestOrchestrator(t, src)

	h, err := o.History(testChannel)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if h.KnownURLs != 0 || h.HasCheckpoint {
		t.Errorf("fresh history = %+v, want empty", h)
	}

	if _, err := o.Scan(context.Background(), testChannel, 0); err != nil {
		t.Fatalf("Scan: %v", err)
	}

	h, err = o.History(testChannel)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if h.KnownURLs != 2 || h.TotalScans != 1 || h.LastScan.IsZero() {
		t.Errorf("history = %d urls / %d scans (last %v), want 2/1 with a timestamp",
			h.KnownURLs, h.TotalScans, h.LastScan)
	}
	if !h.HasCheckpoint || h.CheckpointStatus != "completed" || h.Downloaded != 2 {
		t.Errorf("checkpoint report = %+v, want completed with 2 downloaded", h)
	}
}

func TestRateLimitThrottlesNextBatch(t *testing.T) {
	cdn := newCDN(t)
	cdn.setStatus("/limited.png", http.StatusTooManyRequests)
	src := &fakeSource{messages: []models.Message{
		attachMsg("100", cdn.url("/a.png"), "a.png"),
		attachMsg("101", cdn.url("/limited.png"), "limited.png"),
		attachMsg("102", cdn.url("/c.png"), "c.png"),
	}}
	o := newTestOrchestrator(t, src)
	o.cooldown = 150 * time.Millisecond

	start := time.Now()
	sum, err := o.Scan(context.Background(), testChannel, 0)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if sum.Downloaded != 2 || sum.Failed != 1 {
		t.Errorf("summary = %d downloaded / %d failed, want 2/1", sum.Downloaded, sum.Failed)
	}
	if elapsed := time.Since(start); elapsed < 150*time.Millisecond {
		t.Errorf("scan finished in %v, expected the rate-limit cooldown to hold the next batch", elapsed)
	}
}

func TestConcurrentChannelScans(t *testing.T) {
	cdn := newCDN(t)
	src := &fakeSource{byChannel: map[string][]models.Message{
		"c1": {attachMsg("100", cdn.url("/c1/a.png"), "a.png")},
		"c2": {attachMsg("100", cdn.url("/c2/a.png"), "a.png")},
		"c3": {attachMsg("100", cdn.url("/c3/a.png"), "a.png")},
	}}
	o := newTestOrchestrator(t, src)

	var wg sync.WaitGroup
	failures := make(chan error, 3)
	for _, ch := range []string{"c1", "c2", "c3"} {
		wg.Add(1)
		go func(ch string) {
			defer wg.Done()
			sum, err := o.Scan(context.Background(), ch, 0)
			if err != nil {
				failures <- fmt.Errorf("%s: %w", ch, err)
				return
			}
			if sum.Downloaded != 1 {
				failures <- fmt.Errorf("%s downloaded %d, want 1", ch, sum.Downloaded)
			}
		}(ch)
	}
	wg.Wait()
	close(failures)
	for err := range failures {
		t.Error(err)
	}

	for _, ch := range []string{"c1", "c2", "c3"} {
		known, _, _ := o.dedup.Stats(ch)
		if known != 1 {
			t.Errorf("%s history = %d urls, want 1", ch, known)
		}
	}
}
