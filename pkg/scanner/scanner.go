package scanner

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"discgrab/internal/downloader"
	"discgrab/pkg/checkpoint"
	"discgrab/pkg/config"
	"discgrab/pkg/dedup"
	errs "discgrab/pkg/errors"
	"discgrab/pkg/extractor"
	"discgrab/pkg/logger"
	"discgrab/pkg/models"
	"discgrab/pkg/ratelimit"
	"discgrab/pkg/retry"
	"discgrab/pkg/storage"
)

// rateLimitCooldown throttles the whole session after any download in a
// batch came back rate limited. Server Retry-After hints extend it.
const rateLimitCooldown = 10 * time.Second

var (
	// ErrAlreadyRunning is returned when a channel already has a live session.
	ErrAlreadyRunning = errors.New("scan already running for this channel")
	// ErrNotRunning is returned by pause and cancel without a live session.
	ErrNotRunning = errors.New("no active scan for this channel")
	// ErrNoCheckpoint is returned by resume when nothing resumable exists.
	ErrNoCheckpoint = errors.New("no resumable scan for this channel")
	// ErrCheckpointExists rejects a fresh scan over an unfinished one.
	ErrCheckpointExists = errors.New("unfinished scan exists for this channel, resume it or clear recovery")
)

// Orchestrator owns scan sessions: one per channel, concurrent across
// channels, sharing one download pool and one rate limiter.
type Orchestrator struct {
	source      MessageSource
	pool        *downloader.Pool
	limiter     ratelimit.Limiter
	checkpoints *checkpoint.Store
	dedup       *dedup.Store
	storage     *storage.Manager
	cfg         *config.Config
	logger      logger.Logger
	cooldown    time.Duration

	mu       sync.Mutex
	sessions map[string]*session
}

// New wires an orchestrator from config: rate limiter, fetch client,
// download pool, and the state stores under cfg.State.Directory.
func New(cfg *config.Config, source MessageSource, log logger.Logger) (*Orchestrator, error) {
	if log == nil {
		log = logger.GetLogger()
	}

	limiter := buildLimiter(cfg)
	store := storage.New(cfg.Download.BaseDirectory, log)
	client := downloader.NewClient(cfg, limiter, log)
	pool := downloader.NewPool(cfg.Download.Workers, client, store, log)

	checkpoints, err := checkpoint.NewStore(filepath.Join(cfg.State.Directory, "checkpoints"), log)
	if err != nil {
		return nil, err
	}
	dedupStore, err := dedup.New(filepath.Join(cfg.State.Directory, "dedup"), log)
	if err != nil {
		return nil, err
	}

	return &Orchestrator{
		source:      source,
		pool:        pool,
		limiter:     limiter,
		checkpoints: checkpoints,
		dedup:       dedupStore,
		storage:     store,
		cfg:         cfg,
		logger:      log,
		cooldown:    rateLimitCooldown,
		sessions:    make(map[string]*session),
	}, nil
}

func buildLimiter(cfg *config.Config) ratelimit.Limiter {
	if cfg.RateLimit.Strategy == "bucket" {
		return ratelimit.NewTokenBucket(cfg.RateLimit.RequestsPerMinute, time.Minute)
	}
	return ratelimit.NewSmooth(ratelimit.PerMinute(cfg.RateLimit.RequestsPerMinute), cfg.RateLimit.BurstSize)
}

// Start launches the download workers. ctx bounds their lifetime.
func (o *Orchestrator) Start(ctx context.Context) {
	o.pool.Start(ctx)
}

// Stop drains in-flight downloads and stops the workers.
func (o *Orchestrator) Stop() {
	o.pool.Stop()
}

// Scan runs a fresh scan of the channel to a terminal state and returns
// the final summary. limit 0 means the whole channel.
func (o *Orchestrator) Scan(ctx context.Context, channelID string, limit int) (*models.ScanSummary, error) {
	if o.hasSession(channelID) {
		return nil, ErrAlreadyRunning
	}

	cp, err := o.checkpoints.Load(channelID)
	if err != nil {
		return nil, err
	}
	if cp != nil && cp.Resumable() {
		if o.cfg.Scan.OnExisting != "overwrite" {
			return nil, ErrCheckpointExists
		}
		if err := o.checkpoints.Clear(channelID); err != nil {
			return nil, err
		}
	}

	if err := o.source.CheckAccess(ctx, channelID); err != nil {
		return nil, err
	}
	info, err := o.source.Describe(ctx, channelID)
	if err != nil {
		return nil, err
	}

	sess := newSession(channelID, *info, "")
	fresh := checkpoint.New(channelID, limit, o.storage.SessionDir(*info, sess.started))
	sess.dir = fresh.Dir
	if err := o.register(sess); err != nil {
		return nil, err
	}

	o.logger.InfoWithFields("scan starting", map[string]interface{}{
		"session_id": sess.id,
		"channel_id": channelID,
		"channel":    info.Name,
		"guild":      info.GuildName,
		"limit":      limit,
		"dir":        fresh.Dir,
	})

	return o.run(ctx, sess, fresh)
}

// Resume continues a paused or interrupted scan from its checkpoint.
func (o *Orchestrator) Resume(ctx context.Context, channelID string) (*models.ScanSummary, error) {
	o.mu.Lock()
	sess := o.sessions[channelID]
	o.mu.Unlock()

	if sess != nil {
		// A parked session resumes in place; a scanning one is a conflict.
		if !sess.resumeRun() {
			return nil, ErrAlreadyRunning
		}
		cp, err := o.checkpoints.Load(channelID)
		if err != nil {
			sess.setState(models.StatePaused)
			return nil, err
		}
		if cp == nil || !cp.Resumable() {
			// State directory changed under us; the session is unusable.
			o.removeSession(channelID)
			return nil, ErrNoCheckpoint
		}
		cp.Status = checkpoint.StatusInProgress
		o.logger.InfoWithFields("resuming parked scan", map[string]interface{}{
			"session_id": sess.id,
			"channel_id": channelID,
			"cursor":     cp.LastMessageID,
		})
		return o.run(ctx, sess, cp)
	}

	cp, err := o.checkpoints.Load(channelID)
	if err != nil {
		return nil, err
	}
	if cp == nil || !cp.Resumable() {
		return nil, ErrNoCheckpoint
	}

	if err := o.source.CheckAccess(ctx, channelID); err != nil {
		return nil, err
	}
	info, err := o.source.Describe(ctx, channelID)
	if err != nil {
		return nil, err
	}

	sess = newSession(channelID, *info, cp.Dir)
	sess.restore(cp)
	if err := o.register(sess); err != nil {
		return nil, err
	}
	cp.Status = checkpoint.StatusInProgress

	o.logger.InfoWithFields("resuming from checkpoint", map[string]interface{}{
		"session_id":       sess.id,
		"channel_id":       channelID,
		"cursor":           cp.LastMessageID,
		"messages_scanned": cp.MessagesScanned,
		"downloaded":       cp.Downloaded,
	})

	return o.run(ctx, sess, cp)
}

// Pause asks the channel's scanning session to stop at the next batch
// boundary. The session stays resumable in memory and on disk.
func (o *Orchestrator) Pause(channelID string) error {
	o.mu.Lock()
	sess := o.sessions[channelID]
	o.mu.Unlock()

	if sess == nil || sess.State() != models.StateScanning {
		return ErrNotRunning
	}
	sess.requestPause()
	o.logger.WithField("channel_id", channelID).Info("pause requested")
	return nil
}

// Cancel stops the channel's session and removes it. The checkpoint keeps
// the last fully processed batch and stays resumable.
func (o *Orchestrator) Cancel(channelID string) error {
	o.mu.Lock()
	sess := o.sessions[channelID]
	o.mu.Unlock()

	if sess == nil {
		return ErrNotRunning
	}
	if sess.State() == models.StatePaused {
		// Parked, no loop to unwind.
		o.removeSession(channelID)
		o.logger.WithField("channel_id", channelID).Info("parked scan canceled")
		return nil
	}
	sess.cancelRun()
	o.logger.WithField("channel_id", channelID).Info("cancel requested")
	return nil
}

// History reports the channel's dedup stats and checkpoint figures.
func (o *Orchestrator) History(channelID string) (*models.HistorySummary, error) {
	known, lastScan, totalScans := o.dedup.Stats(channelID)
	h := &models.HistorySummary{
		ChannelID:  channelID,
		KnownURLs:  known,
		LastScan:   lastScan,
		TotalScans: totalScans,
	}

	cp, err := o.checkpoints.Load(channelID)
	if err != nil {
		return nil, err
	}
	if cp != nil {
		h.HasCheckpoint = true
		h.CheckpointStatus = string(cp.Status)
		h.MessagesScanned = cp.MessagesScanned
		h.Downloaded = cp.Downloaded
	}
	return h, nil
}

// ClearHistory forgets the channel's known URLs. Refused while a session
// is live on the channel.
func (o *Orchestrator) ClearHistory(channelID string) error {
	if o.hasSession(channelID) {
		return ErrAlreadyRunning
	}
	return o.dedup.Clear(channelID)
}

// ClearRecovery drops the channel's checkpoint. Same live-session guard.
func (o *Orchestrator) ClearRecovery(channelID string) error {
	if o.hasSession(channelID) {
		return ErrAlreadyRunning
	}
	return o.checkpoints.Clear(channelID)
}

// Active returns a snapshot of live sessions, ordered by channel.
func (o *Orchestrator) Active() []SessionInfo {
	o.mu.Lock()
	sessions := make([]*session, 0, len(o.sessions))
	for _, s := range o.sessions {
		sessions = append(sessions, s)
	}
	o.mu.Unlock()

	infos := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.snapshot())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ChannelID < infos[j].ChannelID })
	return infos
}

func (o *Orchestrator) register(sess *session) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, exists := o.sessions[sess.channelID]; exists {
		return ErrAlreadyRunning
	}
	o.sessions[sess.channelID] = sess
	return nil
}

func (o *Orchestrator) removeSession(channelID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.sessions, channelID)
}

func (o *Orchestrator) hasSession(channelID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, exists := o.sessions[channelID]
	return exists
}

// run drives the batch loop to a terminal state. Checkpoints are written
// only after a batch is fully handled, so every message before the cursor
// has been processed exactly once.
func (o *Orchestrator) run(ctx context.Context, sess *session, cp *checkpoint.Checkpoint) (*models.ScanSummary, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	sess.bind(cancel)

	for {
		if runCtx.Err() != nil {
			return o.finishCanceled(sess, cp, runCtx.Err())
		}
		if sess.takePause() {
			return o.finishPaused(sess, cp)
		}

		size := o.cfg.Scan.BatchSize
		if rem := cp.Remaining(); rem >= 0 && rem < size {
			size = rem
		}
		if size == 0 {
			return o.finishCompleted(sess, cp)
		}

		msgs, err := o.fetchPage(runCtx, sess.channelID, cp.LastMessageID, size)
		if err != nil {
			if runCtx.Err() != nil {
				return o.finishCanceled(sess, cp, runCtx.Err())
			}
			if errs.IsAccess(err) {
				return o.finishAccessLost(sess, cp, err)
			}
			return o.finishFailed(sess, err)
		}
		if len(msgs) == 0 {
			return o.finishCompleted(sess, cp)
		}

		queued, skipped := o.filterBatch(sess.channelID, msgs)
		sess.addBatch(len(msgs), len(queued), skipped)

		rateLimited, interrupted := o.downloadBatch(runCtx, sess, cp.Dir, queued)
		if interrupted {
			// Abandon the batch: the boundary check above finalizes with
			// the checkpoint still on the previous batch.
			continue
		}

		if err := o.dedup.Flush(sess.channelID); err != nil {
			o.logger.WarnWithFields("failed to flush url history", map[string]interface{}{
				"channel_id": sess.channelID,
				"error":      err.Error(),
			})
		}

		cp.LastMessageID = msgs[len(msgs)-1].ID
		sess.syncCheckpoint(cp)
		if err := o.checkpoints.Save(cp); err != nil {
			o.logger.WarnWithFields("failed to save checkpoint", map[string]interface{}{
				"channel_id": sess.channelID,
				"error":      err.Error(),
			})
		}

		if rateLimited {
			o.logger.WarnWithFields("rate limited, cooling down before next batch", map[string]interface{}{
				"channel_id": sess.channelID,
				"cooldown":   o.cooldown.String(),
			})
			o.limiter.Cooldown(o.cooldown)
			if err := o.limiter.Wait(runCtx); err != nil {
				return o.finishCanceled(sess, cp, err)
			}
		}
	}
}

// fetchPage retrieves one page with the same retry policy downloads use.
func (o *Orchestrator) fetchPage(ctx context.Context, channelID, afterID string, limit int) ([]models.Message, error) {
	jitter := 0.0
	if o.cfg.Retry.Jitter {
		jitter = 0.1
	}
	cfg := &retry.Config{
		MaxAttempts: o.cfg.Retry.MaxAttempts,
		Backoff: &retry.ExponentialBackoff{
			BaseDelay:    time.Duration(o.cfg.Retry.BaseDelay),
			MaxDelay:     time.Duration(o.cfg.Retry.MaxDelay),
			Multiplier:   o.cfg.Retry.Multiplier,
			JitterFactor: jitter,
		},
		RetryIf: retry.DefaultRetryIf,
		Context: ctx,
		Logger:  o.logger,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			o.logger.WarnWithFields("retrying message fetch", map[string]interface{}{
				"channel_id": channelID,
				"attempt":    attempt,
				"delay":      delay.String(),
				"error":      err.Error(),
			})
		},
	}

	return retry.DoWithResult(func() ([]models.Message, error) {
		return o.source.FetchMessages(ctx, channelID, afterID, limit)
	}, cfg)
}

// filterBatch extracts references and drops everything already known,
// within this batch or from earlier scans.
func (o *Orchestrator) filterBatch(channelID string, msgs []models.Message) ([]models.MediaReference, int) {
	var queued []models.MediaReference
	skipped := 0
	seen := make(map[string]bool)

	for _, msg := range msgs {
		for _, ref := range extractor.Extract(msg) {
			if seen[ref.URL] || o.dedup.Contains(channelID, ref.URL) {
				skipped++
				continue
			}
			seen[ref.URL] = true
			queued = append(queued, ref)
		}
	}
	return queued, skipped
}

// downloadBatch submits the batch to the pool and collects every reply.
// interrupted means the run context ended mid-batch and nothing was
// recorded for it beyond the replies already processed.
func (o *Orchestrator) downloadBatch(ctx context.Context, sess *session, dir string, refs []models.MediaReference) (rateLimited, interrupted bool) {
	if len(refs) == 0 {
		return false, false
	}

	// Sized so workers never block on the reply even when abandoned.
	reply := make(chan downloader.Result, len(refs))
	submitted := 0
	for _, ref := range refs {
		if err := o.pool.Submit(ctx, downloader.Job{Ref: ref, Dir: dir, Reply: reply}); err != nil {
			interrupted = true
			break
		}
		submitted++
	}

	for i := 0; i < submitted; i++ {
		select {
		case res := <-reply:
			if res.RateLimited {
				rateLimited = true
			}
			o.recordResult(sess, res)
		case <-ctx.Done():
			return rateLimited, true
		}
	}
	return rateLimited, interrupted
}

// recordResult applies one download outcome. A URL is recorded in the
// dedup set only on a terminal outcome: saved, or permanently failed.
// Transient failures that exhausted retries stay unknown so a future
// scan tries them again.
func (o *Orchestrator) recordResult(sess *session, res downloader.Result) {
	kind := res.Ref.Kind.String()

	if res.Err == nil {
		o.dedup.Record(sess.channelID, res.Ref.URL)
		sess.addDownloaded(res.Size, res.Ref.Kind)
		logger.LogDownload(sess.channelID, res.Ref.URL, kind, true, nil)
		return
	}

	logger.LogDownload(sess.channelID, res.Ref.URL, kind, false, res.Err)
	if errs.IsPermanent(res.Err) {
		o.dedup.Record(sess.channelID, res.Ref.URL)
	}
	sess.addFailed()
}

func (o *Orchestrator) finishCompleted(sess *session, cp *checkpoint.Checkpoint) (*models.ScanSummary, error) {
	cp.Status = checkpoint.StatusCompleted
	sess.syncCheckpoint(cp)
	if err := o.checkpoints.Save(cp); err != nil {
		o.logger.WarnWithFields("failed to save final checkpoint", map[string]interface{}{
			"channel_id": sess.channelID,
			"error":      err.Error(),
		})
	}
	if err := o.dedup.CompleteScan(sess.channelID); err != nil {
		o.logger.WarnWithFields("failed to record completed scan", map[string]interface{}{
			"channel_id": sess.channelID,
			"error":      err.Error(),
		})
	}
	if err := o.storage.WriteManifest(cp.Dir); err != nil {
		o.logger.WarnWithFields("failed to write manifest", map[string]interface{}{
			"dir":   cp.Dir,
			"error": err.Error(),
		})
	}

	o.removeSession(sess.channelID)
	summary := sess.summary(models.StateCompleted)

	o.logger.InfoWithFields("scan completed", map[string]interface{}{
		"session_id":       summary.SessionID,
		"channel_id":       summary.ChannelID,
		"messages_scanned": summary.MessagesScanned,
		"urls_found":       summary.URLsFound,
		"downloaded":       summary.Downloaded,
		"skipped":          summary.Skipped,
		"failed":           summary.Failed,
		"duration":         summary.Duration.String(),
	})
	return summary, nil
}

func (o *Orchestrator) finishPaused(sess *session, cp *checkpoint.Checkpoint) (*models.ScanSummary, error) {
	cp.Status = checkpoint.StatusPaused
	sess.syncCheckpoint(cp)
	if err := o.checkpoints.Save(cp); err != nil {
		o.logger.WarnWithFields("failed to save paused checkpoint", map[string]interface{}{
			"channel_id": sess.channelID,
			"error":      err.Error(),
		})
	}

	// Session stays registered so resume can pick it up in place.
	summary := sess.summary(models.StatePaused)
	o.logger.InfoWithFields("scan paused", map[string]interface{}{
		"session_id": summary.SessionID,
		"channel_id": summary.ChannelID,
		"cursor":     cp.LastMessageID,
	})
	return summary, nil
}

func (o *Orchestrator) finishCanceled(sess *session, cp *checkpoint.Checkpoint, cause error) (*models.ScanSummary, error) {
	// Counters are not synced: the checkpoint keeps the last full batch.
	cp.Status = checkpoint.StatusPaused
	if err := o.checkpoints.Save(cp); err != nil {
		o.logger.WarnWithFields("failed to save checkpoint on cancel", map[string]interface{}{
			"channel_id": sess.channelID,
			"error":      err.Error(),
		})
	}

	o.removeSession(sess.channelID)
	summary := sess.summary(models.StatePaused)
	o.logger.InfoWithFields("scan canceled", map[string]interface{}{
		"session_id": summary.SessionID,
		"channel_id": summary.ChannelID,
		"cursor":     cp.LastMessageID,
	})
	return summary, cause
}

func (o *Orchestrator) finishAccessLost(sess *session, cp *checkpoint.Checkpoint, cause error) (*models.ScanSummary, error) {
	cp.Status = checkpoint.StatusPaused
	if err := o.checkpoints.Save(cp); err != nil {
		o.logger.WarnWithFields("failed to save checkpoint on access loss", map[string]interface{}{
			"channel_id": sess.channelID,
			"error":      err.Error(),
		})
	}

	o.removeSession(sess.channelID)
	summary := sess.summary(models.StateFailed)
	o.logger.WarnWithFields("channel access lost mid-scan", map[string]interface{}{
		"session_id": summary.SessionID,
		"channel_id": summary.ChannelID,
		"error":      cause.Error(),
	})
	return summary, cause
}

func (o *Orchestrator) finishFailed(sess *session, cause error) (*models.ScanSummary, error) {
	// The on-disk checkpoint still holds the last full batch and stays
	// resumable.
	o.removeSession(sess.channelID)
	summary := sess.summary(models.StateFailed)
	o.logger.ErrorWithFields("scan failed", map[string]interface{}{
		"session_id": summary.SessionID,
		"channel_id": summary.ChannelID,
		"error":      cause.Error(),
	})
	return summary, cause
}
