// Package scanner drives media scans over a message channel: paging
// through history, extracting references, downloading what is not
// already known, and checkpointing progress.
//
// One Orchestrator serves every channel. Channels scan concurrently,
// but each has at most one live session, and all sessions share the
// download worker pool and the rate limiter. A scan advances in
// batches; the checkpoint moves only after a batch is fully handled,
// so an interrupted scan resumes without skipping or repeating a
// message. URLs enter the per-channel history on terminal outcomes
// only, which keeps transient failures eligible for a later retry.
package scanner
