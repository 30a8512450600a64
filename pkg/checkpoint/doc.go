// Package checkpoint persists per-channel scan progress so interrupted
// scans resume exactly where they stopped.
//
// A checkpoint records the last fully processed message, the running
// counters, and whether the scan was in progress, paused, or completed.
// It is written once per batch after every message in the batch has been
// handled, so a resume never skips a message and never repeats one.
//
// Files live under the configured state directory, one JSON file per
// channel, and are written atomically (temp file, sync, rename) to
// survive crashes mid-save. A corrupt file is treated as absent with a
// warning rather than blocking new scans.
package checkpoint
