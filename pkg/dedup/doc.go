// Package dedup remembers which media URLs have already been handled in
// each channel so repeated scans skip them.
//
// Each channel owns one JSON document (known URL set plus scan stats),
// loaded lazily on first access and flushed atomically once per batch.
// A URL is recorded only after a terminal outcome, saved or permanently
// failed, so transient failures stay eligible for a later retry. Corrupt
// history files degrade to an empty set with a warning.
package dedup
