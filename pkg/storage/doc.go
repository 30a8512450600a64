// Package storage lays out download directories and writes media files.
//
// Each scan session gets its own directory named after the guild, the
// channel and the scan start time. Filenames are derived deterministically
// from the media reference, sanitized for the filesystem, and collisions
// between different URLs get numeric suffixes (video.mp4, video_1.mp4).
// Writes are atomic (temp file + rename) and safe for concurrent workers.
//
// The manager also collects one manifest entry per saved file and writes
// manifest.json into the session directory when the scan ends.
package storage
