package models

import "time"

// MediaKind classifies a reference by its filename extension.
type MediaKind int

const (
	KindOther MediaKind = iota
	KindImage
	KindVideo
)

func (k MediaKind) String() string {
	switch k {
	case KindImage:
		return "image"
	case KindVideo:
		return "video"
	default:
		return "other"
	}
}

// RefSource records where in a message a reference was found.
type RefSource int

const (
	SourceAttachment RefSource = iota
	SourceContent
)

func (s RefSource) String() string {
	if s == SourceAttachment {
		return "attachment"
	}
	return "content"
}

// Message is one channel message as seen by the pipeline. IDs are opaque
// strings that order chronologically when compared numerically.
type Message struct {
	ID          string       `json:"id"`
	ChannelID   string       `json:"channel_id"`
	Content     string       `json:"content"`
	Author      string       `json:"author"`
	Timestamp   time.Time    `json:"timestamp"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

type Attachment struct {
	URL         string `json:"url"`
	Filename    string `json:"filename"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type"`
}

// MediaReference is a single downloadable item. URL is the dedup identity
// and is kept exactly as found, query string included. Immutable once
// extracted.
type MediaReference struct {
	URL          string    `json:"url"`
	Filename     string    `json:"filename,omitempty"`
	Kind         MediaKind `json:"kind"`
	MessageID    string    `json:"message_id"`
	Source       RefSource `json:"source"`
	DiscoveredAt time.Time `json:"discovered_at"`
}

type SessionState int

const (
	StateScanning SessionState = iota
	StatePaused
	StateCompleted
	StateFailed
)

func (s SessionState) String() string {
	switch s {
	case StateScanning:
		return "scanning"
	case StatePaused:
		return "paused"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// ChannelInfo carries the names used for directory layout and reports.
// GuildName is "DirectMessage" for DM channels.
type ChannelInfo struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	GuildID   string `json:"guild_id,omitempty"`
	GuildName string `json:"guild_name"`
}

// ScanSummary is the result of one scan or resume run.
type ScanSummary struct {
	SessionID       string        `json:"session_id"`
	ChannelID       string        `json:"channel_id"`
	Channel         ChannelInfo   `json:"channel"`
	State           SessionState  `json:"state"`
	MessagesScanned int           `json:"messages_scanned"`
	URLsFound       int           `json:"urls_found"`
	Downloaded      int           `json:"downloaded"`
	Skipped         int           `json:"skipped"`
	Failed          int           `json:"failed"`
	BytesImages     int64         `json:"bytes_images"`
	BytesVideos     int64         `json:"bytes_videos"`
	Dir             string        `json:"dir"`
	Duration        time.Duration `json:"duration"`
}

// HistorySummary reports a channel's persisted scan state.
type HistorySummary struct {
	ChannelID        string    `json:"channel_id"`
	KnownURLs        int       `json:"known_urls"`
	LastScan         time.Time `json:"last_scan"`
	TotalScans       int       `json:"total_scans"`
	HasCheckpoint    bool      `json:"has_checkpoint"`
	CheckpointStatus string    `json:"checkpoint_status,omitempty"`
	MessagesScanned  int       `json:"messages_scanned,omitempty"`
	Downloaded       int       `json:"downloaded,omitempty"`
}
