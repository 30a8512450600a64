package scanner

import (
	"context"

	"discgrab/pkg/models"
)

// MessageSource is the read side of the chat backend. The production
// implementation wraps the Discord API; tests use fakes.
type MessageSource interface {
	// FetchMessages returns one ascending page of messages strictly after
	// afterID. An empty afterID starts at the beginning of the channel.
	FetchMessages(ctx context.Context, channelID, afterID string, limit int) ([]models.Message, error)
	// CheckAccess returns nil when the channel can be read, or a classified
	// access error.
	CheckAccess(ctx context.Context, channelID string) error
	// Describe returns the names used for directory layout and reports.
	Describe(ctx context.Context, channelID string) (*models.ChannelInfo, error)
}
