package discord

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strconv"

	"github.com/bwmarrin/discordgo"

	errs "discgrab/pkg/errors"
	"discgrab/pkg/logger"
	"discgrab/pkg/models"
)

// historyPermissions are the bits a scan needs on a guild channel.
const historyPermissions = discordgo.PermissionViewChannel | discordgo.PermissionReadMessageHistory

// restSession is the slice of discordgo.Session the source uses. Narrow
// on purpose so tests can fake the transport.
type restSession interface {
	ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error)
	Channel(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	Guild(guildID string, options ...discordgo.RequestOption) (*discordgo.Guild, error)
	UserChannelPermissions(userID, channelID string, fetchOptions ...discordgo.RequestOption) (int64, error)
}

// Source adapts a Discord session to the scanner's message source.
type Source struct {
	rest   restSession
	self   func() string // bot user id; empty before login
	logger logger.Logger
}

// NewSource builds a source over an open session. self reports the bot's
// own user id and is read lazily because the gateway fills it in after
// login.
func NewSource(rest restSession, self func() string, log logger.Logger) *Source {
	if log == nil {
		log = logger.GetLogger()
	}
	if self == nil {
		self = func() string { return "" }
	}
	return &Source{rest: rest, self: self, logger: log}
}

// FetchMessages returns up to limit messages strictly after afterID, in
// ascending order. The REST endpoint hands pages back newest-first, so
// the page is re-sorted by snowflake before mapping.
func (s *Source) FetchMessages(ctx context.Context, channelID, afterID string, limit int) ([]models.Message, error) {
	raw, err := s.rest.ChannelMessages(channelID, limit, "", afterID, "", discordgo.WithContext(ctx))
	if err != nil {
		return nil, mapRESTError(err, "failed to fetch channel messages")
	}

	sort.Slice(raw, func(i, j int) bool {
		return snowflake(raw[i].ID) < snowflake(raw[j].ID)
	})

	msgs := make([]models.Message, 0, len(raw))
	for _, m := range raw {
		if m == nil {
			continue
		}
		msgs = append(msgs, mapMessage(m))
	}
	return msgs, nil
}

// CheckAccess verifies the channel is reachable and its history readable.
func (s *Source) CheckAccess(ctx context.Context, channelID string) error {
	ch, err := s.rest.Channel(channelID, discordgo.WithContext(ctx))
	if err != nil {
		return mapRESTError(err, "channel is not accessible")
	}
	if ch.GuildID == "" {
		return nil
	}
	selfID := s.self()
	if selfID == "" {
		return nil
	}

	perms, err := s.rest.UserChannelPermissions(selfID, channelID)
	if err != nil {
		// Permission math needs gateway state that may not be cached
		// yet; the channel fetch above already proved basic access.
		s.logger.WithError(err).Debug("permission lookup failed, relying on channel fetch")
		return nil
	}
	if perms&historyPermissions != historyPermissions {
		return errs.New(errs.ErrorTypeAccess, "missing read permissions on channel")
	}
	return nil
}

// Describe resolves the names used for directory layout and reports.
func (s *Source) Describe(ctx context.Context, channelID string) (*models.ChannelInfo, error) {
	ch, err := s.rest.Channel(channelID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, mapRESTError(err, "failed to describe channel")
	}

	info := &models.ChannelInfo{ID: ch.ID, Name: ch.Name, GuildID: ch.GuildID}
	if ch.GuildID == "" {
		info.GuildName = "DirectMessage"
		if info.Name == "" && len(ch.Recipients) > 0 && ch.Recipients[0] != nil {
			info.Name = ch.Recipients[0].Username
		}
		return info, nil
	}

	guild, err := s.rest.Guild(ch.GuildID, discordgo.WithContext(ctx))
	if err != nil {
		s.logger.WithError(err).Warn("guild lookup failed, using its id in reports")
		info.GuildName = ch.GuildID
		return info, nil
	}
	info.GuildName = guild.Name
	return info, nil
}

func mapMessage(m *discordgo.Message) models.Message {
	author := ""
	if m.Author != nil {
		author = m.Author.Username
	}

	msg := models.Message{
		ID:        m.ID,
		ChannelID: m.ChannelID,
		Content:   m.Content,
		Author:    author,
		Timestamp: m.Timestamp,
	}
	for _, att := range m.Attachments {
		if att == nil {
			continue
		}
		msg.Attachments = append(msg.Attachments, models.Attachment{
			URL:         att.URL,
			Filename:    att.Filename,
			Size:        int64(att.Size),
			ContentType: att.ContentType,
		})
	}
	return msg
}

// snowflake parses a Discord id for ordering. Malformed ids sort first.
func snowflake(id string) uint64 {
	n, err := strconv.ParseUint(id, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// mapRESTError translates transport failures into the typed errors the
// retry policy and the scan loop key off.
func mapRESTError(err error, msg string) error {
	var rate *discordgo.RateLimitError
	if errors.As(err, &rate) {
		return &errs.Error{
			Type:       errs.ErrorTypeRateLimit,
			Message:    msg,
			Code:       http.StatusTooManyRequests,
			RetryAfter: rate.RetryAfter,
			Err:        err,
		}
	}

	var rest *discordgo.RESTError
	if errors.As(err, &rest) {
		code := 0
		if rest.Response != nil {
			code = rest.Response.StatusCode
		}
		typed := errs.FromStatus(code, msg)
		typed.Err = err
		return typed
	}

	return errs.Wrap(errs.ErrorTypeNetwork, msg, err)
}
