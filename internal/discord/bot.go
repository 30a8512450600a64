package discord

import (
	"context"

	"github.com/bwmarrin/discordgo"

	"discgrab/pkg/config"
	errs "discgrab/pkg/errors"
	"discgrab/pkg/logger"
	"discgrab/pkg/scanner"
)

// Authorizer gates the mutating commands. The default admits channel
// administrators and anyone in a direct message.
type Authorizer func(s *discordgo.Session, m *discordgo.MessageCreate) bool

// AdminAuthorizer is the default gate: administrator permission in the
// invoking channel, or a DM.
func AdminAuthorizer(s *discordgo.Session, m *discordgo.MessageCreate) bool {
	if m.GuildID == "" {
		return true
	}
	perms, err := s.UserChannelPermissions(m.Author.ID, m.ChannelID)
	if err != nil {
		return false
	}
	return perms&discordgo.PermissionAdministrator != 0
}

// Bot is the command surface: a gateway session, the message source over
// it, and the scan orchestrator behind the commands.
type Bot struct {
	session   *discordgo.Session
	orch      *scanner.Orchestrator
	cfg       *config.Config
	logger    logger.Logger
	authorize Authorizer
	prefix    string
}

// New wires the session, source, and orchestrator. Run opens the gateway.
func New(cfg *config.Config, token string, log logger.Logger) (*Bot, error) {
	if log == nil {
		log = logger.GetLogger()
	}

	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, errs.Wrap(errs.ErrorTypeRequest, "failed to create discord session", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentMessageContent

	// The bot's own id is only known after login, so the source reads it
	// lazily.
	source := NewSource(session, func() string {
		if session.State != nil && session.State.User != nil {
			return session.State.User.ID
		}
		return ""
	}, log)

	orch, err := scanner.New(cfg, source, log)
	if err != nil {
		return nil, err
	}

	prefix := cfg.Discord.Prefix
	if prefix == "" {
		prefix = ">"
	}

	return &Bot{
		session:   session,
		orch:      orch,
		cfg:       cfg,
		logger:    log,
		authorize: AdminAuthorizer,
		prefix:    prefix,
	}, nil
}

// SetAuthorizer replaces the default admin gate, for deployments keyed
// on roles or user ids instead.
func (b *Bot) SetAuthorizer(a Authorizer) {
	if a != nil {
		b.authorize = a
	}
}

// Run opens the gateway and serves commands until ctx ends. Scans still
// running stop at their next batch boundary and stay resumable.
func (b *Bot) Run(ctx context.Context) error {
	removeReady := b.session.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		b.logger.InfoWithFields("logged in", map[string]interface{}{
			"username": r.User.Username,
			"guilds":   len(r.Guilds),
		})
	})
	defer removeReady()

	removeMessages := b.session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		b.onMessage(ctx, s, m)
	})
	defer removeMessages()

	if err := b.session.Open(); err != nil {
		return errs.Wrap(errs.ErrorTypeNetwork, "failed to open gateway", err)
	}

	b.orch.Start(ctx)
	b.logger.WithField("prefix", b.prefix).Info("command surface ready")

	<-ctx.Done()

	b.logger.Info("shutting down")
	b.orch.Stop()
	if err := b.session.Close(); err != nil {
		b.logger.WithError(err).Warn("gateway close failed")
	}
	return nil
}

func (b *Bot) onMessage(ctx context.Context, s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	if s.State != nil && s.State.User != nil && m.Author.ID == s.State.User.ID {
		return
	}

	name, arg, ok := parseCommand(m.Content, b.prefix)
	if !ok {
		return
	}

	b.logger.DebugWithFields("command received", map[string]interface{}{
		"command":    name,
		"channel_id": m.ChannelID,
		"user":       m.Author.Username,
	})
	b.dispatch(ctx, s, s, m, name, arg)
}
