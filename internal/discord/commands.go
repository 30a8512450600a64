package discord

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"discgrab/pkg/config"
	errs "discgrab/pkg/errors"
	"discgrab/pkg/models"
	"discgrab/pkg/scanner"
)

// discordMaxMessage is the hard cap Discord puts on message content.
const discordMaxMessage = 2000

// replySession is the slice of the session the command handlers write
// through, faked in tests.
type replySession interface {
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
	HeartbeatLatency() time.Duration
}

// parseCommand splits a prefixed message into command name and argument.
func parseCommand(content, prefix string) (name, arg string, ok bool) {
	if !strings.HasPrefix(content, prefix) {
		return "", "", false
	}
	rest := strings.TrimSpace(strings.TrimPrefix(content, prefix))
	if rest == "" {
		return "", "", false
	}
	fields := strings.Fields(rest)
	return strings.ToLower(fields[0]), strings.Join(fields[1:], " "), true
}

// parseScanLimit converts a scan argument into a message limit: empty
// uses the configured default, "all" means unlimited, numbers clamp to
// the configured maximum.
func parseScanLimit(arg string, cfg *config.Config) (int, error) {
	arg = strings.ToLower(strings.TrimSpace(arg))
	switch arg {
	case "":
		return cfg.Scan.DefaultLimit, nil
	case "all":
		return 0, nil
	}

	n, err := strconv.Atoi(arg)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("limit must be a positive number or \"all\"")
	}
	if n > cfg.Scan.MaxLimit {
		n = cfg.Scan.MaxLimit
	}
	return n, nil
}

func (b *Bot) dispatch(ctx context.Context, s *discordgo.Session, rep replySession, m *discordgo.MessageCreate, name, arg string) {
	switch name {
	case "ping":
		b.handlePing(rep, m)
		return
	case "help":
		b.handleHelp(rep, m)
		return
	}

	if !b.authorize(s, m) {
		b.logger.DebugWithFields("command not authorized", map[string]interface{}{
			"command":    name,
			"channel_id": m.ChannelID,
			"user_id":    m.Author.ID,
		})
		return
	}

	switch name {
	case "scan":
		b.handleScan(ctx, rep, m, arg)
	case "resume":
		b.handleResume(ctx, rep, m)
	case "pause":
		b.handlePause(rep, m)
	case "cancel":
		b.handleCancel(rep, m)
	case "history":
		b.handleHistory(rep, m)
	case "clear_history":
		b.handleClearHistory(rep, m)
	case "clear_recovery":
		b.handleClearRecovery(rep, m)
	case "status":
		b.handleStatus(rep, m)
	default:
		b.reply(rep, m.ChannelID, "Unknown command. Try "+b.prefix+"help")
	}
}

func (b *Bot) handlePing(rep replySession, m *discordgo.MessageCreate) {
	latency := rep.HeartbeatLatency().Round(time.Millisecond)
	b.reply(rep, m.ChannelID, fmt.Sprintf("Pong! Gateway latency %s.", latency))
}

func (b *Bot) handleHelp(rep replySession, m *discordgo.MessageCreate) {
	b.sendEmbed(rep, m.ChannelID, helpEmbed(b.prefix))
}

func (b *Bot) handleScan(ctx context.Context, rep replySession, m *discordgo.MessageCreate, arg string) {
	limit, err := parseScanLimit(arg, b.cfg)
	if err != nil {
		b.reply(rep, m.ChannelID, err.Error())
		return
	}

	scope := fmt.Sprintf("the last %d messages", limit)
	if limit == 0 {
		scope = "the whole channel history"
	}
	b.reply(rep, m.ChannelID, "Scanning "+scope+" for media. This can take a while...")

	go func() {
		sum, err := b.orch.Scan(ctx, m.ChannelID, limit)
		b.report(rep, m.ChannelID, sum, err)
	}()
}

func (b *Bot) handleResume(ctx context.Context, rep replySession, m *discordgo.MessageCreate) {
	b.reply(rep, m.ChannelID, "Resuming the scan from its checkpoint...")

	go func() {
		sum, err := b.orch.Resume(ctx, m.ChannelID)
		b.report(rep, m.ChannelID, sum, err)
	}()
}

func (b *Bot) handlePause(rep replySession, m *discordgo.MessageCreate) {
	if err := b.orch.Pause(m.ChannelID); err != nil {
		b.reportControl(rep, m.ChannelID, err)
		return
	}
	b.reply(rep, m.ChannelID, "Pausing after the current batch. Use "+b.prefix+"resume to continue.")
}

func (b *Bot) handleCancel(rep replySession, m *discordgo.MessageCreate) {
	if err := b.orch.Cancel(m.ChannelID); err != nil {
		b.reportControl(rep, m.ChannelID, err)
		return
	}
	b.reply(rep, m.ChannelID, "Canceling the scan. The checkpoint stays, so "+b.prefix+"resume can pick it back up.")
}

func (b *Bot) handleHistory(rep replySession, m *discordgo.MessageCreate) {
	h, err := b.orch.History(m.ChannelID)
	if err != nil {
		b.reply(rep, m.ChannelID, "Could not read the channel history: "+err.Error())
		return
	}
	b.sendEmbed(rep, m.ChannelID, historyEmbed(h))
}

func (b *Bot) handleClearHistory(rep replySession, m *discordgo.MessageCreate) {
	if err := b.orch.ClearHistory(m.ChannelID); err != nil {
		b.reportControl(rep, m.ChannelID, err)
		return
	}
	b.reply(rep, m.ChannelID, "URL history cleared. The next scan downloads everything again.")
}

func (b *Bot) handleClearRecovery(rep replySession, m *discordgo.MessageCreate) {
	if err := b.orch.ClearRecovery(m.ChannelID); err != nil {
		b.reportControl(rep, m.ChannelID, err)
		return
	}
	b.reply(rep, m.ChannelID, "Recovery checkpoint cleared.")
}

func (b *Bot) handleStatus(rep replySession, m *discordgo.MessageCreate) {
	active := b.orch.Active()
	if len(active) == 0 {
		b.reply(rep, m.ChannelID, "No active scans.")
		return
	}
	b.sendEmbed(rep, m.ChannelID, statusEmbed(active))
}

// report delivers the end-of-run outcome: an embed for anything that
// produced a summary, a category-specific message for the well-known
// rejections.
func (b *Bot) report(rep replySession, channelID string, sum *models.ScanSummary, err error) {
	switch {
	case err == nil:
		b.sendEmbed(rep, channelID, summaryEmbed(sum))
	case errors.Is(err, scanner.ErrAlreadyRunning):
		b.reply(rep, channelID, "A scan is already running on this channel.")
	case errors.Is(err, scanner.ErrCheckpointExists):
		b.reply(rep, channelID, "An unfinished scan exists here. Use "+b.prefix+"resume to continue it or "+b.prefix+"clear_recovery to discard it.")
	case errors.Is(err, scanner.ErrNoCheckpoint):
		b.reply(rep, channelID, "Nothing to resume on this channel.")
	case errors.Is(err, context.Canceled):
		if sum != nil {
			b.sendEmbed(rep, channelID, summaryEmbed(sum))
		} else {
			b.reply(rep, channelID, "Scan canceled.")
		}
	case errs.IsAccess(err):
		b.reply(rep, channelID, "I can't read this channel's history. Check my permissions.")
	default:
		b.reply(rep, channelID, "Scan stopped: "+err.Error())
		if sum != nil {
			b.sendEmbed(rep, channelID, summaryEmbed(sum))
		}
	}
}

// reportControl maps the orchestrator's control-command rejections.
func (b *Bot) reportControl(rep replySession, channelID string, err error) {
	switch {
	case errors.Is(err, scanner.ErrNotRunning):
		b.reply(rep, channelID, "No scan is running on this channel.")
	case errors.Is(err, scanner.ErrAlreadyRunning):
		b.reply(rep, channelID, "A scan is running on this channel. Stop it first.")
	default:
		b.reply(rep, channelID, "Command failed: "+err.Error())
	}
}

func (b *Bot) reply(rep replySession, channelID, text string) {
	if len(text) > discordMaxMessage {
		text = text[:discordMaxMessage-3] + "..."
	}
	if _, err := rep.ChannelMessageSend(channelID, text); err != nil {
		b.logger.WithError(err).WithField("channel_id", channelID).Warn("failed to send reply")
	}
}

func (b *Bot) sendEmbed(rep replySession, channelID string, embed *discordgo.MessageEmbed) {
	if _, err := rep.ChannelMessageSendEmbed(channelID, embed); err != nil {
		b.logger.WithError(err).WithField("channel_id", channelID).Warn("failed to send embed")
	}
}
