package discord

import (
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"

	"discgrab/pkg/models"
	"discgrab/pkg/scanner"
)

const (
	colorSuccess = 0x2ecc71
	colorInfo    = 0x3498db
	colorWarning = 0xe67e22
	colorFailure = 0xe74c3c
)

func summaryEmbed(sum *models.ScanSummary) *discordgo.MessageEmbed {
	title := "Scan complete"
	color := colorSuccess
	switch sum.State {
	case models.StatePaused:
		title = "Scan paused"
		color = colorWarning
	case models.StateFailed:
		title = "Scan stopped"
		color = colorFailure
	}

	return &discordgo.MessageEmbed{
		Title:       title,
		Description: sum.Channel.Name,
		Color:       color,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Messages scanned", Value: fmt.Sprintf("%d", sum.MessagesScanned), Inline: true},
			{Name: "Downloaded", Value: fmt.Sprintf("%d", sum.Downloaded), Inline: true},
			{Name: "Skipped", Value: fmt.Sprintf("%d", sum.Skipped), Inline: true},
			{Name: "Failed", Value: fmt.Sprintf("%d", sum.Failed), Inline: true},
			{Name: "Images", Value: megabytes(sum.BytesImages), Inline: true},
			{Name: "Videos", Value: megabytes(sum.BytesVideos), Inline: true},
		},
		Footer: &discordgo.MessageEmbedFooter{
			Text: "took " + sum.Duration.Round(time.Second).String(),
		},
	}
}

func historyEmbed(h *models.HistorySummary) *discordgo.MessageEmbed {
	lastScan := "never"
	if !h.LastScan.IsZero() {
		lastScan = h.LastScan.Format(time.RFC1123)
	}
	checkpoint := "none"
	if h.HasCheckpoint {
		checkpoint = fmt.Sprintf("%s (%d scanned, %d downloaded)", h.CheckpointStatus, h.MessagesScanned, h.Downloaded)
	}

	return &discordgo.MessageEmbed{
		Title: "Channel history",
		Color: colorInfo,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Known URLs", Value: fmt.Sprintf("%d", h.KnownURLs), Inline: true},
			{Name: "Total scans", Value: fmt.Sprintf("%d", h.TotalScans), Inline: true},
			{Name: "Last scan", Value: lastScan, Inline: true},
			{Name: "Checkpoint", Value: checkpoint, Inline: false},
		},
	}
}

func statusEmbed(active []scanner.SessionInfo) *discordgo.MessageEmbed {
	fields := make([]*discordgo.MessageEmbedField, 0, len(active))
	for _, s := range active {
		name := s.Channel.Name
		if name == "" {
			name = s.ChannelID
		}
		fields = append(fields, &discordgo.MessageEmbedField{
			Name: name,
			Value: fmt.Sprintf("%s, %d scanned, %d downloaded, %d failed",
				s.State, s.MessagesScanned, s.Downloaded, s.Failed),
			Inline: false,
		})
	}

	return &discordgo.MessageEmbed{
		Title:  "Active scans",
		Color:  colorInfo,
		Fields: fields,
	}
}

func helpEmbed(prefix string) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title: "Commands",
		Color: colorInfo,
		Fields: []*discordgo.MessageEmbedField{
			{Name: prefix + "scan [n|all]", Value: "Scan the channel for media, newest n messages or everything."},
			{Name: prefix + "resume", Value: "Continue an interrupted scan from its checkpoint."},
			{Name: prefix + "pause", Value: "Pause the running scan after the current batch."},
			{Name: prefix + "cancel", Value: "Stop the running scan, keeping its checkpoint."},
			{Name: prefix + "status", Value: "Show every active scan."},
			{Name: prefix + "history", Value: "Show what this channel's past scans collected."},
			{Name: prefix + "clear_history", Value: "Forget the channel's downloaded URLs."},
			{Name: prefix + "clear_recovery", Value: "Discard the channel's unfinished checkpoint."},
			{Name: prefix + "ping", Value: "Check the gateway latency."},
		},
	}
}

func megabytes(n int64) string {
	return fmt.Sprintf("%.2f MB", float64(n)/(1024*1024))
}
