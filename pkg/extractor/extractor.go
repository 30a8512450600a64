package extractor

import (
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"

	"discgrab/pkg/models"
)

var imageExtensions = map[string]bool{
	"jpg": true, "jpeg": true, "png": true, "gif": true, "bmp": true, "webp": true,
}

var videoExtensions = map[string]bool{
	"mp4": true, "avi": true, "mov": true, "mkv": true, "webm": true, "flv": true,
}

// urlPattern matches bare http(s) URLs in message text. Angle brackets are
// excluded so Discord's embed-suppressed <url> form yields the inner URL.
var urlPattern = regexp.MustCompile(`https?://[^\s<>]+`)

// KindForName classifies a filename or URL path by its extension.
// Matching is case-insensitive.
func KindForName(name string) models.MediaKind {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(name), "."))
	switch {
	case imageExtensions[ext]:
		return models.KindImage
	case videoExtensions[ext]:
		return models.KindVideo
	default:
		return models.KindOther
	}
}

// Extract returns every media reference in a message: one per attachment,
// then one per media URL found in the text, in encounter order. It never
// deduplicates; the same URL twice yields two references.
func Extract(msg models.Message) []models.MediaReference {
	var refs []models.MediaReference
	now := time.Now()

	// Attachments are always media, whatever their extension says.
	for _, att := range msg.Attachments {
		name := att.Filename
		if name == "" {
			name = urlPathName(att.URL)
		}
		refs = append(refs, models.MediaReference{
			URL:          att.URL,
			Filename:     att.Filename,
			Kind:         KindForName(name),
			MessageID:    msg.ID,
			Source:       models.SourceAttachment,
			DiscoveredAt: now,
		})
	}

	// Bare URLs in text count only when the path carries a recognized
	// image or video extension.
	for _, raw := range urlPattern.FindAllString(msg.Content, -1) {
		raw = strings.TrimRight(raw, `.,;:!?)'">`)
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" {
			continue
		}
		kind := KindForName(u.Path)
		if kind == models.KindOther {
			continue
		}
		refs = append(refs, models.MediaReference{
			URL:          raw,
			Kind:         kind,
			MessageID:    msg.ID,
			Source:       models.SourceContent,
			DiscoveredAt: now,
		})
	}

	return refs
}

func urlPathName(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return u.Path
}
