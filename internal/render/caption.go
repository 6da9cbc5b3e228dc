package render

import (
	"strings"
	"time"

	"offerbot/internal/offer"
	"offerbot/pkg/tgui"
)

// MaxCaptionRunes is Telegram's limit for photo captions.
const MaxCaptionRunes = 1024

const (
	dateLayout = "2006-01-02"
	linkLabel  = "View Offer"
	minTitle   = 16
)

// Caption renders the HTML caption for o. The visible text never exceeds
// MaxCaptionRunes: the title is shortened first, then the footer dropped,
// and as a last resort the caption degrades to escaped plain text.
func Caption(o offer.Offer, footer string) string {
	title := strings.TrimSpace(o.Title)
	footer = strings.TrimSpace(footer)

	h := buildCaption(o, title, footer)
	if over := h.Len() - MaxCaptionRunes; over > 0 {
		keep := max(len([]rune(title))-over, minTitle)
		title = tgui.TruncRunes(title, keep)
		h = buildCaption(o, title, footer)
	}
	if h.Len() > MaxCaptionRunes && footer != "" {
		footer = ""
		h = buildCaption(o, title, footer)
	}
	if h.Len() > MaxCaptionRunes {
		return string(tgui.Esc(tgui.TruncRunes(tgui.Plain(h), MaxCaptionRunes)))
	}
	return string(h)
}

func buildCaption(o offer.Offer, title, footer string) tgui.H {
	created := o.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	details := tgui.Lines(
		tgui.Field("Price", o.Price),
		tgui.Field("Category", o.Category),
		tgui.Field("Source", o.Source),
		tgui.Field("Date", created.Format(dateLayout)),
	)
	return tgui.JoinH("\n\n",
		tgui.B(title),
		details,
		tgui.Link(linkLabel, o.Link),
		tgui.Esc(footer),
	)
}
