package sources

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"offerbot/internal/offer"
)

// Shorter card titles are navigation noise.
const minCardTitleRunes = 6

// Selectors locate offer cards on a coupon page.
type Selectors struct {
	Container   string
	Title       string
	Link        string
	Price       string
	Image       string
	Description string
}

var defaultSelectors = Selectors{
	Container:   ".coupon-card, .deal-card, .offer-item, .coupon, .deal, .offer, article",
	Title:       "h2, h3, h4, .title, .coupon-title, .entry-title",
	Link:        "a",
	Price:       ".discount, .percent, .off, .price",
	Image:       "img",
	Description: ".description, p",
}

func (s Selectors) withDefaults() Selectors {
	if s.Container == "" {
		s.Container = defaultSelectors.Container
	}
	if s.Title == "" {
		s.Title = defaultSelectors.Title
	}
	if s.Link == "" {
		s.Link = defaultSelectors.Link
	}
	if s.Price == "" {
		s.Price = defaultSelectors.Price
	}
	if s.Image == "" {
		s.Image = defaultSelectors.Image
	}
	if s.Description == "" {
		s.Description = defaultSelectors.Description
	}
	return s
}

// HTMLAdapter scrapes offer cards from a page with CSS selectors.
type HTMLAdapter struct {
	spec   Spec
	client *Client
}

func NewHTML(spec Spec, client *Client) *HTMLAdapter {
	spec = spec.withDefaults()
	spec.Selectors = spec.Selectors.withDefaults()
	return &HTMLAdapter{spec: spec, client: client}
}

func (a *HTMLAdapter) Name() string    { return a.spec.Name }
func (a *HTMLAdapter) BaseURL() string { return a.spec.BaseURL }

func (a *HTMLAdapter) Fetch(ctx context.Context) ([]offer.RawCandidate, error) {
	body, err := a.client.Get(ctx, a.spec.URL)
	if err != nil {
		return nil, Classify(a.spec.Name, err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, &FetchError{Source: a.spec.Name, Kind: KindParse, Err: fmt.Errorf("parse html: %w", err)}
	}

	sel := a.spec.Selectors
	var out []offer.RawCandidate
	doc.Find(sel.Container).EachWithBreak(func(_ int, card *goquery.Selection) bool {
		title := strings.TrimSpace(card.Find(sel.Title).First().Text())
		if utf8.RuneCountInString(title) < minCardTitleRunes {
			return true
		}
		link, _ := card.Find(sel.Link).First().Attr("href")
		if link == "" && goquery.NodeName(card) == "a" {
			link, _ = card.Attr("href")
		}
		out = append(out, offer.RawCandidate{
			Title:       title,
			Link:        strings.TrimSpace(link),
			Price:       strings.TrimSpace(card.Find(sel.Price).First().Text()),
			Category:    a.spec.Category,
			Source:      a.spec.Name,
			ImageRef:    imageAttr(card.Find(sel.Image).First()),
			Description: strings.TrimSpace(card.Find(sel.Description).First().Text()),
		})
		return len(out) < a.spec.Limit
	})
	return out, nil
}

// imageAttr reads lazy-loading attributes before src.
func imageAttr(img *goquery.Selection) string {
	for _, attr := range []string{"data-src", "data-lazy-src", "src"} {
		if v, ok := img.Attr(attr); ok && strings.TrimSpace(v) != "" && !strings.HasPrefix(v, "data:") {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
