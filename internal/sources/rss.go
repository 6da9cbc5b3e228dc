package sources

import (
	"context"
	"fmt"
	"strings"

	"github.com/mmcdole/gofeed"

	"offerbot/internal/offer"
)

// RSSAdapter reads RSS or Atom feeds.
type RSSAdapter struct {
	spec   Spec
	client *Client
}

func NewRSS(spec Spec, client *Client) *RSSAdapter {
	return &RSSAdapter{spec: spec.withDefaults(), client: client}
}

func (a *RSSAdapter) Name() string    { return a.spec.Name }
func (a *RSSAdapter) BaseURL() string { return a.spec.BaseURL }

func (a *RSSAdapter) Fetch(ctx context.Context) ([]offer.RawCandidate, error) {
	body, err := a.client.Get(ctx, a.spec.URL)
	if err != nil {
		return nil, Classify(a.spec.Name, err)
	}
	feed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		return nil, &FetchError{Source: a.spec.Name, Kind: KindParse, Err: fmt.Errorf("parse feed: %w", err)}
	}

	out := make([]offer.RawCandidate, 0, min(len(feed.Items), a.spec.Limit))
	for _, it := range feed.Items {
		if len(out) >= a.spec.Limit {
			break
		}
		if it == nil {
			continue
		}
		desc := it.Description
		if strings.TrimSpace(desc) == "" {
			desc = it.Content
		}
		category := a.spec.Category
		if category == "" && len(it.Categories) > 0 {
			category = it.Categories[0]
		}
		out = append(out, offer.RawCandidate{
			Title:       it.Title,
			Link:        itemLink(it),
			Category:    category,
			Source:      a.spec.Name,
			ImageRef:    itemImage(it),
			Description: desc,
		})
	}
	return out, nil
}

// itemLink prefers the explicit link and falls back to an http GUID.
func itemLink(it *gofeed.Item) string {
	if l := strings.TrimSpace(it.Link); l != "" {
		return l
	}
	if g := strings.TrimSpace(it.GUID); strings.HasPrefix(g, "http") {
		return g
	}
	return ""
}

func itemImage(it *gofeed.Item) string {
	if it.Image != nil && it.Image.URL != "" {
		return it.Image.URL
	}
	for _, enc := range it.Enclosures {
		if enc != nil && strings.HasPrefix(enc.Type, "image/") && enc.URL != "" {
			return enc.URL
		}
	}
	return ""
}
