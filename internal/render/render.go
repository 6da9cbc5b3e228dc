// Package render turns an Offer into what gets posted: an HTML caption and,
// depending on the mode, an 800x600 PNG card.
//
// Rendering never fails outright. Anything that goes wrong while building
// the card is logged at debug and the payload falls back to caption only.
package render

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"net/url"
	"sort"
	"strings"
	"time"

	"offerbot/internal/offer"
	logx "offerbot/pkg/logx"
)

type Mode string

const (
	// ModeAlways attaches a card to every offer.
	ModeAlways Mode = "always"
	// ModeWithImage attaches a card only when the offer image loads.
	ModeWithImage Mode = "with_image"
	ModeNever     Mode = "never"
)

const DefaultAssetTimeout = 10 * time.Second

func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeAlways, nil
	case ModeAlways, ModeWithImage, ModeNever:
		return m, nil
	default:
		return "", fmt.Errorf("unknown render mode %q (want always, with_image or never)", s)
	}
}

type Options struct {
	Mode   Mode
	Footer string
	// AccentColors maps a source name fragment to "#rrggbb".
	AccentColors map[string]string
	AssetTimeout time.Duration
}

// AssetFetcher downloads offer images. *sources.Client implements it.
type AssetFetcher interface {
	Get(ctx context.Context, rawURL string) ([]byte, error)
}

type Renderer struct {
	opts       Options
	assets     AssetFetcher
	log        logx.Logger
	fonts      fontSet
	accents    map[string]color.RGBA
	accentKeys []string
}

func New(opts Options, assets AssetFetcher, log logx.Logger) (*Renderer, error) {
	mode, err := ParseMode(string(opts.Mode))
	if err != nil {
		return nil, err
	}
	opts.Mode = mode
	opts.Footer = strings.TrimSpace(opts.Footer)
	if opts.AssetTimeout <= 0 {
		opts.AssetTimeout = DefaultAssetTimeout
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	accents := make(map[string]color.RGBA, len(opts.AccentColors))
	keys := make([]string, 0, len(opts.AccentColors))
	for k, v := range opts.AccentColors {
		c, err := ParseHex(v)
		if err != nil {
			return nil, fmt.Errorf("render.accent_colors[%s]: %w", k, err)
		}
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" {
			continue
		}
		accents[k] = c
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})

	fonts, err := loadFonts()
	if err != nil {
		return nil, err
	}
	return &Renderer{
		opts:       opts,
		assets:     assets,
		log:        log.With(logx.String("comp", "render")),
		fonts:      fonts,
		accents:    accents,
		accentKeys: keys,
	}, nil
}

func (r *Renderer) Mode() Mode { return r.opts.Mode }

// Render builds the payload for o.
func (r *Renderer) Render(ctx context.Context, o offer.Offer) offer.Payload {
	p := offer.Payload{Caption: Caption(o, r.opts.Footer)}
	if r.opts.Mode == ModeNever {
		return p
	}

	var product image.Image
	if ref := strings.TrimSpace(o.ImageRef); ref != "" && r.assets != nil && isHTTP(ref) {
		img, err := r.fetchProduct(ctx, ref)
		if err != nil {
			r.log.Debug("offer image unavailable", logx.String("link", o.Link), logx.Err(err))
		} else {
			product = img
		}
	}
	if product == nil && r.opts.Mode == ModeWithImage {
		return p
	}

	img, err := r.drawCard(o, product)
	if err != nil {
		r.log.Debug("card render failed, sending caption only", logx.String("link", o.Link), logx.Err(err))
		return p
	}
	p.Image = img
	return p
}

func isHTTP(ref string) bool {
	u, err := url.Parse(ref)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
