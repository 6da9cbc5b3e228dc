package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"strings"

	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"offerbot/internal/offer"
)

const (
	CardWidth  = 800
	CardHeight = 600

	bandHeight = 100
	maxPixels  = 40_000_000
)

var errAssetTooLarge = errors.New("asset dimensions too large")

// Pixel sizes of the card's text.
const (
	sizeStore    = 40
	sizeTitle    = 34
	sizeCategory = 28
	sizeFooter   = 22
)

// drawCard paints the offer card. product may be nil.
func (r *Renderer) drawCard(o offer.Offer, product image.Image) ([]byte, error) {
	ts := newTypesetter(r.fonts)
	accent := accentFor(o.Source, r.accents, r.accentKeys)
	dst := image.NewRGBA(image.Rect(0, 0, CardWidth, CardHeight))
	xdraw.Draw(dst, dst.Bounds(), image.NewUniform(colBackground), image.Point{}, xdraw.Src)
	xdraw.Draw(dst, image.Rect(0, 0, CardWidth, bandHeight), image.NewUniform(accent), image.Point{}, xdraw.Src)

	store := strings.TrimSpace(o.Source)
	if store == "" {
		store = "Special Offer"
	}
	ts.drawBlock(dst, ts.layout(store, sizeStore, CardWidth-80, 1), CardWidth/2, bandHeight/2, 0, colText)

	title := strings.TrimSpace(o.Title)
	if title == "" {
		title = "Featured Offer"
	}

	if product != nil {
		box := image.Rect(40, 130, 340, 430)
		drawFitted(dst, box, product)
		ts.drawBlock(dst, ts.layout(title, sizeTitle, 400, 2), 570, 190, 48, colText)
		if p := strings.TrimSpace(o.Price); p != "" {
			drawBadge(dst, ts, p, image.Pt(570, 360), 70, accent)
		}
	} else {
		ts.drawBlock(dst, ts.layout(title, sizeTitle, CardWidth-100, 2), CardWidth/2, 200, 56, colText)
		if p := strings.TrimSpace(o.Price); p != "" {
			drawBadge(dst, ts, p, image.Pt(CardWidth/2, 390), 80, accent)
		}
	}

	category := strings.TrimSpace(o.Category)
	if category == "" {
		category = "Offers"
	}
	ts.drawBlock(dst, ts.layout(category, sizeCategory, CardWidth-120, 1), CardWidth/2, 515, 0, colMuted)
	xdraw.Draw(dst, image.Rect(100, 549, CardWidth-100, 551), image.NewUniform(colRule), image.Point{}, xdraw.Src)
	if r.opts.Footer != "" {
		ts.drawBlock(dst, ts.layout(r.opts.Footer, sizeFooter, CardWidth-200, 1), CardWidth/2, 575, 0, colFaint)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// drawBadge fills a circle and centers the price inside, shrinking the
// text until it fits.
func drawBadge(dst *image.RGBA, ts *typesetter, price string, c image.Point, radius int, fill color.Color) {
	xdraw.DrawMask(dst, image.Rect(c.X-radius, c.Y-radius, c.X+radius, c.Y+radius),
		image.NewUniform(fill), image.Point{}, &circle{c: c, r: radius}, image.Pt(c.X-radius, c.Y-radius), xdraw.Over)

	maxW := 2*radius - 20
	var b textBlock
	for _, size := range []int{44, 36, 28, 22} {
		if b = ts.layout(price, size, maxW, 1); b.truncated == 0 {
			break
		}
	}
	ts.drawBlock(dst, b, c.X, c.Y, 0, colText)
}

type circle struct {
	c image.Point
	r int
}

func (m *circle) ColorModel() color.Model { return color.AlphaModel }

func (m *circle) Bounds() image.Rectangle {
	return image.Rect(m.c.X-m.r, m.c.Y-m.r, m.c.X+m.r, m.c.Y+m.r)
}

func (m *circle) At(x, y int) color.Color {
	dx, dy := float64(x-m.c.X)+0.5, float64(y-m.c.Y)+0.5
	if dx*dx+dy*dy < float64(m.r*m.r) {
		return color.Alpha{A: 0xff}
	}
	return color.Alpha{}
}

// drawFitted scales src into box keeping its aspect ratio, centered.
func drawFitted(dst *image.RGBA, box image.Rectangle, src image.Image) {
	sb := src.Bounds()
	if sb.Dx() <= 0 || sb.Dy() <= 0 {
		return
	}
	scale := min(float64(box.Dx())/float64(sb.Dx()), float64(box.Dy())/float64(sb.Dy()))
	w, h := max(int(float64(sb.Dx())*scale), 1), max(int(float64(sb.Dy())*scale), 1)
	x0 := box.Min.X + (box.Dx()-w)/2
	y0 := box.Min.Y + (box.Dy()-h)/2
	xdraw.CatmullRom.Scale(dst, image.Rect(x0, y0, x0+w, y0+h), src, sb, xdraw.Over, nil)
}

// fetchProduct loads and decodes the offer image, bounded by the asset
// timeout.
func (r *Renderer) fetchProduct(ctx context.Context, ref string) (image.Image, error) {
	ctx, cancel := context.WithTimeout(ctx, r.opts.AssetTimeout)
	defer cancel()
	b, err := r.assets.Get(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("fetch asset: %w", err)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("decode asset: %w", err)
	}
	if cfg.Width*cfg.Height > maxPixels {
		return nil, errAssetTooLarge
	}
	img, _, err := image.Decode(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("decode asset: %w", err)
	}
	return img, nil
}
