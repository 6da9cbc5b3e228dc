package render

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"
	"time"

	"github.com/go-text/typesetting/di"
	"github.com/go-text/typesetting/font"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"offerbot/internal/offer"
	"offerbot/pkg/tgui"
	logx "offerbot/pkg/logx"
)

var fixedDay = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

type stubAssets struct {
	body  []byte
	err   error
	calls int
}

func (s *stubAssets) Get(context.Context, string) ([]byte, error) {
	s.calls++
	return s.body, s.err
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, h/2, color.RGBA{0xff, 0, 0, 0xff})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func sampleOffer() offer.Offer {
	return offer.Offer{
		Title:     "Wireless Earbuds & Case",
		Price:     "$19.99",
		Category:  "Electronics",
		Source:    "Slickdeals",
		Link:      "https://slickdeals.net/f/123?x=1&y=2",
		ImageRef:  "https://img.test/earbuds.png",
		CreatedAt: fixedDay,
	}
}

func TestCaptionGolden(t *testing.T) {
	t.Parallel()
	g := goldie.New(t, goldie.WithFixtureDir("testdata"), goldie.WithNameSuffix(".golden"))

	g.Assert(t, "caption_full", []byte(Caption(sampleOffer(), "@offers_channel")))
	g.Assert(t, "caption_minimal", []byte(Caption(offer.Offer{
		Title:     "10% off everything",
		Source:    "coupon.sa",
		Link:      "https://coupon.sa/c/1",
		CreatedAt: fixedDay,
	}, "")))
}

func TestCaptionStaysWithinLimit(t *testing.T) {
	t.Parallel()
	o := sampleOffer()
	o.Title = strings.Repeat("Huge sale ", 150)
	got := tgui.H(Caption(o, "@offers_channel"))
	assert.LessOrEqual(t, got.Len(), MaxCaptionRunes)
	assert.Contains(t, string(got), "...")
	assert.Contains(t, string(got), "View Offer")
	assert.Contains(t, string(got), "@offers_channel")

	o.Title = "short"
	o.Category = strings.Repeat("c", 2000)
	got = tgui.H(Caption(o, ""))
	assert.LessOrEqual(t, got.Len(), MaxCaptionRunes)
	assert.NotContains(t, string(got), "<b>")
}

func TestRenderModes(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		mode      Mode
		imageRef  string
		assets    *stubAssets
		wantImage bool
	}{
		{name: "never", mode: ModeNever, imageRef: "https://img.test/a.png", assets: &stubAssets{}, wantImage: false},
		{name: "always without image ref", mode: ModeAlways, wantImage: true},
		{name: "always with broken asset", mode: ModeAlways, imageRef: "https://img.test/a.png", assets: &stubAssets{err: errors.New("404")}, wantImage: true},
		{name: "with_image and no ref", mode: ModeWithImage, wantImage: false},
		{name: "with_image and broken asset", mode: ModeWithImage, imageRef: "https://img.test/a.png", assets: &stubAssets{body: []byte("not an image")}, wantImage: false},
		{name: "with_image and relative ref", mode: ModeWithImage, imageRef: "/img/a.png", assets: &stubAssets{}, wantImage: false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var assets AssetFetcher
			if tt.assets != nil {
				assets = tt.assets
			}
			r, err := New(Options{Mode: tt.mode}, assets, nilLogger())
			require.NoError(t, err)

			o := sampleOffer()
			o.ImageRef = tt.imageRef
			p := r.Render(context.Background(), o)
			assert.Equal(t, Caption(o, ""), p.Caption)
			assert.Equal(t, tt.wantImage, p.HasImage())
			if tt.mode == ModeNever {
				assert.Zero(t, tt.assets.calls)
			}
		})
	}
}

func TestRenderCardWithProductImage(t *testing.T) {
	t.Parallel()
	assets := &stubAssets{body: pngBytes(t, 640, 320)}
	r, err := New(Options{Mode: ModeWithImage, Footer: "@offers_channel"}, assets, nilLogger())
	require.NoError(t, err)

	p := r.Render(context.Background(), sampleOffer())
	require.True(t, p.HasImage())
	assert.Equal(t, 1, assets.calls)

	img, err := png.Decode(bytes.NewReader(p.Image))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, CardWidth, CardHeight), img.Bounds())

	// Background below the band and outside every element.
	r0, g0, b0, _ := img.At(5, 300).RGBA()
	assert.Equal(t, [3]uint32{0x1a1a, 0x1a1a, 0x2e2e}, [3]uint32{r0, g0, b0})
}

func TestAccentColors(t *testing.T) {
	t.Parallel()
	r, err := New(Options{AccentColors: map[string]string{"deals": "#00ff00", "hotukdeals": "#f90"}}, nil, nilLogger())
	require.NoError(t, err)

	assert.Equal(t, color.RGBA{0xff, 0x99, 0x00, 0xff}, accentFor("HotUKDeals", r.accents, r.accentKeys))
	assert.Equal(t, color.RGBA{0x00, 0xff, 0x00, 0xff}, accentFor("Slickdeals", r.accents, r.accentKeys))
	assert.Equal(t, accentFor("coupon.sa", nil, nil), accentFor("coupon.sa", nil, nil))

	_, err = New(Options{AccentColors: map[string]string{"x": "orange"}}, nil, nilLogger())
	assert.Error(t, err)
	_, err = New(Options{Mode: "sometimes"}, nil, nilLogger())
	assert.Error(t, err)
}

func testTypesetter(t *testing.T) *typesetter {
	t.Helper()
	fs, err := loadFonts()
	require.NoError(t, err)
	return newTypesetter(fs)
}

func TestLayoutWrapsAndTruncates(t *testing.T) {
	t.Parallel()
	ts := testTypesetter(t)

	b := ts.layout(strings.Repeat("bargain ", 40), sizeTitle, 400, 2)
	require.Len(t, b.lines, 2)
	assert.Positive(t, b.truncated)
	for _, ln := range b.lines {
		assert.LessOrEqual(t, lineWidth(ln).Round(), 400)
	}

	b = ts.layout("Tiny", sizeTitle, 400, 2)
	require.Len(t, b.lines, 1)
	assert.Zero(t, b.truncated)
	assert.Empty(t, ts.layout("", sizeTitle, 400, 2).lines)
}

func TestLayoutShapesArabic(t *testing.T) {
	t.Parallel()
	ts := testTypesetter(t)

	// "wireless headphones"
	title := "سماعات لاسلكية"
	b := ts.layout(title, sizeTitle, CardWidth-100, 2)
	require.Len(t, b.lines, 1)
	require.NotEmpty(t, b.lines[0])

	for _, run := range b.lines[0] {
		assert.Same(t, ts.arabic, run.Face)
		assert.Equal(t, di.DirectionRTL, run.Direction)
		for _, g := range run.Glyphs {
			assert.NotZero(t, g.GlyphID, "notdef at rune %d", g.TextIndex())
		}
	}

	// The first letter is drawn rightmost, in its initial joining form.
	run := b.lines[0][0]
	last := run.Glyphs[len(run.Glyphs)-1]
	assert.Equal(t, 0, last.TextIndex())
	isolated, ok := ts.arabic.NominalGlyph('س')
	require.True(t, ok)
	assert.NotEqual(t, isolated, last.GlyphID)
}

func TestLayoutMixedScripts(t *testing.T) {
	t.Parallel()
	ts := testTypesetter(t)

	// "50% off iPhone"
	b := ts.layout("خصم 50% على iPhone", sizeTitle, CardWidth-100, 2)
	require.Len(t, b.lines, 1)

	faces := map[*font.Face]bool{}
	visual := map[int32]bool{}
	for _, run := range b.lines[0] {
		faces[run.Face] = true
		visual[run.VisualIndex] = true
		for _, g := range run.Glyphs {
			assert.NotZero(t, g.GlyphID)
		}
	}
	assert.True(t, faces[ts.arabic])
	assert.True(t, faces[ts.latin])
	assert.Len(t, visual, len(b.lines[0]))
}

func TestRenderArabicCard(t *testing.T) {
	t.Parallel()
	r, err := New(Options{Mode: ModeAlways, Footer: "قناة العروض"}, nil, nilLogger())
	require.NoError(t, err)

	o := sampleOffer()
	o.Title = "سماعات لاسلكية مع علبة شحن"
	o.Category = "إلكترونيات"
	o.Source = "كوبون السعودية"
	o.Price = "٧٩ ر.س"
	o.ImageRef = ""

	p := r.Render(context.Background(), o)
	require.NotEmpty(t, p.Image)
	img, err := png.Decode(bytes.NewReader(p.Image))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, CardWidth, CardHeight), img.Bounds())

	// Title glyphs land in the title band.
	bg := color.RGBAModel.Convert(colBackground)
	inked := 0
	for y := 160; y < 280; y++ {
		for x := 50; x < CardWidth-50; x++ {
			if color.RGBAModel.Convert(img.At(x, y)) != bg {
				inked++
			}
		}
	}
	assert.Greater(t, inked, 200)
}

func nilLogger() logx.Logger { return logx.Nop() }
