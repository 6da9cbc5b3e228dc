package render

import (
	"bytes"
	_ "embed"
	"fmt"
	"image"
	"image/color"
	"sort"
	"unicode"

	"github.com/go-text/typesetting/di"
	"github.com/go-text/typesetting/font"
	ot "github.com/go-text/typesetting/font/opentype"
	"github.com/go-text/typesetting/language"
	"github.com/go-text/typesetting/shaping"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/math/fixed"
	"golang.org/x/image/vector"
)

// Noto Sans Arabic, variable weight. Latin and symbols come from Go Bold.
//
//go:embed fonts/NotoSansArabic.ttf
var arabicTTF []byte

const arabicWeight = 700

type fontSet struct {
	latin, arabic *font.Font
}

func loadFonts() (fontSet, error) {
	latin, err := font.ParseTTF(bytes.NewReader(gobold.TTF))
	if err != nil {
		return fontSet{}, fmt.Errorf("parse latin font: %w", err)
	}
	arabic, err := font.ParseTTF(bytes.NewReader(arabicTTF))
	if err != nil {
		return fontSet{}, fmt.Errorf("parse arabic font: %w", err)
	}
	return fontSet{latin: latin.Font, arabic: arabic.Font}, nil
}

// typesetter shapes and draws text for one card. Faces cache per-glyph
// state, so a typesetter must not be shared between goroutines.
type typesetter struct {
	latin, arabic *font.Face
	shaper        shaping.HarfbuzzShaper
	seg           shaping.Segmenter
	raster        vector.Rasterizer
}

func newTypesetter(fs fontSet) *typesetter {
	ts := &typesetter{latin: font.NewFace(fs.latin), arabic: font.NewFace(fs.arabic)}
	ts.arabic.SetVariations([]font.Variation{{Tag: ot.MustNewTag("wght"), Value: arabicWeight}})
	return ts
}

// ResolveFace sends Arabic script to Noto Sans Arabic and everything else
// to Go Bold, falling back to whichever face has the rune.
func (ts *typesetter) ResolveFace(r rune) *font.Face {
	if unicode.Is(unicode.Arabic, r) {
		if _, ok := ts.arabic.NominalGlyph(r); ok {
			return ts.arabic
		}
	}
	if _, ok := ts.latin.NominalGlyph(r); ok {
		return ts.latin
	}
	if _, ok := ts.arabic.NominalGlyph(r); ok {
		return ts.arabic
	}
	return ts.latin
}

// textBlock is laid out text: lines in logical order, each holding runs
// tagged with their visual position.
type textBlock struct {
	lines     []shaping.Line
	truncated int
}

func paragraphDirection(rs []rune) di.Direction {
	for _, r := range rs {
		switch {
		case unicode.In(r, unicode.Arabic, unicode.Hebrew, unicode.Syriac, unicode.Thaana):
			return di.DirectionRTL
		case unicode.IsLetter(r):
			return di.DirectionLTR
		}
	}
	return di.DirectionLTR
}

func (ts *typesetter) shape(rs []rune, dir di.Direction, size int) []shaping.Output {
	lang := language.NewLanguage("en")
	if dir == di.DirectionRTL {
		lang = language.NewLanguage("ar")
	}
	in := shaping.Input{
		Text:      rs,
		RunEnd:    len(rs),
		Direction: dir,
		Size:      fixed.I(size),
		Language:  lang,
	}
	runs := ts.seg.Split(in, ts)
	outs := make([]shaping.Output, 0, len(runs))
	for _, run := range runs {
		outs = append(outs, ts.shaper.Shape(run))
	}
	return outs
}

// layout shapes s at size pixels and wraps it to maxW in at most maxLines
// lines. Text cut off ends the last line with "...".
func (ts *typesetter) layout(s string, size, maxW, maxLines int) textBlock {
	rs := []rune(s)
	if len(rs) == 0 {
		return textBlock{}
	}
	dir := paragraphDirection(rs)
	dots := []rune("...")
	cfg := shaping.WrapConfig{
		Direction:          dir,
		TruncateAfterLines: maxLines,
		Truncator: ts.shaper.Shape(shaping.Input{
			Text: dots, RunEnd: len(dots), Direction: dir, Face: ts.latin, Size: fixed.I(size),
		}),
	}
	var w shaping.LineWrapper
	lines, truncated := w.WrapParagraph(cfg, maxW, rs, shaping.NewSliceIterator(ts.shape(rs, dir, size)))
	return textBlock{lines: lines, truncated: truncated}
}

func lineWidth(line shaping.Line) fixed.Int26_6 {
	var w fixed.Int26_6
	for _, run := range line {
		w += run.Advance
	}
	return w
}

func lineBounds(line shaping.Line) (ascent, descent fixed.Int26_6) {
	for _, run := range line {
		ascent = max(ascent, run.LineBounds.Ascent)
		descent = min(descent, run.LineBounds.Descent)
	}
	return ascent, descent
}

// drawLine paints line with its visual middle at (cx, cy).
func (ts *typesetter) drawLine(dst *image.RGBA, line shaping.Line, cx, cy int, c color.Color) {
	if len(line) == 0 {
		return
	}
	runs := make([]shaping.Output, len(line))
	copy(runs, line)
	sort.Slice(runs, func(i, j int) bool { return runs[i].VisualIndex < runs[j].VisualIndex })

	width := lineWidth(runs)
	ascent, descent := lineBounds(runs)
	pad := (ascent - descent).Ceil()
	box := image.Rect(
		cx-width.Ceil()/2-pad, cy-(ascent-descent).Ceil()/2-pad,
		cx+width.Ceil()/2+pad, cy+(ascent-descent).Ceil()/2+pad,
	)
	ts.raster.Reset(box.Dx(), box.Dy())

	penX := float32(pad) + float32(box.Dx()-2*pad-width.Ceil())/2
	baseline := float32(box.Dy())/2 + fx(ascent+descent)/2
	for _, run := range runs {
		scale := fx(run.Size) / float32(run.Face.Upem())
		for _, g := range run.Glyphs {
			if outline, ok := run.Face.GlyphDataOutline(g.GlyphID); ok {
				ts.addOutline(outline, penX+fx(g.XOffset), baseline-fx(g.YOffset), scale)
			}
			penX += fx(g.Advance)
		}
	}

	mask := image.NewAlpha(image.Rect(0, 0, box.Dx(), box.Dy()))
	ts.raster.Draw(mask, mask.Bounds(), image.Opaque, image.Point{})
	xdraw.DrawMask(dst, box, image.NewUniform(c), image.Point{}, mask, image.Point{}, xdraw.Over)
}

func (ts *typesetter) addOutline(o font.GlyphOutline, ox, oy, scale float32) {
	open := false
	pt := func(p ot.SegmentPoint) (float32, float32) { return ox + p.X*scale, oy - p.Y*scale }
	for _, s := range o.Segments {
		switch s.Op {
		case ot.SegmentOpMoveTo:
			if open {
				ts.raster.ClosePath()
			}
			ts.raster.MoveTo(pt(s.Args[0]))
			open = true
		case ot.SegmentOpLineTo:
			ts.raster.LineTo(pt(s.Args[0]))
		case ot.SegmentOpQuadTo:
			x1, y1 := pt(s.Args[0])
			x2, y2 := pt(s.Args[1])
			ts.raster.QuadTo(x1, y1, x2, y2)
		case ot.SegmentOpCubeTo:
			x1, y1 := pt(s.Args[0])
			x2, y2 := pt(s.Args[1])
			x3, y3 := pt(s.Args[2])
			ts.raster.CubeTo(x1, y1, x2, y2, x3, y3)
		}
	}
	if open {
		ts.raster.ClosePath()
	}
}

// drawBlock paints the lines of b centered on cx, the first line's middle
// at y and each following one step pixels below.
func (ts *typesetter) drawBlock(dst *image.RGBA, b textBlock, cx, y, step int, c color.Color) {
	for i, ln := range b.lines {
		ts.drawLine(dst, ln, cx, y+i*step, c)
	}
}

func fx(v fixed.Int26_6) float32 { return float32(v) / 64 }
