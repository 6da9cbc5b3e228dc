package render

import (
	"fmt"
	"hash/fnv"
	"image/color"
	"strconv"
	"strings"
)

var (
	colBackground = color.RGBA{0x1a, 0x1a, 0x2e, 0xff}
	colText       = color.RGBA{0xff, 0xff, 0xff, 0xff}
	colMuted      = color.RGBA{0x88, 0x88, 0x88, 0xff}
	colFaint      = color.RGBA{0x66, 0x66, 0x66, 0xff}
	colRule       = color.RGBA{0x33, 0x33, 0x33, 0xff}
)

// defaultPalette is used for sources without a configured accent.
var defaultPalette = []string{
	"#e94560", "#ff9900", "#00c853", "#2979ff",
	"#ab47bc", "#ff5a5f", "#00704a", "#ffb300",
}

// ParseHex reads "#rrggbb" or "#rgb".
func ParseHex(s string) (color.RGBA, error) {
	hex := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) != 6 {
		return color.RGBA{}, fmt.Errorf("invalid color %q", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("invalid color %q", s)
	}
	return color.RGBA{uint8(v >> 16), uint8(v >> 8), uint8(v), 0xff}, nil
}

// accentFor picks the configured accent whose key appears in the source
// name (case-insensitive, longest key first), else a stable palette entry.
func accentFor(source string, accents map[string]color.RGBA, keys []string) color.RGBA {
	ls := strings.ToLower(source)
	for _, k := range keys {
		if strings.Contains(ls, k) {
			return accents[k]
		}
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(ls))
	c, _ := ParseHex(defaultPalette[h.Sum32()%uint32(len(defaultPalette))])
	return c
}
