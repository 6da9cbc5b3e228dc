package normalize

import "regexp"

const (
	amountExpr = `\d[\d,]*(?:\.\d+)?`
	unitExpr   = `(?:SAR|USD|AED|EUR|GBP|ريال|ر\.س|دولار|درهم)`
)

// pricePatterns are tried in order; the first tier with a match wins and
// the leftmost match inside that tier is returned.
var pricePatterns = []*regexp.Regexp{
	// amounts with a currency unit, either side of the number; the unit
	// must not run into a neighbouring letter
	regexp.MustCompile(`(?i)(` + amountExpr + `\s*` + unitExpr + `)(?:$|[^\p{L}])` +
		`|(?:^|[^\p{L}])(` + unitExpr + `\s*` + amountExpr + `)`),
	// percentages
	regexp.MustCompile(`\d+(?:[.,]\d+)?\s*%`),
	// bare currency symbols
	regexp.MustCompile(`[$£€]\s*` + amountExpr),
}

// ExtractPrice returns the first price-like token in text, or "".
func ExtractPrice(text string) string {
	if text == "" {
		return ""
	}
	for _, re := range pricePatterns {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		if len(m) == 1 {
			return m[0]
		}
		for _, g := range m[1:] {
			if g != "" {
				return g
			}
		}
	}
	return ""
}
