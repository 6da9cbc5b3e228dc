// Package normalize turns raw source records into canonical offers.
//
// Normalization is pure: it never touches the network or the store.
// Records that cannot become an offer are reported as a *Rejection.
package normalize

import (
	"errors"
	"net/url"
	"strings"

	"offerbot/internal/offer"
)

const (
	DefaultTitleMax       = 120
	MinTitleMax           = 100
	MaxTitleMax           = 200
	DefaultDescriptionMax = 300
)

// Reason enumerates why a candidate was rejected.
type Reason string

const (
	MissingTitle Reason = "missing_title"
	MissingLink  Reason = "missing_link"
)

// Rejection is returned for candidates that cannot become an offer.
// It is an expected outcome, not a failure.
type Rejection struct {
	Reason Reason
	Source string
	Link   string
}

func (r *Rejection) Error() string {
	if r.Link != "" {
		return "candidate rejected: " + string(r.Reason) + " (" + r.Link + ")"
	}
	return "candidate rejected: " + string(r.Reason)
}

// AsRejection reports whether err is (or wraps) a *Rejection.
func AsRejection(err error) (*Rejection, bool) {
	var r *Rejection
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}

// Options tunes the normalizer. Zero values select the defaults.
type Options struct {
	// TitleMax is clamped to [MinTitleMax, MaxTitleMax].
	TitleMax       int
	DescriptionMax int
	// ExtraTrackingParams extends the built-in tracking parameter set.
	ExtraTrackingParams []string
}

type Normalizer struct {
	titleMax int
	descMax  int
	tracking trackingSet
}

func New(opts Options) *Normalizer {
	tm := opts.TitleMax
	switch {
	case tm <= 0:
		tm = DefaultTitleMax
	case tm < MinTitleMax:
		tm = MinTitleMax
	case tm > MaxTitleMax:
		tm = MaxTitleMax
	}
	dm := opts.DescriptionMax
	if dm <= 0 {
		dm = DefaultDescriptionMax
	}
	return &Normalizer{
		titleMax: tm,
		descMax:  dm,
		tracking: newTrackingSet(opts.ExtraTrackingParams),
	}
}

// Normalize converts c into an Offer. baseURL resolves relative links and
// image references; it may be empty when the source only emits absolute
// links.
func (n *Normalizer) Normalize(c offer.RawCandidate, baseURL string) (offer.Offer, error) {
	source := collapseSpace(c.Source)

	title := CleanTitle(c.Title, n.titleMax)
	if title == "" {
		return offer.Offer{}, &Rejection{Reason: MissingTitle, Source: source, Link: strings.TrimSpace(c.Link)}
	}

	var base *url.URL
	if b := strings.TrimSpace(baseURL); b != "" {
		if u, err := url.Parse(b); err == nil && u.IsAbs() {
			base = u
		}
	}

	link, ok := n.CanonicalLink(c.Link, base)
	if !ok {
		return offer.Offer{}, &Rejection{Reason: MissingLink, Source: source, Link: strings.TrimSpace(c.Link)}
	}

	desc := truncateRunes(collapseSpace(stripMarkup(c.Description)), n.descMax)

	price := collapseSpace(stripMarkup(c.Price))
	if price == "" {
		price = ExtractPrice(title + " " + desc)
	}

	img, _ := resolveHTTP(c.ImageRef, base)

	return offer.Offer{
		Link:        link,
		Title:       title,
		Price:       price,
		Category:    collapseSpace(c.Category),
		Source:      source,
		ImageRef:    img,
		Description: desc,
		State:       offer.Pending,
	}, nil
}
