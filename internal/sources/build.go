package sources

import (
	"fmt"
	"net/url"
	"strings"
)

const DefaultLimit = 20

const (
	KindRSS  = "rss"
	KindHTML = "html"
)

// Spec describes one configured source.
type Spec struct {
	Name      string
	Kind      string
	URL       string
	BaseURL   string
	Category  string
	Limit     int
	Selectors Selectors
}

func (s Spec) withDefaults() Spec {
	s.URL = strings.TrimSpace(s.URL)
	if s.Limit <= 0 {
		s.Limit = DefaultLimit
	}
	if s.BaseURL == "" {
		if u, err := url.Parse(s.URL); err == nil && u.Host != "" {
			s.BaseURL = u.Scheme + "://" + u.Host + "/"
		}
	}
	return s
}

// Validate checks one spec without building it.
func (s Spec) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("source name is required")
	}
	u, err := url.Parse(strings.TrimSpace(s.URL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("source %q: url must be absolute http(s)", s.Name)
	}
	switch strings.ToLower(strings.TrimSpace(s.Kind)) {
	case KindRSS, KindHTML:
	default:
		return fmt.Errorf("source %q: unknown kind %q", s.Name, s.Kind)
	}
	return nil
}

// Build creates one adapter per spec. Names must be unique.
func Build(specs []Spec, client *Client) ([]Adapter, error) {
	seen := make(map[string]bool, len(specs))
	out := make([]Adapter, 0, len(specs))
	for _, s := range specs {
		if err := s.Validate(); err != nil {
			return nil, err
		}
		if seen[s.Name] {
			return nil, fmt.Errorf("duplicate source name %q", s.Name)
		}
		seen[s.Name] = true
		switch strings.ToLower(strings.TrimSpace(s.Kind)) {
		case KindRSS:
			out = append(out, NewRSS(s, client))
		case KindHTML:
			out = append(out, NewHTML(s, client))
		}
	}
	return out, nil
}
