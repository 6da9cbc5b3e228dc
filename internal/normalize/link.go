package normalize

import (
	"net"
	"net/url"
	"strings"
)

// defaultTrackingParams are dropped from links before they are used as the
// identity key. Any key starting with "utm_" is dropped as well.
var defaultTrackingParams = []string{
	"utm",
	"fbclid", "gclid", "dclid", "gbraid", "wbraid", "msclkid", "yclid",
	"mc_cid", "mc_eid",
	"igshid",
	"_ga", "_gl",
	"ref", "ref_src",
	"spm",
}

type trackingSet map[string]struct{}

func newTrackingSet(extra []string) trackingSet {
	t := make(trackingSet, len(defaultTrackingParams)+len(extra))
	for _, k := range defaultTrackingParams {
		t[k] = struct{}{}
	}
	for _, k := range extra {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			t[k] = struct{}{}
		}
	}
	return t
}

func (t trackingSet) has(key string) bool {
	k := strings.ToLower(key)
	if strings.HasPrefix(k, "utm_") {
		return true
	}
	_, ok := t[k]
	return ok
}

// CanonicalLink resolves raw against base and canonicalizes it. ok is false
// when no absolute http(s) URL can be produced.
func (n *Normalizer) CanonicalLink(raw string, base *url.URL) (string, bool) {
	u, ok := resolveURL(raw, base)
	if !ok {
		return "", false
	}

	u.Fragment = ""
	u.RawFragment = ""

	if u.RawQuery != "" {
		q := u.Query()
		for k := range q {
			if n.tracking.has(k) {
				q.Del(k)
			}
		}
		// Encode sorts keys, so parameter order does not split identities.
		u.RawQuery = q.Encode()
	}
	u.ForceQuery = false

	return u.String(), true
}

func resolveHTTP(raw string, base *url.URL) (string, bool) {
	u, ok := resolveURL(raw, base)
	if !ok {
		return "", false
	}
	return u.String(), true
}

func resolveURL(raw string, base *url.URL) (*url.URL, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, false
	}
	if !u.IsAbs() {
		if base == nil {
			return nil, false
		}
		u = base.ResolveReference(u)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, false
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return nil, false
	}
	port := u.Port()
	if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		u.Host = net.JoinHostPort(host, port)
	} else if strings.Contains(host, ":") {
		u.Host = "[" + host + "]"
	} else {
		u.Host = host
	}
	return u, true
}
