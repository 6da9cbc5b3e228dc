package sources

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/temoto/robotstxt"
	"golang.org/x/time/rate"

	logx "offerbot/pkg/logx"
)

const (
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
	defaultTimeout   = 30 * time.Second
	maxBodyBytes     = 8 << 20
	robotsTTL        = time.Hour
)

var (
	// ErrRobotsDisallowed is returned when robots.txt forbids the request.
	ErrRobotsDisallowed = errors.New("disallowed by robots.txt")
	// ErrBodyTooLarge is returned when a decoded body exceeds the size cap.
	ErrBodyTooLarge = errors.New("response body too large")
)

// StatusError is an HTTP response with status >= 400.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: http %d", e.URL, e.Code)
}

// ClientOptions configure the shared fetch client.
type ClientOptions struct {
	UserAgent     string
	Timeout       time.Duration
	RatePerSec    float64 // per host; <= 0 disables
	RespectRobots bool
	// MaxBodyBytes caps the decoded body; <= 0 uses 8 MiB.
	MaxBodyBytes int64
	// Transport overrides the default transport (tests).
	Transport http.RoundTripper
}

// Client is the HTTP client shared by all adapters.
type Client struct {
	hc      *http.Client
	ua      string
	every   rate.Limit
	robots  bool
	maxBody int64
	log     logx.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rules    map[string]robotsEntry
}

type robotsEntry struct {
	data    *robotstxt.RobotsData
	expires time.Time
}

func NewClient(opts ClientOptions, log logx.Logger) *Client {
	if log.IsZero() {
		log = logx.Nop()
	}
	tr := opts.Transport
	if tr == nil {
		tr = &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        64,
			MaxIdleConnsPerHost: 8,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		}
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = maxBodyBytes
	}
	ua := strings.TrimSpace(opts.UserAgent)
	if ua == "" {
		ua = DefaultUserAgent
	}
	c := &Client{
		hc:       &http.Client{Transport: tr, Timeout: timeout},
		ua:       ua,
		every:    rate.Inf,
		robots:   opts.RespectRobots,
		maxBody:  maxBody,
		log:      log.With(logx.String("comp", "http")),
		limiters: map[string]*rate.Limiter{},
		rules:    map[string]robotsEntry{},
	}
	if opts.RatePerSec > 0 {
		c.every = rate.Limit(opts.RatePerSec)
	}
	return c
}

// Get fetches rawURL and returns the decoded body.
func (c *Client) Get(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	if c.robots && !c.allowed(ctx, u) {
		return nil, fmt.Errorf("GET %s: %w", rawURL, ErrRobotsDisallowed)
	}
	if err := c.limiter(u.Host).Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.ua)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,application/rss+xml,*/*;q=0.8")
	req.Header.Set("Accept-Language", "ar,en;q=0.9")
	req.Header.Set("Accept-Encoding", "gzip, br")

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{URL: rawURL, Code: resp.StatusCode}
	}
	body, err := readBody(resp, c.maxBody)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", rawURL, err)
	}
	return body, nil
}

func readBody(resp *http.Response, limit int64) ([]byte, error) {
	var r io.Reader = resp.Body
	switch strings.ToLower(resp.Header.Get("Content-Encoding")) {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("gzip reader: %w", err)
		}
		defer gz.Close()
		r = gz
	case "br":
		r = brotli.NewReader(resp.Body)
	}
	b, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > limit {
		return nil, fmt.Errorf("%w (over %d bytes)", ErrBodyTooLarge, limit)
	}
	return b, nil
}

func (c *Client) limiter(host string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.limiters[host]
	if !ok {
		l = rate.NewLimiter(c.every, 1)
		c.limiters[host] = l
	}
	return l
}

// allowed consults robots.txt for u. Unreachable or broken robots files
// allow the request. A lookup cut short by ctx is not cached.
func (c *Client) allowed(ctx context.Context, u *url.URL) bool {
	origin := u.Scheme + "://" + u.Host
	now := time.Now()

	c.mu.Lock()
	ent, ok := c.rules[origin]
	c.mu.Unlock()
	if !ok || now.After(ent.expires) {
		ent = robotsEntry{data: c.fetchRobots(ctx, origin), expires: now.Add(robotsTTL)}
		if ctx.Err() != nil {
			return true
		}
		c.mu.Lock()
		c.rules[origin] = ent
		c.mu.Unlock()
	}
	if ent.data == nil {
		return true
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	return ent.data.TestAgent(path, c.ua)
}

func (c *Client) fetchRobots(ctx context.Context, origin string) *robotstxt.RobotsData {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, origin+"/robots.txt", http.NoBody)
	if err != nil {
		return nil
	}
	req.Header.Set("User-Agent", c.ua)
	resp, err := c.hc.Do(req)
	if err != nil {
		c.log.Debug("robots.txt unreachable", logx.String("origin", origin), logx.Err(err))
		return nil
	}
	defer resp.Body.Close()
	data, err := robotstxt.FromResponse(resp)
	if err != nil {
		c.log.Debug("robots.txt unparsable", logx.String("origin", origin), logx.Err(err))
		return nil
	}
	return data
}
