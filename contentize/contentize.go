// Package contentize turns a web page URL into readable plain text.
//
// Extraction is best effort: Contentize never fails, it returns an empty
// string when a page cannot be fetched, is disallowed by robots.txt, or has
// no readable text. Use Extractor.Extract to see why.
package contentize

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
	"golang.org/x/net/html/charset"
)

const (
	// DefaultMaxBytes caps extracted text to keep it usable as LLM context.
	DefaultMaxBytes = 32 * 1024
	// DefaultUserAgent identifies the extractor to sites and robots.txt.
	DefaultUserAgent = "Mozilla/5.0 (compatible; agentpod/1.0; +https://github.com/smhanov/agentpod)"
	robotsAgent      = "agentpod"

	maxBodyBytes   = 5 << 20
	maxRobotsBytes = 512 << 10
)

var (
	ErrEmptyURL           = errors.New("url is empty")
	ErrUnsupportedScheme  = errors.New("only http and https urls can be fetched")
	ErrDisallowed         = errors.New("disallowed by robots.txt")
	ErrUnsupportedContent = errors.New("unsupported content type")
	ErrNoText             = errors.New("no readable text found")
)

// Extractor fetches pages and extracts their text.
type Extractor struct {
	client        *http.Client
	userAgent     string
	maxBytes      int
	respectRobots bool
	logger        *zap.Logger

	robots sync.Map // scheme://host -> *robotstxt.RobotsData; nil allows everything
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithHTTPClient sets the HTTP client used for pages and robots.txt.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Extractor) {
		if c != nil {
			e.client = c
		}
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(e *Extractor) {
		if strings.TrimSpace(ua) != "" {
			e.userAgent = ua
		}
	}
}

// WithMaxBytes caps the length of extracted text.
func WithMaxBytes(n int) Option {
	return func(e *Extractor) {
		if n > 0 {
			e.maxBytes = n
		}
	}
}

// WithRobots controls whether robots.txt is consulted. It is on by default.
func WithRobots(enabled bool) Option {
	return func(e *Extractor) { e.respectRobots = enabled }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Extractor) {
		if l != nil {
			e.logger = l
		}
	}
}

// New creates an Extractor with a modest timeout.
func New(opts ...Option) *Extractor {
	e := &Extractor{
		client:        &http.Client{Timeout: 15 * time.Second},
		userAgent:     DefaultUserAgent,
		maxBytes:      DefaultMaxBytes,
		respectRobots: true,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

var defaultExtractor = New()

// Contentize extracts text from rawURL with the default Extractor.
func Contentize(ctx context.Context, rawURL string) string {
	return defaultExtractor.Contentize(ctx, rawURL)
}

// Contentize is the best-effort form of Extract: failures yield "".
func (e *Extractor) Contentize(ctx context.Context, rawURL string) string {
	text, err := e.Extract(ctx, rawURL)
	if err != nil {
		e.logger.Debug("contentize failed", zap.String("url", rawURL), zap.Error(err))
		return ""
	}
	return text
}

// Extract downloads rawURL and returns its readable text, one block per line.
func (e *Extractor) Extract(ctx context.Context, rawURL string) (string, error) {
	trimmed := strings.TrimSpace(rawURL)
	if trimmed == "" {
		return "", ErrEmptyURL
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
	if e.respectRobots && !e.allowed(ctx, u) {
		return "", ErrDisallowed
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", e.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.5")

	resp, err := e.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch http %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", err
	}

	var text string
	contentType := resp.Header.Get("Content-Type")
	switch mediaType(contentType, body) {
	case "text/html", "application/xhtml+xml":
		text, err = extractHTML(e.decode(body, contentType))
		if err != nil {
			return "", err
		}
	case "text/plain", "text/markdown", "application/json", "text/csv":
		decoded, err := io.ReadAll(e.decode(body, contentType))
		if err != nil {
			return "", err
		}
		text = normalizeLines(string(decoded))
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedContent, resp.Header.Get("Content-Type"))
	}

	if text == "" {
		return "", ErrNoText
	}
	return truncate(text, e.maxBytes), nil
}

// decode converts body to UTF-8 using the charset from the Content-Type
// header or, for HTML, a <meta> declaration. Unknown charsets pass the bytes
// through unchanged.
func (e *Extractor) decode(body []byte, contentType string) io.Reader {
	r, err := charset.NewReader(bytes.NewReader(body), contentType)
	if err != nil {
		e.logger.Debug("unknown charset, reading body as is", zap.String("content_type", contentType), zap.Error(err))
		return bytes.NewReader(body)
	}
	return r
}

func mediaType(header string, body []byte) string {
	if header == "" {
		header = http.DetectContentType(body)
	}
	mt, _, err := mime.ParseMediaType(header)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(strings.SplitN(header, ";", 2)[0]))
	}
	return mt
}

const truncatedMarker = "\n[TRUNCATED]"

// truncate cuts text to at most max bytes on a rune boundary, marker
// included. A cap too small for the marker gets a bare cut.
func truncate(text string, max int) string {
	if len(text) <= max {
		return text
	}
	marker := truncatedMarker
	if max <= len(marker) {
		marker = ""
	}
	cut := max - len(marker)
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return strings.TrimSpace(text[:cut]) + marker
}

// allowed consults the cached robots.txt of u's host. A robots.txt that is
// missing or cannot be fetched allows everything.
func (e *Extractor) allowed(ctx context.Context, u *url.URL) bool {
	key := u.Scheme + "://" + u.Host
	v, ok := e.robots.Load(key)
	if !ok {
		fetched := e.fetchRobots(ctx, key)
		if ctx.Err() != nil {
			// Leave the cache alone; the page fetch reports the cancellation.
			return true
		}
		v, _ = e.robots.LoadOrStore(key, fetched)
	}
	data := v.(*robotstxt.RobotsData)
	if data == nil {
		return true
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return data.TestAgent(path, robotsAgent)
}

func (e *Extractor) fetchRobots(ctx context.Context, origin string) *robotstxt.RobotsData {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, origin+"/robots.txt", nil)
	if err != nil {
		return nil
	}
	req.Header.Set("User-Agent", e.userAgent)
	resp, err := e.client.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBytes))
	if err != nil {
		return nil
	}
	data, err := robotstxt.FromBytes(body)
	if err != nil {
		e.logger.Debug("ignoring unparsable robots.txt", zap.String("origin", origin), zap.Error(err))
		return nil
	}
	return data
}
