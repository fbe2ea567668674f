package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/smhanov/agentpod"
	"github.com/smhanov/agentpod/contentize"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultFetchConcurrency = 4

var (
	ErrEmptyQuery   = errors.New("query is empty")
	ErrInvalidCount = errors.New("count must be positive")
)

// Result is a single search hit. Content is filled only when the search
// asked for page content and extraction succeeded.
type Result struct {
	URL     string
	Title   string
	Snippet string
	Content string
}

// Backend executes a query against a search service.
type Backend interface {
	// Name identifies the backend in errors and logs.
	Name() string
	// Query returns up to count results.
	Query(ctx context.Context, query string, count int) ([]Result, error)
	// CostPerCall is the flat price of one query in dollars.
	CostPerCall() float64
}

// Contentizer extracts readable text from a URL, returning "" on failure.
type Contentizer interface {
	Contentize(ctx context.Context, url string) string
}

// ContentizerFunc adapts a function to Contentizer.
type ContentizerFunc func(ctx context.Context, url string) string

// Contentize implements Contentizer.
func (f ContentizerFunc) Contentize(ctx context.Context, url string) string { return f(ctx, url) }

// Client runs searches against a Backend, optionally pulls page content for
// every hit and records search spend.
type Client struct {
	backend     Backend
	tracker     *agentpod.UsageTracker
	contentizer Contentizer
	costPerCall float64
	hasCost     bool
	concurrency int
	logger      *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithUsageTracker makes the client record every successful search into t.
func WithUsageTracker(t *agentpod.UsageTracker) Option {
	return func(c *Client) { c.tracker = t }
}

// WithContentizer replaces the default page extractor.
func WithContentizer(ct Contentizer) Option {
	return func(c *Client) { c.contentizer = ct }
}

// WithCostPerCall overrides the backend's own price per query.
func WithCostPerCall(cost float64) Option {
	return func(c *Client) {
		c.costPerCall = cost
		c.hasCost = true
	}
}

// WithFetchConcurrency bounds parallel page fetches.
func WithFetchConcurrency(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a search client over backend.
func New(backend Backend, opts ...Option) (*Client, error) {
	if backend == nil {
		return nil, &agentpod.ConfigurationError{Field: "search backend", Message: "is required"}
	}
	c := &Client{
		backend:     backend,
		concurrency: defaultFetchConcurrency,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if !c.hasCost {
		c.costPerCall = backend.CostPerCall()
	}
	if err := agentpod.ValidateCost(c.costPerCall); err != nil {
		return nil, &agentpod.ConfigurationError{Field: "search cost", Message: err.Error()}
	}
	if c.contentizer == nil {
		c.contentizer = contentize.New(contentize.WithLogger(c.logger))
	}
	return c, nil
}

// Backend returns the underlying search backend.
func (c *Client) Backend() Backend { return c.backend }

// Search runs query and returns at most count results. When fetchContent is
// set every result's page is contentized; a page that cannot be read keeps
// its result with empty Content. A successful search counts one call and its
// cost into the tracker; a failed one records nothing.
func (c *Client) Search(ctx context.Context, query string, count int, fetchContent bool) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if count <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCount, count)
	}

	log := c.logger.With(zap.String("backend", c.backend.Name()), zap.String("query", query))
	start := time.Now()
	results, err := c.backend.Query(ctx, query, count)
	if err != nil {
		err = c.wrap(err)
		log.Warn("search failed", zap.Error(err))
		return nil, err
	}
	if len(results) > count {
		results = results[:count]
	}

	if fetchContent {
		c.fetchContent(ctx, results)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, &agentpod.SearchError{Backend: c.backend.Name(), Err: ctxErr}
		}
	}

	for _, t := range agentpod.Trackers(ctx, c.tracker) {
		t.RecordSearchCall()
		t.RecordSearchCost(c.costPerCall)
	}
	log.Debug("search",
		zap.Int("results", len(results)),
		zap.Bool("content", fetchContent),
		zap.Float64("cost", c.costPerCall),
		zap.Duration("elapsed", time.Since(start)))
	return results, nil
}

func (c *Client) wrap(err error) error {
	var se *agentpod.SearchError
	var ce *agentpod.ConfigurationError
	if errors.As(err, &se) || errors.As(err, &ce) {
		return err
	}
	return &agentpod.SearchError{Backend: c.backend.Name(), Err: err}
}

// fetchContent fills Content in place. Individual failures are swallowed.
func (c *Client) fetchContent(ctx context.Context, results []Result) {
	var g errgroup.Group
	g.SetLimit(c.concurrency)
	for i := range results {
		if strings.TrimSpace(results[i].URL) == "" {
			continue
		}
		i := i
		g.Go(func() error {
			results[i].Content = c.contentizer.Contentize(ctx, results[i].URL)
			return nil
		})
	}
	_ = g.Wait()
}
