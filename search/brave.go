package search

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/smhanov/agentpod"
)

const (
	// BraveEndpoint is the Brave web search endpoint.
	BraveEndpoint = "https://api.search.brave.com/res/v1/web/search"
	// BraveCostPerCall is the price of one query on Brave's paid plans.
	BraveCostPerCall = 0.005

	braveMaxCount = 20
)

// braveKeyGate holds a per-API-key mutex and the earliest time the next
// request may fire. All Brave instances sharing a key share one gate.
type braveKeyGate struct {
	mu      sync.Mutex
	readyAt time.Time
}

var (
	braveGatesMu sync.Mutex
	braveGates   = map[string]*braveKeyGate{}
)

func braveGateFor(apiKey string) *braveKeyGate {
	braveGatesMu.Lock()
	defer braveGatesMu.Unlock()
	g, ok := braveGates[apiKey]
	if !ok {
		g = &braveKeyGate{}
		braveGates[apiKey] = g
	}
	return g
}

// waitAndLock blocks until the caller may issue a request, then returns with
// the gate locked. The caller must call unlock once the response arrives.
func (g *braveKeyGate) waitAndLock(ctx context.Context) error {
	g.mu.Lock()
	for {
		wait := time.Until(g.readyAt)
		if wait <= 0 {
			return nil
		}
		g.mu.Unlock()
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		g.mu.Lock()
	}
}

// unlock sets the delay before the next request and releases the gate.
func (g *braveKeyGate) unlock(delay time.Duration) {
	g.readyAt = time.Now().Add(delay)
	g.mu.Unlock()
}

// Brave uses the Brave Search API. The key is sent in X-Subscription-Token.
// Concurrent queries sharing a key are paced through a shared gate driven by
// Brave's rate limit headers.
type Brave struct {
	APIKey string
	// Endpoint overrides BraveEndpoint.
	Endpoint string
	client   *http.Client
}

// NewBrave constructs a Brave search backend.
func NewBrave(apiKey string) *Brave {
	return NewBraveWithClient(apiKey, defaultHTTPClient())
}

// NewBraveWithClient constructs a Brave search backend using the supplied HTTP client.
func NewBraveWithClient(apiKey string, client *http.Client) *Brave {
	return &Brave{APIKey: apiKey, Endpoint: BraveEndpoint, client: client}
}

func (b *Brave) Name() string { return "brave" }

func (b *Brave) CostPerCall() float64 { return BraveCostPerCall }

// Query runs a web search. A 429 is returned to the caller after pushing the
// shared gate out by the reset time Brave reports.
func (b *Brave) Query(ctx context.Context, query string, count int) ([]Result, error) {
	if strings.TrimSpace(b.APIKey) == "" {
		return nil, missingKey(b.Name())
	}
	endpoint := b.Endpoint
	if endpoint == "" {
		endpoint = BraveEndpoint
	}
	params := url.Values{}
	params.Set("q", query)
	params.Set("count", strconv.Itoa(min(count, braveMaxCount)))

	gate := braveGateFor(b.APIKey)
	if err := gate.waitAndLock(ctx); err != nil {
		return nil, &agentpod.SearchError{Backend: b.Name(), Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		gate.unlock(0)
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", b.APIKey)

	resp, err := b.client.Do(req)
	if err != nil {
		gate.unlock(time.Second)
		return nil, &agentpod.SearchError{Backend: b.Name(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		gate.unlock(braveRetryDelay(resp.Header))
	} else {
		gate.unlock(braveNextDelay(resp.Header))
	}

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(b.Name(), resp)
	}

	var payload struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, &agentpod.SearchError{Backend: b.Name(), StatusCode: resp.StatusCode, Err: err}
	}

	results := make([]Result, 0, len(payload.Web.Results))
	for _, r := range payload.Web.Results {
		results = append(results, Result{Title: r.Title, URL: r.URL, Snippet: r.Description})
		if len(results) >= count {
			break
		}
	}
	return results, nil
}

// braveRetryDelay reads X-RateLimit-Reset, a comma-separated list of reset
// times in seconds ("1, 1419704"), and returns the smallest. Defaults to 1s.
func braveRetryDelay(h http.Header) time.Duration {
	raw := h.Get("X-RateLimit-Reset")
	if raw == "" {
		return time.Second
	}
	minReset := -1
	for _, part := range strings.Split(raw, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n < 0 {
			continue
		}
		if minReset < 0 || n < minReset {
			minReset = n
		}
	}
	if minReset <= 0 {
		return time.Second
	}
	return time.Duration(minReset) * time.Second
}

// braveNextDelay reads the per-second bucket of X-RateLimit-Remaining
// ("0, 14832"). An exhausted or missing bucket holds the gate for 1s.
func braveNextDelay(h http.Header) time.Duration {
	raw := h.Get("X-RateLimit-Remaining")
	if raw == "" {
		return time.Second
	}
	parts := strings.SplitN(raw, ",", 2)
	perSecond, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || perSecond <= 0 {
		return time.Second
	}
	return 0
}
