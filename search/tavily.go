package search

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/smhanov/agentpod"
)

const (
	// TavilyEndpoint is the Tavily search endpoint.
	TavilyEndpoint = "https://api.tavily.com/search"

	TavilyDepthBasic    = "basic"
	TavilyDepthAdvanced = "advanced"

	// Tavily bills one credit for a basic search and two for an advanced one.
	tavilyCreditCost = 0.008
	tavilyMaxCount   = 20
)

// Tavily calls the Tavily search API.
type Tavily struct {
	APIKey string
	// Depth is Tavily's search_depth, basic or advanced.
	Depth string
	// Endpoint overrides TavilyEndpoint.
	Endpoint string
	client   *http.Client
}

// NewTavily constructs a Tavily search backend.
func NewTavily(apiKey string, depth string) *Tavily {
	return NewTavilyWithClient(apiKey, depth, defaultHTTPClient())
}

// NewTavilyWithClient constructs a Tavily search backend using the supplied HTTP client.
func NewTavilyWithClient(apiKey string, depth string, client *http.Client) *Tavily {
	if depth == "" {
		depth = TavilyDepthBasic
	}
	return &Tavily{APIKey: apiKey, Depth: depth, Endpoint: TavilyEndpoint, client: client}
}

func (t *Tavily) Name() string { return "tavily" }

func (t *Tavily) CostPerCall() float64 {
	if t.Depth == TavilyDepthAdvanced {
		return 2 * tavilyCreditCost
	}
	return tavilyCreditCost
}

// Query posts a search to Tavily.
func (t *Tavily) Query(ctx context.Context, query string, count int) ([]Result, error) {
	if strings.TrimSpace(t.APIKey) == "" {
		return nil, missingKey(t.Name())
	}
	endpoint := t.Endpoint
	if endpoint == "" {
		endpoint = TavilyEndpoint
	}

	payload, err := json.Marshal(map[string]any{
		"query":        query,
		"api_key":      t.APIKey,
		"search_depth": t.Depth,
		"max_results":  min(count, tavilyMaxCount),
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+t.APIKey)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, &agentpod.SearchError{Backend: t.Name(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(t.Name(), resp)
	}

	var response struct {
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, &agentpod.SearchError{Backend: t.Name(), StatusCode: resp.StatusCode, Err: err}
	}

	results := make([]Result, 0, len(response.Results))
	for _, r := range response.Results {
		results = append(results, Result{Title: r.Title, URL: r.URL, Snippet: r.Content})
		if len(results) >= count {
			break
		}
	}
	return results, nil
}
