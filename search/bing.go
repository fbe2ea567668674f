package search

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/smhanov/agentpod"
)

const (
	// BingEndpoint is the Bing Web Search v7 endpoint.
	BingEndpoint = "https://api.bing.microsoft.com/v7.0/search"
	// BingCostPerCall is the list price of one Bing Web Search query.
	BingCostPerCall = 0.005

	bingMaxCount = 50
)

// Bing uses the Bing Web Search API. The key is sent in the
// Ocp-Apim-Subscription-Key header.
type Bing struct {
	APIKey string
	// Endpoint overrides BingEndpoint.
	Endpoint string
	// Market is passed as mkt, e.g. "en-US". Empty lets Bing decide.
	Market string
	client *http.Client
}

// NewBing constructs a Bing search backend.
func NewBing(apiKey string) *Bing {
	return NewBingWithClient(apiKey, defaultHTTPClient())
}

// NewBingWithClient constructs a Bing search backend using the supplied HTTP client.
func NewBingWithClient(apiKey string, client *http.Client) *Bing {
	return &Bing{APIKey: apiKey, Endpoint: BingEndpoint, client: client}
}

func (b *Bing) Name() string { return "bing" }

func (b *Bing) CostPerCall() float64 { return BingCostPerCall }

// Query runs a web search.
func (b *Bing) Query(ctx context.Context, query string, count int) ([]Result, error) {
	if strings.TrimSpace(b.APIKey) == "" {
		return nil, missingKey(b.Name())
	}
	endpoint := b.Endpoint
	if endpoint == "" {
		endpoint = BingEndpoint
	}
	params := url.Values{}
	params.Set("q", query)
	params.Set("count", strconv.Itoa(min(count, bingMaxCount)))
	params.Set("responseFilter", "Webpages")
	if b.Market != "" {
		params.Set("mkt", b.Market)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Ocp-Apim-Subscription-Key", b.APIKey)

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, &agentpod.SearchError{Backend: b.Name(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(b.Name(), resp)
	}

	var payload struct {
		WebPages struct {
			Value []struct {
				Name    string `json:"name"`
				URL     string `json:"url"`
				Snippet string `json:"snippet"`
			} `json:"value"`
		} `json:"webPages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, &agentpod.SearchError{Backend: b.Name(), StatusCode: resp.StatusCode, Err: err}
	}

	results := make([]Result, 0, len(payload.WebPages.Value))
	for _, v := range payload.WebPages.Value {
		results = append(results, Result{Title: v.Name, URL: v.URL, Snippet: v.Snippet})
		if len(results) >= count {
			break
		}
	}
	return results, nil
}
