// Package search runs web searches through a pluggable Backend, optionally
// contentizes every hit and records search spend into an
// agentpod.UsageTracker.
//
// Available backends:
//
//   - Bing: Bing Web Search v7, key in Ocp-Apim-Subscription-Key
//   - Brave: key in X-Subscription-Token, paced per key by Brave's rate headers
//   - Tavily: key required, basic or advanced depth
//   - DuckDuckGo: free, no key, scrapes lite.duckduckgo.com at one query per second
//
// # Example
//
//	tracker := agentpod.NewUsageTracker()
//	client, err := search.New(search.NewBing(key), search.WithUsageTracker(tracker))
//	if err != nil {
//	    return err
//	}
//	results, err := client.Search(ctx, "golang web frameworks", 5, true)
//
// A search that fails records nothing. Pages that cannot be read keep their
// result with an empty Content.
//
// # Custom Backends
//
// Implement Backend to add your own search service:
//
//	type Backend interface {
//	    Name() string
//	    Query(ctx context.Context, query string, count int) ([]search.Result, error)
//	    CostPerCall() float64
//	}
package search
