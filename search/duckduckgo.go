package search

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/smhanov/agentpod"
	"golang.org/x/time/rate"
)

const (
	// DuckDuckGoEndpoint is the lite HTML interface, which is stable to scrape.
	DuckDuckGoEndpoint = "https://lite.duckduckgo.com/lite/"

	ddgUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// ddgLimiter allows one query per second across every DuckDuckGo instance.
var ddgLimiter = rate.NewLimiter(rate.Every(time.Second), 1)

// DuckDuckGo scrapes DuckDuckGo's lite HTML results. It needs no key and is free.
type DuckDuckGo struct {
	// Endpoint overrides DuckDuckGoEndpoint.
	Endpoint string
	client   *http.Client
	limiter  *rate.Limiter
}

// NewDuckDuckGo creates a DuckDuckGo backend.
func NewDuckDuckGo() *DuckDuckGo {
	return NewDuckDuckGoWithClient(&http.Client{Timeout: 15 * time.Second})
}

// NewDuckDuckGoWithClient creates a DuckDuckGo backend using the supplied HTTP client.
func NewDuckDuckGoWithClient(client *http.Client) *DuckDuckGo {
	return &DuckDuckGo{Endpoint: DuckDuckGoEndpoint, client: client, limiter: ddgLimiter}
}

func (d *DuckDuckGo) Name() string { return "duckduckgo" }

func (d *DuckDuckGo) CostPerCall() float64 { return 0 }

// Query posts the search form and parses the result table.
func (d *DuckDuckGo) Query(ctx context.Context, query string, count int) ([]Result, error) {
	limiter := d.limiter
	if limiter == nil {
		limiter = ddgLimiter
	}
	if err := limiter.Wait(ctx); err != nil {
		return nil, &agentpod.SearchError{Backend: d.Name(), Err: err}
	}
	endpoint := d.Endpoint
	if endpoint == "" {
		endpoint = DuckDuckGoEndpoint
	}

	form := url.Values{}
	form.Set("q", query)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", ddgUserAgent)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, &agentpod.SearchError{Backend: d.Name(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(d.Name(), resp)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, &agentpod.SearchError{Backend: d.Name(), StatusCode: resp.StatusCode, Err: err}
	}
	results := parseLiteResults(doc, count)
	if len(results) == 0 {
		results = fallbackResults(doc, count)
	}
	return results, nil
}

// parseLiteResults reads the result-link anchors and pairs each with the
// next result-snippet cell.
func parseLiteResults(doc *goquery.Document, count int) []Result {
	var results []Result
	var current *Result
	doc.Find("a.result-link, td.result-snippet").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if s.Is("td") {
			if current != nil && current.Snippet == "" {
				current.Snippet = strings.Join(strings.Fields(s.Text()), " ")
			}
			return true
		}
		href, _ := s.Attr("href")
		link := resolveDDGLink(href)
		title := strings.Join(strings.Fields(s.Text()), " ")
		if link == "" || title == "" || isDDGInternal(link) {
			current = nil
			return true
		}
		if len(results) >= count {
			return false
		}
		results = append(results, Result{URL: link, Title: title})
		current = &results[len(results)-1]
		return true
	})
	return results
}

// fallbackResults takes any external link with a meaningful title.
func fallbackResults(doc *goquery.Document, count int) []Result {
	var results []Result
	seen := make(map[string]bool)
	doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		link := resolveDDGLink(href)
		title := strings.Join(strings.Fields(s.Text()), " ")
		if link == "" || isDDGInternal(link) || len(title) < 5 || seen[link] {
			return true
		}
		seen[link] = true
		results = append(results, Result{URL: link, Title: title})
		return len(results) < count
	})
	return results
}

// resolveDDGLink unwraps DuckDuckGo's /l/?uddg= redirect links and drops
// anything that is not an absolute http(s) URL.
func resolveDDGLink(href string) string {
	href = strings.TrimSpace(href)
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if strings.HasSuffix(u.Host, "duckduckgo.com") && strings.HasPrefix(u.Path, "/l/") {
		if target := u.Query().Get("uddg"); target != "" {
			return resolveDDGLink(target)
		}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	return u.String()
}

func isDDGInternal(link string) bool {
	u, err := url.Parse(link)
	return err != nil || strings.HasSuffix(u.Host, "duckduckgo.com")
}
