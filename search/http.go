package search

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/smhanov/agentpod"
)

const (
	defaultTimeout = 10 * time.Second
	maxErrorBody   = 512
)

func defaultHTTPClient() *http.Client {
	return &http.Client{Timeout: defaultTimeout}
}

// statusError converts a non-200 response into a SearchError carrying the
// start of the response body.
func statusError(backend string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &agentpod.SearchError{
		Backend:    backend,
		StatusCode: resp.StatusCode,
		Err:        errors.New(msg),
	}
}

func missingKey(backend string) error {
	return &agentpod.ConfigurationError{Field: backend + " api key", Message: "is missing"}
}
