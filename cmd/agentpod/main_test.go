package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("AGENTPOD_CONFIG", "")
	args = append([]string{"agentpod"}, args...)
	var out bytes.Buffer
	cmd := newCommand(args)
	cmd.Writer = &out
	cmd.ErrWriter = &out
	err := cmd.Run(context.Background(), args)
	return out.String(), err
}

func TestConfigCommand(t *testing.T) {
	out, err := runCLI(t, "--model", "gpt-4o", "--bingkey", "abcdef123", "config")
	if err != nil {
		t.Fatalf("config error = %v", err)
	}
	if !strings.Contains(out, "model: gpt-4o\n") {
		t.Errorf("output missing model:\n%s", out)
	}
	if !strings.Contains(out, "bingkey: ******123\n") {
		t.Errorf("bing key not masked:\n%s", out)
	}
}

func TestContentizeCommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, "hello from the page")
	}))
	defer srv.Close()

	out, err := runCLI(t, "--robots=false", "contentize", srv.URL+"/page")
	if err != nil {
		t.Fatalf("contentize error = %v", err)
	}
	if strings.TrimSpace(out) != "hello from the page" {
		t.Errorf("output = %q", out)
	}
}

func TestMissingArguments(t *testing.T) {
	for _, name := range []string{"invoke", "search", "contentize", "research"} {
		if _, err := runCLI(t, name); err == nil || !strings.Contains(err.Error(), "missing") {
			t.Errorf("%s without arguments error = %v, want missing argument", name, err)
		}
	}
}

func TestInvokeRequiresKey(t *testing.T) {
	for _, key := range []string{"AGENTPOD_APIKEY", "OPENAI_API_KEY", "AZURE_AI_API_KEY", "KEYWORDSAI_API_KEY"} {
		t.Setenv(key, "")
	}
	_, err := runCLI(t, "invoke", "hello")
	if err == nil || !strings.Contains(err.Error(), "api_key") {
		t.Errorf("invoke without key error = %v, want api_key configuration error", err)
	}
}
