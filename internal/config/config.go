// Package config resolves agentpod command settings from flags, environment
// variables, an optional YAML file and a .env file.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/smhanov/agentpod"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

const envPrefix = "AGENTPOD_"

type Configuration struct {
	Verbose    bool
	LLM        *LLMConfig
	Search     *SearchConfig
	Contentize *ContentizeConfig
	Research   *ResearchConfig
}

type LLMConfig struct {
	APIKey          string
	BaseURL         string
	Model           string
	Mode            agentpod.StructuredMode
	Temperature     float64
	MaxTokens       int
	MaxPromptTokens int
	Timeout         time.Duration
}

type SearchConfig struct {
	Backend     string
	BingKey     string
	BingMarket  string
	BraveKey    string
	TavilyKey   string
	TavilyDepth string
	Count       int
	Concurrency int
}

type ContentizeConfig struct {
	MaxBytes  int
	UserAgent string
	Robots    bool
}

type ResearchConfig struct {
	Strategy      string
	MaxIterations int
	GraphSteps    int
}

// YamlSource implements cli.ValueSource for a map loaded from YAML.
type YamlSource struct {
	data map[string]any
	key  string
}

func (y *YamlSource) Lookup() (string, bool) {
	v, ok := y.data[y.key]
	if !ok || v == nil {
		return "", false
	}
	if slice, ok := v.([]any); ok {
		strs := make([]string, 0, len(slice))
		for _, item := range slice {
			strs = append(strs, fmt.Sprintf("%v", item))
		}
		return strings.Join(strs, ","), true
	}
	return fmt.Sprintf("%v", v), true
}

func (y *YamlSource) String() string   { return "yaml" }
func (y *YamlSource) GoString() string { return "yaml" }

// envSource reads an environment variable, treating an empty one as unset so
// that the next source in the chain gets a chance.
type envSource struct {
	key string
}

func (e *envSource) Lookup() (string, bool) {
	v, ok := os.LookupEnv(e.key)
	return v, ok && strings.TrimSpace(v) != ""
}

func (e *envSource) IsFromEnv() bool  { return true }
func (e *envSource) Key() string      { return e.key }
func (e *envSource) String() string   { return fmt.Sprintf("environment variable %q", e.key) }
func (e *envSource) GoString() string { return fmt.Sprintf("&envSource{key:%q}", e.key) }

// LoadDotEnv loads variables from the given .env files (default ".env")
// without overriding the real environment. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// LoadYAML reads a flat YAML mapping of flag names to values.
func LoadYAML(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return out, nil
}

// GetFlags returns the global flags. Values resolve as environment variable,
// then the YAML config named by --config in args, then the default.
func GetFlags(args []string) []cli.Flag {
	var configData map[string]any
	if path := getConfigPath(args); path != "" {
		data, err := LoadYAML(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to read config file %s: %v\n", path, err)
		}
		configData = data
	}

	src := func(key string, env ...string) cli.ValueSourceChain {
		chain := cli.ValueSourceChain{}
		chain.Chain = append(chain.Chain, &envSource{key: envPrefix + strings.ToUpper(key)})
		for _, e := range env {
			chain.Chain = append(chain.Chain, &envSource{key: e})
		}
		if configData != nil {
			chain.Chain = append(chain.Chain, &YamlSource{data: configData, key: key})
		}
		return chain
	}

	return []cli.Flag{
		&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "use the named YAML configuration file", Sources: cli.NewValueSourceChain(&envSource{key: envPrefix + "CONFIG"})},
		&cli.BoolFlag{Name: "verbose", Aliases: []string{"V"}, Usage: "enable debug logging", Sources: src("verbose")},

		// LLM
		&cli.StringFlag{Name: "apikey", Usage: "API key of the chat completion backend", Sources: src("apikey", "OPENAI_API_KEY", "AZURE_AI_API_KEY", "KEYWORDSAI_API_KEY")},
		&cli.StringFlag{Name: "baseurl", Usage: "OpenAI-compatible base URL (Azure or gateway deployments)", Sources: src("baseurl", "OPENAI_BASE_URL", "AZURE_AI_ENDPOINT", "KEYWORDSAI_ENDPOINT")},
		&cli.StringFlag{Name: "model", Value: agentpod.DefaultModel, Usage: "model used for completions", Sources: src("model")},
		&cli.StringFlag{Name: "mode", Value: agentpod.ModeJSONSchema.String(), Usage: "structured output mode: json_schema, function_call or json_object", Sources: src("mode")},
		&cli.FloatFlag{Name: "temperature", Usage: "sampling temperature, 0 leaves the backend default", Sources: src("temperature")},
		&cli.IntFlag{Name: "maxtokens", Usage: "maximum completion tokens, 0 for no limit", Sources: src("maxtokens")},
		&cli.IntFlag{Name: "maxprompttokens", Usage: "refuse prompts estimated above this many tokens, 0 disables", Sources: src("maxprompttokens")},
		&cli.DurationFlag{Name: "timeout", Aliases: []string{"t"}, Value: 2 * time.Minute, Usage: "timeout for the whole command", Sources: src("timeout")},

		// Search
		&cli.StringFlag{Name: "searchbackend", Value: "bing", Usage: "search backend: bing, brave, tavily or duckduckgo", Sources: src("searchbackend")},
		&cli.StringFlag{Name: "bingkey", Usage: "Bing Web Search key", Sources: src("bingkey", "BING_API_KEY")},
		&cli.StringFlag{Name: "bingmarket", Usage: "Bing market, e.g. en-US", Sources: src("bingmarket")},
		&cli.StringFlag{Name: "bravekey", Usage: "Brave Search key", Sources: src("bravekey", "BRAVE_API_KEY")},
		&cli.StringFlag{Name: "tavilykey", Usage: "Tavily key", Sources: src("tavilykey", "TAVILY_API_KEY")},
		&cli.StringFlag{Name: "tavilydepth", Value: "basic", Usage: "Tavily search depth: basic or advanced", Sources: src("tavilydepth")},
		&cli.IntFlag{Name: "count", Aliases: []string{"n"}, Value: 5, Usage: "number of search results", Sources: src("count")},
		&cli.IntFlag{Name: "concurrency", Value: 4, Usage: "parallel page fetches per search", Sources: src("concurrency")},

		// Content extraction
		&cli.IntFlag{Name: "maxbytes", Value: 32 * 1024, Usage: "maximum bytes of text per page", Sources: src("maxbytes")},
		&cli.StringFlag{Name: "useragent", Usage: "User-Agent for page fetches", Sources: src("useragent")},
		&cli.BoolFlag{Name: "robots", Value: true, Usage: "honor robots.txt", Sources: src("robots")},

		// Research
		&cli.StringFlag{Name: "strategy", Value: "scratchpad", Usage: "research strategy (scratchpad, graph-reader)", Sources: src("strategy")},
		&cli.IntFlag{Name: "maxiterations", Value: 5, Usage: "planner rounds per research question", Sources: src("maxiterations")},
		&cli.IntFlag{Name: "graphsteps", Value: 8, Usage: "searches per question for the graph-reader strategy", Sources: src("graphsteps")},
	}
}

func getConfigPath(args []string) string {
	if v := os.Getenv(envPrefix + "CONFIG"); v != "" {
		return v
	}
	for i, arg := range args {
		if arg == "--config" || arg == "-c" {
			if i+1 < len(args) {
				return args[i+1]
			}
		}
		if v, ok := strings.CutPrefix(arg, "--config="); ok {
			return v
		}
	}
	return ""
}

// NewConfiguration reads the resolved flag values of c.
func NewConfiguration(c *cli.Command) (*Configuration, error) {
	mode, err := agentpod.ParseStructuredMode(c.String("mode"))
	if err != nil {
		return nil, err
	}
	cfg := &Configuration{
		Verbose: c.Bool("verbose"),
		LLM: &LLMConfig{
			APIKey:          c.String("apikey"),
			BaseURL:         c.String("baseurl"),
			Model:           c.String("model"),
			Mode:            mode,
			Temperature:     c.Float("temperature"),
			MaxTokens:       int(c.Int("maxtokens")),
			MaxPromptTokens: int(c.Int("maxprompttokens")),
			Timeout:         c.Duration("timeout"),
		},
		Search: &SearchConfig{
			Backend:     strings.ToLower(strings.TrimSpace(c.String("searchbackend"))),
			BingKey:     c.String("bingkey"),
			BingMarket:  c.String("bingmarket"),
			BraveKey:    c.String("bravekey"),
			TavilyKey:   c.String("tavilykey"),
			TavilyDepth: c.String("tavilydepth"),
			Count:       int(c.Int("count")),
			Concurrency: int(c.Int("concurrency")),
		},
		Contentize: &ContentizeConfig{
			MaxBytes:  int(c.Int("maxbytes")),
			UserAgent: c.String("useragent"),
			Robots:    c.Bool("robots"),
		},
		Research: &ResearchConfig{
			Strategy:      strings.ToLower(strings.TrimSpace(c.String("strategy"))),
			MaxIterations: int(c.Int("maxiterations")),
			GraphSteps:    int(c.Int("graphsteps")),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that flags cannot constrain on their own.
func (c *Configuration) Validate() error {
	switch c.Search.Backend {
	case "bing", "brave", "tavily", "duckduckgo":
	default:
		return &agentpod.ConfigurationError{Field: "searchbackend", Message: fmt.Sprintf("unknown backend %q", c.Search.Backend)}
	}
	switch c.Search.TavilyDepth {
	case "basic", "advanced":
	default:
		return &agentpod.ConfigurationError{Field: "tavilydepth", Message: fmt.Sprintf("must be basic or advanced, got %q", c.Search.TavilyDepth)}
	}
	if c.Search.Count <= 0 {
		return &agentpod.ConfigurationError{Field: "count", Message: "must be positive"}
	}
	switch c.Research.Strategy {
	case "scratchpad", "graph-reader":
	default:
		return &agentpod.ConfigurationError{Field: "strategy", Message: fmt.Sprintf("unknown strategy %q", c.Research.Strategy)}
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return &agentpod.ConfigurationError{Field: "temperature", Message: "must be between 0 and 2"}
	}
	if c.LLM.MaxTokens < 0 || c.LLM.MaxPromptTokens < 0 {
		return &agentpod.ConfigurationError{Field: "maxtokens", Message: "must not be negative"}
	}
	return nil
}

// PrintConfig writes the resolved settings with keys masked.
func (c *Configuration) PrintConfig(w io.Writer) {
	fmt.Fprintf(w, "verbose: %t\n", c.Verbose)
	fmt.Fprintf(w, "apikey: %s\n", mask(c.LLM.APIKey))
	fmt.Fprintf(w, "baseurl: %s\n", c.LLM.BaseURL)
	fmt.Fprintf(w, "model: %s\n", c.LLM.Model)
	fmt.Fprintf(w, "mode: %s\n", c.LLM.Mode)
	fmt.Fprintf(w, "temperature: %g\n", c.LLM.Temperature)
	fmt.Fprintf(w, "maxtokens: %d\n", c.LLM.MaxTokens)
	fmt.Fprintf(w, "maxprompttokens: %d\n", c.LLM.MaxPromptTokens)
	fmt.Fprintf(w, "timeout: %s\n", c.LLM.Timeout)
	fmt.Fprintf(w, "searchbackend: %s\n", c.Search.Backend)
	fmt.Fprintf(w, "bingkey: %s\n", mask(c.Search.BingKey))
	fmt.Fprintf(w, "bingmarket: %s\n", c.Search.BingMarket)
	fmt.Fprintf(w, "bravekey: %s\n", mask(c.Search.BraveKey))
	fmt.Fprintf(w, "tavilykey: %s\n", mask(c.Search.TavilyKey))
	fmt.Fprintf(w, "tavilydepth: %s\n", c.Search.TavilyDepth)
	fmt.Fprintf(w, "count: %d\n", c.Search.Count)
	fmt.Fprintf(w, "concurrency: %d\n", c.Search.Concurrency)
	fmt.Fprintf(w, "maxbytes: %d\n", c.Contentize.MaxBytes)
	fmt.Fprintf(w, "useragent: %s\n", c.Contentize.UserAgent)
	fmt.Fprintf(w, "robots: %t\n", c.Contentize.Robots)
	fmt.Fprintf(w, "strategy: %s\n", c.Research.Strategy)
	fmt.Fprintf(w, "maxiterations: %d\n", c.Research.MaxIterations)
	fmt.Fprintf(w, "graphsteps: %d\n", c.Research.GraphSteps)
}

func mask(key string) string {
	if len(key) <= 3 {
		return key
	}
	return strings.Repeat("*", len(key)-3) + key[len(key)-3:]
}
