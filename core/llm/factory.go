package llm

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
)

type ProviderConfig struct {
	APIKey      string `toml:"api_key"`
	BaseURL     string `toml:"base_url"`
	TextModel   string `toml:"text_model"`
	VisionModel string `toml:"vision_model"`
}

type Config struct {
	DefaultProvider  string         `toml:"default_provider"`
	DefaultCount     int            `toml:"default_count"`
	SuffixSeed       uint64         `toml:"suffix_seed"`
	BatchParallelism int            `toml:"batch_parallelism"`
	Gemini           ProviderConfig `toml:"gemini"`
	Groq             ProviderConfig `toml:"groq"`
	Mistral          ProviderConfig `toml:"mistral"`
}

type Option func(*options)

type options struct {
	logger     zerolog.Logger
	httpClient *http.Client
	keys       KeySource
	connect    func(ctx context.Context, apiKey string) (ContentGenerator, error)
}

func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

func WithHTTPClient(client *http.Client) Option {
	return func(o *options) {
		if client != nil {
			o.httpClient = client
		}
	}
}

// WithKeySource replaces the ambient native key lookup (GEMINI_API_KEY, then API_KEY).
func WithKeySource(keys KeySource) Option {
	return func(o *options) {
		if keys != nil {
			o.keys = keys
		}
	}
}

// WithGeminiConnect replaces how the native SDK client is built.
func WithGeminiConnect(connect func(ctx context.Context, apiKey string) (ContentGenerator, error)) Option {
	return func(o *options) { o.connect = connect }
}

// New builds an adapter with all three providers configured from cfg.
func New(cfg Config, opts ...Option) *Adapter {
	o := options{
		logger: zerolog.Nop(),
		keys:   EnvKey("GEMINI_API_KEY", "API_KEY"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	clamper := Clamper{}
	if cfg.SuffixSeed != 0 {
		clamper.Pick = NewSeededPicker(cfg.SuffixSeed)
	}

	gemini := &GeminiProvider{
		Keys:        StaticKey(cfg.Gemini.APIKey, o.keys),
		BaseURL:     cfg.Gemini.BaseURL,
		TextModel:   cfg.Gemini.TextModel,
		VisionModel: cfg.Gemini.VisionModel,
		HTTPClient:  o.httpClient,
		Clamper:     clamper,
		Connect:     o.connect,
	}

	groq := NewGroqProvider()
	applyChatConfig(groq, cfg.Groq, o.httpClient, clamper)

	mistral := NewMistralProvider()
	applyChatConfig(mistral, cfg.Mistral, o.httpClient, clamper)

	a := NewAdapter(gemini, groq, mistral)
	a.logger = o.logger
	a.parallelism = cfg.BatchParallelism
	return a
}

func applyChatConfig(p *ChatProvider, cfg ProviderConfig, client *http.Client, clamper Clamper) {
	if cfg.BaseURL != "" {
		p.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}
	if cfg.TextModel != "" {
		p.TextModel = cfg.TextModel
	}
	if cfg.VisionModel != "" {
		p.VisionModel = cfg.VisionModel
	}
	p.HTTPClient = client
	p.Clamper = clamper
}
