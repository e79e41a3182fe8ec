package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"google.golang.org/genai"
)

const (
	defaultGeminiTextModel   = "gemini-3-pro-preview"
	defaultGeminiVisionModel = "gemini-3-flash-preview"
)

// ContentGenerator is the slice of the genai SDK the native provider needs.
// *genai.Models satisfies it.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// KeySource returns the currently selected native key, or "" when none is selected.
type KeySource func() string

// EnvKey reads the first non-empty variable on every call, so a key exported after
// start-up is picked up by the next request.
func EnvKey(names ...string) KeySource {
	return func() string {
		for _, name := range names {
			if v := strings.TrimSpace(os.Getenv(name)); v != "" {
				return v
			}
		}
		return ""
	}
}

// StaticKey prefers the configured key and falls back to next.
func StaticKey(key string, next KeySource) KeySource {
	return func() string {
		if k := strings.TrimSpace(key); k != "" {
			return k
		}
		if next == nil {
			return ""
		}
		return next()
	}
}

type GeminiProvider struct {
	Keys        KeySource
	BaseURL     string
	TextModel   string
	VisionModel string
	HTTPClient  *http.Client
	Clamper     Clamper

	// Connect builds a generator for a key. Nil means a fresh genai client per call.
	Connect func(ctx context.Context, apiKey string) (ContentGenerator, error)
}

var _ Provider = (*GeminiProvider)(nil)

func (g *GeminiProvider) ID() ProviderID { return ProviderGemini }

// HasKey reports whether the ambient key source currently yields a key.
func (g *GeminiProvider) HasKey() bool {
	return g.Keys != nil && g.Keys() != ""
}

func (g *GeminiProvider) Build(in Input, count int) (*Request, error) {
	if in.Image != nil {
		parts := []*genai.Part{
			genai.NewPartFromBytes(in.Image.Data, in.Image.MIMEType),
			genai.NewPartFromText(imageAnalysisInstruction),
		}
		return &Request{
			Provider: ProviderGemini,
			Kind:     KindImage,
			Model:    orDefault(g.VisionModel, defaultGeminiVisionModel),
			Count:    1,
			Contents: []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)},
		}, nil
	}

	return &Request{
		Provider: ProviderGemini,
		Kind:     KindText,
		Model:    orDefault(g.TextModel, defaultGeminiTextModel),
		Count:    count,
		Contents: genai.Text(geminiTextPrompt(in.Text, count)),
		Config: &genai.GenerateContentConfig{
			ResponseMIMEType: "application/json",
			ResponseSchema: &genai.Schema{
				Type:  genai.TypeArray,
				Items: &genai.Schema{Type: genai.TypeString},
			},
		},
	}, nil
}

// Send ignores key: the native credential always comes from g.Keys.
func (g *GeminiProvider) Send(ctx context.Context, req *Request, _ string) (*RawResponse, error) {
	apiKey := ""
	if g.Keys != nil {
		apiKey = g.Keys()
	}

	connect := g.Connect
	if connect == nil {
		connect = g.connect
	}
	gen, err := connect(ctx, apiKey)
	if err != nil {
		return nil, &ProviderError{Provider: ProviderGemini, Message: fmt.Sprintf("failed to create genai client: %v", err), Err: err}
	}

	resp, err := gen.GenerateContent(ctx, req.Model, req.Contents, req.Config)
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			return nil, &ProviderError{Provider: ProviderGemini, StatusCode: apiErr.Code, Message: apiErr.Message, Err: err}
		}
		return nil, err
	}
	if resp == nil {
		return nil, &ProviderError{Provider: ProviderGemini, Message: "empty response from model"}
	}

	return &RawResponse{Text: resp.Text()}, nil
}

func (g *GeminiProvider) connect(ctx context.Context, apiKey string) (ContentGenerator, error) {
	cc := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: g.HTTPClient,
	}
	if g.BaseURL != "" {
		cc.HTTPOptions.BaseURL = g.BaseURL
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, err
	}
	return client.Models, nil
}

func (g *GeminiProvider) Normalize(kind InputKind, raw *RawResponse, _ int) []string {
	if kind == KindImage {
		return []string{g.Clamper.Clamp(raw.Text)}
	}

	// a blocked or empty candidate carries no text; that is zero prompts, not one
	if strings.TrimSpace(raw.Text) == "" {
		return nil
	}
	if items, ok := jsonArray(raw.Text); ok {
		return clampAll(g.Clamper, items)
	}
	fallbackParses.WithLabelValues(string(ProviderGemini)).Inc()
	return []string{g.Clamper.Clamp(raw.Text)}
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
