package llm

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// countingProvider records how often each stage runs.
type countingProvider struct {
	id      ProviderID
	builds  atomic.Int32
	sends   atomic.Int32
	lastKey atomic.Value

	reply   string
	sendErr error
	empty   bool
}

func (p *countingProvider) ID() ProviderID { return p.id }

func (p *countingProvider) Build(in Input, count int) (*Request, error) {
	p.builds.Add(1)
	return &Request{Provider: p.id, Kind: in.Kind(), Model: "fake", Count: count}, nil
}

func (p *countingProvider) Send(_ context.Context, _ *Request, key string) (*RawResponse, error) {
	p.sends.Add(1)
	p.lastKey.Store(key)
	if p.sendErr != nil {
		return nil, p.sendErr
	}
	return &RawResponse{Text: p.reply}, nil
}

func (p *countingProvider) Normalize(_ InputKind, raw *RawResponse, _ int) []string {
	if p.empty {
		return nil
	}
	return []string{ClampPrompt(raw.Text)}
}

func TestMissingCredentialSkipsNetwork(t *testing.T) {
	for _, id := range []ProviderID{ProviderGroq, ProviderMistral} {
		for name, creds := range map[string]Credentials{
			"nil map":     nil,
			"absent":      {ProviderGemini: "irrelevant"},
			"empty":       {id: ""},
			"only spaces": {id: "   "},
		} {
			t.Run(string(id)+"/"+name, func(t *testing.T) {
				p := &countingProvider{id: id, reply: "unused"}
				_, err := NewAdapter(p).Generate(context.Background(), id, TextInput("idea"), creds, 1)

				if !errors.Is(err, ErrMissingCredential) {
					t.Fatalf("expected missing credential, got %v", err)
				}
				var mc *MissingCredentialError
				if !errors.As(err, &mc) || mc.Provider != id {
					t.Fatalf("expected *MissingCredentialError for %s, got %#v", id, err)
				}
				if p.builds.Load() != 0 || p.sends.Load() != 0 {
					t.Fatalf("provider was called: builds=%d sends=%d", p.builds.Load(), p.sends.Load())
				}
			})
		}
	}
}

func TestMissingCredentialMessage(t *testing.T) {
	err := &MissingCredentialError{Provider: ProviderMistral}
	if got, want := err.Error(), "MISTRAL API key is missing"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestMissingCredentialSendsNoHTTPRequest(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	a := New(Config{
		Groq:    ProviderConfig{BaseURL: srv.URL},
		Mistral: ProviderConfig{BaseURL: srv.URL},
	}, WithHTTPClient(srv.Client()))

	for _, id := range []ProviderID{ProviderGroq, ProviderMistral} {
		if _, err := a.Generate(context.Background(), id, TextInput("idea"), Credentials{}, 2); !errors.Is(err, ErrMissingCredential) {
			t.Fatalf("%s: expected missing credential, got %v", id, err)
		}
	}
	if n := hits.Load(); n != 0 {
		t.Fatalf("server saw %d requests", n)
	}
}

func TestKeyPassedToChatProvider(t *testing.T) {
	p := &countingProvider{id: ProviderGroq, reply: "a prompt"}
	if _, err := NewAdapter(p).Generate(context.Background(), ProviderGroq, TextInput("idea"), Credentials{ProviderGroq: " gsk \n"}, 1); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if got := p.lastKey.Load(); got != "gsk" {
		t.Fatalf("key = %v, want trimmed gsk", got)
	}
}

func TestNativeNeedsNoCredential(t *testing.T) {
	p := &countingProvider{id: ProviderGemini, reply: "a prompt"}
	if _, err := NewAdapter(p).Generate(context.Background(), ProviderGemini, TextInput("idea"), nil, 1); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if got := p.lastKey.Load(); got != "" {
		t.Fatalf("native provider received caller key %v", got)
	}
}

func TestInvalidInput(t *testing.T) {
	tests := []struct {
		name string
		in   Input
	}{
		{"neither", Input{}},
		{"blank text", TextInput("  \t")},
		{"both", Input{Text: "idea", Image: &Image{Data: []byte{1}, MIMEType: "image/png"}}},
		{"empty image", ImageInput(nil, "image/png", "x.png")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &countingProvider{id: ProviderGemini}
			_, err := NewAdapter(p).Generate(context.Background(), ProviderGemini, tt.in, nil, 1)
			if !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("expected invalid input, got %v", err)
			}
			if p.sends.Load() != 0 {
				t.Fatalf("provider was called for invalid input")
			}
		})
	}
}

func TestUnknownProvider(t *testing.T) {
	_, err := NewAdapter().Generate(context.Background(), "openai", TextInput("idea"), nil, 1)
	if !errors.Is(err, ErrUnknownProvider) {
		t.Fatalf("expected unknown provider, got %v", err)
	}
}

func TestParseProvider(t *testing.T) {
	for in, want := range map[string]ProviderID{"gemini": ProviderGemini, " Groq ": ProviderGroq, "MISTRAL": ProviderMistral} {
		got, err := ParseProvider(in)
		if err != nil || got != want {
			t.Errorf("ParseProvider(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseProvider("claude"); !errors.Is(err, ErrUnknownProvider) {
		t.Errorf("expected unknown provider error, got %v", err)
	}
}

func TestSendErrorPassesThrough(t *testing.T) {
	boom := errors.New("connection reset")
	p := &countingProvider{id: ProviderGroq, sendErr: boom}
	_, err := NewAdapter(p).Generate(context.Background(), ProviderGroq, TextInput("idea"), Credentials{ProviderGroq: "k"}, 1)
	if !errors.Is(err, boom) {
		t.Fatalf("expected transport error to pass through, got %v", err)
	}
}

func TestEmptyNormalizationIsProviderError(t *testing.T) {
	p := &countingProvider{id: ProviderGroq, empty: true}
	_, err := NewAdapter(p).Generate(context.Background(), ProviderGroq, TextInput("idea"), Credentials{ProviderGroq: "k"}, 1)
	var pe *ProviderError
	if !errors.As(err, &pe) || pe.Message != "provider returned no prompts" {
		t.Fatalf("expected empty result provider error, got %v", err)
	}
}

func TestNewAppliesConfig(t *testing.T) {
	a := New(Config{
		SuffixSeed: 7,
		Gemini:     ProviderConfig{APIKey: "configured", TextModel: "gemini-custom"},
		Groq:       ProviderConfig{BaseURL: "http://groq.local/v1/", TextModel: "llama-custom"},
		Mistral:    ProviderConfig{VisionModel: "pixtral-custom"},
	}, WithKeySource(func() string { return "from-env" }))

	p, ok := a.Provider(ProviderGemini)
	if !ok {
		t.Fatal("gemini not registered")
	}
	gemini := p.(*GeminiProvider)
	if got := gemini.Keys(); got != "configured" {
		t.Errorf("configured key should win over env, got %q", got)
	}
	if gemini.TextModel != "gemini-custom" || gemini.Clamper.Pick == nil {
		t.Errorf("gemini not configured: %+v", gemini)
	}
	if !a.NativeKeyAvailable() {
		t.Errorf("native key should be available")
	}

	p, _ = a.Provider(ProviderGroq)
	groq := p.(*ChatProvider)
	want := struct{ BaseURL, TextModel, VisionModel string }{"http://groq.local/v1", "llama-custom", "llava-v1.5-7b-4096-preview"}
	got := struct{ BaseURL, TextModel, VisionModel string }{groq.BaseURL, groq.TextModel, groq.VisionModel}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("groq config mismatch (-want +got):\n%s", diff)
	}

	p, _ = a.Provider(ProviderMistral)
	mistral := p.(*ChatProvider)
	if mistral.BaseURL != "https://api.mistral.ai/v1" || mistral.VisionModel != "pixtral-custom" {
		t.Errorf("mistral not configured: %+v", mistral)
	}
}

func TestNativeKeyFallsBackToSource(t *testing.T) {
	key := ""
	a := New(Config{}, WithKeySource(func() string { return key }))
	if a.NativeKeyAvailable() {
		t.Fatal("no key should be available yet")
	}
	key = "late"
	if !a.NativeKeyAvailable() {
		t.Fatal("key set after construction should be seen")
	}
}
