package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"unicode/utf8"

	"github.com/google/go-cmp/cmp"
)

type capturedRequest struct {
	Path          string
	Authorization string
	Body          map[string]any
}

func chatServer(t *testing.T, status int, body string) (*httptest.Server, *atomic.Int32, chan capturedRequest) {
	t.Helper()
	var hits atomic.Int32
	captured := make(chan capturedRequest, 16)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		raw, _ := io.ReadAll(r.Body)
		var decoded map[string]any
		_ = json.Unmarshal(raw, &decoded)
		captured <- capturedRequest{Path: r.URL.Path, Authorization: r.Header.Get("Authorization"), Body: decoded}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits, captured
}

func completion(content string) string {
	b, _ := json.Marshal(map[string]any{
		"choices": []any{map[string]any{"message": map[string]any{"role": "assistant", "content": content}}},
	})
	return string(b)
}

func testGroq(srv *httptest.Server) *ChatProvider {
	p := NewGroqProvider()
	p.BaseURL = srv.URL + "/openai/v1"
	p.HTTPClient = srv.Client()
	return p
}

func TestChatTextRequestShape(t *testing.T) {
	srv, _, captured := chatServer(t, http.StatusOK, completion(`{"prompts":["a","b","c"]}`))
	adapter := NewAdapter(testGroq(srv))

	prompts, err := adapter.Generate(context.Background(), ProviderGroq, TextInput("a lighthouse at dusk"), Credentials{ProviderGroq: "gsk-test"}, 3)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if len(prompts) != 3 {
		t.Fatalf("got %d prompts, want 3: %q", len(prompts), prompts)
	}
	for i, p := range prompts {
		if n := utf8.RuneCountInString(p); n < MinPromptLength || n > MaxPromptLength {
			t.Errorf("prompt %d length %d out of range", i, n)
		}
		if !strings.HasPrefix(p, []string{"a", "b", "c"}[i]) {
			t.Errorf("prompt %d = %q, order not preserved", i, p)
		}
	}

	req := <-captured
	if req.Path != "/openai/v1/chat/completions" {
		t.Errorf("path = %q", req.Path)
	}
	if req.Authorization != "Bearer gsk-test" {
		t.Errorf("authorization = %q", req.Authorization)
	}
	if req.Body["model"] != "llama-4-scout-preview" {
		t.Errorf("model = %v", req.Body["model"])
	}
	if req.Body["temperature"] != 0.8 {
		t.Errorf("temperature = %v", req.Body["temperature"])
	}
	if req.Body["max_tokens"] != float64(1000) {
		t.Errorf("max_tokens = %v", req.Body["max_tokens"])
	}
	if diff := cmp.Diff(map[string]any{"type": "json_object"}, req.Body["response_format"]); diff != "" {
		t.Errorf("response_format mismatch (-want +got):\n%s", diff)
	}

	messages, _ := req.Body["messages"].([]any)
	if len(messages) != 2 {
		t.Fatalf("got %d messages, want 2", len(messages))
	}
	system := messages[0].(map[string]any)
	user := messages[1].(map[string]any)
	if system["role"] != "system" || !strings.Contains(system["content"].(string), "Number of strings: 3") {
		t.Errorf("unexpected system message: %v", system)
	}
	if user["role"] != "user" || !strings.HasSuffix(user["content"].(string), "a lighthouse at dusk") {
		t.Errorf("unexpected user message: %v", user)
	}
}

func TestChatImageRequestShape(t *testing.T) {
	srv, _, captured := chatServer(t, http.StatusOK, completion(`{"prompts":["ignored json"]}`))
	p := NewMistralProvider()
	p.BaseURL = srv.URL + "/v1"
	p.HTTPClient = srv.Client()
	adapter := NewAdapter(p)

	prompts, err := adapter.Generate(context.Background(), ProviderMistral, ImageInput([]byte{0x89, 'P', 'N', 'G'}, "image/png", "a.png"), Credentials{ProviderMistral: "m-key"}, 5)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if len(prompts) != 1 {
		t.Fatalf("image analysis returned %d prompts, want 1", len(prompts))
	}
	if !strings.HasPrefix(prompts[0], `{"prompts":["ignored json"]}`) {
		t.Errorf("vision content should be used verbatim, got %q", prompts[0])
	}

	req := <-captured
	if req.Body["model"] != "pixtral-12b-2409" {
		t.Errorf("model = %v", req.Body["model"])
	}
	if _, ok := req.Body["response_format"]; ok {
		t.Errorf("vision request must not ask for a response format")
	}
	messages := req.Body["messages"].([]any)
	if len(messages) != 1 {
		t.Fatalf("got %d messages, want 1", len(messages))
	}
	parts := messages[0].(map[string]any)["content"].([]any)
	if len(parts) != 2 {
		t.Fatalf("got %d content parts, want 2", len(parts))
	}
	if parts[0].(map[string]any)["type"] != "text" {
		t.Errorf("first part = %v", parts[0])
	}
	image := parts[1].(map[string]any)
	url := image["image_url"].(map[string]any)["url"].(string)
	if image["type"] != "image_url" || url != "data:image/png;base64,iVBORw==" {
		t.Errorf("image part = %v", image)
	}
}

func TestChatFallbacks(t *testing.T) {
	tests := []struct {
		name    string
		content string
		count   int
		want    []string
	}{
		{
			name:    "not json",
			content: "not json at all, definitely not json",
			count:   3,
			want:    []string{"not json at all, definitely not json"},
		},
		{
			name:    "bare array",
			content: `["first array prompt","second array prompt"]`,
			count:   2,
			want:    []string{"first array prompt", "second array prompt"},
		},
		{
			name:    "object without prompts",
			content: `{"ideas":["x"]}`,
			count:   2,
			want:    []string{`{"ideas":["x"]}`},
		},
		{
			name:    "numbered lines",
			content: "1. a misty forest with giant mushrooms\nshort\n2. a desert city under twin moons\n3. an underwater cathedral made of glass",
			count:   2,
			want:    []string{"1. a misty forest with giant mushrooms", "2. a desert city under twin moons"},
		},
		{
			name:    "only short lines",
			content: "tiny\nbits",
			count:   3,
			want:    []string{"tiny\nbits"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewGroqProvider()
			p.Clamper = Clamper{Pick: func(int) int { return 1 }}
			got := p.Normalize(KindText, &RawResponse{Text: tt.content}, tt.count)

			want := make([]string, len(tt.want))
			for i, w := range tt.want {
				want[i] = p.Clamper.Clamp(w)
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Fatalf("Normalize mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestChatErrorMessageFromBody(t *testing.T) {
	srv, _, _ := chatServer(t, http.StatusTooManyRequests, `{"error":{"message":"rate limited","type":"rate_limit"}}`)
	adapter := NewAdapter(testGroq(srv))

	_, err := adapter.Generate(context.Background(), ProviderGroq, TextInput("idea"), Credentials{ProviderGroq: "k"}, 1)
	var pe *ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *ProviderError, got %T: %v", err, err)
	}
	if pe.Message != "rate limited" || err.Error() != "rate limited" {
		t.Fatalf("message = %q / %q, want %q", pe.Message, err.Error(), "rate limited")
	}
	if pe.StatusCode != http.StatusTooManyRequests {
		t.Errorf("status = %d", pe.StatusCode)
	}
	if !errors.Is(err, ErrProvider) {
		t.Errorf("error does not match ErrProvider")
	}
}

func TestChatErrorWithoutMessage(t *testing.T) {
	srv, _, _ := chatServer(t, http.StatusBadGateway, `<html>bad gateway</html>`)
	adapter := NewAdapter(testGroq(srv))

	_, err := adapter.Generate(context.Background(), ProviderGroq, TextInput("idea"), Credentials{ProviderGroq: "k"}, 1)
	var pe *ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *ProviderError, got %T: %v", err, err)
	}
	if got, want := err.Error(), "API error from groq"; got != want {
		t.Fatalf("message = %q, want %q", got, want)
	}
}

func TestChatNoChoicesIsProviderError(t *testing.T) {
	srv, _, _ := chatServer(t, http.StatusOK, `{"choices":[]}`)
	adapter := NewAdapter(testGroq(srv))

	_, err := adapter.Generate(context.Background(), ProviderGroq, TextInput("idea"), Credentials{ProviderGroq: "k"}, 1)
	if !errors.Is(err, ErrProvider) {
		t.Fatalf("expected provider error, got %v", err)
	}
}

func TestChatNetworkErrorPassesThrough(t *testing.T) {
	srv, _, _ := chatServer(t, http.StatusOK, completion("unused"))
	p := testGroq(srv)
	srv.Close()

	_, err := NewAdapter(p).Generate(context.Background(), ProviderGroq, TextInput("idea"), Credentials{ProviderGroq: "k"}, 1)
	if err == nil {
		t.Fatal("expected an error from a closed server")
	}
	if errors.Is(err, ErrProvider) {
		t.Fatalf("network failure should not be a ProviderError: %v", err)
	}
}
