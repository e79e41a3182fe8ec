package llm

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/sashabaranov/go-openai"
)

const (
	chatTemperature = 0.8
	chatMaxTokens   = 1000
)

// ChatProvider speaks the OpenAI chat completions format. Groq and Mistral are
// both served by it and differ only in endpoint and model ids.
type ChatProvider struct {
	Provider    ProviderID
	BaseURL     string
	TextModel   string
	VisionModel string
	HTTPClient  *http.Client
	Clamper     Clamper
}

var _ Provider = (*ChatProvider)(nil)

func NewGroqProvider() *ChatProvider {
	return &ChatProvider{
		Provider:    ProviderGroq,
		BaseURL:     "https://api.groq.com/openai/v1",
		TextModel:   "llama-4-scout-preview",
		VisionModel: "llava-v1.5-7b-4096-preview",
	}
}

func NewMistralProvider() *ChatProvider {
	return &ChatProvider{
		Provider:    ProviderMistral,
		BaseURL:     "https://api.mistral.ai/v1",
		TextModel:   "mistral-small-latest",
		VisionModel: "pixtral-12b-2409",
	}
}

func (c *ChatProvider) ID() ProviderID { return c.Provider }

func (c *ChatProvider) Build(in Input, count int) (*Request, error) {
	if in.Image != nil {
		dataURI := fmt.Sprintf("data:%s;base64,%s", in.Image.MIMEType, base64.StdEncoding.EncodeToString(in.Image.Data))
		return &Request{
			Provider: c.Provider,
			Kind:     KindImage,
			Model:    c.VisionModel,
			Count:    1,
			Chat: &openai.ChatCompletionRequest{
				Model: c.VisionModel,
				Messages: []openai.ChatCompletionMessage{
					{
						Role: openai.ChatMessageRoleUser,
						MultiContent: []openai.ChatMessagePart{
							{Type: openai.ChatMessagePartTypeText, Text: imageAnalysisInstruction},
							{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{URL: dataURI}},
						},
					},
				},
				Temperature: chatTemperature,
				MaxTokens:   chatMaxTokens,
			},
		}, nil
	}

	return &Request{
		Provider: c.Provider,
		Kind:     KindText,
		Model:    c.TextModel,
		Count:    count,
		Chat: &openai.ChatCompletionRequest{
			Model: c.TextModel,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: chatSystemPrompt(count)},
				{Role: openai.ChatMessageRoleUser, Content: chatUserPrompt(in.Text)},
			},
			ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
			Temperature:    chatTemperature,
			MaxTokens:      chatMaxTokens,
		},
	}, nil
}

func (c *ChatProvider) Send(ctx context.Context, req *Request, key string) (*RawResponse, error) {
	if req.Chat == nil {
		return nil, fmt.Errorf("%w: %s request has no chat body", ErrInvalidInput, c.Provider)
	}

	cfg := openai.DefaultConfig(key)
	cfg.BaseURL = strings.TrimSuffix(c.BaseURL, "/")
	if c.HTTPClient != nil {
		cfg.HTTPClient = c.HTTPClient
	}
	client := openai.NewClientWithConfig(cfg)

	resp, err := client.CreateChatCompletion(ctx, *req.Chat)
	if err != nil {
		return nil, c.translateError(err)
	}

	if len(resp.Choices) == 0 {
		return nil, &ProviderError{Provider: c.Provider, Message: fmt.Sprintf("empty response from %s", c.Provider)}
	}

	return &RawResponse{Text: strings.TrimSpace(resp.Choices[0].Message.Content)}, nil
}

// translateError maps go-openai errors onto ProviderError. Network and context
// failures pass through untouched.
func (c *ChatProvider) translateError(err error) error {
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	var urlErr *url.Error

	switch {
	case errors.As(err, &apiErr):
		return &ProviderError{Provider: c.Provider, StatusCode: apiErr.HTTPStatusCode, Message: apiErr.Message, Err: err}
	case errors.As(err, &reqErr):
		return &ProviderError{Provider: c.Provider, StatusCode: reqErr.HTTPStatusCode, Err: err}
	case errors.As(err, &urlErr), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return &ProviderError{Provider: c.Provider, Message: fmt.Sprintf("malformed response from %s", c.Provider), Err: err}
	}
}

func (c *ChatProvider) Normalize(kind InputKind, raw *RawResponse, count int) []string {
	if kind == KindImage {
		return []string{c.Clamper.Clamp(raw.Text)}
	}

	if items, ok := promptList(raw.Text); ok {
		return clampAll(c.Clamper, items)
	}
	fallbackParses.WithLabelValues(string(c.Provider)).Inc()
	return clampAll(c.Clamper, lineCandidates(raw.Text, count))
}
