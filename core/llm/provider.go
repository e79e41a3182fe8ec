package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"google.golang.org/genai"
)

type ProviderID string

const (
	ProviderGemini  ProviderID = "gemini"
	ProviderGroq    ProviderID = "groq"
	ProviderMistral ProviderID = "mistral"
)

// Providers lists every supported provider in display order.
var Providers = []ProviderID{ProviderGemini, ProviderGroq, ProviderMistral}

// Native reports whether the provider is reached through the vendor SDK with an ambient key
// instead of a user-supplied credential.
func (p ProviderID) Native() bool { return p == ProviderGemini }

func ParseProvider(s string) (ProviderID, error) {
	switch id := ProviderID(strings.ToLower(strings.TrimSpace(s))); id {
	case ProviderGemini, ProviderGroq, ProviderMistral:
		return id, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownProvider, s)
	}
}

type InputKind int

const (
	KindText InputKind = iota
	KindImage
)

func (k InputKind) String() string {
	if k == KindImage {
		return "image"
	}
	return "text"
}

type Image struct {
	Data     []byte
	MIMEType string
	Name     string
}

// Input is either a text idea or an image, never both.
type Input struct {
	Text  string
	Image *Image
}

func TextInput(text string) Input { return Input{Text: text} }

func ImageInput(data []byte, mimeType, name string) Input {
	return Input{Image: &Image{Data: data, MIMEType: mimeType, Name: name}}
}

func (in Input) Kind() InputKind {
	if in.Image != nil {
		return KindImage
	}
	return KindText
}

func (in Input) Validate() error {
	hasText := strings.TrimSpace(in.Text) != ""
	hasImage := in.Image != nil
	switch {
	case hasText && hasImage:
		return fmt.Errorf("%w: both text and image supplied", ErrInvalidInput)
	case !hasText && !hasImage:
		return fmt.Errorf("%w: empty input", ErrInvalidInput)
	case hasImage && len(in.Image.Data) == 0:
		return fmt.Errorf("%w: image has no data", ErrInvalidInput)
	}
	return nil
}

// Credentials maps non-native providers to the caller's secret for them.
type Credentials map[ProviderID]string

// Request is the provider-specific request descriptor produced by Build.
type Request struct {
	Provider ProviderID
	Kind     InputKind
	Model    string
	Count    int

	// native provider
	Contents []*genai.Content
	Config   *genai.GenerateContentConfig

	// chat completion providers
	Chat *openai.ChatCompletionRequest
}

type RawResponse struct {
	Text string
}

type Provider interface {
	ID() ProviderID

	Build(in Input, count int) (*Request, error)

	Send(ctx context.Context, req *Request, key string) (*RawResponse, error)

	Normalize(kind InputKind, raw *RawResponse, count int) []string
}
