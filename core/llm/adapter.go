package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Adapter dispatches prompt generation to one of the registered providers.
// It keeps no state between calls.
type Adapter struct {
	providers   map[ProviderID]Provider
	logger      zerolog.Logger
	parallelism int
}

func NewAdapter(providers ...Provider) *Adapter {
	a := &Adapter{
		providers: make(map[ProviderID]Provider, len(providers)),
		logger:    zerolog.Nop(),
	}
	for _, p := range providers {
		a.providers[p.ID()] = p
	}
	return a
}

func (a *Adapter) Provider(id ProviderID) (Provider, bool) {
	p, ok := a.providers[id]
	return p, ok
}

// NativeKeyAvailable reports whether the ambient Gemini key is currently set.
func (a *Adapter) NativeKeyAvailable() bool {
	g, ok := a.providers[ProviderGemini].(*GeminiProvider)
	return ok && g.HasKey()
}

// Generate turns in into up to count prompts. count is expected to be clamped by the
// caller and is passed through as is.
func (a *Adapter) Generate(ctx context.Context, id ProviderID, in Input, creds Credentials, count int) (prompts []string, err error) {
	start := time.Now()
	kind := in.Kind()
	defer func() {
		generations.WithLabelValues(string(id), kind.String(), outcome(err)).Inc()
		generationDuration.WithLabelValues(string(id), kind.String()).Observe(time.Since(start).Seconds())
	}()

	if err := in.Validate(); err != nil {
		return nil, err
	}

	provider, ok := a.providers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, id)
	}

	var key string
	if !id.Native() {
		key = strings.TrimSpace(creds[id])
		if key == "" {
			return nil, &MissingCredentialError{Provider: id}
		}
	}

	req, err := provider.Build(in, count)
	if err != nil {
		return nil, err
	}

	a.logger.Debug().
		Str("provider", string(id)).
		Str("mode", kind.String()).
		Str("model", req.Model).
		Int("count", count).
		Msg("sending prompt generation request")

	raw, err := provider.Send(ctx, req, key)
	if err != nil {
		a.logger.Warn().Err(err).Str("provider", string(id)).Str("mode", kind.String()).Msg("prompt generation failed")
		return nil, err
	}

	prompts = provider.Normalize(kind, raw, count)
	if len(prompts) == 0 {
		return nil, &ProviderError{Provider: id, Message: "provider returned no prompts"}
	}

	a.logger.Debug().
		Str("provider", string(id)).
		Int("prompts", len(prompts)).
		Dur("took", time.Since(start)).
		Msg("prompt generation finished")
	return prompts, nil
}
