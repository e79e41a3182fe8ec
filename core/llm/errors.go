package llm

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrMissingCredential = errors.New("missing credential")
	ErrProvider          = errors.New("provider error")
	ErrInvalidInput      = errors.New("invalid input")
	ErrUnknownProvider   = errors.New("unknown provider")
)

// MissingCredentialError is returned before any network call when a chat provider has no key.
type MissingCredentialError struct {
	Provider ProviderID
}

func (e *MissingCredentialError) Error() string {
	return fmt.Sprintf("%s API key is missing", strings.ToUpper(string(e.Provider)))
}

func (e *MissingCredentialError) Is(target error) bool {
	return target == ErrMissingCredential
}

// ProviderError covers non-2xx responses and responses that could not be read into the
// expected shape. Message is the provider's own error message when it sent one.
type ProviderError struct {
	Provider   ProviderID
	StatusCode int
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return genericProviderMessage(e.Provider)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

func (e *ProviderError) Is(target error) bool {
	return target == ErrProvider
}

func genericProviderMessage(p ProviderID) string {
	return fmt.Sprintf("API error from %s", p)
}
