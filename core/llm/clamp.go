package llm

import (
	"math/rand/v2"
	"strings"
	"sync"
	"unicode/utf8"
)

const (
	MinPromptLength = 50
	MaxPromptLength = 300

	paddedLength = MinPromptLength + 1
	ellipsis     = "..."
)

var enrichmentSuffixes = []string{
	", cinematic lighting, 8k resolution, highly detailed artstation trend",
	", ultra-realistic, masterwork, sharp focus, vibrant colors",
	", breathtaking composition, ethereal atmosphere, professional photography",
}

// Picker returns an index in [0, n).
type Picker func(n int) int

// NewSeededPicker returns a Picker that yields the same sequence for the same seed.
// It is safe for concurrent use.
func NewSeededPicker(seed uint64) Picker {
	var mu sync.Mutex
	r := rand.New(rand.NewPCG(seed, seed))
	return func(n int) int {
		mu.Lock()
		defer mu.Unlock()
		return r.IntN(n)
	}
}

// Clamper normalises model output into the 50..300 character prompt contract.
type Clamper struct {
	Pick Picker
}

// ClampPrompt clamps with a randomly chosen enrichment suffix.
func ClampPrompt(raw string) string {
	return Clamper{}.Clamp(raw)
}

func (c Clamper) Clamp(raw string) string {
	pick := c.Pick
	if pick == nil {
		pick = rand.IntN
	}

	p := strings.TrimSpace(raw)
	p = unwrap(p, `"`)
	p = unwrap(p, "`")
	p = strings.TrimSpace(p)

	if utf8.RuneCountInString(p) < MinPromptLength {
		p += enrichmentSuffixes[pick(len(enrichmentSuffixes))]
	}

	n := utf8.RuneCountInString(p)
	if n < MinPromptLength {
		// trailing pad is kept, the string was trimmed above
		return p + strings.Repeat(" ", paddedLength-n)
	}

	if n > MaxPromptLength {
		r := []rune(p)
		p = string(r[:MaxPromptLength-len(ellipsis)]) + ellipsis
	}
	return p
}

func unwrap(s, quote string) string {
	if !strings.HasPrefix(s, quote) || !strings.HasSuffix(s, quote) {
		return s
	}
	if len(s) < 2*len(quote) {
		return ""
	}
	return s[len(quote) : len(s)-len(quote)]
}
