package llm

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

// imageProvider fails for images whose name starts with "bad".
type imageProvider struct {
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (p *imageProvider) ID() ProviderID { return ProviderMistral }

func (p *imageProvider) Build(in Input, _ int) (*Request, error) {
	return &Request{Provider: ProviderMistral, Kind: in.Kind(), Model: in.Image.Name, Count: 1}, nil
}

func (p *imageProvider) Send(_ context.Context, req *Request, _ string) (*RawResponse, error) {
	n := p.inFlight.Add(1)
	defer p.inFlight.Add(-1)
	for {
		peak := p.peak.Load()
		if n <= peak || p.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	time.Sleep(10 * time.Millisecond)

	if len(req.Model) >= 3 && req.Model[:3] == "bad" {
		return nil, &ProviderError{Provider: ProviderMistral, StatusCode: 400, Message: "unsupported image " + req.Model}
	}
	return &RawResponse{Text: "prompt for " + req.Model}, nil
}

func (p *imageProvider) Normalize(_ InputKind, raw *RawResponse, _ int) []string {
	return []string{raw.Text}
}

func imageItems(names ...string) []BatchItem {
	items := make([]BatchItem, len(names))
	for i, name := range names {
		items[i] = BatchItem{ID: fmt.Sprintf("img-%d", i), Input: ImageInput([]byte(name), "image/png", name)}
	}
	return items
}

func TestBatchIsolatesFailures(t *testing.T) {
	a := NewAdapter(&imageProvider{})
	results := a.GenerateBatch(context.Background(), ProviderMistral, imageItems("one.png", "bad.png", "three.png"), Credentials{ProviderMistral: "k"}, 3)

	want := []BatchResult{
		{ID: "img-0", Prompts: []string{"prompt for one.png"}},
		{ID: "img-1", Err: &ProviderError{Provider: ProviderMistral, StatusCode: 400, Message: "unsupported image bad.png"}},
		{ID: "img-2", Prompts: []string{"prompt for three.png"}},
	}
	if diff := cmp.Diff(want, results, cmp.Comparer(func(a, b error) bool {
		return a == nil && b == nil || a != nil && b != nil && a.Error() == b.Error()
	})); diff != "" {
		t.Fatalf("batch mismatch (-want +got):\n%s", diff)
	}
}

func TestBatchMissingCredentialPerItem(t *testing.T) {
	p := &imageProvider{}
	results := NewAdapter(p).GenerateBatch(context.Background(), ProviderMistral, imageItems("a.png", "b.png"), nil, 1)
	for _, r := range results {
		if !errors.Is(r.Err, ErrMissingCredential) {
			t.Errorf("%s: expected missing credential, got %v", r.ID, r.Err)
		}
	}
	if p.peak.Load() != 0 {
		t.Fatalf("provider was called without a credential")
	}
}

func TestBatchRespectsParallelism(t *testing.T) {
	p := &imageProvider{}
	a := NewAdapter(p)
	a.parallelism = 2

	results := a.GenerateBatch(context.Background(), ProviderMistral, imageItems("a", "b", "c", "d", "e", "f"), Credentials{ProviderMistral: "k"}, 1)
	if len(results) != 6 {
		t.Fatalf("got %d results", len(results))
	}
	for i, r := range results {
		if r.Err != nil || r.ID != fmt.Sprintf("img-%d", i) {
			t.Errorf("result %d = %+v", i, r)
		}
	}
	if peak := p.peak.Load(); peak > 2 {
		t.Fatalf("peak concurrency %d exceeds 2", peak)
	}
}

func TestBatchEmpty(t *testing.T) {
	if got := NewAdapter().GenerateBatch(context.Background(), ProviderGemini, nil, nil, 1); len(got) != 0 {
		t.Fatalf("got %d results for an empty batch", len(got))
	}
}
