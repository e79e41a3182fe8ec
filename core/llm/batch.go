package llm

import (
	"context"
	"sync"
)

type BatchItem struct {
	ID    string
	Input Input
}

type BatchResult struct {
	ID      string
	Prompts []string
	Err     error
}

// GenerateBatch runs one Generate per item concurrently and waits for all of them.
// A failing item never cancels the others; results come back in item order.
func (a *Adapter) GenerateBatch(ctx context.Context, id ProviderID, items []BatchItem, creds Credentials, count int) []BatchResult {
	results := make([]BatchResult, len(items))
	if len(items) == 0 {
		return results
	}

	size := a.parallelism
	if size <= 0 || size > len(items) {
		size = len(items)
	}
	slots := make(chan struct{}, size)

	var wg sync.WaitGroup
	for i, item := range items {
		wg.Add(1)
		slots <- struct{}{}

		go func(i int, item BatchItem) {
			defer func() {
				<-slots
				wg.Done()
			}()
			prompts, err := a.Generate(ctx, id, item.Input, creds, count)
			results[i] = BatchResult{ID: item.ID, Prompts: prompts, Err: err}
		}(i, item)
	}
	wg.Wait()

	return results
}
