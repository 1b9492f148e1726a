package storage

import "context"

// StoreItem is one entry of a StoreBatch call.
type StoreItem struct {
	Name string
	Data []byte
}

// BatchResult is the outcome for one item of a batch, in input order.
// Data is only set by RetrieveBatch.
type BatchResult struct {
	Err  error
	Name string
	Data []byte
}

// StoreBatch stores every item independently. A failure on one item does
// not prevent attempts on the others.
func (e *Engine) StoreBatch(ctx context.Context, items []StoreItem) []BatchResult {
	results := make([]BatchResult, len(items))
	for i, item := range items {
		results[i] = BatchResult{Name: item.Name, Err: e.Store(ctx, item.Name, item.Data)}
	}
	return results
}

// RetrieveBatch retrieves every name independently.
func (e *Engine) RetrieveBatch(ctx context.Context, names []string) []BatchResult {
	results := make([]BatchResult, len(names))
	for i, name := range names {
		data, err := e.Retrieve(ctx, name)
		results[i] = BatchResult{Name: name, Data: data, Err: err}
	}
	return results
}

// DeleteBatch deletes every name independently.
func (e *Engine) DeleteBatch(ctx context.Context, names []string) []BatchResult {
	results := make([]BatchResult, len(names))
	for i, name := range names {
		results[i] = BatchResult{Name: name, Err: e.Delete(ctx, name)}
	}
	return results
}

// FirstError returns the first failed result's error, or nil.
func FirstError(results []BatchResult) error {
	for _, r := range results {
		if r.Err != nil {
			return r.Err
		}
	}
	return nil
}
