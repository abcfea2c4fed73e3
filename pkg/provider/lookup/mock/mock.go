// Package mock provides a test double for the lookup.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxrelay/pkg/provider/lookup"
)

// SearchCall records a single invocation of Search.
type SearchCall struct {
	// Ctx is the context passed to Search.
	Ctx context.Context
	// Query is the query string passed to Search.
	Query string
	// Limit is the result bound passed to Search.
	Limit int
}

// Provider is a mock implementation of lookup.Provider.
type Provider struct {
	mu sync.Mutex

	// SearchResults is returned by Search.
	SearchResults []lookup.Result

	// SearchErr, if non-nil, is returned as the error from Search.
	SearchErr error

	// SearchCalls records every call to Search.
	SearchCalls []SearchCall
}

// Compile-time assertion that Provider satisfies lookup.Provider.
var _ lookup.Provider = (*Provider)(nil)

// Search records the call and returns SearchResults, SearchErr.
func (p *Provider) Search(ctx context.Context, query string, limit int) ([]lookup.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SearchCalls = append(p.SearchCalls, SearchCall{Ctx: ctx, Query: query, Limit: limit})
	if p.SearchErr != nil {
		return nil, p.SearchErr
	}
	out := make([]lookup.Result, len(p.SearchResults))
	copy(out, p.SearchResults)
	return out, nil
}
