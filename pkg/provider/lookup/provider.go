// Package lookup defines the Provider interface for fact-lookup services
// used by the current-events summarisation path.
//
// A lookup engine answers a free-text query with a small, bounded list of
// structured results (title, URL, source). The relay deduplicates and
// summarises the results; the engine itself performs no ranking beyond
// recency.
package lookup

import "context"

// Result is a single lookup hit.
type Result struct {
	// Title is the headline or document title.
	Title string

	// URL is the canonical link to the document.
	URL string

	// Source identifies the publisher. Used for deduplication.
	Source string
}

// Provider is the abstraction over a fact-lookup service.
type Provider interface {
	// Search returns up to limit recent results for query. A nil error with
	// an empty slice is a valid outcome (no fresh results).
	Search(ctx context.Context, query string, limit int) ([]Result, error)
}
