// Package retrieval searches the tenant's knowledge index for passages that
// ground a generation call.
package retrieval

import "errors"

type SourceKind string

const (
	SourceInternalHandbook   SourceKind = "internal_handbook"
	SourceExternalRegulation SourceKind = "external_regulation"
)

// Passage is one ranked search hit. Passages are produced per query and never
// persisted on their own.
type Passage struct {
	Title      string
	SourceKind SourceKind
	SourceURI  string
	Body       string
	Score      float64
}

var (
	ErrNoIndex              = errors.New("no retrieval index in tenant context")
	ErrRetrievalUnavailable = errors.New("retrieval backend unavailable")
	ErrRetrievalTimeout     = errors.New("retrieval timed out")
)
