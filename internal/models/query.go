package models

import (
	"fmt"
	"strings"
)

// DefaultSearchLimit is the number of results returned when no limit is given.
const DefaultSearchLimit = 50

// SearchQuery represents a text-to-image search request.
type SearchQuery struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

// Validate ensures the query text is non-empty and normalizes the limit: non-positive
// becomes defaultLimit, anything above maxLimit is capped. Zero arguments fall back to
// DefaultSearchLimit and no cap.
func (q *SearchQuery) Validate(defaultLimit, maxLimit int) error {
	q.Query = strings.TrimSpace(q.Query)
	if q.Query == "" {
		return fmt.Errorf("query cannot be empty")
	}
	if defaultLimit <= 0 {
		defaultLimit = DefaultSearchLimit
	}
	if q.Limit <= 0 {
		q.Limit = defaultLimit
	}
	if maxLimit > 0 && q.Limit > maxLimit {
		q.Limit = maxLimit
	}
	return nil
}
