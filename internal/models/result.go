package models

// SearchResult is one ranked image.
type SearchResult struct {
	Image *Image  `json:"image"`
	Score float32 `json:"score"`
	Rank  int     `json:"rank"`
}

// SearchResponse is the response for a search request. Degraded is set when the text
// encoder is unavailable and the empty result does not reflect the index contents.
type SearchResponse struct {
	Results   []*SearchResult `json:"results"`
	Total     int             `json:"total"`
	QueryTime int64           `json:"query_time_ms"`
	Query     string          `json:"query"`
	Degraded  bool            `json:"degraded,omitempty"`
}
