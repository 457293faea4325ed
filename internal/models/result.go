package models

// MatchResult is a single ranked match for a query image.
type MatchResult struct {
	Filename string `json:"filename"`
	Answer   string `json:"answer"`
	// Similarity is the raw cosine similarity between embeddings.
	Similarity float64 `json:"similarity"`
	// LocalScore is the ORB similarity when re-ranking ran.
	LocalScore *float64 `json:"local_score,omitempty"`
	// Score is the value results are ordered by: the blended score after
	// re-ranking, otherwise Similarity.
	Score      float64 `json:"score"`
	Confidence float64 `json:"confidence"`
	Rank       int     `json:"rank"`
	ID         int64   `json:"id"`
}

// MatchResponse is the response for a match request.
type MatchResponse struct {
	Matches []*MatchResult `json:"matches"`
	// Margin is the cosine gap between the first and second match, 0 when fewer than two.
	Margin    float64 `json:"margin"`
	Reranked  bool    `json:"reranked"`
	QueryTime int64   `json:"query_time_ms"`
}
