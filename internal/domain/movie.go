package domain

// Recommendation is one ranked entry returned by the recommendation backend.
// SimilarityScore is backend-computed and lies in [0,1].
type Recommendation struct {
	MovieID         int64   `json:"movie_id"`
	Title           string  `json:"title"`
	SimilarityScore float64 `json:"similarity_score"`
}

type SearchResponse struct {
	Movies []string `json:"movies"`
}

type RecommendRequest struct {
	MovieTitle string `json:"movie_title"`
}

type RecommendResponse struct {
	InputMovie      string           `json:"input_movie,omitempty"`
	Recommendations []Recommendation `json:"recommendations"`
	Error           string           `json:"error,omitempty"`
}

type BackendHealth struct {
	Status     string `json:"status"`
	DataLoaded bool   `json:"data_loaded"`
}

func (h BackendHealth) Healthy() bool {
	return h.Status == "healthy" && h.DataLoaded
}
