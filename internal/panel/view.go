package panel

import (
	"math"
	"strconv"
	"strings"
)

const (
	HeaderTitle       = "🎬 Movie Recommender"
	HeaderSubtitle    = "Discover your next favorite movie"
	InputPlaceholder  = "Enter a movie title..."
	ButtonIdleLabel   = "Get Recommendations"
	ButtonBusyLabel   = "Finding..."
	LoadingText       = "Finding similar movies..."
	ResultsHeading    = "Recommended Movies"
	SelectedHeading   = "Selected Movie:"
	SimilarityCaption = "Similarity:"
)

// View is everything the page renders, derived from a State with no other
// input. Sections are listed in render order.
type View struct {
	Title          string   `json:"title"`
	Subtitle       string   `json:"subtitle"`
	Placeholder    string   `json:"placeholder"`
	Query          string   `json:"query"`
	ButtonLabel    string   `json:"buttonLabel"`
	ButtonDisabled bool     `json:"buttonDisabled"`
	Suggestions    []string `json:"suggestions"`
	Error          string   `json:"error,omitempty"`
	Selected       string   `json:"selected,omitempty"`
	Cards          []Card   `json:"cards"`
	Loading        bool     `json:"loading"`
	LoadingText    string   `json:"loadingText,omitempty"`
	Phase          Phase    `json:"phase"`
}

// Card is one recommendation in the result grid.
type Card struct {
	Rank       int    `json:"rank"`
	MovieID    int64  `json:"movieId"`
	Title      string `json:"title"`
	Similarity string `json:"similarity"`
}

func NewView(s State) View {
	loading := s.Outcome.IsLoading()
	view := View{
		Title:          HeaderTitle,
		Subtitle:       HeaderSubtitle,
		Placeholder:    InputPlaceholder,
		Query:          s.Query,
		ButtonLabel:    ButtonIdleLabel,
		ButtonDisabled: loading || strings.TrimSpace(s.Selected) == "",
		Suggestions:    []string{},
		Selected:       s.Selected,
		Cards:          []Card{},
		Loading:        loading,
		Phase:          s.Outcome.Phase,
	}
	if loading {
		view.ButtonLabel = ButtonBusyLabel
		view.LoadingText = LoadingText
	}
	if s.ShowSuggestions && len(s.Suggestions) > 0 {
		view.Suggestions = append(view.Suggestions, s.Suggestions...)
	}
	switch s.Outcome.Phase {
	case PhaseFailed:
		view.Error = s.Outcome.Err
	case PhaseSucceeded:
		view.Cards = make([]Card, 0, len(s.Outcome.Results))
		for i, rec := range s.Outcome.Results {
			view.Cards = append(view.Cards, Card{
				Rank:       i + 1,
				MovieID:    rec.MovieID,
				Title:      rec.Title,
				Similarity: FormatSimilarity(rec.SimilarityScore),
			})
		}
	}
	return view
}

// ShowSuggestions reports whether the dropdown is open.
func (v View) ShowSuggestions() bool {
	return len(v.Suggestions) > 0
}

// FormatSimilarity renders a [0,1] score as a percentage with one decimal,
// e.g. 0.873 -> "87.3%".
func FormatSimilarity(score float64) string {
	// Ties round up: 0.5625 shows as 56.3%.
	return strconv.FormatFloat(math.Floor(score*1000+0.5)/10, 'f', 1, 64) + "%"
}
