package panel

import (
	"testing"

	"movierecommender/panel/internal/domain"
)

func TestFormatSimilarity(t *testing.T) {
	tests := []struct {
		score float64
		want  string
	}{
		{0.873, "87.3%"},
		{0.91, "91.0%"},
		{1, "100.0%"},
		{0, "0.0%"},
		{0.12345, "12.3%"},
		{0.9996, "100.0%"},
		{0.05, "5.0%"},
		{0.5625, "56.3%"},
		{0.0625, "6.3%"},
		{0.8125, "81.3%"},
	}
	for _, tt := range tests {
		if got := FormatSimilarity(tt.score); got != tt.want {
			t.Errorf("FormatSimilarity(%v) = %q, want %q", tt.score, got, tt.want)
		}
	}
}

func TestNewViewIdle(t *testing.T) {
	view := NewView(State{Outcome: Idle()})
	if view.Title != HeaderTitle || view.Subtitle != HeaderSubtitle {
		t.Fatalf("unexpected header %q / %q", view.Title, view.Subtitle)
	}
	if !view.ButtonDisabled {
		t.Fatal("button must be disabled without a selection")
	}
	if view.ButtonLabel != ButtonIdleLabel {
		t.Fatalf("button label = %q", view.ButtonLabel)
	}
	if view.Loading || view.Error != "" || len(view.Cards) != 0 || view.ShowSuggestions() {
		t.Fatalf("idle view not empty: %+v", view)
	}
}

func TestNewViewHiddenDropdownSuppressesSuggestions(t *testing.T) {
	state := State{Suggestions: []string{"Inception"}, ShowSuggestions: false, Outcome: Idle()}
	if NewView(state).ShowSuggestions() {
		t.Fatal("dropdown must follow ShowSuggestions")
	}
	state.ShowSuggestions = true
	view := NewView(state)
	if !view.ShowSuggestions() || view.Suggestions[0] != "Inception" {
		t.Fatalf("dropdown not shown: %+v", view.Suggestions)
	}
}

func TestNewViewCardsRankedInResponseOrder(t *testing.T) {
	results := []domain.Recommendation{
		{MovieID: 10, Title: "Interstellar", SimilarityScore: 0.91},
		{MovieID: 20, Title: "The Prestige", SimilarityScore: 0.873},
		{MovieID: 30, Title: "Memento", SimilarityScore: 0.95},
	}
	view := NewView(State{Selected: "Inception", Outcome: Succeeded(results)})

	if len(view.Cards) != len(results) {
		t.Fatalf("expected %d cards, got %d", len(results), len(view.Cards))
	}
	for i, card := range view.Cards {
		if card.Rank != i+1 {
			t.Errorf("card %d rank = %d", i, card.Rank)
		}
		if card.Title != results[i].Title || card.MovieID != results[i].MovieID {
			t.Errorf("card %d = %+v, want %+v", i, card, results[i])
		}
	}
	if view.Cards[1].Similarity != "87.3%" {
		t.Fatalf("similarity = %q", view.Cards[1].Similarity)
	}
	if view.ButtonDisabled {
		t.Fatal("button must be enabled with a selection")
	}
	if view.Error != "" {
		t.Fatal("results and error must be exclusive")
	}
}

func TestNewViewFailureShowsBannerOnly(t *testing.T) {
	view := NewView(State{Selected: "X", Outcome: Failed(FailureServer, "Movie 'X' not found in database")})
	if view.Error != "Movie 'X' not found in database" {
		t.Fatalf("error = %q", view.Error)
	}
	if len(view.Cards) != 0 || view.Loading {
		t.Fatalf("failure view must have no cards and no spinner: %+v", view)
	}
	if view.Selected != "X" {
		t.Fatalf("selected readout = %q", view.Selected)
	}
}

func TestNewViewLoading(t *testing.T) {
	view := NewView(State{Selected: "Inception", Outcome: Loading()})
	if !view.Loading || view.LoadingText != LoadingText {
		t.Fatalf("expected spinner, got %+v", view)
	}
	if !view.ButtonDisabled || view.ButtonLabel != ButtonBusyLabel {
		t.Fatalf("button must be busy: %+v", view)
	}
	if view.Error != "" || len(view.Cards) != 0 {
		t.Fatalf("loading view must be clean: %+v", view)
	}
}

func TestPhaseString(t *testing.T) {
	tests := map[Phase]string{
		PhaseIdle:      "idle",
		PhaseLoading:   "loading",
		PhaseSucceeded: "succeeded",
		PhaseFailed:    "failed",
		Phase(42):      "unknown(42)",
	}
	for phase, want := range tests {
		if got := phase.String(); got != want {
			t.Errorf("Phase(%d).String() = %q, want %q", int(phase), got, want)
		}
	}
}
