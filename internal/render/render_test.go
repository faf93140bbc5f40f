package render

import (
	"bytes"
	"strings"
	"testing"

	"movierecommender/panel/internal/domain"
	"movierecommender/panel/internal/panel"
)

func TestFragmentRendersCardsInOrder(t *testing.T) {
	r := MustNew()
	view := panel.NewView(panel.State{
		Selected: "Inception",
		Outcome: panel.Succeeded([]domain.Recommendation{
			{MovieID: 1, Title: "Interstellar", SimilarityScore: 0.91},
			{MovieID: 2, Title: "The Prestige", SimilarityScore: 0.873},
		}),
	})

	html, err := r.Fragment(view)
	if err != nil {
		t.Fatalf("Fragment: %v", err)
	}
	first := strings.Index(html, "Interstellar")
	second := strings.Index(html, "The Prestige")
	if first < 0 || second < 0 || first > second {
		t.Fatalf("cards missing or out of order:\n%s", html)
	}
	for _, want := range []string{"#1", "#2", "Similarity: 91.0%", "Similarity: 87.3%", "Recommended Movies", "Selected Movie:"} {
		if !strings.Contains(html, want) {
			t.Errorf("fragment missing %q", want)
		}
	}
	if strings.Contains(html, `class="error"`) {
		t.Error("success fragment must not contain an error banner")
	}
}

func TestFragmentLoadingState(t *testing.T) {
	r := MustNew()
	html, err := r.Fragment(panel.NewView(panel.State{Selected: "Inception", Outcome: panel.Loading()}))
	if err != nil {
		t.Fatalf("Fragment: %v", err)
	}
	if !strings.Contains(html, "Finding similar movies...") {
		t.Error("expected loading indicator")
	}
	if !strings.Contains(html, "disabled") || !strings.Contains(html, "Finding...") {
		t.Errorf("expected busy disabled button:\n%s", html)
	}
}

func TestFragmentPlacesResultsBeforeLoadingIndicator(t *testing.T) {
	r := MustNew()
	view := panel.View{
		ButtonLabel: panel.ButtonBusyLabel,
		Loading:     true,
		LoadingText: panel.LoadingText,
		Cards:       []panel.Card{{Rank: 1, MovieID: 1, Title: "Interstellar", Similarity: "91.0%"}},
	}
	html, err := r.Fragment(view)
	if err != nil {
		t.Fatalf("Fragment: %v", err)
	}
	results := strings.Index(html, `class="results"`)
	loading := strings.Index(html, `class="loading"`)
	if results < 0 || loading < 0 {
		t.Fatalf("expected both results and loading blocks:\n%s", html)
	}
	if results > loading {
		t.Fatalf("results grid must precede the loading indicator:\n%s", html)
	}
}

func TestFragmentEscapesUserText(t *testing.T) {
	r := MustNew()
	view := panel.NewView(panel.State{
		Suggestions:     []string{`<script>alert(1)</script>`},
		ShowSuggestions: true,
		Outcome:         panel.Failed(panel.FailureServer, `<b>bad</b>`),
	})
	html, err := r.Fragment(view)
	if err != nil {
		t.Fatalf("Fragment: %v", err)
	}
	if strings.Contains(html, "<script>") || strings.Contains(html, "<b>bad") {
		t.Fatalf("unescaped user text:\n%s", html)
	}
	if !strings.Contains(html, `class="suggestions"`) {
		t.Fatal("expected dropdown")
	}
}

func TestFragmentHidesEmptyDropdown(t *testing.T) {
	r := MustNew()
	html, err := r.Fragment(panel.NewView(panel.State{ShowSuggestions: true, Suggestions: []string{}}))
	if err != nil {
		t.Fatalf("Fragment: %v", err)
	}
	if strings.Contains(html, `class="suggestions"`) {
		t.Fatal("empty suggestion list must not render a dropdown")
	}
}

func TestPageIncludesHeaderAndQuery(t *testing.T) {
	r := MustNew()
	var buf bytes.Buffer
	if err := r.Page(&buf, panel.NewView(panel.State{Query: "Incep"})); err != nil {
		t.Fatalf("Page: %v", err)
	}
	html := buf.String()
	for _, want := range []string{"Movie Recommender", "Discover your next favorite movie", `value="Incep"`, `id="panel-live"`, "Get Recommendations"} {
		if !strings.Contains(html, want) {
			t.Errorf("page missing %q", want)
		}
	}
}
