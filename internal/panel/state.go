package panel

import (
	"fmt"

	"movierecommender/panel/internal/domain"
)

const (
	MsgSelectFirst       = "Please select a movie first"
	MsgRecommendFallback = "Failed to get recommendations"
	MsgConnectFailure    = "Failed to connect to the recommendation service"
)

// Phase is the state of the recommend flow.
type Phase int

const (
	PhaseIdle      Phase = iota
	PhaseLoading         // request in flight
	PhaseSucceeded       // results available
	PhaseFailed          // error message available
)

var phaseNames = [...]string{"idle", "loading", "succeeded", "failed"}

func (p Phase) String() string {
	if int(p) >= 0 && int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return fmt.Sprintf("unknown(%d)", int(p))
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// FailureKind classifies a failed outcome.
type FailureKind int

const (
	FailureNone       FailureKind = iota
	FailureValidation             // empty selection, no request made
	FailureServer                 // backend reported an error
	FailureConnect                // backend unreachable or answer unreadable
)

var failureNames = [...]string{"", "validation", "server_error", "connect_error"}

func (k FailureKind) String() string {
	if int(k) >= 0 && int(k) < len(failureNames) {
		return failureNames[k]
	}
	return fmt.Sprintf("unknown(%d)", int(k))
}

func (k FailureKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Outcome is the tagged result of the recommend flow. Results is only set in
// PhaseSucceeded and Err only in PhaseFailed; use the constructors.
type Outcome struct {
	Phase   Phase                   `json:"phase"`
	Results []domain.Recommendation `json:"results,omitempty"`
	Err     string                  `json:"error,omitempty"`
	Failure FailureKind             `json:"failure,omitempty"`
}

func Idle() Outcome {
	return Outcome{Phase: PhaseIdle}
}

func Loading() Outcome {
	return Outcome{Phase: PhaseLoading}
}

func Succeeded(results []domain.Recommendation) Outcome {
	if results == nil {
		results = []domain.Recommendation{}
	}
	return Outcome{Phase: PhaseSucceeded, Results: results}
}

func Failed(kind FailureKind, message string) Outcome {
	return Outcome{Phase: PhaseFailed, Err: message, Failure: kind}
}

func (o Outcome) IsLoading() bool {
	return o.Phase == PhaseLoading
}

// State is a snapshot of everything the panel shows.
type State struct {
	Query           string   `json:"query"`
	Suggestions     []string `json:"suggestions"`
	ShowSuggestions bool     `json:"showSuggestions"`
	Selected        string   `json:"selected"`
	Outcome         Outcome  `json:"outcome"`
}

func (s State) clone() State {
	out := s
	if s.Suggestions != nil {
		out.Suggestions = make([]string, len(s.Suggestions))
		copy(out.Suggestions, s.Suggestions)
	}
	if s.Outcome.Results != nil {
		out.Outcome.Results = make([]domain.Recommendation, len(s.Outcome.Results))
		copy(out.Outcome.Results, s.Outcome.Results)
	}
	return out
}
