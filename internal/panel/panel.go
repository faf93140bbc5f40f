package panel

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/text/unicode/norm"

	"movierecommender/panel/internal/backend"
	"movierecommender/panel/internal/domain"
	"movierecommender/panel/internal/metrics"
	"movierecommender/panel/internal/telemetry"
)

const (
	DefaultDebounce      = 300 * time.Millisecond
	DefaultMinQueryChars = 2

	eventBuffer = 64
)

var ErrClosed = errors.New("panel closed")

// Backend is the recommendation service as seen by the panel.
type Backend interface {
	Search(ctx context.Context, query string) ([]string, error)
	Recommend(ctx context.Context, title string) ([]domain.Recommendation, error)
}

// Panel is one search-and-recommend session. All state is owned by a single
// event-loop goroutine; timers and network completions are delivered to it as
// events, so observers always see a consistent snapshot.
type Panel struct {
	backend Backend
	logger  *slog.Logger

	debouncer     *Debouncer
	minQueryChars int
	discardStale  bool

	events chan event
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	calls  sync.WaitGroup

	closeOnce sync.Once

	// owned by the loop
	state       State
	suggestSeq  uint64
	observers   map[uint64]func(State)
	nextObserve uint64
}

type Option func(*Panel)

func WithDebounce(delay time.Duration) Option {
	return func(p *Panel) {
		p.debouncer = NewDebouncer(delay)
	}
}

func WithMinQueryChars(n int) Option {
	return func(p *Panel) {
		if n > 0 {
			p.minQueryChars = n
		}
	}
}

// WithDiscardStaleSuggestions drops suggestion responses that belong to a
// fetch older than the latest one dispatched.
func WithDiscardStaleSuggestions(discard bool) Option {
	return func(p *Panel) {
		p.discardStale = discard
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Panel) {
		p.logger = logger
	}
}

func New(b Backend, options ...Option) *Panel {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Panel{
		backend:       b,
		logger:        slog.Default(),
		minQueryChars: DefaultMinQueryChars,
		events:        make(chan event, eventBuffer),
		done:          make(chan struct{}),
		ctx:           ctx,
		cancel:        cancel,
		state:         State{Outcome: Idle()},
		observers:     make(map[uint64]func(State)),
	}
	for _, option := range options {
		if option != nil {
			option(p)
		}
	}
	if p.debouncer == nil {
		p.debouncer = NewDebouncer(DefaultDebounce)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	go p.run()
	return p
}

// SetQuery records a keystroke and restarts the suggestion debounce.
func (p *Panel) SetQuery(text string) error {
	return p.post(queryChanged{text: text})
}

// Select picks a suggestion: it becomes the selected title and the query
// text, and the dropdown is hidden.
func (p *Panel) Select(title string) error {
	return p.post(titleSelected{title: title})
}

// Submit requests recommendations for the selected title.
func (p *Panel) Submit() error {
	return p.post(submitted{})
}

// Snapshot returns the state after every event posted before the call has
// been applied.
func (p *Panel) Snapshot(ctx context.Context) (State, error) {
	reply := make(chan State, 1)
	if err := p.post(snapshotRequest{reply: reply}); err != nil {
		return State{}, err
	}
	select {
	case state := <-reply:
		return state, nil
	case <-p.done:
		return State{}, ErrClosed
	case <-ctx.Done():
		return State{}, ctx.Err()
	}
}

// Subscribe registers fn to receive the current state and then a snapshot
// after every change. fn runs on the panel loop and must not block. The
// returned func unsubscribes.
func (p *Panel) Subscribe(fn func(State)) (unsubscribe func()) {
	reply := make(chan uint64, 1)
	if err := p.post(subscribeRequest{fn: fn, reply: reply}); err != nil {
		return func() {}
	}
	var id uint64
	select {
	case id = <-reply:
	case <-p.done:
		return func() {}
	}
	var once sync.Once
	return func() {
		once.Do(func() { _ = p.post(unsubscribeRequest{id: id}) })
	}
}

// Done is closed once the panel loop has stopped.
func (p *Panel) Done() <-chan struct{} {
	return p.done
}

// Close stops the debounce timer, cancels in-flight backend calls and stops
// the loop. It is safe to call more than once.
func (p *Panel) Close() {
	p.closeOnce.Do(func() {
		p.debouncer.Stop()
		p.cancel()
		<-p.done
		p.calls.Wait()
	})
}

func (p *Panel) post(ev event) error {
	select {
	case <-p.done:
		return ErrClosed
	default:
	}
	select {
	case p.events <- ev:
		return nil
	case <-p.done:
		return ErrClosed
	}
}

func (p *Panel) run() {
	defer close(p.done)
	for {
		select {
		case <-p.ctx.Done():
			return
		case ev := <-p.events:
			p.handle(ev)
		}
	}
}

func (p *Panel) handle(ev event) {
	switch e := ev.(type) {
	case queryChanged:
		p.state.Query = e.text
		p.scheduleSuggestions(e.text)
		p.notify()
	case debounceFired:
		p.onDebounceFired(e)
	case suggestionsLoaded:
		p.onSuggestionsLoaded(e)
	case titleSelected:
		changed := p.state.Query != e.title
		p.state.Selected = e.title
		p.state.Query = e.title
		p.state.ShowSuggestions = false
		if changed {
			p.scheduleSuggestions(e.title)
		}
		p.notify()
	case submitted:
		p.onSubmit()
	case recommendDone:
		p.onRecommendDone(e)
	case snapshotRequest:
		e.reply <- p.state.clone()
	case subscribeRequest:
		p.nextObserve++
		p.observers[p.nextObserve] = e.fn
		e.reply <- p.nextObserve
		e.fn(p.state.clone())
	case unsubscribeRequest:
		delete(p.observers, e.id)
	}
}

func (p *Panel) scheduleSuggestions(text string) {
	p.debouncer.Trigger(func(gen uint64) {
		_ = p.post(debounceFired{gen: gen, text: text})
	})
}

func (p *Panel) onDebounceFired(e debounceFired) {
	if e.gen != p.debouncer.Generation() {
		return
	}
	if queryLength(e.text) < p.minQueryChars {
		// Invalidate fetches still in flight for the previous text.
		p.suggestSeq++
		p.state.Suggestions = nil
		p.state.ShowSuggestions = false
		p.notify()
		return
	}

	p.suggestSeq++
	seq := p.suggestSeq
	text := e.text
	p.calls.Add(1)
	go func() {
		defer p.calls.Done()
		ctx, span := telemetry.Tracer().Start(p.ctx, "panel.suggest")
		span.SetAttributes(attribute.String("panel.query", text))
		movies, err := p.backend.Search(ctx, text)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		_ = p.post(suggestionsLoaded{seq: seq, query: text, movies: movies, err: err})
	}()
}

func (p *Panel) onSuggestionsLoaded(e suggestionsLoaded) {
	if e.err != nil {
		if errors.Is(e.err, context.Canceled) {
			return
		}
		p.logger.Warn("suggestion fetch failed",
			slog.String("query", truncate(e.query, 80)),
			slog.String("error", e.err.Error()),
		)
		return
	}
	if p.discardStale && e.seq < p.suggestSeq {
		metrics.SuggestionsDiscardedTotal.Inc()
		p.logger.Debug("stale suggestions discarded",
			slog.String("query", truncate(e.query, 80)),
			slog.Uint64("seq", e.seq),
			slog.Uint64("latest", p.suggestSeq),
		)
		return
	}
	movies := e.movies
	if movies == nil {
		movies = []string{}
	}
	p.state.Suggestions = movies
	p.state.ShowSuggestions = true
	p.notify()
}

func (p *Panel) onSubmit() {
	if p.state.Outcome.IsLoading() {
		p.logger.Debug("submit ignored while a request is in flight")
		return
	}
	title := p.state.Selected
	if strings.TrimSpace(title) == "" {
		metrics.RecommendOutcomesTotal.WithLabelValues(FailureValidation.String()).Inc()
		p.state.Outcome = Failed(FailureValidation, MsgSelectFirst)
		p.notify()
		return
	}

	p.state.Outcome = Loading()
	p.notify()

	p.calls.Add(1)
	go func() {
		defer p.calls.Done()
		ctx, span := telemetry.Tracer().Start(p.ctx, "panel.recommend")
		span.SetAttributes(attribute.String("panel.movie_title", title))
		results, err := p.backend.Recommend(ctx, title)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(attribute.Int("panel.recommendations", len(results)))
		}
		span.End()
		_ = p.post(recommendDone{title: title, results: results, err: err})
	}()
}

func (p *Panel) onRecommendDone(e recommendDone) {
	outcome := classifyRecommendResult(e.results, e.err)
	if outcome.Phase == PhaseSucceeded {
		metrics.RecommendOutcomesTotal.WithLabelValues("succeeded").Inc()
	} else {
		metrics.RecommendOutcomesTotal.WithLabelValues(outcome.Failure.String()).Inc()
		p.logger.Warn("recommendation request failed",
			slog.String("title", truncate(e.title, 80)),
			slog.String("failure", outcome.Failure.String()),
			slog.String("error", e.err.Error()),
		)
	}
	// Leaving Loading is the last step of the transition.
	p.state.Outcome = outcome
	p.notify()
}

func classifyRecommendResult(results []domain.Recommendation, err error) Outcome {
	if err == nil {
		return Succeeded(results)
	}
	var serviceErr *backend.ServiceError
	if errors.As(err, &serviceErr) {
		message := serviceErr.Message
		if message == "" {
			message = MsgRecommendFallback
		}
		return Failed(FailureServer, message)
	}
	return Failed(FailureConnect, MsgConnectFailure)
}

func (p *Panel) notify() {
	if len(p.observers) == 0 {
		return
	}
	snapshot := p.state.clone()
	for _, fn := range p.observers {
		fn(snapshot)
	}
}

// queryLength counts characters of the NFC form so composed and decomposed
// input of the same text behave alike.
func queryLength(text string) int {
	return utf8.RuneCountInString(norm.NFC.String(text))
}

// truncate caps value at limit bytes without splitting a UTF-8 sequence.
func truncate(value string, limit int) string {
	if limit <= 0 || len(value) <= limit {
		return value
	}
	suffix := "..."
	if limit <= len(suffix) {
		suffix = ""
	}
	cut := limit - len(suffix)
	for cut > 0 && !utf8.RuneStart(value[cut]) {
		cut--
	}
	return value[:cut] + suffix
}

type event interface{}

type queryChanged struct{ text string }

type debounceFired struct {
	gen  uint64
	text string
}

type suggestionsLoaded struct {
	seq    uint64
	query  string
	movies []string
	err    error
}

type titleSelected struct{ title string }

type submitted struct{}

type recommendDone struct {
	title   string
	results []domain.Recommendation
	err     error
}

type snapshotRequest struct{ reply chan State }

type subscribeRequest struct {
	fn    func(State)
	reply chan uint64
}

type unsubscribeRequest struct{ id uint64 }
