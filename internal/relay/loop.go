package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxrelay/internal/observe"
	"github.com/MrWong99/voxrelay/pkg/provider/llm"
	"github.com/MrWong99/voxrelay/pkg/provider/lookup"
)

// State is the orchestration loop's per-turn state. The loop cycles
// Idle → AwaitingGeneration → Streaming → Finalizing → Idle once per turn;
// the session persists across turns.
type State int

// Loop states.
const (
	StateIdle State = iota
	StateAwaitingGeneration
	StateStreaming
	StateFinalizing
)

// String returns the state name for logging.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingGeneration:
		return "awaiting_generation"
	case StateStreaming:
		return "streaming"
	case StateFinalizing:
		return "finalizing"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Fixed user-visible fallback strings.
const (
	// apologyText is sent as the final text when a turn fails for any
	// reason other than quota exhaustion, and when generation is
	// unavailable.
	apologyText = "I'm having trouble coming up with a response right now. Please try again."

	// quotaText is sent as the final text when the generation engine
	// reports quota exhaustion.
	quotaText = "I'm out of thinking capacity at the moment. Please try again in a little while."

	// noNewsText is the final text when a lookup-path turn finds zero
	// fresh results.
	noNewsText = "I couldn't find any fresh news on that right now."
)

const (
	// defaultPersona is the system prompt used when no persona is
	// configured.
	defaultPersona = "You are a friendly, upbeat voice assistant. Keep replies short, conversational and easy to listen to."

	// defaultWordLimit caps the assistant reply length in words.
	defaultWordLimit = 100

	// defaultSummaryWordBudget caps the lookup-path summary in words.
	defaultSummaryWordBudget = 80

	// defaultChunkBudget is the character budget of one synthesis segment.
	defaultChunkBudget = 50

	// defaultHistoryWindow is how many stored history entries accompany a
	// generation request.
	defaultHistoryWindow = 8

	// defaultLookupLimit bounds how many lookup results feed a summary.
	defaultLookupLimit = 5

	// Generation parameters for conversational replies.
	defaultTemperature = 0.3
	defaultMaxTokens   = 1000
)

// defaultLookupTriggers are the phrases that route a turn to the
// lookup-and-summarize path. Matching is case-insensitive substring.
var defaultLookupTriggers = []string{
	"latest ai news",
	"tell me the news",
}

// Loop is the per-session orchestration state machine. It consumes
// finalized utterances, runs one strictly sequential turn per utterance —
// text production and audio production as two joined activities — and emits
// ordered events through the session's Mux.
//
// A turn-level failure never terminates the loop: the turn ends with an
// error event, a fixed fallback final text, and the unconditional
// final-audio marker.
type Loop struct {
	session *Session
	mux     *Mux
	llmP    llm.Provider    // nil when generation capability is absent
	bridge  *Bridge         // nil when synthesis capability is absent
	lookupP lookup.Provider // nil when lookup capability is absent
	log     *slog.Logger
	metrics *observe.Metrics

	persona        string
	model          string
	wordLimit      int
	summaryBudget  int
	chunkBudget    int
	historyWindow  int
	lookupLimit    int
	lookupTriggers []string

	mu    sync.Mutex
	state State
}

// LoopOption is a functional option for configuring a Loop.
type LoopOption func(*Loop)

// WithPersona sets the persona system prompt used for every generation
// request.
func WithPersona(persona string) LoopOption {
	return func(l *Loop) {
		if persona != "" {
			l.persona = persona
		}
	}
}

// WithWordLimit caps assistant replies at n words. Default is 100.
func WithWordLimit(n int) LoopOption {
	return func(l *Loop) {
		if n > 0 {
			l.wordLimit = n
		}
	}
}

// WithChunkBudget sets the synthesis segment character budget. Default
// is 50.
func WithChunkBudget(n int) LoopOption {
	return func(l *Loop) {
		if n > 0 {
			l.chunkBudget = n
		}
	}
}

// WithLookupTriggers replaces the trigger phrases that route a turn to the
// lookup path.
func WithLookupTriggers(triggers []string) LoopOption {
	return func(l *Loop) {
		if len(triggers) > 0 {
			l.lookupTriggers = triggers
		}
	}
}

// WithLookupLimit bounds how many lookup results feed a summary. Default
// is 5.
func WithLookupLimit(n int) LoopOption {
	return func(l *Loop) {
		if n > 0 {
			l.lookupLimit = n
		}
	}
}

// WithLoopLogger sets the logger. Default is slog.Default().
func WithLoopLogger(log *slog.Logger) LoopOption {
	return func(l *Loop) {
		if log != nil {
			l.log = log
		}
	}
}

// WithLoopMetrics wires metric instruments into the loop.
func WithLoopMetrics(m *observe.Metrics) LoopOption {
	return func(l *Loop) { l.metrics = m }
}

// NewLoop creates the orchestration loop for one session. llmP, bridge and
// lookupP may each be nil when the corresponding capability is absent; the
// loop then runs in the matching degraded mode.
func NewLoop(session *Session, mux *Mux, llmP llm.Provider, bridge *Bridge, lookupP lookup.Provider, opts ...LoopOption) *Loop {
	l := &Loop{
		session:        session,
		mux:            mux,
		llmP:           llmP,
		bridge:         bridge,
		lookupP:        lookupP,
		log:            slog.Default(),
		persona:        defaultPersona,
		wordLimit:      defaultWordLimit,
		summaryBudget:  defaultSummaryWordBudget,
		chunkBudget:    defaultChunkBudget,
		historyWindow:  defaultHistoryWindow,
		lookupLimit:    defaultLookupLimit,
		lookupTriggers: defaultLookupTriggers,
		state:          StateIdle,
	}
	for _, o := range opts {
		o(l)
	}
	l.log = l.log.With("session", session.ID())
	return l
}

// State returns the loop's current turn state.
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Loop) setState(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

// Run consumes finalized utterances from turns until the channel closes or
// ctx is cancelled, executing one turn at a time. It returns ctx.Err() on
// cancellation, nil otherwise.
func (l *Loop) Run(ctx context.Context, turns <-chan string) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case text, ok := <-turns:
			if !ok {
				return nil
			}
			l.RunTurn(ctx, text)
		}
	}
}

// RunTurn executes one complete turn for the finalized utterance userText.
// It never returns an error: every failure path ends in the same
// finalization step that emits the final-audio marker.
func (l *Loop) RunTurn(ctx context.Context, userText string) {
	start := time.Now()
	caps := l.session.Capabilities()

	l.send(NewTranscript(userText))
	l.setState(StateAwaitingGeneration)
	if l.bridge != nil {
		l.bridge.ResetChunkCounter()
	}

	if !caps.Generation || l.llmP == nil {
		l.log.Info("turn skipped, generation unavailable")
		l.finalizeTurn(userText, apologyText, false, false)
		return
	}

	lookupPath := caps.Lookup && l.lookupP != nil && l.isLookupQuery(userText)

	audioReady := l.prepareSynthesis(ctx, caps)
	l.setState(StateStreaming)

	var (
		finalText string
		links     []Link
	)

	g, gctx := errgroup.WithContext(ctx)
	textDone := make(chan string, 1)

	g.Go(func() error {
		defer close(textDone)
		var err error
		if lookupPath {
			finalText, links, err = l.produceSummary(gctx, userText)
		} else {
			finalText, err = l.produceReply(gctx, userText)
		}
		if err != nil {
			return err
		}
		textDone <- finalText
		return nil
	})

	g.Go(func() error {
		if !audioReady {
			return nil
		}
		text, ok := <-textDone
		if !ok || text == "" {
			return nil
		}
		l.streamAudio(gctx, text)
		return nil
	})

	err := g.Wait()

	l.setState(StateFinalizing)
	switch {
	case err == nil:
		if len(links) > 0 {
			l.send(NewRelatedLinks(links))
		}
		l.finalizeTurn(userText, finalText, len(links) > 0, true)
		l.log.Info("turn completed",
			"turn", l.session.Turns(),
			"lookupPath", lookupPath,
			"durationMs", time.Since(start).Milliseconds())
		if l.metrics != nil {
			l.metrics.TurnDuration.Record(ctx, time.Since(start).Seconds())
			l.metrics.RecordTurn(ctx, "ok")
		}
	case errors.Is(err, llm.ErrQuotaExhausted):
		l.log.Warn("turn failed, generation quota exhausted", "error", err)
		l.reportFailure(ctx, userText, quotaText)
	default:
		l.log.Error("turn failed", "error", err)
		l.reportFailure(ctx, userText, apologyText)
	}
}

// prepareSynthesis establishes the synthesis connection for this turn if
// the capability is present. A failed connect degrades the turn to
// text-only; the next turn retries.
func (l *Loop) prepareSynthesis(ctx context.Context, caps Capabilities) bool {
	if !caps.Synthesis || l.bridge == nil {
		return false
	}
	if err := l.bridge.EnsureConnected(ctx); err != nil {
		l.log.Warn("synthesis unavailable for this turn", "error", err)
		if l.metrics != nil {
			l.metrics.RecordProviderError(ctx, "synthesis", "connect")
		}
		return false
	}
	return true
}

// produceReply runs the direct generation path: it streams the reply,
// forwarding each fragment to the client, and returns the accumulated
// word-limited final text.
func (l *Loop) produceReply(ctx context.Context, userText string) (string, error) {
	start := time.Now()
	req := l.buildRequest(userText)
	chunks, err := l.llmP.StreamCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("relay: generation stream: %w", err)
	}

	var buf strings.Builder
	for chunk := range chunks {
		if chunk.Err != nil {
			return "", fmt.Errorf("relay: generation stream: %w", chunk.Err)
		}
		if chunk.Text == "" {
			continue
		}
		buf.WriteString(chunk.Text)
		l.send(NewTextFragment(chunk.Text))
	}
	if l.metrics != nil {
		l.metrics.GenerationDuration.Record(ctx, time.Since(start).Seconds())
	}
	return EnforceWordLimit(strings.TrimSpace(buf.String()), l.wordLimit), nil
}

// produceSummary runs the lookup path: bounded search, dedupe by source,
// one summarisation request. No incremental fragments are emitted; the
// summary alone becomes the final text. Zero results yield the fixed
// no-fresh-news text and no links.
func (l *Loop) produceSummary(ctx context.Context, userText string) (string, []Link, error) {
	results, err := l.lookupP.Search(ctx, userText, l.lookupLimit)
	if err != nil {
		return "", nil, fmt.Errorf("relay: lookup: %w", err)
	}
	results = dedupeBySource(results, l.lookupLimit)
	if len(results) == 0 {
		return noNewsText, nil, nil
	}

	resp, err := l.llmP.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: l.persona,
		Messages: []llm.Message{{
			Role:    string(RoleUser),
			Content: buildSummaryPrompt(results, l.summaryBudget),
		}},
		Temperature: defaultTemperature,
		MaxTokens:   defaultMaxTokens,
	})
	if err != nil {
		return "", nil, fmt.Errorf("relay: lookup summary: %w", err)
	}

	links := make([]Link, len(results))
	for i, r := range results {
		links[i] = Link{Title: r.Title, URL: r.URL}
	}
	text := EnforceWordLimit(strings.TrimSpace(resp.Content), l.wordLimit)
	return text, links, nil
}

// streamAudio runs the turn's audio production: segment submission and the
// output drain as two concurrent halves over the bridge. Synthesis
// failures degrade to a silent turn; the final-audio marker is emitted by
// finalization regardless.
func (l *Loop) streamAudio(ctx context.Context, finalText string) {
	segments := SplitIntoChunks(StripMarkup(finalText), l.chunkBudget)
	if len(segments) == 0 {
		return
	}

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := l.bridge.SendSegments(ctx, segments); err != nil {
			l.log.Warn("synthesis input failed", "error", err)
			if l.metrics != nil {
				l.metrics.RecordProviderError(ctx, "synthesis", "send")
			}
		}
	}()

	err := l.bridge.DrainTurn(ctx, func(chunkID int, audio string) {
		l.send(NewAudioChunk(chunkID, audio))
		if l.metrics != nil {
			l.metrics.AudioChunks.Add(ctx, 1)
		}
	})
	wg.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		l.log.Warn("synthesis output drain ended", "error", err)
	}
	if l.metrics != nil {
		l.metrics.SynthesisDuration.Record(ctx, time.Since(start).Seconds())
	}
}

// finalizeTurn emits the final-text event and the unconditional final-audio
// marker, records history when the final text is non-empty and generation
// succeeded, and returns the loop to Idle.
func (l *Loop) finalizeTurn(userText, finalText string, linksPending, record bool) {
	l.setState(StateFinalizing)
	l.send(NewFinalText(finalText, linksPending))
	l.send(NewFinalAudio())
	if l.bridge != nil {
		l.bridge.ResetChunkCounter()
	}
	if record && finalText != "" {
		l.session.AppendTurn(userText, finalText)
	}
	l.setState(StateIdle)
}

// reportFailure ends a failed turn: error event, fixed fallback text,
// final-audio marker. The fallback is not recorded in history.
func (l *Loop) reportFailure(ctx context.Context, userText, fallback string) {
	if l.metrics != nil {
		l.metrics.RecordProviderError(ctx, "generation", "turn")
		l.metrics.RecordTurn(ctx, "failed")
	}
	l.send(NewError(fallback))
	l.finalizeTurn(userText, fallback, false, false)
}

// buildRequest assembles the generation request: persona system prompt,
// the recent history window and the current user turn.
func (l *Loop) buildRequest(userText string) llm.CompletionRequest {
	window := l.session.Window(l.historyWindow)
	msgs := make([]llm.Message, 0, len(window)+1)
	for _, h := range window {
		msgs = append(msgs, llm.Message{Role: string(h.Role), Content: h.Text})
	}
	msgs = append(msgs, llm.Message{Role: string(RoleUser), Content: userText})
	return llm.CompletionRequest{
		SystemPrompt: l.persona,
		Messages:     msgs,
		Temperature:  defaultTemperature,
		MaxTokens:    defaultMaxTokens,
	}
}

// isLookupQuery reports whether text matches any configured trigger phrase,
// case-insensitively.
func (l *Loop) isLookupQuery(text string) bool {
	lower := strings.ToLower(text)
	for _, trigger := range l.lookupTriggers {
		if strings.Contains(lower, strings.ToLower(trigger)) {
			return true
		}
	}
	return false
}

func (l *Loop) send(ev Event) {
	if err := l.mux.Send(ev); err != nil {
		l.log.Debug("event not delivered", "kind", ev.Kind(), "error", err)
	}
}

// dedupeBySource keeps the first result per source identifier, bounded to
// limit entries. Results without a source are kept as-is.
func dedupeBySource(results []lookup.Result, limit int) []lookup.Result {
	seen := make(map[string]bool, len(results))
	out := results[:0:0]
	for _, r := range results {
		if r.Source != "" {
			if seen[r.Source] {
				continue
			}
			seen[r.Source] = true
		}
		out = append(out, r)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// buildSummaryPrompt asks the generator to summarise the lookup results
// within the word budget, staying in persona.
func buildSummaryPrompt(results []lookup.Result, wordBudget int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Summarise these recent headlines in at most %d words, conversationally and in your own voice. Do not read out URLs.\n", wordBudget)
	for _, r := range results {
		b.WriteString("- ")
		b.WriteString(r.Title)
		if r.Source != "" {
			fmt.Fprintf(&b, " (%s)", r.Source)
		}
		b.WriteByte('\n')
	}
	return b.String()
}
