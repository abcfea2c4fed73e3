package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/MrWong99/voxrelay/pkg/provider/llm"
	llmmock "github.com/MrWong99/voxrelay/pkg/provider/llm/mock"
	"github.com/MrWong99/voxrelay/pkg/provider/lookup"
	lookupmock "github.com/MrWong99/voxrelay/pkg/provider/lookup/mock"
	"github.com/MrWong99/voxrelay/pkg/provider/tts"
	ttsmock "github.com/MrWong99/voxrelay/pkg/provider/tts/mock"
)

// turnFixture wires a loop with mock providers and a recording writer.
type turnFixture struct {
	session *Session
	writer  *recordWriter
	mux     *Mux
	llm     *llmmock.Provider
	handle  *ttsmock.Handle
	lookup  *lookupmock.Provider
	loop    *Loop
}

// newTurnFixture builds a fully-capable session. Callers blank credentials
// or providers to exercise degraded modes.
func newTurnFixture(t *testing.T, creds Credentials, opts ...LoopOption) *turnFixture {
	t.Helper()
	f := &turnFixture{
		session: NewSession(creds),
		writer:  &recordWriter{},
		llm: &llmmock.Provider{
			StreamChunks: []llm.Chunk{
				{Text: "Hi"},
				{Text: " there."},
				{FinishReason: "stop"},
			},
			CompleteResponse: &llm.CompletionResponse{Content: "Summary of the news."},
		},
		handle: ttsmock.NewHandle(),
		lookup: &lookupmock.Provider{},
	}
	f.mux = NewMux(f.writer)
	t.Cleanup(func() { _ = f.mux.Close() })

	bridge := NewBridge(&ttsmock.Provider{Handle: f.handle}, tts.VoiceProfile{ID: "v1"})
	f.loop = NewLoop(f.session, f.mux, f.llm, bridge, f.lookup, opts...)
	return f
}

// events flushes the mux and returns the delivered events decoded into
// generic maps, in delivery order.
func (f *turnFixture) events(t *testing.T) []map[string]any {
	t.Helper()
	_ = f.mux.Close()
	f.writer.mu.Lock()
	defer f.writer.mu.Unlock()
	out := make([]map[string]any, len(f.writer.data))
	for i, d := range f.writer.data {
		m := map[string]any{}
		if err := json.Unmarshal(d, &m); err != nil {
			t.Fatalf("event %d: %v", i, err)
		}
		out[i] = m
	}
	return out
}

func kindsOf(events []map[string]any) []string {
	kinds := make([]string, len(events))
	for i, ev := range events {
		kinds[i], _ = ev["type"].(string)
	}
	return kinds
}

func fullCreds() Credentials {
	return Credentials{Recognition: "r", Generation: "g", Synthesis: "s", Lookup: "l"}
}

func TestLoop_DirectTurn(t *testing.T) {
	t.Parallel()

	f := newTurnFixture(t, fullCreds())
	f.handle.Emit(tts.Event{Audio: "YQ=="})
	f.handle.Emit(tts.Event{Audio: "Yg==", Final: true})

	f.loop.RunTurn(context.Background(), "hello")

	events := f.events(t)
	kinds := kindsOf(events)
	want := []string{"transcript", "llm_text", "llm_text", "ai_audio", "ai_audio", "llm_text_final", "ai_audio"}
	if fmt.Sprint(kinds) != fmt.Sprint(want) {
		t.Fatalf("event kinds = %v, want %v", kinds, want)
	}

	if events[0]["text"] != "hello" {
		t.Errorf("transcript text = %v", events[0]["text"])
	}
	if events[5]["text"] != "Hi there." {
		t.Errorf("final text = %v", events[5]["text"])
	}
	// Chunk ids strictly increase from 1; the last event is the marker.
	if events[3]["chunk_id"].(float64) != 1 || events[4]["chunk_id"].(float64) != 2 {
		t.Errorf("chunk ids = %v, %v", events[3]["chunk_id"], events[4]["chunk_id"])
	}
	last := events[len(events)-1]
	if last["final"] != true {
		t.Errorf("last event is not the final-audio marker: %v", last)
	}

	// History grew by exactly two entries, user then assistant.
	h := f.session.History()
	if len(h) != 2 || h[0].Role != RoleUser || h[1].Role != RoleAssistant {
		t.Errorf("history = %+v", h)
	}
	if f.loop.State() != StateIdle {
		t.Errorf("state = %v, want idle", f.loop.State())
	}

	// The synthesizer received segments plus the terminator.
	calls := f.handle.SendTextCalls()
	if len(calls) == 0 || !calls[len(calls)-1].End {
		t.Errorf("SendText calls = %+v, want terminator last", calls)
	}
}

func TestLoop_GenerationRequestShape(t *testing.T) {
	t.Parallel()

	f := newTurnFixture(t, fullCreds(), WithPersona("You are a pirate."))
	f.session.AppendTurn("old question", "old answer")
	f.handle.Emit(tts.Event{Final: true})

	f.loop.RunTurn(context.Background(), "hello")

	if len(f.llm.StreamCalls) != 1 {
		t.Fatalf("StreamCompletion calls = %d, want 1", len(f.llm.StreamCalls))
	}
	req := f.llm.StreamCalls[0].Req
	if req.SystemPrompt != "You are a pirate." {
		t.Errorf("system prompt = %q", req.SystemPrompt)
	}
	if len(req.Messages) != 3 {
		t.Fatalf("messages = %d, want history pair + user turn", len(req.Messages))
	}
	lastMsg := req.Messages[len(req.Messages)-1]
	if lastMsg.Role != string(RoleUser) || lastMsg.Content != "hello" {
		t.Errorf("last message = %+v", lastMsg)
	}
	if req.Temperature != defaultTemperature || req.MaxTokens != defaultMaxTokens {
		t.Errorf("sampling params = %v, %v", req.Temperature, req.MaxTokens)
	}
}

func TestLoop_WordLimitApplied(t *testing.T) {
	t.Parallel()

	var chunks []llm.Chunk
	for i := 0; i < 60; i++ {
		chunks = append(chunks, llm.Chunk{Text: "word word "})
	}
	f := newTurnFixture(t, fullCreds(), WithWordLimit(10))
	f.llm.StreamChunks = chunks
	f.handle.Emit(tts.Event{Final: true})

	f.loop.RunTurn(context.Background(), "ramble")

	events := f.events(t)
	for _, ev := range events {
		if ev["type"] != KindFinalText {
			continue
		}
		text := ev["text"].(string)
		if got := len(strings.Fields(text)); got != 10 {
			t.Errorf("final text word count = %d, want 10", got)
		}
		if !strings.HasSuffix(text, TruncationMarker) {
			t.Errorf("final text %q lacks truncation marker", text)
		}
		return
	}
	t.Fatal("no final text event")
}

func TestLoop_GenerationAbsent(t *testing.T) {
	t.Parallel()

	f := newTurnFixture(t, Credentials{Synthesis: "s"})
	f.loop.llmP = nil

	f.loop.RunTurn(context.Background(), "hello")

	events := f.events(t)
	kinds := kindsOf(events)
	want := []string{"transcript", "llm_text_final", "ai_audio"}
	if fmt.Sprint(kinds) != fmt.Sprint(want) {
		t.Fatalf("event kinds = %v, want %v", kinds, want)
	}
	if events[1]["text"] != apologyText {
		t.Errorf("final text = %v, want fixed apology", events[1]["text"])
	}
	if events[2]["final"] != true {
		t.Error("final-audio marker missing")
	}
	if len(f.session.History()) != 0 {
		t.Error("apology must not enter history")
	}
}

func TestLoop_SynthesisAbsentStillFinalizes(t *testing.T) {
	t.Parallel()

	f := newTurnFixture(t, Credentials{Generation: "g"})
	f.loop.bridge = nil

	f.loop.RunTurn(context.Background(), "hello")

	events := f.events(t)
	kinds := kindsOf(events)
	want := []string{"transcript", "llm_text", "llm_text", "llm_text_final", "ai_audio"}
	if fmt.Sprint(kinds) != fmt.Sprint(want) {
		t.Fatalf("event kinds = %v, want %v", kinds, want)
	}
	if events[len(events)-1]["final"] != true {
		t.Error("final-audio marker missing with synthesis absent")
	}
	if len(f.session.History()) != 2 {
		t.Error("text-only turn must still record history")
	}
}

func TestLoop_StreamFailureSendsApology(t *testing.T) {
	t.Parallel()

	f := newTurnFixture(t, fullCreds())
	f.llm.StreamErr = errors.New("backend down")

	f.loop.RunTurn(context.Background(), "hello")

	events := f.events(t)
	kinds := kindsOf(events)
	want := []string{"transcript", "error", "llm_text_final", "ai_audio"}
	if fmt.Sprint(kinds) != fmt.Sprint(want) {
		t.Fatalf("event kinds = %v, want %v", kinds, want)
	}
	if events[2]["text"] != apologyText {
		t.Errorf("final text = %v, want apology", events[2]["text"])
	}
	if len(f.session.History()) != 0 {
		t.Error("failed turn must not enter history")
	}
	if f.loop.State() != StateIdle {
		t.Errorf("state = %v, want idle after failure", f.loop.State())
	}
}

func TestLoop_QuotaExhaustionGetsRetryMessage(t *testing.T) {
	t.Parallel()

	f := newTurnFixture(t, fullCreds())
	f.llm.StreamChunks = []llm.Chunk{
		{Text: "partial"},
		{FinishReason: "error", Err: fmt.Errorf("gemini: %w", llm.ErrQuotaExhausted)},
	}

	f.loop.RunTurn(context.Background(), "hello")

	events := f.events(t)
	var final map[string]any
	for _, ev := range events {
		if ev["type"] == KindFinalText {
			final = ev
		}
	}
	if final == nil {
		t.Fatal("no final text event")
	}
	if final["text"] != quotaText {
		t.Errorf("final text = %v, want quota retry message", final["text"])
	}
	if kindsOf(events)[len(events)-1] != KindAudioChunk {
		t.Error("final-audio marker must still terminate the turn")
	}
}

func TestLoop_LookupPath(t *testing.T) {
	t.Parallel()

	f := newTurnFixture(t, fullCreds())
	f.lookup.SearchResults = []lookup.Result{
		{Title: "A", URL: "https://e/a", Source: "wire-a"},
		{Title: "A again", URL: "https://e/a2", Source: "wire-a"},
		{Title: "B", URL: "https://e/b", Source: "wire-b"},
	}
	f.handle.Emit(tts.Event{Final: true})

	f.loop.RunTurn(context.Background(), "Tell me the LATEST AI news please")

	events := f.events(t)
	kinds := kindsOf(events)
	// No incremental fragments on the lookup path; links precede the final.
	want := []string{"transcript", "related_links", "llm_text_final", "ai_audio"}
	if fmt.Sprint(kinds) != fmt.Sprint(want) {
		t.Fatalf("event kinds = %v, want %v", kinds, want)
	}

	links := events[1]["links"].([]any)
	if len(links) != 2 {
		t.Fatalf("links = %v, want 2 after source dedupe", links)
	}
	if events[2]["text"] != "Summary of the news." {
		t.Errorf("final text = %v", events[2]["text"])
	}
	if events[2]["links_pending"] != true {
		t.Errorf("links_pending = %v, want true", events[2]["links_pending"])
	}

	// The summary request went through Complete, not the stream.
	if len(f.llm.StreamCalls) != 0 {
		t.Errorf("StreamCompletion calls = %d, want 0", len(f.llm.StreamCalls))
	}
	if len(f.llm.CompleteCalls) != 1 {
		t.Fatalf("Complete calls = %d, want 1", len(f.llm.CompleteCalls))
	}
	if len(f.lookup.SearchCalls) != 1 || f.lookup.SearchCalls[0].Limit != defaultLookupLimit {
		t.Errorf("Search calls = %+v", f.lookup.SearchCalls)
	}
}

func TestLoop_LookupZeroResults(t *testing.T) {
	t.Parallel()

	f := newTurnFixture(t, fullCreds())
	f.handle.Emit(tts.Event{Final: true})

	f.loop.RunTurn(context.Background(), "tell me the news")

	events := f.events(t)
	kinds := kindsOf(events)
	want := []string{"transcript", "llm_text_final", "ai_audio"}
	if fmt.Sprint(kinds) != fmt.Sprint(want) {
		t.Fatalf("event kinds = %v, want %v (no related_links)", kinds, want)
	}
	if events[1]["text"] != noNewsText {
		t.Errorf("final text = %v, want no-fresh-news fallback", events[1]["text"])
	}
	if len(f.llm.CompleteCalls) != 0 {
		t.Error("no summary request expected for zero results")
	}
}

func TestLoop_LookupAbsentFallsBackToGeneration(t *testing.T) {
	t.Parallel()

	f := newTurnFixture(t, Credentials{Generation: "g", Synthesis: "s"})
	f.loop.lookupP = nil
	f.handle.Emit(tts.Event{Final: true})

	f.loop.RunTurn(context.Background(), "tell me the news")

	if len(f.llm.StreamCalls) != 1 {
		t.Errorf("StreamCompletion calls = %d, want direct generation path", len(f.llm.StreamCalls))
	}
	if len(f.lookup.SearchCalls) != 0 {
		t.Errorf("Search calls = %d, want 0", len(f.lookup.SearchCalls))
	}
}

func TestLoop_SequentialTurnsRestartChunkIDs(t *testing.T) {
	t.Parallel()

	f := newTurnFixture(t, fullCreds())
	f.handle.Emit(tts.Event{Audio: "YQ=="})
	f.handle.Emit(tts.Event{Audio: "Yg==", Final: true})
	f.loop.RunTurn(context.Background(), "first")

	f.handle.Emit(tts.Event{Audio: "Yw=="})
	f.handle.Emit(tts.Event{Final: true})
	f.loop.RunTurn(context.Background(), "second")

	events := f.events(t)
	var ids []float64
	for _, ev := range events {
		if ev["type"] == KindAudioChunk && ev["final"] != true {
			ids = append(ids, ev["chunk_id"].(float64))
		}
	}
	want := []float64{1, 2, 1}
	if fmt.Sprint(ids) != fmt.Sprint(want) {
		t.Errorf("chunk ids across turns = %v, want %v", ids, want)
	}

	if len(f.session.History()) != 4 {
		t.Errorf("history length = %d, want 4 after two turns", len(f.session.History()))
	}
}

func TestLoop_RunConsumesUntilClosed(t *testing.T) {
	t.Parallel()

	f := newTurnFixture(t, Credentials{Generation: "g"})
	f.loop.bridge = nil

	turns := make(chan string, 2)
	turns <- "one"
	turns <- "two"
	close(turns)

	if err := f.loop.Run(context.Background(), turns); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := f.session.Turns(); got != 2 {
		t.Errorf("completed turns = %d, want 2", got)
	}
}

func TestLoop_RunStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	f := newTurnFixture(t, Credentials{Generation: "g"})
	f.loop.bridge = nil

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := f.loop.Run(ctx, make(chan string)); !errors.Is(err, context.Canceled) {
		t.Errorf("Run = %v, want context.Canceled", err)
	}
}
