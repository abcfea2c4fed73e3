package assemblyai

import (
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/voxrelay/pkg/provider/stt"
)

func TestNew_RequiresAPIKey(t *testing.T) {
	t.Parallel()

	if _, err := New(""); err == nil {
		t.Fatal("New(\"\"): want error, got nil")
	}
	if _, err := New("key"); err != nil {
		t.Fatalf("New(\"key\"): unexpected error: %v", err)
	}
}

func TestBuildURL(t *testing.T) {
	t.Parallel()

	p, err := New("key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	got, err := p.buildURL(stt.StreamConfig{SampleRate: 44100, FormatTurns: true})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}
	if !strings.HasPrefix(got, "wss://streaming.assemblyai.com/v3/ws?") {
		t.Errorf("buildURL: unexpected endpoint: %s", got)
	}
	if !strings.Contains(got, "sample_rate=44100") {
		t.Errorf("buildURL: missing sample_rate: %s", got)
	}
	if !strings.Contains(got, "format_turns=true") {
		t.Errorf("buildURL: missing format_turns: %s", got)
	}
}

func TestBuildURL_DefaultSampleRate(t *testing.T) {
	t.Parallel()

	p, err := New("key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	got, err := p.buildURL(stt.StreamConfig{})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}
	if !strings.Contains(got, "sample_rate=16000") {
		t.Errorf("buildURL: want default sample rate 16000, got %s", got)
	}
	if !strings.Contains(got, "format_turns=false") {
		t.Errorf("buildURL: want format_turns=false by default, got %s", got)
	}
}

func TestParseServerMessage_Begin(t *testing.T) {
	t.Parallel()

	ev, ok := parseServerMessage([]byte(`{"type":"Begin","id":"sess-1","expires_at":1734000000}`))
	if !ok {
		t.Fatal("parseServerMessage: want ok")
	}
	if ev.Type != stt.EventBegin {
		t.Errorf("Type: want %q, got %q", stt.EventBegin, ev.Type)
	}
	if ev.SessionID != "sess-1" {
		t.Errorf("SessionID: want %q, got %q", "sess-1", ev.SessionID)
	}
}

func TestParseServerMessage_Turn(t *testing.T) {
	t.Parallel()

	raw := `{"type":"Turn","transcript":"hello there","end_of_turn":true,"turn_is_formatted":false}`
	ev, ok := parseServerMessage([]byte(raw))
	if !ok {
		t.Fatal("parseServerMessage: want ok")
	}
	if ev.Type != stt.EventTurn {
		t.Errorf("Type: want %q, got %q", stt.EventTurn, ev.Type)
	}
	if ev.Transcript != "hello there" {
		t.Errorf("Transcript: want %q, got %q", "hello there", ev.Transcript)
	}
	if !ev.EndOfTurn {
		t.Error("EndOfTurn: want true")
	}
	if ev.Formatted {
		t.Error("Formatted: want false")
	}
}

func TestParseServerMessage_Termination(t *testing.T) {
	t.Parallel()

	ev, ok := parseServerMessage([]byte(`{"type":"Termination","audio_duration_seconds":12.5}`))
	if !ok {
		t.Fatal("parseServerMessage: want ok")
	}
	if ev.Type != stt.EventTermination {
		t.Errorf("Type: want %q, got %q", stt.EventTermination, ev.Type)
	}
	if want := 12500 * time.Millisecond; ev.AudioDuration != want {
		t.Errorf("AudioDuration: want %v, got %v", want, ev.AudioDuration)
	}
}

func TestParseServerMessage_Error(t *testing.T) {
	t.Parallel()

	ev, ok := parseServerMessage([]byte(`{"type":"Error","error":"rate limit exceeded"}`))
	if !ok {
		t.Fatal("parseServerMessage: want ok")
	}
	if ev.Type != stt.EventError {
		t.Errorf("Type: want %q, got %q", stt.EventError, ev.Type)
	}
	if ev.Err == nil || ev.Err.Error() != "rate limit exceeded" {
		t.Errorf("Err: want %q, got %v", "rate limit exceeded", ev.Err)
	}
}

func TestParseServerMessage_IgnoresUnknownAndGarbage(t *testing.T) {
	t.Parallel()

	if _, ok := parseServerMessage([]byte(`{"type":"SomethingElse"}`)); ok {
		t.Error("unknown message type should be ignored")
	}
	if _, ok := parseServerMessage([]byte(`not json`)); ok {
		t.Error("malformed JSON should be ignored")
	}
}
