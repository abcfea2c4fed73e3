package relay

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/voxrelay/pkg/provider/tts"
	ttsmock "github.com/MrWong99/voxrelay/pkg/provider/tts/mock"
)

func TestBridge_EnsureConnectedIsIdempotent(t *testing.T) {
	t.Parallel()

	p := &ttsmock.Provider{}
	b := NewBridge(p, tts.VoiceProfile{ID: "en-US-amara"})

	if got := b.State(); got != StateDisconnected {
		t.Fatalf("initial state = %v, want disconnected", got)
	}
	for i := 0; i < 3; i++ {
		if err := b.EnsureConnected(context.Background()); err != nil {
			t.Fatalf("EnsureConnected #%d: %v", i, err)
		}
	}
	if got := b.State(); got != StateLive {
		t.Errorf("state = %v, want live", got)
	}
	if n := len(p.ConnectCalls); n != 1 {
		t.Errorf("Connect called %d times, want 1", n)
	}
	if p.ConnectCalls[0].Voice.ID != "en-US-amara" {
		t.Errorf("voice = %+v", p.ConnectCalls[0].Voice)
	}
}

func TestBridge_ConnectFailureResetsState(t *testing.T) {
	t.Parallel()

	p := &ttsmock.Provider{ConnectErr: errors.New("dial refused")}
	b := NewBridge(p, tts.VoiceProfile{})

	if err := b.EnsureConnected(context.Background()); err == nil {
		t.Fatal("EnsureConnected: want error")
	}
	if got := b.State(); got != StateDisconnected {
		t.Errorf("state after failed connect = %v, want disconnected", got)
	}

	// The next turn retries.
	p.ConnectErr = nil
	if err := b.EnsureConnected(context.Background()); err != nil {
		t.Fatalf("retry EnsureConnected: %v", err)
	}
	if got := b.State(); got != StateLive {
		t.Errorf("state after retry = %v, want live", got)
	}
}

func TestBridge_SendSegments(t *testing.T) {
	t.Parallel()

	h := ttsmock.NewHandle()
	b := NewBridge(&ttsmock.Provider{Handle: h}, tts.VoiceProfile{})
	if err := b.EnsureConnected(context.Background()); err != nil {
		t.Fatalf("EnsureConnected: %v", err)
	}

	if err := b.SendSegments(context.Background(), []string{"Hello.", "Bye."}); err != nil {
		t.Fatalf("SendSegments: %v", err)
	}

	calls := h.SendTextCalls()
	if len(calls) != 3 {
		t.Fatalf("SendText calls = %d, want 3 (two segments + terminator)", len(calls))
	}
	if calls[0].Text != "Hello." || calls[0].End {
		t.Errorf("calls[0] = %+v", calls[0])
	}
	if calls[1].Text != "Bye." || calls[1].End {
		t.Errorf("calls[1] = %+v", calls[1])
	}
	if calls[2].Text != "" || !calls[2].End {
		t.Errorf("terminator = %+v", calls[2])
	}
}

func TestBridge_SendWithoutConnection(t *testing.T) {
	t.Parallel()

	b := NewBridge(&ttsmock.Provider{}, tts.VoiceProfile{})
	if err := b.SendSegments(context.Background(), []string{"x"}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("SendSegments = %v, want ErrNotConnected", err)
	}
	if err := b.DrainTurn(context.Background(), nil); !errors.Is(err, ErrNotConnected) {
		t.Errorf("DrainTurn = %v, want ErrNotConnected", err)
	}
}

func TestBridge_DrainTurnOrdersChunks(t *testing.T) {
	t.Parallel()

	h := ttsmock.NewHandle()
	b := NewBridge(&ttsmock.Provider{Handle: h}, tts.VoiceProfile{})
	if err := b.EnsureConnected(context.Background()); err != nil {
		t.Fatalf("EnsureConnected: %v", err)
	}
	b.ResetChunkCounter()

	h.Emit(tts.Event{Audio: "YQ=="})
	h.Emit(tts.Event{Audio: "Yg=="})
	h.Emit(tts.Event{Audio: "Yw==", Final: true})

	var ids []int
	err := b.DrainTurn(context.Background(), func(chunkID int, _ string) {
		ids = append(ids, chunkID)
	})
	if err != nil {
		t.Fatalf("DrainTurn: %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("chunk count = %d, want 3", len(ids))
	}
	for i, id := range ids {
		if id != i+1 {
			t.Errorf("ids = %v, want strictly increasing from 1", ids)
			break
		}
	}

	// A bare final marker without audio emits no chunk.
	h.Emit(tts.Event{Final: true})
	b.ResetChunkCounter()
	count := 0
	if err := b.DrainTurn(context.Background(), func(int, string) { count++ }); err != nil {
		t.Fatalf("DrainTurn: %v", err)
	}
	if count != 0 {
		t.Errorf("chunks after bare final = %d, want 0", count)
	}
}

func TestBridge_ReadTimeoutIsNaturalCompletion(t *testing.T) {
	t.Parallel()

	h := ttsmock.NewHandle()
	b := NewBridge(&ttsmock.Provider{Handle: h}, tts.VoiceProfile{},
		WithReadTimeout(50*time.Millisecond))
	if err := b.EnsureConnected(context.Background()); err != nil {
		t.Fatalf("EnsureConnected: %v", err)
	}

	h.Emit(tts.Event{Audio: "YQ=="})
	// No final event ever arrives.

	start := time.Now()
	count := 0
	if err := b.DrainTurn(context.Background(), func(int, string) { count++ }); err != nil {
		t.Fatalf("DrainTurn: %v", err)
	}
	if count != 1 {
		t.Errorf("chunk count = %d, want 1", count)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("DrainTurn took %v, deadline not applied", elapsed)
	}
	if got := b.State(); got != StateLive {
		t.Errorf("state after timeout = %v, want live (connection kept)", got)
	}
}

func TestBridge_StreamCloseIsNaturalCompletion(t *testing.T) {
	t.Parallel()

	h := ttsmock.NewHandle()
	b := NewBridge(&ttsmock.Provider{Handle: h}, tts.VoiceProfile{})
	if err := b.EnsureConnected(context.Background()); err != nil {
		t.Fatalf("EnsureConnected: %v", err)
	}

	_ = h.Close()
	if err := b.DrainTurn(context.Background(), func(int, string) {}); err != nil {
		t.Fatalf("DrainTurn: %v", err)
	}
	if got := b.State(); got != StateDisconnected {
		t.Errorf("state after stream close = %v, want disconnected", got)
	}
}

func TestBridge_Close(t *testing.T) {
	t.Parallel()

	h := ttsmock.NewHandle()
	b := NewBridge(&ttsmock.Provider{Handle: h}, tts.VoiceProfile{})
	if err := b.EnsureConnected(context.Background()); err != nil {
		t.Fatalf("EnsureConnected: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !h.Closed() {
		t.Error("handle not closed")
	}
	if got := b.State(); got != StateDisconnected {
		t.Errorf("state = %v, want disconnected", got)
	}
	// Idempotent.
	if err := b.Close(); err != nil {
		t.Errorf("second Close = %v", err)
	}
}
