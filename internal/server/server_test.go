package server

import (
	"encoding/json"
	"testing"

	"github.com/MrWong99/voxrelay/internal/relay"
)

func TestHandshake_WireFieldNames(t *testing.T) {
	t.Parallel()

	raw := `{"aai_key":"a","murf_key":"m","gemini_key":"g","news_key":"n"}`
	var hs Handshake
	if err := json.Unmarshal([]byte(raw), &hs); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if hs.AAIKey != "a" || hs.MurfKey != "m" || hs.GeminiKey != "g" || hs.NewsKey != "n" {
		t.Errorf("handshake = %+v", hs)
	}
}

func TestHandshake_PartialMessage(t *testing.T) {
	t.Parallel()

	var hs Handshake
	if err := json.Unmarshal([]byte(`{"gemini_key":"g"}`), &hs); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if hs.GeminiKey != "g" || hs.AAIKey != "" || hs.MurfKey != "" || hs.NewsKey != "" {
		t.Errorf("handshake = %+v", hs)
	}
}

func TestResolveCredentials_HandshakeWins(t *testing.T) {
	t.Parallel()

	h := New(Providers{}, WithFallbackCredentials(relay.Credentials{
		Recognition: "fallback-r",
		Generation:  "fallback-g",
		Synthesis:   "fallback-s",
		Lookup:      "fallback-l",
	}))

	creds := h.resolveCredentials(Handshake{
		AAIKey:    "session-r",
		GeminiKey: "session-g",
	})
	if creds.Recognition != "session-r" || creds.Generation != "session-g" {
		t.Errorf("handshake keys not preferred: %+v", creds)
	}
	if creds.Synthesis != "fallback-s" || creds.Lookup != "fallback-l" {
		t.Errorf("fallbacks not applied: %+v", creds)
	}
}

func TestResolveCredentials_NoFallbacks(t *testing.T) {
	t.Parallel()

	h := New(Providers{})
	creds := h.resolveCredentials(Handshake{MurfKey: "m"})
	if creds.Synthesis != "m" {
		t.Errorf("synthesis = %q", creds.Synthesis)
	}
	caps := creds.Capabilities()
	if caps.Recognition || caps.Generation || caps.Lookup {
		t.Errorf("capabilities = %+v, want synthesis only", caps)
	}
	if !caps.Synthesis {
		t.Error("synthesis capability missing")
	}
}
