package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const fullConfigYAML = `
server:
  listen_addr: ":9090"
  log_level: debug
  tls:
    cert_file: /etc/ssl/voxrelay.crt
    key_file: /etc/ssl/voxrelay.key
providers:
  recognition:
    api_key: aai-fallback
    sample_rate: 16000
  generation:
    backend: gemini
    model: gemini-2.0-flash
    persona: "You are a calm museum guide."
  synthesis:
    voice_id: en-US-amara
    style: Conversational
    variation: 2
  lookup:
    api_key: news-fallback
relay:
  word_limit: 120
  chunk_budget: 60
  lookup_triggers:
    - "latest ai news"
    - "what happened today"
  lookup_limit: 3
`

func TestLoadFromReader(t *testing.T) {
	t.Parallel()

	cfg, err := LoadFromReader(strings.NewReader(fullConfigYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Server.ListenAddr != ":9090" {
		t.Errorf("listen_addr = %q", cfg.Server.ListenAddr)
	}
	if cfg.Server.LogLevel != LogDebug {
		t.Errorf("log_level = %q", cfg.Server.LogLevel)
	}
	if cfg.Server.TLS == nil || cfg.Server.TLS.CertFile != "/etc/ssl/voxrelay.crt" {
		t.Errorf("tls = %+v", cfg.Server.TLS)
	}
	if cfg.Providers.Generation.Backend != "gemini" || cfg.Providers.Generation.Model != "gemini-2.0-flash" {
		t.Errorf("generation = %+v", cfg.Providers.Generation)
	}
	if cfg.Providers.Synthesis.VoiceID != "en-US-amara" || cfg.Providers.Synthesis.Variation != 2 {
		t.Errorf("synthesis = %+v", cfg.Providers.Synthesis)
	}
	if cfg.Relay.WordLimit != 120 || cfg.Relay.LookupLimit != 3 {
		t.Errorf("relay = %+v", cfg.Relay)
	}
	if len(cfg.Relay.LookupTriggers) != 2 {
		t.Errorf("lookup_triggers = %v", cfg.Relay.LookupTriggers)
	}
}

func TestLoadFromReader_RejectsUnknownFields(t *testing.T) {
	t.Parallel()

	_, err := LoadFromReader(strings.NewReader("server:\n  listen_adress: \":8080\"\n"))
	if err == nil {
		t.Fatal("LoadFromReader: want error for misspelled field")
	}
}

func TestLoadFromReader_EmptyConfigIsValid(t *testing.T) {
	t.Parallel()

	cfg, err := LoadFromReader(strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Server.TLS != nil {
		t.Errorf("tls = %+v, want nil", cfg.Server.TLS)
	}
}

func TestValidate_CollectsAllFailures(t *testing.T) {
	t.Parallel()

	cfg := &Config{}
	cfg.Server.LogLevel = "loud"
	cfg.Server.TLS = &TLSConfig{}
	cfg.Providers.Recognition.SampleRate = -1
	cfg.Providers.Synthesis.Variation = 9
	cfg.Relay.WordLimit = -5
	cfg.Relay.LookupTriggers = []string{"news", ""}

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Validate: want error")
	}
	for _, want := range []string{
		"server.log_level",
		"server.tls.cert_file",
		"server.tls.key_file",
		"sample_rate",
		"variation",
		"word_limit",
		"lookup_triggers[1]",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error does not mention %q:\n%v", want, err)
		}
	}
}

func TestLoad(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(fullConfigYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.ListenAddr != ":9090" {
		t.Errorf("listen_addr = %q", cfg.Server.ListenAddr)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Load = %v, want os.ErrNotExist", err)
	}
}

func TestLogLevel_IsValid(t *testing.T) {
	t.Parallel()

	for _, l := range []LogLevel{LogDebug, LogInfo, LogWarn, LogError} {
		if !l.IsValid() {
			t.Errorf("%q should be valid", l)
		}
	}
	if LogLevel("verbose").IsValid() {
		t.Error(`"verbose" should be invalid`)
	}
}
