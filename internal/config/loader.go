package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// validGenerationBackends lists known generation backend names. Used by
// [Validate] to warn about unrecognised names, which are usually typos.
var validGenerationBackends = []string{"gemini", "openai", "groq", "ollama", "mistral"}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and
// [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" {
			errs = append(errs, errors.New("server.tls.cert_file is required when server.tls is set"))
		}
		if cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls.key_file is required when server.tls is set"))
		}
	}
	if cfg.Server.StaticDir != "" {
		if info, err := os.Stat(cfg.Server.StaticDir); err != nil || !info.IsDir() {
			slog.Warn("server.static_dir is not a readable directory; static serving may fail",
				"static_dir", cfg.Server.StaticDir)
		}
	}

	// Recognition
	if cfg.Providers.Recognition.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("providers.recognition.sample_rate %d must not be negative", cfg.Providers.Recognition.SampleRate))
	}

	// Generation
	if b := cfg.Providers.Generation.Backend; b != "" && !slices.Contains(validGenerationBackends, b) {
		slog.Warn("unknown generation backend — may be a typo or a backend this build does not know",
			"backend", b,
			"known", validGenerationBackends,
		)
	}

	// Synthesis
	if v := cfg.Providers.Synthesis.Variation; v < 0 || v > 5 {
		errs = append(errs, fmt.Errorf("providers.synthesis.variation %d is out of range [0, 5]", v))
	}

	// Relay
	if cfg.Relay.WordLimit < 0 {
		errs = append(errs, fmt.Errorf("relay.word_limit %d must not be negative", cfg.Relay.WordLimit))
	}
	if cfg.Relay.ChunkBudget < 0 {
		errs = append(errs, fmt.Errorf("relay.chunk_budget %d must not be negative", cfg.Relay.ChunkBudget))
	}
	if cfg.Relay.LookupLimit < 0 {
		errs = append(errs, fmt.Errorf("relay.lookup_limit %d must not be negative", cfg.Relay.LookupLimit))
	}
	for i, t := range cfg.Relay.LookupTriggers {
		if t == "" {
			errs = append(errs, fmt.Errorf("relay.lookup_triggers[%d] must not be empty", i))
		}
	}

	return errors.Join(errs...)
}
