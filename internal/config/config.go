// Package config provides the configuration schema and loader for the
// voxrelay server.
package config

// LogLevel controls log verbosity for the voxrelay server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for voxrelay.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Relay     RelayConfig     `yaml:"relay"`
}

// ServerConfig holds network and logging settings for the voxrelay server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// StaticDir optionally serves a frontend directory at the root path.
	// Empty disables static serving.
	StaticDir string `yaml:"static_dir"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// ProvidersConfig declares the upstream engine settings for each pipeline
// stage. API keys arrive per session in the client handshake; the APIKey
// fields here are optional server-side fallbacks for clients that omit a
// credential.
type ProvidersConfig struct {
	Recognition RecognitionConfig `yaml:"recognition"`
	Generation  GenerationConfig  `yaml:"generation"`
	Synthesis   SynthesisConfig   `yaml:"synthesis"`
	Lookup      LookupConfig      `yaml:"lookup"`
}

// RecognitionConfig configures the streaming speech-recognition engine.
type RecognitionConfig struct {
	// APIKey is the optional server-side fallback credential.
	APIKey string `yaml:"api_key"`

	// SampleRate is the client audio sample rate in Hz. Default 16000.
	SampleRate int `yaml:"sample_rate"`

	// Endpoint overrides the engine's default streaming URL.
	Endpoint string `yaml:"endpoint"`
}

// GenerationConfig configures the text-generation engine.
type GenerationConfig struct {
	// Backend selects the generation backend (e.g., "gemini", "openai",
	// "groq", "ollama", "mistral"). Default "gemini".
	Backend string `yaml:"backend"`

	// Model selects the model within the backend (e.g., "gemini-2.0-flash").
	Model string `yaml:"model"`

	// APIKey is the optional server-side fallback credential.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the backend's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Persona is the system prompt applied to every generation request.
	Persona string `yaml:"persona"`
}

// SynthesisConfig configures the streaming speech-synthesis engine.
type SynthesisConfig struct {
	// APIKey is the optional server-side fallback credential.
	APIKey string `yaml:"api_key"`

	// VoiceID selects the synthesis voice.
	VoiceID string `yaml:"voice_id"`

	// Style is the voice style name (e.g., "Conversational").
	Style string `yaml:"style"`

	// Rate adjusts speaking rate, in the engine's unit. Zero is neutral.
	Rate int `yaml:"rate"`

	// Pitch adjusts pitch, in the engine's unit. Zero is neutral.
	Pitch int `yaml:"pitch"`

	// Variation adjusts prosody variation in [0, 5].
	Variation int `yaml:"variation"`

	// Endpoint overrides the engine's default streaming URL.
	Endpoint string `yaml:"endpoint"`
}

// LookupConfig configures the fact-lookup service used by the
// current-events summarisation path.
type LookupConfig struct {
	// APIKey is the optional server-side fallback credential.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the service's default API endpoint.
	BaseURL string `yaml:"base_url"`
}

// RelayConfig tunes the per-turn orchestration behaviour. Zero values fall
// back to the relay package defaults.
type RelayConfig struct {
	// WordLimit caps assistant replies in words. Default 100.
	WordLimit int `yaml:"word_limit"`

	// ChunkBudget is the synthesis segment character budget. Default 50.
	ChunkBudget int `yaml:"chunk_budget"`

	// LookupTriggers are the phrases that route a turn to the
	// lookup-and-summarize path, matched as case-insensitive substrings.
	LookupTriggers []string `yaml:"lookup_triggers"`

	// LookupLimit bounds how many lookup results feed a summary. Default 5.
	LookupLimit int `yaml:"lookup_limit"`
}
