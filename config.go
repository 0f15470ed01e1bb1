package substrate

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the full set of tunables for a Substrate instance. Values
// not supplied by the caller are loaded from the environment (with
// .env support) by LoadConfig.
type Config struct {
	DataDir string

	EmbeddingBackend string // "gemini" | "openai" | "ollama" | "none"
	GeminiAPIKey     string
	OpenAIAPIKey     string
	OllamaHost       string

	OracleURL string
	OracleKey string

	ReflectionInterval  time.Duration
	DreamInterval       time.Duration
	MonologueInterval   time.Duration
	ExistentialInterval time.Duration
	PulseInterval       time.Duration

	MultiDevice bool

	LogFile  string
	LogLevel slog.Level

	// ActivationWeightAlpha mixes similarity vs activation in
	// activation-weighted retrieval (spec §9 open question, pinned
	// here per SPEC_FULL.md §9).
	ActivationWeightAlpha float64
}

// ApplyDefaults fills unset fields with the substrate's defaults,
// mirroring the teacher's Config.ApplyDefaults in types.go.
func (c *Config) ApplyDefaults() {
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.EmbeddingBackend == "" {
		c.EmbeddingBackend = "none"
	}
	if c.ReflectionInterval == 0 {
		c.ReflectionInterval = 300 * time.Second
	}
	if c.DreamInterval == 0 {
		c.DreamInterval = 900 * time.Second
	}
	if c.MonologueInterval == 0 {
		c.MonologueInterval = 1200 * time.Second
	}
	if c.ExistentialInterval == 0 {
		c.ExistentialInterval = 1800 * time.Second
	}
	if c.PulseInterval == 0 {
		c.PulseInterval = 30 * time.Second
	}
	if c.LogFile == "" {
		c.LogFile = c.DataDir + "/logs/substrate.log"
	}
	if c.ActivationWeightAlpha == 0 {
		c.ActivationWeightAlpha = 0.7
	}
}

// Validate checks that the credentials required by the selected
// embedding backend are present, returning ErrConfigMissing naming
// the absent environment variable (spec.md §6 exit code 4). Ollama
// needs no credential (NewOllamaEmbedder falls back to a local default),
// so only the two keyed backends are checked.
func (c Config) Validate() error {
	switch c.EmbeddingBackend {
	case "gemini":
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("%w: SUBSTRATE_GEMINI_API_KEY", ErrConfigMissing)
		}
	case "openai":
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("%w: SUBSTRATE_OPENAI_API_KEY", ErrConfigMissing)
		}
	}
	return nil
}

// LoadConfig reads configuration from the environment, loading a
// local .env first if present. Grounded on raphi011-knowhow's
// config.Load/getEnv pattern. Returns ErrConfigMissing if the selected
// embedding backend lacks its required credential.
func LoadConfig() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		DataDir:          getEnv("SUBSTRATE_DATA_DIR", "./data"),
		EmbeddingBackend: getEnv("SUBSTRATE_EMBEDDING_BACKEND", "none"),
		GeminiAPIKey:     getEnv("SUBSTRATE_GEMINI_API_KEY", ""),
		OpenAIAPIKey:     getEnv("SUBSTRATE_OPENAI_API_KEY", ""),
		OllamaHost:       getEnv("SUBSTRATE_OLLAMA_HOST", ""),
		OracleURL:        getEnv("SUBSTRATE_ORACLE_URL", ""),
		OracleKey:        getEnv("SUBSTRATE_ORACLE_KEY", ""),

		ReflectionInterval:  getEnvSeconds("SUBSTRATE_REFLECTION_INTERVAL_SECONDS", 300),
		DreamInterval:       getEnvSeconds("SUBSTRATE_DREAM_INTERVAL_SECONDS", 900),
		MonologueInterval:   getEnvSeconds("SUBSTRATE_MONOLOGUE_INTERVAL_SECONDS", 1200),
		ExistentialInterval: getEnvSeconds("SUBSTRATE_EXISTENTIAL_INTERVAL_SECONDS", 1800),
		PulseInterval:       getEnvSeconds("SUBSTRATE_PULSE_INTERVAL_SECONDS", 30),

		MultiDevice: getEnv("SUBSTRATE_MULTI_DEVICE", "false") == "true",

		LogLevel: parseLogLevel(getEnv("SUBSTRATE_LOG_LEVEL", "INFO")),

		ActivationWeightAlpha: 0.7,
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvSeconds(key string, defaultSeconds int) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return time.Duration(defaultSeconds) * time.Second
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return time.Duration(defaultSeconds) * time.Second
	}
	return time.Duration(n) * time.Second
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
