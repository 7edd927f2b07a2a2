// Package config resolves process configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
)

// Config is the full process configuration. Every field has a working default
// so a bare `traitmeter serve` comes up locally without any environment.
type Config struct {
	Port           string
	DataDir        string
	TraitsPath     string
	ArchetypesPath string
	ScalePath      string // empty selects the built-in Likert vocabulary

	AllowedOrigins []string

	RateLimitPerMinute int
	RateLimitBurst     int

	EnableHSTS bool // only behind TLS

	NarrativeProvider string // empty disables narrative generation
	NarrativeModel    string
	OllamaHost        string
	OpenAIAPIKey      string

	LogLevel string
}

// Load reads configuration from the environment with defaults.
func Load() Config {
	return Config{
		Port:           getEnvOrDefault("PORT", "8080"),
		DataDir:        getEnvOrDefault("DATA_DIR", "./data"),
		TraitsPath:     getEnvOrDefault("TRAITS_PATH", "./configs/traits.yaml"),
		ArchetypesPath: getEnvOrDefault("ARCHETYPES_PATH", "./configs/archetypes.yaml"),
		ScalePath:      os.Getenv("SCALE_PATH"),

		AllowedOrigins: splitList(getEnvOrDefault("ALLOWED_ORIGINS", "http://localhost:3000")),

		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 60),
		RateLimitBurst:     getEnvInt("RATE_LIMIT_BURST", 10),

		EnableHSTS: os.Getenv("ENABLE_HSTS") == "true",

		NarrativeProvider: os.Getenv("NARRATIVE_PROVIDER"),
		NarrativeModel:    getEnvOrDefault("NARRATIVE_MODEL", "llama3"),
		OllamaHost:        getEnvOrDefault("OLLAMA_HOST", "http://localhost:11434"),
		OpenAIAPIKey:      os.Getenv("OPENAI_API_KEY"),

		LogLevel: getEnvOrDefault("LOG_LEVEL", "info"),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
