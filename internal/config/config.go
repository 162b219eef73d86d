package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	BackendOpenRouter = "openrouter"
	BackendOpenAI     = "openai"
	BackendGemini     = "gemini"
	BackendAnthropic  = "anthropic"

	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

type Config struct {
	ListenAddr     string
	AllowedOrigins []string

	AIBackend     string
	AIAPIKey      string
	AIBaseURL     string
	AIModel       string
	AIMaxTokens   int
	AITemperature float64
	AIReferer     string
	AITitle       string
	AITimeout     time.Duration

	StoreBackend string
	DatabaseURL  string

	ImageMaxWidth  uint
	MaxUploadBytes int64

	LogLevel string
	LogFile  string
}

var defaults = map[string]string{
	"LISTEN_ADDR":      ":8080",
	"ALLOWED_ORIGINS":  "http://localhost:8081",
	"AI_BACKEND":       BackendOpenRouter,
	"AI_MODEL":         "google/gemini-pro-vision",
	"AI_MAX_TOKENS":    "1000",
	"AI_TEMPERATURE":   "0.7",
	"AI_TITLE":         "Fresh Recipe AI",
	"AI_TIMEOUT":       "0",
	"STORE_BACKEND":    StoreMemory,
	"IMAGE_MAX_WIDTH":  "800",
	"MAX_UPLOAD_BYTES": strconv.Itoa(10 << 20),
	"LOG_LEVEL":        "info",
}

// legacyKeys maps config.json keys from older deployments to current names.
var legacyKeys = map[string]string{
	"gemini_api_key": "AI_API_KEY",
}

// Load reads configuration from, in increasing priority: built-in defaults,
// the JSON file at jsonPath, the dotenv file at envPath, and the process
// environment. Missing files are skipped.
func Load(jsonPath, envPath string) (*Config, error) {
	fileValues, err := readJSON(jsonPath)
	if err != nil {
		return nil, err
	}
	envValues, err := readDotenv(envPath)
	if err != nil {
		return nil, err
	}

	get := func(key string) string {
		if val, exists := os.LookupEnv(key); exists {
			return val
		}
		if val, ok := envValues[key]; ok {
			return val
		}
		if val, ok := fileValues[key]; ok {
			return val
		}
		return defaults[key]
	}

	cfg := &Config{
		ListenAddr:     get("LISTEN_ADDR"),
		AllowedOrigins: splitList(get("ALLOWED_ORIGINS")),
		AIBackend:      strings.ToLower(get("AI_BACKEND")),
		AIAPIKey:       get("AI_API_KEY"),
		AIBaseURL:      get("AI_BASE_URL"),
		AIModel:        get("AI_MODEL"),
		AIReferer:      get("AI_REFERER"),
		AITitle:        get("AI_TITLE"),
		StoreBackend:   strings.ToLower(get("STORE_BACKEND")),
		DatabaseURL:    get("DATABASE_URL"),
		LogLevel:       strings.ToLower(get("LOG_LEVEL")),
		LogFile:        get("LOG_FILE"),
	}

	if cfg.AIMaxTokens, err = strconv.Atoi(get("AI_MAX_TOKENS")); err != nil {
		return nil, fmt.Errorf("invalid AI_MAX_TOKENS: %w", err)
	}
	if cfg.AITemperature, err = strconv.ParseFloat(get("AI_TEMPERATURE"), 64); err != nil {
		return nil, fmt.Errorf("invalid AI_TEMPERATURE: %w", err)
	}
	if cfg.AITimeout, err = parseDuration(get("AI_TIMEOUT")); err != nil {
		return nil, fmt.Errorf("invalid AI_TIMEOUT: %w", err)
	}
	width, err := strconv.ParseUint(get("IMAGE_MAX_WIDTH"), 10, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid IMAGE_MAX_WIDTH: %w", err)
	}
	cfg.ImageMaxWidth = uint(width)
	if cfg.MaxUploadBytes, err = strconv.ParseInt(get("MAX_UPLOAD_BYTES"), 10, 64); err != nil {
		return nil, fmt.Errorf("invalid MAX_UPLOAD_BYTES: %w", err)
	}

	return cfg, nil
}

// Validate reports configuration that cannot start the server.
func (c *Config) Validate() error {
	switch c.AIBackend {
	case BackendOpenRouter, BackendOpenAI, BackendGemini, BackendAnthropic:
	default:
		return fmt.Errorf("unknown AI_BACKEND %q", c.AIBackend)
	}
	if c.AIAPIKey == "" {
		return errors.New("AI_API_KEY is required")
	}

	switch c.StoreBackend {
	case StoreMemory:
	case StorePostgres, StoreSQLite:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for STORE_BACKEND %q", c.StoreBackend)
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}

	if c.AIMaxTokens < 0 {
		return errors.New("AI_MAX_TOKENS must not be negative")
	}
	if c.AITimeout < 0 {
		return errors.New("AI_TIMEOUT must not be negative")
	}
	if c.MaxUploadBytes <= 0 {
		return errors.New("MAX_UPLOAD_BYTES must be positive")
	}
	return nil
}

func readJSON(path string) (map[string]string, error) {
	values := map[string]string{}
	if path == "" {
		return values, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return values, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s: %w", path, err)
	}
	for key, val := range raw {
		if current, ok := legacyKeys[key]; ok {
			if _, set := raw[current]; set {
				continue
			}
			key = current
		}
		switch v := val.(type) {
		case string:
			values[key] = v
		case []any:
			parts := make([]string, 0, len(v))
			for _, p := range v {
				parts = append(parts, fmt.Sprint(p))
			}
			values[key] = strings.Join(parts, ",")
		case nil:
		default:
			values[key] = fmt.Sprint(v)
		}
	}
	return values, nil
}

func readDotenv(path string) (map[string]string, error) {
	if path == "" {
		return map[string]string{}, nil
	}
	values, err := godotenv.Read(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return values, nil
}

// parseDuration accepts Go durations and bare seconds.
func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if secs, err := strconv.Atoi(s); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(s)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
