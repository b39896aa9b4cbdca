package core

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the runtime configuration, loaded from the environment with
// an optional .env file. Every field has a working default so a bare
// `fortknox serve` starts a local instance.
type Config struct {
	Addr      string // HTTP listen address
	DBPath    string // SQLite database file
	UploadDir string // vault root for original blobs

	RemoteURL    string        // Fort Knox compile endpoint base URL
	RemoteModel  string        // model identifier sent with compile requests
	RemoteAPIKey string        // bearer token, empty for local engines
	Timeout      time.Duration // per-compile deadline

	STTEngine   string // transcription engine id
	STTURL      string // transcription service base URL
	RefineRules string // YAML refinement table for transcripts

	TestMode bool // serve fixture reports instead of calling the remote
	Offline  bool // refuse compile calls entirely
	Debug    bool // strict guard mode plus debug logging

	MaxUploadBytes int64
	Workers        int
}

// Defaults mirrored in the README.
const (
	defaultAddr        = "127.0.0.1:8450"
	defaultDBPath      = "fortknox.db"
	defaultUploadDir   = "uploads"
	defaultModel       = "gpt-oss:20b"
	defaultSTTEngine   = "whisper-local"
	defaultSTTURL      = "http://127.0.0.1:9090"
	defaultRefineRules = "refine_rules.yaml"
	defaultTimeout     = 180 * time.Second
	defaultMaxUpload   = 25 << 20
	defaultWorkers     = 2
)

// LoadConfig reads configuration from the environment. A .env file in the
// working directory is merged in first without overriding real env vars.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Addr:           envOr("FORTKNOX_ADDR", defaultAddr),
		DBPath:         envOr("FORTKNOX_DB", defaultDBPath),
		UploadDir:      envOr("UPLOAD_DIR", defaultUploadDir),
		RemoteURL:      os.Getenv("FORTKNOX_REMOTE_URL"),
		RemoteModel:    envOr("FORTKNOX_MODEL", defaultModel),
		RemoteAPIKey:   os.Getenv("FORTKNOX_API_KEY"),
		Timeout:        defaultTimeout,
		STTEngine:      envOr("STT_ENGINE", defaultSTTEngine),
		STTURL:         envOr("STT_URL", defaultSTTURL),
		RefineRules:    envOr("REFINE_RULES", defaultRefineRules),
		TestMode:       envBool("FORTKNOX_TESTMODE"),
		Offline:        envBool("FORTKNOX_OFFLINE"),
		Debug:          envBool("DEBUG"),
		MaxUploadBytes: defaultMaxUpload,
		Workers:        defaultWorkers,
	}

	if raw := os.Getenv("FORTKNOX_TIMEOUT"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("config: invalid FORTKNOX_TIMEOUT %q: %w", raw, err)
		}
		cfg.Timeout = d
	}
	if raw := os.Getenv("FORTKNOX_WORKERS"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("config: invalid FORTKNOX_WORKERS %q", raw)
		}
		cfg.Workers = n
	}

	if !cfg.TestMode && !cfg.Offline && cfg.RemoteURL == "" {
		// No remote configured means compile requests fail fast as offline.
		cfg.Offline = true
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	return err == nil && v
}
