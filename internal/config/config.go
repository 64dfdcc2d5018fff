package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	Port   string `env:"PORT" envDefault:"8080"`
	APIKey string `env:"OCRBRIDGE_API_KEY"`

	// Mistral OCR
	MistralAPIKey  string `env:"MISTRAL_API_KEY"`
	MistralModel   string `env:"MISTRAL_OCR_MODEL" envDefault:"mistral-ocr-latest"`
	MistralBaseURL string `env:"MISTRAL_BASE_URL" envDefault:"https://api.mistral.ai"`

	// Zotero connection
	ZoteroAPIKey      string `env:"ZOTERO_API_KEY"`
	ZoteroLibraryID   string `env:"ZOTERO_LIBRARY_ID"`
	ZoteroLibraryType string `env:"ZOTERO_LIBRARY_TYPE" envDefault:"user"`
	ZoteroLocal       bool   `env:"ZOTERO_LOCAL"`
	ZoteroBaseURL     string `env:"ZOTERO_BASE_URL" envDefault:"https://api.zotero.org"`
	ZoteroLocalURL    string `env:"ZOTERO_LOCAL_URL" envDefault:"http://localhost:23119/api"`

	// Local storage
	DataDir     string `env:"DATA_DIR"`
	CacheDir    string `env:"CACHE_DIR"`
	ProgressDir string `env:"PROGRESS_DIR"`

	// Chunking. PageLimit is the provider's hard per-request ceiling;
	// MaxChunkPages stays below it for safety.
	PageLimit     int `env:"PAGE_LIMIT" envDefault:"500"`
	MaxChunkPages int `env:"MAX_CHUNK_PAGES" envDefault:"450"`
	MinTOCLevel   int `env:"MIN_TOC_LEVEL" envDefault:"1"`
	MaxTOCLevel   int `env:"MAX_TOC_LEVEL" envDefault:"2"`

	// Retry policy for transient OCR failures
	MaxAttempts    int           `env:"OCR_MAX_ATTEMPTS" envDefault:"5"`
	RetryBaseDelay time.Duration `env:"OCR_RETRY_BASE_DELAY" envDefault:"10s"`

	// Rate limiting delays
	ItemDelay  time.Duration `env:"ITEM_DELAY" envDefault:"500ms"`
	ChunkDelay time.Duration `env:"CHUNK_DELAY" envDefault:"1s"`

	// OCR options
	ExtractImages bool   `env:"EXTRACT_IMAGES" envDefault:"true"`
	TableFormat   string `env:"TABLE_FORMAT" envDefault:"markdown"`

	// Fall back to local text extraction when OCR fails terminally.
	FallbackExtraction bool `env:"FALLBACK_EXTRACTION" envDefault:"true"`

	// Worker pool
	WorkerCount  int `env:"WORKER_COUNT" envDefault:"2"`
	MaxQueueSize int `env:"MAX_QUEUE_SIZE" envDefault:"32"`

	// Job state
	JobTTL       time.Duration `env:"JOB_TTL" envDefault:"24h"`
	ProbeTimeout time.Duration `env:"PROBE_TIMEOUT" envDefault:"5s"`
}

// Load reads a .env file if present, then parses the environment.
func Load() (Config, error) {
	home, _ := os.UserHomeDir()
	for _, p := range []string{".env", filepath.Join(home, ".ocrbridge", ".env")} {
		if _, err := os.Stat(p); err == nil {
			_ = godotenv.Load(p)
			break
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}

	if cfg.DataDir == "" {
		cfg.DataDir = filepath.Join(home, ".local", "share", "ocrbridge")
	}
	if cfg.CacheDir == "" {
		cfg.CacheDir = filepath.Join(home, ".cache", "ocrbridge")
	}
	if cfg.ProgressDir == "" {
		cfg.ProgressDir = filepath.Join(cfg.DataDir, "progress")
	}
	if cfg.ZoteroLocal && cfg.ZoteroLibraryID == "" {
		cfg.ZoteroLibraryID = "0"
	}

	return cfg, nil
}

func (c Config) Validate() error {
	if c.MistralAPIKey == "" {
		return fmt.Errorf("MISTRAL_API_KEY is required")
	}
	if c.ZoteroAPIKey == "" {
		return fmt.Errorf("ZOTERO_API_KEY is required")
	}
	if c.ZoteroLibraryID == "" {
		return fmt.Errorf("ZOTERO_LIBRARY_ID is required")
	}
	if c.MaxChunkPages <= 0 || c.MaxChunkPages > c.PageLimit {
		return fmt.Errorf("MAX_CHUNK_PAGES must be in 1..%d, got %d", c.PageLimit, c.MaxChunkPages)
	}
	if c.TableFormat != "markdown" && c.TableFormat != "html" {
		return fmt.Errorf("TABLE_FORMAT must be markdown or html, got %q", c.TableFormat)
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("OCR_MAX_ATTEMPTS must be positive")
	}
	return nil
}

// ZoteroReadURL returns the base URL used for read operations. The local
// API is preferred when enabled because attachment downloads skip the sync
// round trip. Writes always go through the web API.
func (c Config) ZoteroReadURL() string {
	if c.ZoteroLocal {
		return c.ZoteroLocalURL
	}
	return c.ZoteroBaseURL
}
