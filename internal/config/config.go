// Package config loads the docindex configuration from defaults, the user
// config file, the project config file and DOCINDEX_* environment
// variables, in that order of precedence.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	docerrors "github.com/Aman-CERP/docindex/internal/errors"
)

// ProjectConfigName is the project-level config file name.
const ProjectConfigName = ".docindex.yaml"

// Config is the complete docindex configuration.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	Paths      PathsConfig      `yaml:"paths" json:"paths"`
	Watch      WatchConfig      `yaml:"watch" json:"watch"`
	Ingest     IngestConfig     `yaml:"ingest" json:"ingest"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	OCR        OCRConfig        `yaml:"ocr" json:"ocr"`
	Store      StoreConfig      `yaml:"store" json:"store"`
	Search     SearchConfig     `yaml:"search" json:"search"`
	Server     ServerConfig     `yaml:"server" json:"server"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
}

// PathsConfig locates documents and index data.
type PathsConfig struct {
	// DocumentsRoot is the watched directory tree.
	DocumentsRoot string `yaml:"documents_root" json:"documents_root"`

	// DataDir holds the page store and the daemon socket.
	DataDir string `yaml:"data_dir" json:"data_dir"`

	// Extensions lists the indexed file types.
	Extensions []string `yaml:"extensions" json:"extensions"`

	MaxFileSizeMB int `yaml:"max_file_size_mb" json:"max_file_size_mb"`
}

// WatchConfig tunes change detection.
type WatchConfig struct {
	Enabled       bool          `yaml:"enabled" json:"enabled"`
	ScanOnStart   bool          `yaml:"scan_on_start" json:"scan_on_start"`
	Debounce      time.Duration `yaml:"debounce" json:"debounce"`
	SweepInterval time.Duration `yaml:"sweep_interval" json:"sweep_interval"`
	PollInterval  time.Duration `yaml:"poll_interval" json:"poll_interval"`
	EventBuffer   int           `yaml:"event_buffer" json:"event_buffer"`
	ForcePolling  bool          `yaml:"force_polling" json:"force_polling"`
	// Ignore lists exclusion patterns in .gitignore syntax. Unset uses the
	// built-in office scratch file patterns.
	Ignore []string `yaml:"ignore" json:"ignore"`
}

// IngestConfig tunes page building and the indexing pool.
type IngestConfig struct {
	// MaxWorkers bounds concurrent indexing. 0 indexes synchronously.
	MaxWorkers      int      `yaml:"max_workers" json:"max_workers"`
	MinTextLength   int      `yaml:"min_text_length" json:"min_text_length"`
	Divisions       []string `yaml:"divisions" json:"divisions"`
	DefaultDivision string   `yaml:"default_division" json:"default_division"`
}

// EmbeddingsConfig selects the embedding provider.
type EmbeddingsConfig struct {
	Provider   string        `yaml:"provider" json:"provider"`
	Model      string        `yaml:"model" json:"model"`
	OllamaHost string        `yaml:"ollama_host" json:"ollama_host"`
	Dimensions int           `yaml:"dimensions" json:"dimensions"`
	BatchSize  int           `yaml:"batch_size" json:"batch_size"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout"`
	// CacheSize is the query embedding cache size. Negative disables it.
	CacheSize int `yaml:"cache_size" json:"cache_size"`
}

// OCRConfig configures the OCR service client.
type OCRConfig struct {
	Enabled           bool          `yaml:"enabled" json:"enabled"`
	URL               string        `yaml:"url" json:"url"`
	Languages         string        `yaml:"languages" json:"languages"`
	DPI               int           `yaml:"dpi" json:"dpi"`
	Timeout           time.Duration `yaml:"timeout" json:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second" json:"requests_per_second"`
	Burst             int           `yaml:"burst" json:"burst"`
}

// StoreConfig configures the page store.
type StoreConfig struct {
	Backend       string        `yaml:"backend" json:"backend"`
	M             int           `yaml:"hnsw_m" json:"hnsw_m"`
	EfSearch      int           `yaml:"hnsw_ef_search" json:"hnsw_ef_search"`
	CompactRatio  float64       `yaml:"compact_ratio" json:"compact_ratio"`
	FlushInterval time.Duration `yaml:"flush_interval" json:"flush_interval"`
}

// SearchConfig tunes retrieval scoring.
type SearchConfig struct {
	MinSemanticScore float64 `yaml:"min_semantic_score" json:"min_semantic_score"`
	HybridThreshold  float64 `yaml:"hybrid_threshold" json:"hybrid_threshold"`
	SnippetLength    int     `yaml:"snippet_length" json:"snippet_length"`
	// Telemetry records served queries in the data directory.
	Telemetry bool `yaml:"telemetry" json:"telemetry"`
}

// ServerConfig configures the HTTP API and the local daemon socket.
type ServerConfig struct {
	HTTPAddr    string   `yaml:"http_addr" json:"http_addr"`
	SocketPath  string   `yaml:"socket_path" json:"socket_path"`
	CORSOrigins []string `yaml:"cors_origins" json:"cors_origins"`
	// RateLimit is requests per second per client IP. 0 disables limiting.
	RateLimit float64 `yaml:"rate_limit" json:"rate_limit"`
	RateBurst int     `yaml:"rate_burst" json:"rate_burst"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level     string `yaml:"level" json:"level"`
	FilePath  string `yaml:"file_path" json:"file_path"`
	MaxSizeMB int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxFiles  int    `yaml:"max_files" json:"max_files"`
}

// NewConfig returns the default configuration.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Paths: PathsConfig{
			DocumentsRoot: "documents",
			DataDir:       defaultDataDir(),
			Extensions: []string{
				".pdf", ".png", ".jpg", ".jpeg", ".tiff", ".tif",
				".txt", ".doc", ".docx", ".xls", ".xlsx",
			},
			MaxFileSizeMB: 100,
		},
		Watch: WatchConfig{
			Enabled:       true,
			ScanOnStart:   true,
			Debounce:      2 * time.Second,
			SweepInterval: 500 * time.Millisecond,
			PollInterval:  5 * time.Second,
			EventBuffer:   1000,
		},
		Ingest: IngestConfig{
			MaxWorkers:      defaultWorkers(),
			MinTextLength:   50,
			Divisions:       []string{"DG", "DEL", "DRH", "DAF", "DSI", "DCOM", "DAJ", "DCOOP", "CENADI", "UPLOADS"},
			DefaultDivision: "GENERAL",
		},
		Embeddings: EmbeddingsConfig{
			Provider:   "ollama",
			Model:      "paraphrase-multilingual",
			OllamaHost: "http://localhost:11434",
			BatchSize:  16,
			Timeout:    120 * time.Second,
			CacheSize:  1000,
		},
		OCR: OCRConfig{
			Enabled:           true,
			URL:               "http://localhost:8001",
			Languages:         "fra+eng",
			DPI:               300,
			Timeout:           5 * time.Minute,
			RequestsPerSecond: 4,
			Burst:             4,
		},
		Store: StoreConfig{
			Backend:       "sqlite",
			M:             16,
			EfSearch:      64,
			CompactRatio:  0.3,
			FlushInterval: 30 * time.Second,
		},
		Search: SearchConfig{
			MinSemanticScore: 0.30,
			HybridThreshold:  0.40,
			SnippetLength:    300,
			Telemetry:        true,
		},
		Server: ServerConfig{
			HTTPAddr:    "127.0.0.1:8000",
			CORSOrigins: []string{"*"},
			RateLimit:   20,
			RateBurst:   40,
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSizeMB: 10,
			MaxFiles:  5,
		},
	}
}

// defaultWorkers is half the CPUs, at least 1 and at most 4. OCR and
// embedding are remote, so more workers only queue on them.
func defaultWorkers() int {
	n := runtime.NumCPU() / 2
	switch {
	case n < 1:
		return 1
	case n > 4:
		return 4
	default:
		return n
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".docindex", "data")
	}
	return filepath.Join(home, ".docindex", "data")
}

// GetUserConfigPath returns the user configuration file:
// $XDG_CONFIG_HOME/docindex/config.yaml, else ~/.config/docindex/config.yaml.
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "docindex", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "docindex", "config.yaml")
	}
	return filepath.Join(home, ".config", "docindex", "config.yaml")
}

// UserConfigExists reports whether the user configuration file exists.
func UserConfigExists() bool {
	_, err := os.Stat(GetUserConfigPath())
	return err == nil
}

// Load builds the configuration for a process started in dir.
//
// Precedence, lowest first:
//  1. Defaults
//  2. User config (~/.config/docindex/config.yaml)
//  3. Project config: file if non-empty, else dir/.docindex.yaml
//  4. DOCINDEX_* environment variables
//
// Relative paths in the result are resolved against dir.
func Load(dir, file string) (*Config, error) {
	cfg := NewConfig()

	if UserConfigExists() {
		if err := cfg.loadYAML(GetUserConfigPath()); err != nil {
			return nil, err
		}
	}

	switch {
	case file != "":
		if err := cfg.loadYAML(file); err != nil {
			return nil, err
		}
	default:
		project := filepath.Join(dir, ProjectConfigName)
		if _, err := os.Stat(project); err == nil {
			if err := cfg.loadYAML(project); err != nil {
				return nil, err
			}
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	cfg.resolvePaths(dir)

	if err := cfg.Validate(); err != nil {
		return nil, docerrors.New(docerrors.ErrCodeConfigInvalid, "invalid configuration: "+err.Error(), err)
	}
	return cfg, nil
}

// loadYAML overlays the fields present in path onto c. Unknown keys are
// rejected so typos do not pass silently.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return docerrors.New(docerrors.ErrCodeConfigNotFound, "config file not found: "+path, err)
		}
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return docerrors.New(docerrors.ErrCodeConfigInvalid,
			fmt.Sprintf("failed to parse config file %s: %v", path, err), err)
	}
	return nil
}

// applyEnvOverrides applies DOCINDEX_* environment variables.
func (c *Config) applyEnvOverrides() error {
	str := map[string]*string{
		"DOCINDEX_DOCUMENTS_ROOT":      &c.Paths.DocumentsRoot,
		"DOCINDEX_DATA_DIR":            &c.Paths.DataDir,
		"DOCINDEX_EMBEDDINGS_PROVIDER": &c.Embeddings.Provider,
		"DOCINDEX_EMBEDDINGS_MODEL":    &c.Embeddings.Model,
		"DOCINDEX_OLLAMA_HOST":         &c.Embeddings.OllamaHost,
		"DOCINDEX_OCR_URL":             &c.OCR.URL,
		"DOCINDEX_STORE_BACKEND":       &c.Store.Backend,
		"DOCINDEX_HTTP_ADDR":           &c.Server.HTTPAddr,
		"DOCINDEX_SOCKET_PATH":         &c.Server.SocketPath,
		"DOCINDEX_LOG_LEVEL":           &c.Logging.Level,
	}
	for key, dst := range str {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}

	if v := os.Getenv("DOCINDEX_MAX_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return envError("DOCINDEX_MAX_WORKERS", v, err)
		}
		c.Ingest.MaxWorkers = n
	}
	if v := os.Getenv("DOCINDEX_DEBOUNCE"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return envError("DOCINDEX_DEBOUNCE", v, err)
		}
		c.Watch.Debounce = d
	}
	if v := os.Getenv("DOCINDEX_OCR_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return envError("DOCINDEX_OCR_ENABLED", v, err)
		}
		c.OCR.Enabled = b
	}
	if v := os.Getenv("DOCINDEX_WATCH_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return envError("DOCINDEX_WATCH_ENABLED", v, err)
		}
		c.Watch.Enabled = b
	}
	return nil
}

func envError(key, value string, err error) error {
	return docerrors.New(docerrors.ErrCodeConfigInvalid,
		fmt.Sprintf("invalid value %q for %s", value, key), err)
}

func (c *Config) resolvePaths(dir string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		if strings.HasPrefix(p, "~"+string(filepath.Separator)) {
			if home, err := os.UserHomeDir(); err == nil {
				return filepath.Join(home, p[2:])
			}
		}
		return filepath.Join(dir, p)
	}
	c.Paths.DocumentsRoot = abs(c.Paths.DocumentsRoot)
	c.Paths.DataDir = abs(c.Paths.DataDir)
	c.Server.SocketPath = abs(c.Server.SocketPath)
	c.Logging.FilePath = abs(c.Logging.FilePath)
}

// SocketPath returns the daemon socket, defaulting to DataDir/docindex.sock.
func (c *Config) SocketPath() string {
	if c.Server.SocketPath != "" {
		return c.Server.SocketPath
	}
	return filepath.Join(c.Paths.DataDir, "docindex.sock")
}

// MaxFileSize returns the file size limit in bytes.
func (c *Config) MaxFileSize() int64 {
	return int64(c.Paths.MaxFileSizeMB) << 20
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Paths.DataDir == "" {
		return errors.New("paths.data_dir must be set")
	}
	if c.Paths.MaxFileSizeMB <= 0 {
		return fmt.Errorf("paths.max_file_size_mb must be positive, got %d", c.Paths.MaxFileSizeMB)
	}
	if len(c.Paths.Extensions) == 0 {
		return errors.New("paths.extensions must not be empty")
	}

	if c.Watch.Debounce <= 0 {
		return fmt.Errorf("watch.debounce must be positive, got %s", c.Watch.Debounce)
	}
	if c.Watch.SweepInterval <= 0 {
		return fmt.Errorf("watch.sweep_interval must be positive, got %s", c.Watch.SweepInterval)
	}
	if c.Watch.PollInterval <= 0 {
		return fmt.Errorf("watch.poll_interval must be positive, got %s", c.Watch.PollInterval)
	}

	if c.Ingest.MaxWorkers < 0 {
		return fmt.Errorf("ingest.max_workers must be non-negative, got %d", c.Ingest.MaxWorkers)
	}
	if c.Ingest.MinTextLength < 0 {
		return fmt.Errorf("ingest.min_text_length must be non-negative, got %d", c.Ingest.MinTextLength)
	}

	switch strings.ToLower(c.Embeddings.Provider) {
	case "ollama", "static":
	default:
		return fmt.Errorf("embeddings.provider must be 'ollama' or 'static', got %q", c.Embeddings.Provider)
	}
	if c.Embeddings.Dimensions < 0 {
		return fmt.Errorf("embeddings.dimensions must be non-negative, got %d", c.Embeddings.Dimensions)
	}

	if c.OCR.Enabled {
		if c.OCR.URL == "" {
			return errors.New("ocr.url must be set when OCR is enabled")
		}
		if c.OCR.DPI <= 0 {
			return fmt.Errorf("ocr.dpi must be positive, got %d", c.OCR.DPI)
		}
	}

	switch strings.ToLower(c.Store.Backend) {
	case "sqlite", "bleve":
	default:
		return fmt.Errorf("store.backend must be 'sqlite' or 'bleve', got %q", c.Store.Backend)
	}
	if c.Store.CompactRatio < 0 || c.Store.CompactRatio > 1 {
		return fmt.Errorf("store.compact_ratio must be between 0 and 1, got %g", c.Store.CompactRatio)
	}

	for name, v := range map[string]float64{
		"search.min_semantic_score": c.Search.MinSemanticScore,
		"search.hybrid_threshold":   c.Search.HybridThreshold,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be between 0 and 1, got %g", name, v)
		}
	}

	if c.Server.RateLimit < 0 {
		return fmt.Errorf("server.rate_limit must be non-negative, got %g", c.Server.RateLimit)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be 'debug', 'info', 'warn', or 'error', got %q", c.Logging.Level)
	}
	return nil
}

// WriteYAML writes the configuration to path.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
