package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/shadimotaali/first-full-paper/internal/window"
)

// Config holds the settings for both the update collector and the timestamp verifier.
type Config struct {
	// Archive
	BaseURL      string `yaml:"base_url" json:"base_url"`
	Collector    string `yaml:"collector" json:"collector"`
	Start        string `yaml:"start" json:"start"`
	End          string `yaml:"end" json:"end"`
	StepMinutes  int    `yaml:"step_minutes" json:"step_minutes"`
	NameTemplate string `yaml:"name_template" json:"name_template"`
	CheckIndex   bool   `yaml:"check_index" json:"check_index"`

	// Filesystem
	RootDir     string `yaml:"root_dir" json:"root_dir"`
	DownloadDir string `yaml:"download_dir" json:"download_dir"`
	TempDir     string `yaml:"temp_dir" json:"temp_dir"`
	CSVOutput   string `yaml:"csv_output" json:"csv_output"`

	// Output
	OutputFormat string `yaml:"output_format" json:"output_format"`

	// Dump tool
	DumpBackend    string   `yaml:"dump_backend" json:"dump_backend"`
	DumpTool       string   `yaml:"dump_tool" json:"dump_tool"`
	DumpArgs       []string `yaml:"dump_args" json:"dump_args"`
	DebugFirstFile bool     `yaml:"debug_first_file" json:"debug_first_file"`

	// HTTP
	UA                string  `yaml:"ua" json:"ua"`
	HTTPTimeoutSec    int     `yaml:"http_timeout_sec" json:"http_timeout_sec"`
	MaxRetries        int     `yaml:"max_retries" json:"max_retries"`
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second"`
	RespectRobots     bool    `yaml:"respect_robots" json:"respect_robots"`

	// Verifier
	Pattern     string `yaml:"pattern" json:"pattern"`
	Cache       string `yaml:"cache" json:"cache"`
	CacheTTLSec int    `yaml:"cache_ttl_sec" json:"cache_ttl_sec"`

	// Sinks
	PostgresDSN   string `yaml:"postgres_dsn" json:"postgres_dsn"`
	PostgresTable string `yaml:"postgres_table" json:"postgres_table"`

	// Observability
	LogLevel     string `yaml:"log_level" json:"log_level"`
	MetricsAddr  string `yaml:"metrics_addr" json:"metrics_addr"`
	OTELEndpoint string `yaml:"otel_endpoint" json:"otel_endpoint"`
	OTELInsecure bool   `yaml:"otel_insecure" json:"otel_insecure"`
	OTELService  string `yaml:"otel_service" json:"otel_service"`

	// Redis
	RedisAddr string `yaml:"redis_addr" json:"redis_addr"`
}

// Defaults returns a Config with SetDefaults applied.
func Defaults() *Config {
	c := &Config{DebugFirstFile: true, OTELInsecure: true}
	c.SetDefaults()
	return c
}

// SetDefaults fills every unset field. The defaults reproduce the rrc04 run of 17 November 2025.
func (c *Config) SetDefaults() {
	if c.Collector == "" {
		c.Collector = "rrc04"
	}
	if c.BaseURL == "" {
		c.BaseURL = "https://data.ris.ripe.net/" + c.Collector + "/2025.11"
	}
	if c.Start == "" {
		c.Start = "20251117.0005"
	}
	if c.End == "" {
		c.End = "20251118.0000"
	}
	if c.StepMinutes == 0 {
		c.StepMinutes = 5
	}
	if c.NameTemplate == "" {
		c.NameTemplate = "updates.%s.gz"
	}
	if c.RootDir == "" {
		c.RootDir = "./RIPE"
	}
	if c.DownloadDir == "" {
		c.DownloadDir = "mrt_files"
	}
	if c.TempDir == "" {
		c.TempDir = "temp_mrt"
	}
	if c.OutputFormat == "" {
		c.OutputFormat = "csv"
	}
	if c.DumpBackend == "" {
		c.DumpBackend = "exec"
	}
	if c.DumpTool == "" {
		c.DumpTool = "bgpdump"
	}
	if len(c.DumpArgs) == 0 {
		c.DumpArgs = []string{"-m"}
	}
	if c.UA == "" {
		c.UA = "ris-collect/1.0 (+https://github.com/shadimotaali/first-full-paper)"
	}
	if c.HTTPTimeoutSec == 0 {
		c.HTTPTimeoutSec = 120
	}
	if c.Pattern == "" {
		c.Pattern = "bview.*.gz"
	}
	if c.Cache == "" {
		c.Cache = "none"
	}
	if c.CacheTTLSec == 0 {
		c.CacheTTLSec = 7 * 24 * 3600
	}
	if c.PostgresTable == "" {
		c.PostgresTable = "bgp_updates"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.OTELService == "" {
		c.OTELService = "ris-collect"
	}
}

// Validate checks the collector settings.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base_url is required")
	}
	if strings.Count(c.NameTemplate, "%s") != 1 {
		return fmt.Errorf("name_template must contain exactly one %%s, got %q", c.NameTemplate)
	}
	if _, err := c.Window(); err != nil {
		return fmt.Errorf("invalid window: %w", err)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative")
	}
	if c.RequestsPerSecond < 0 {
		return fmt.Errorf("requests_per_second must not be negative")
	}
	switch c.OutputFormat {
	case "csv", "jsonl":
	default:
		return fmt.Errorf("unsupported output_format %q (use csv or jsonl)", c.OutputFormat)
	}
	switch c.DumpBackend {
	case "exec", "native":
	default:
		return fmt.Errorf("unsupported dump_backend %q (use exec or native)", c.DumpBackend)
	}
	return c.validateCache()
}

// ValidateVerifier checks only the settings the verifier uses.
func (c *Config) ValidateVerifier() error {
	if c.Pattern == "" {
		return fmt.Errorf("pattern is required")
	}
	if _, err := filepath.Match(c.Pattern, ""); err != nil {
		return fmt.Errorf("invalid pattern %q: %w", c.Pattern, err)
	}
	return c.validateCache()
}

func (c *Config) validateCache() error {
	switch c.Cache {
	case "none":
	case "redis":
		if c.RedisAddr == "" {
			return fmt.Errorf("cache=redis requires redis_addr")
		}
	default:
		return fmt.Errorf("unsupported cache %q (use none or redis)", c.Cache)
	}
	return nil
}

// Window returns the capture window described by Start, End and StepMinutes.
func (c *Config) Window() (window.Window, error) {
	return window.New(c.Start, c.End, time.Duration(c.StepMinutes)*time.Minute)
}

// DownloadPath is where raw archive files are kept between runs.
func (c *Config) DownloadPath() string { return filepath.Join(c.RootDir, c.DownloadDir) }

// TempPath is the scratch directory for decompressed files, removed after a run.
func (c *Config) TempPath() string { return filepath.Join(c.RootDir, c.TempDir) }

// OutputPath is the final CSV (or JSONL) artifact.
func (c *Config) OutputPath() string { return filepath.Join(c.RootDir, c.CSVName()) }

// CSVName is csv_output, or "<collector>_<start date>_updates.csv" when unset.
// It is derived on use so flags that change the collector or window apply.
func (c *Config) CSVName() string {
	if c.CSVOutput != "" {
		return c.CSVOutput
	}
	day, _, _ := strings.Cut(c.Start, ".")
	return c.Collector + "_" + day + "_updates.csv"
}

// HTTPTimeout is the per-request timeout.
func (c *Config) HTTPTimeout() time.Duration { return time.Duration(c.HTTPTimeoutSec) * time.Second }

// CacheTTL is the verifier result cache lifetime.
func (c *Config) CacheTTL() time.Duration { return time.Duration(c.CacheTTLSec) * time.Second }

// LoadFromFile loads configuration from a YAML or JSON file
func LoadFromFile(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{DebugFirstFile: true, OTELInsecure: true}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s (use .yaml, .yml, or .json)", ext)
	}

	config.SetDefaults()
	return &config, nil
}

// MergeWithFlags merges command-line flags with file configuration.
// Command-line flags take precedence; zero values are ignored.
func (c *Config) MergeWithFlags(flags map[string]interface{}) {
	str := func(key string, dst *string) {
		if v, ok := flags[key].(string); ok && v != "" {
			*dst = v
		}
	}
	str("base_url", &c.BaseURL)
	str("collector", &c.Collector)
	str("start", &c.Start)
	str("end", &c.End)
	str("name_template", &c.NameTemplate)
	str("root_dir", &c.RootDir)
	str("csv_output", &c.CSVOutput)
	str("output_format", &c.OutputFormat)
	str("dump_backend", &c.DumpBackend)
	str("dump_tool", &c.DumpTool)
	str("pattern", &c.Pattern)
	str("cache", &c.Cache)
	str("postgres_dsn", &c.PostgresDSN)
	str("log_level", &c.LogLevel)
	str("metrics_addr", &c.MetricsAddr)
	str("otel_endpoint", &c.OTELEndpoint)
	str("otel_service", &c.OTELService)
	str("redis_addr", &c.RedisAddr)

	if v, ok := flags["step_minutes"].(int); ok && v > 0 {
		c.StepMinutes = v
	}
	if v, ok := flags["max_retries"].(int); ok && v > 0 {
		c.MaxRetries = v
	}
	if v, ok := flags["requests_per_second"].(float64); ok && v > 0 {
		c.RequestsPerSecond = v
	}
	if v, ok := flags["respect_robots"].(bool); ok {
		c.RespectRobots = v
	}
	if v, ok := flags["check_index"].(bool); ok {
		c.CheckIndex = v
	}
	if v, ok := flags["otel_insecure"].(bool); ok {
		c.OTELInsecure = v
	}
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() {
	if v := os.Getenv("RIS_BASE_URL"); v != "" {
		c.BaseURL = v
	}
	if v := os.Getenv("RIS_ROOT_DIR"); v != "" {
		c.RootDir = v
	}
	if v := os.Getenv("BGPDUMP_BIN"); v != "" {
		c.DumpTool = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.RedisAddr = v
	}
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		c.PostgresDSN = v
	}
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		c.MetricsAddr = v
	}
	if v := os.Getenv("RIS_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.MaxRetries = n
		}
	}
}
