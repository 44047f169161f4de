// Package config provides XML or YAML configuration for the dashboard backend.
package config

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Storage backends.
const (
	BackendLocal  = "local"
	BackendDuckDB = "duckdb"
)

// AppConfig represents the root configuration structure
type AppConfig struct {
	XMLName xml.Name `xml:"DataProfilerDashboard" yaml:"-"`

	// Server configuration
	Server ServerConfig `xml:"Server" yaml:"server"`

	// Analysis service configuration
	Analysis AnalysisConfig `xml:"Analysis" yaml:"analysis"`

	// Storage configuration
	Storage StorageConfig `xml:"Storage" yaml:"storage"`

	// Advanced options
	Advanced AdvancedConfig `xml:"Advanced" yaml:"advanced"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port         int    `xml:"Port" yaml:"port"`
	BindAddress  string `xml:"BindAddress" yaml:"bind_address"`
	EnableCORS   bool   `xml:"EnableCORS" yaml:"enable_cors"`
	AllowOrigins string `xml:"AllowOrigins" yaml:"allow_origins"`
	ReadTimeout  int    `xml:"ReadTimeoutSeconds" yaml:"read_timeout_seconds"`
	WriteTimeout int    `xml:"WriteTimeoutSeconds" yaml:"write_timeout_seconds"`
	IdleTimeout  int    `xml:"IdleTimeoutSeconds" yaml:"idle_timeout_seconds"`
	BodyLimit    string `xml:"BodyLimit" yaml:"body_limit"`
}

// AnalysisConfig points at the profiling service and tunes job timing.
type AnalysisConfig struct {
	BaseURL          string `xml:"BaseURL" yaml:"base_url"`
	UploadPath       string `xml:"UploadPath" yaml:"upload_path"`
	EventsURL        string `xml:"EventsURL" yaml:"events_url"`
	DeadlineSeconds  int    `xml:"DeadlineSeconds" yaml:"deadline_seconds"`
	CleanupDelayMs   int    `xml:"CleanupDelayMs" yaml:"cleanup_delay_ms"`
	ReconnectDelayMs int    `xml:"ReconnectDelayMs" yaml:"reconnect_delay_ms"`
}

// StorageConfig contains report history settings
type StorageConfig struct {
	DataDirectory string `xml:"DataDirectory" yaml:"data_directory"`
	Backend       string `xml:"Backend" yaml:"backend"`
	HistoryLimit  int    `xml:"HistoryLimit" yaml:"history_limit"`
}

// AdvancedConfig contains advanced/tuning options
type AdvancedConfig struct {
	LogLevel                string `xml:"LogLevel" yaml:"log_level"`
	LogFile                 string `xml:"LogFile" yaml:"log_file"`
	EnableRequestLogging    bool   `xml:"EnableRequestLogging" yaml:"enable_request_logging"`
	DuckDBThreads           int    `xml:"DuckDBThreads" yaml:"duckdb_threads"`
	DuckDBMemoryLimit       string `xml:"DuckDBMemoryLimit" yaml:"duckdb_memory_limit"`
	WebSocketMaxMessageSize int    `xml:"WebSocketMaxMessageSizeKB" yaml:"websocket_max_message_size_kb"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Port:         8090,
			BindAddress:  "127.0.0.1",
			EnableCORS:   true,
			AllowOrigins: "*",
			ReadTimeout:  30,
			WriteTimeout: 0,
			IdleTimeout:  120,
			BodyLimit:    "512M",
		},
		Analysis: AnalysisConfig{
			BaseURL:          "http://localhost:8000",
			UploadPath:       "/api/upload",
			EventsURL:        "http://localhost:8000/events",
			DeadlineSeconds:  300,
			CleanupDelayMs:   4000,
			ReconnectDelayMs: 3000,
		},
		Storage: StorageConfig{
			DataDirectory: "./data",
			Backend:       BackendLocal,
			HistoryLimit:  50,
		},
		Advanced: AdvancedConfig{
			LogLevel:                "info",
			LogFile:                 "",
			EnableRequestLogging:    true,
			DuckDBThreads:           2,
			DuckDBMemoryLimit:       "256MB",
			WebSocketMaxMessageSize: 64,
		},
	}
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// LoadConfig loads configuration from an XML or YAML file, chosen by extension.
// A missing file is created with defaults.
func LoadConfig(configPath string) (*AppConfig, error) {
	config := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := config.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	} else {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if isYAML(configPath) {
			err = yaml.Unmarshal(data, config)
		} else {
			err = xml.Unmarshal(data, config)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// Apply environment variable overrides
	config.applyEnvironmentOverrides()

	// Resolve relative paths
	config.resolvePaths(filepath.Dir(configPath))

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Save saves the configuration in the format implied by the file extension
func (c *AppConfig) Save(configPath string) error {
	var content []byte
	if isYAML(configPath) {
		output, err := yaml.Marshal(c)
		if err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
		content = append([]byte("# Data Profiler Dashboard configuration\n# This file is auto-generated on first run\n\n"), output...)
	} else {
		output, err := xml.MarshalIndent(c, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
		header := []byte(xml.Header + "\n<!-- Data Profiler Dashboard Configuration -->\n<!-- This file is auto-generated on first run -->\n\n")
		content = append(header, output...)
	}

	if dir := filepath.Dir(configPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(configPath, content, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// applyEnvironmentOverrides allows environment variables to override config values
func (c *AppConfig) applyEnvironmentOverrides() {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}
	if dataDir := os.Getenv("DATA_DIR"); dataDir != "" {
		c.Storage.DataDirectory = dataDir
	}
	if u := os.Getenv("ANALYSIS_URL"); u != "" {
		c.Analysis.BaseURL = u
	}
	if u := os.Getenv("EVENTS_URL"); u != "" {
		c.Analysis.EventsURL = u
	}
	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		c.Advanced.LogLevel = lvl
	}
}

// resolvePaths converts relative paths to absolute based on config file location
func (c *AppConfig) resolvePaths(configDir string) {
	if !filepath.IsAbs(c.Storage.DataDirectory) {
		c.Storage.DataDirectory = filepath.Join(configDir, c.Storage.DataDirectory)
	}
	if c.Advanced.LogFile != "" && !filepath.IsAbs(c.Advanced.LogFile) {
		c.Advanced.LogFile = filepath.Join(configDir, c.Advanced.LogFile)
	}
}

// Validate rejects values the engine cannot run with.
func (c *AppConfig) Validate() error {
	if c.Analysis.BaseURL == "" {
		return fmt.Errorf("analysis base URL is required")
	}
	if c.Analysis.EventsURL == "" {
		return fmt.Errorf("analysis events URL is required")
	}
	switch c.Storage.Backend {
	case "", BackendLocal, BackendDuckDB:
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Server.Port)
	}
	return nil
}

// GetDataDir returns the absolute data directory path
func (c *AppConfig) GetDataDir() string {
	return c.Storage.DataDirectory
}

// ReportsDir is where the local backend keeps report files.
func (c *AppConfig) ReportsDir() string {
	return filepath.Join(c.Storage.DataDirectory, "reports")
}

// ReportsDBPath is the DuckDB file used by the duckdb backend.
func (c *AppConfig) ReportsDBPath() string {
	return filepath.Join(c.Storage.DataDirectory, "reports.duckdb")
}

// GetServerAddr returns the server bind address
func (c *AppConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.BindAddress, c.Server.Port)
}

// Deadline is the hard limit on one analysis call.
func (c *AppConfig) Deadline() time.Duration {
	return time.Duration(c.Analysis.DeadlineSeconds) * time.Second
}

// CleanupDelay is how long a done status stays before reverting to idle.
func (c *AppConfig) CleanupDelay() time.Duration {
	return time.Duration(c.Analysis.CleanupDelayMs) * time.Millisecond
}

// ReconnectDelay is the wait before re-subscribing to the push stream.
func (c *AppConfig) ReconnectDelay() time.Duration {
	return time.Duration(c.Analysis.ReconnectDelayMs) * time.Millisecond
}

// MaxMessageBytes converts the WebSocket limit from KB.
func (c *AppConfig) MaxMessageBytes() int64 {
	return int64(c.Advanced.WebSocketMaxMessageSize) * 1024
}

// EnsureDirectories creates all necessary directories
func (c *AppConfig) EnsureDirectories() error {
	dirs := []string{c.Storage.DataDirectory}
	if c.Storage.Backend != BackendDuckDB {
		dirs = append(dirs, c.ReportsDir())
	}
	if c.Advanced.LogFile != "" {
		dirs = append(dirs, filepath.Dir(c.Advanced.LogFile))
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
