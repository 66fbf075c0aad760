// Package config handles global configuration loading using viper.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// GlobalConfig is the top-level static configuration. It maps to the
// `netscan:` root key in YAML.
type GlobalConfig struct {
	Node     NodeConfig     `mapstructure:"node"`
	Log      LogConfig      `mapstructure:"log"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Scanner  ScannerConfig  `mapstructure:"scanner"`
	Firmware FirmwareConfig `mapstructure:"firmware"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	WSListen string         `mapstructure:"ws_listen"`
	DataDir  string         `mapstructure:"data_dir"`
}

// WorkerConfig configures the Worker Loop's dequeue cadence and, when
// running a horizontally-scaled pool, the consistent-hash partitioning
// of job IDs across the configured peer set.
type WorkerConfig struct {
	DequeueTimeoutSec int      `mapstructure:"dequeue_timeout_sec"`
	Peers             []string `mapstructure:"peers"` // node IDs sharing this queue; empty = claim every job
}

// NodeConfig identifies the worker/API process.
type NodeConfig struct {
	Hostname string `mapstructure:"hostname"` // empty = os.Hostname()
}

// RedisConfig configures the scheduler substrate connection.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// ScannerConfig configures tool paths, concurrency caps, and timeouts
// for the scan pipeline. Defaults mirror the caps the test suite may
// rely on: 50/15s stage 2, 20/60s stage 3, 5/full-timeout
// stage 4.
type ScannerConfig struct {
	NmapPath     string `mapstructure:"nmap_path"`
	ArpScanPath  string `mapstructure:"arp_scan_path"`
	RustscanPath string `mapstructure:"rustscan_path"`

	Stage2Concurrency int `mapstructure:"stage2_concurrency"`
	Stage2TimeoutSec  int `mapstructure:"stage2_timeout_sec"`
	Stage3Concurrency int `mapstructure:"stage3_concurrency"`
	Stage3TimeoutSec  int `mapstructure:"stage3_timeout_sec"`
	Stage4Concurrency int `mapstructure:"stage4_concurrency"`
	Stage4TimeoutSec  int `mapstructure:"stage4_timeout_sec"`
}

// FirmwareConfig configures the firmware download/analyzer/triage
// adapters.
type FirmwareConfig struct {
	DownloadDir        string `mapstructure:"download_dir"`
	AnalyzerLogsDir     string `mapstructure:"analyzer_logs_dir"`
	EmbaPath            string `mapstructure:"emba_path"`
	GPTLevel            string `mapstructure:"gpt_level"`
	GPTProfilePath      string `mapstructure:"gpt_profile_path"`
	DefaultProfilePath  string `mapstructure:"default_profile_path"`
	AnalyzerTimeoutSec  int    `mapstructure:"analyzer_timeout_sec"`

	LLMEndpoint   string `mapstructure:"llm_endpoint"` // e.g. http://localhost:11434/api/generate
	LLMModel      string `mapstructure:"llm_model"`
	LLMTimeoutSec int    `mapstructure:"llm_timeout_sec"`
	LLMConnectSec int    `mapstructure:"llm_connect_sec"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level   string           `mapstructure:"level"`
	Format  string           `mapstructure:"format"`
	Outputs LogOutputsConfig `mapstructure:"outputs"`
}

// LogOutputsConfig contains structured log output destinations.
type LogOutputsConfig struct {
	File FileOutputConfig `mapstructure:"file"`
	Loki LokiOutputConfig `mapstructure:"loki"`
}

// LokiOutputConfig configures Loki log output.
type LokiOutputConfig struct {
	Enabled       bool              `mapstructure:"enabled"`
	Endpoint      string            `mapstructure:"endpoint"`
	Labels        map[string]string `mapstructure:"labels"`
	BatchSize     int               `mapstructure:"batch_size"`
	FlushInterval string            `mapstructure:"flush_interval"`
}

// FileOutputConfig configures rotated file log output.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Path     string         `mapstructure:"path"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig configures log file rotation via lumberjack.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	MaxBackups int  `mapstructure:"max_backups"`
	Compress   bool `mapstructure:"compress"`
}

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	Path    string `mapstructure:"path"`
}

// configRoot is the top-level wrapper matching the YAML structure
// `netscan: ...`.
type configRoot struct {
	Netscan GlobalConfig `mapstructure:"netscan"`
}

// Load loads configuration from path. Env vars use the NETSCAN_ prefix
// (e.g. NETSCAN_LOG_LEVEL) since the `netscan.` key prefix naturally
// replaces to that via the key replacer.
func Load(path string) (*GlobalConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.Netscan

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("netscan.log.level", "info")
	v.SetDefault("netscan.log.format", "json")
	v.SetDefault("netscan.log.outputs.file.enabled", false)
	v.SetDefault("netscan.log.outputs.file.path", "/var/log/netscan/netscan.log")
	v.SetDefault("netscan.log.outputs.file.rotation.max_size_mb", 100)
	v.SetDefault("netscan.log.outputs.file.rotation.max_age_days", 30)
	v.SetDefault("netscan.log.outputs.file.rotation.max_backups", 5)
	v.SetDefault("netscan.log.outputs.file.rotation.compress", true)

	v.SetDefault("netscan.metrics.enabled", true)
	v.SetDefault("netscan.metrics.listen", ":9091")
	v.SetDefault("netscan.metrics.path", "/metrics")

	v.SetDefault("netscan.redis.addr", "127.0.0.1:6379")
	v.SetDefault("netscan.redis.db", 0)

	v.SetDefault("netscan.scanner.nmap_path", "nmap")
	v.SetDefault("netscan.scanner.arp_scan_path", "arp-scan")
	v.SetDefault("netscan.scanner.rustscan_path", "rustscan")
	v.SetDefault("netscan.scanner.stage2_concurrency", 50)
	v.SetDefault("netscan.scanner.stage2_timeout_sec", 15)
	v.SetDefault("netscan.scanner.stage3_concurrency", 20)
	v.SetDefault("netscan.scanner.stage3_timeout_sec", 60)
	v.SetDefault("netscan.scanner.stage4_concurrency", 5)
	v.SetDefault("netscan.scanner.stage4_timeout_sec", 300)

	v.SetDefault("netscan.firmware.download_dir", "/var/lib/netscan/firmware")
	v.SetDefault("netscan.firmware.analyzer_logs_dir", "/app/emba_logs")
	v.SetDefault("netscan.firmware.emba_path", "/opt/emba/emba")
	v.SetDefault("netscan.firmware.gpt_level", "1")
	v.SetDefault("netscan.firmware.gpt_profile_path", "/opt/emba/scan-profiles/default-scan-gpt.emba")
	v.SetDefault("netscan.firmware.default_profile_path", "/opt/emba/scan-profiles/default-scan.emba")
	v.SetDefault("netscan.firmware.analyzer_timeout_sec", 7200)
	v.SetDefault("netscan.firmware.llm_endpoint", "http://127.0.0.1:11434/api/generate")
	v.SetDefault("netscan.firmware.llm_model", "llama3")
	v.SetDefault("netscan.firmware.llm_timeout_sec", 300)
	v.SetDefault("netscan.firmware.llm_connect_sec", 30)

	v.SetDefault("netscan.worker.dequeue_timeout_sec", 2)

	v.SetDefault("netscan.ws_listen", ":8765")
	v.SetDefault("netscan.data_dir", "/var/lib/netscan")
}

// ValidateAndApplyDefaults validates configuration and applies runtime
// defaults (hostname auto-detection).
func (cfg *GlobalConfig) ValidateAndApplyDefaults() error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug/info/warn/error)", cfg.Log.Level)
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return fmt.Errorf("invalid log format: %s (must be json/text)", cfg.Log.Format)
	}

	if cfg.Node.Hostname == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return fmt.Errorf("failed to get hostname: %w", err)
		}
		cfg.Node.Hostname = hostname
	}

	if cfg.Scanner.Stage2Concurrency <= 0 || cfg.Scanner.Stage3Concurrency <= 0 || cfg.Scanner.Stage4Concurrency <= 0 {
		return fmt.Errorf("scanner concurrency caps must be positive")
	}

	return nil
}

// DurationOrDefault parses s as a duration, falling back to def on
// empty string or parse error.
func DurationOrDefault(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
