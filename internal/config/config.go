// Package config loads runtime parameters for the control plane from an
// optional config file (yaml, json or toml by extension) with environment
// variable overrides applied on top.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds runtime parameters for the service.
// Zero values mean "unspecified" and are replaced by Defaults.
type Config struct {
	Addr        string `json:"addr" yaml:"addr" toml:"addr"`
	PostgresDSN string `json:"postgres_dsn" yaml:"postgres_dsn" toml:"postgres_dsn"`

	// Worker pool sizing: ports [BasePort, BasePort+MaxInstances).
	BasePort     int `json:"base_port" yaml:"base_port" toml:"base_port"`
	MaxInstances int `json:"max_instances" yaml:"max_instances" toml:"max_instances"`

	// Lifecycle timing, all in seconds.
	DefaultTimeout int `json:"default_timeout" yaml:"default_timeout" toml:"default_timeout"`
	ReadyTimeout   int `json:"ready_timeout" yaml:"ready_timeout" toml:"ready_timeout"`
	ReaperInterval int `json:"reaper_interval" yaml:"reaper_interval" toml:"reaper_interval"`

	// Command prefix the supervisor spawns; model/port/param flags get appended.
	LaunchCommand []string `json:"launch_command" yaml:"launch_command" toml:"launch_command"`

	// Default vllm launch params, overridable per request.
	DefaultDtype           string `json:"default_dtype" yaml:"default_dtype" toml:"default_dtype"`
	DefaultKVCacheDtype    string `json:"default_kv_cache_dtype" yaml:"default_kv_cache_dtype" toml:"default_kv_cache_dtype"`
	DefaultTrustRemoteCode bool   `json:"default_trust_remote_code" yaml:"default_trust_remote_code" toml:"default_trust_remote_code"`

	// Environment forwarded to workers, only when set.
	HTTPProxy  string `json:"http_proxy" yaml:"http_proxy" toml:"http_proxy"`
	HTTPSProxy string `json:"https_proxy" yaml:"https_proxy" toml:"https_proxy"`
	NoProxy    string `json:"no_proxy" yaml:"no_proxy" toml:"no_proxy"`
	HFHome     string `json:"hf_home" yaml:"hf_home" toml:"hf_home"`

	CORSEnabled bool     `json:"cors_enabled" yaml:"cors_enabled" toml:"cors_enabled"`
	CORSOrigins []string `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins"`
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}

// FromEnv overlays environment variables onto cfg. Variable names follow the
// original deployment convention (VLLM_* for worker settings).
func FromEnv(cfg Config) Config {
	if v := os.Getenv("VLLMD_ADDR"); v != "" {
		cfg.Addr = v
	}
	if v := os.Getenv("VLLMD_PG_DSN"); v != "" {
		cfg.PostgresDSN = v
	}
	if v, ok := envInt("VLLM_BASE_PORT"); ok {
		cfg.BasePort = v
	}
	if v, ok := envInt("VLLM_MAX_INSTANCES"); ok {
		cfg.MaxInstances = v
	}
	if v, ok := envInt("VLLM_DEFAULT_TIMEOUT"); ok {
		cfg.DefaultTimeout = v
	}
	if v, ok := envInt("VLLM_READY_TIMEOUT"); ok {
		cfg.ReadyTimeout = v
	}
	if v := os.Getenv("VLLM_DEFAULT_DTYPE"); v != "" {
		cfg.DefaultDtype = v
	}
	if v := os.Getenv("VLLM_DEFAULT_KV_CACHE_DTYPE"); v != "" {
		cfg.DefaultKVCacheDtype = v
	}
	if v := os.Getenv("VLLM_DEFAULT_TRUST_REMOTE_CODE"); v != "" {
		cfg.DefaultTrustRemoteCode = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("VLLMD_HF_HOME"); v != "" {
		cfg.HFHome = v
	}
	if v := os.Getenv("VLLMD_HTTP_PROXY"); v != "" {
		cfg.HTTPProxy = v
	}
	if v := os.Getenv("VLLMD_HTTPS_PROXY"); v != "" {
		cfg.HTTPSProxy = v
	}
	if v := os.Getenv("VLLMD_NO_PROXY"); v != "" {
		cfg.NoProxy = v
	}
	return cfg
}

// Defaults fills unset fields with production defaults.
func Defaults(cfg Config) Config {
	if cfg.Addr == "" {
		cfg.Addr = ":5000"
	}
	if cfg.BasePort <= 0 {
		cfg.BasePort = 9000
	}
	if cfg.MaxInstances <= 0 {
		cfg.MaxInstances = 20
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 600
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = 120
	}
	if cfg.ReaperInterval <= 0 {
		cfg.ReaperInterval = 60
	}
	if len(cfg.LaunchCommand) == 0 {
		cfg.LaunchCommand = []string{"python", "-m", "vllm.entrypoints.openai.api_server"}
	}
	if cfg.DefaultDtype == "" {
		cfg.DefaultDtype = "auto"
	}
	if cfg.DefaultKVCacheDtype == "" {
		cfg.DefaultKVCacheDtype = "auto"
	}
	return cfg
}

// DefaultParams returns the vllm launch params merged under per-request ones.
func (c Config) DefaultParams() map[string]any {
	return map[string]any{
		"dtype":             c.DefaultDtype,
		"kv_cache_dtype":    c.DefaultKVCacheDtype,
		"trust_remote_code": c.DefaultTrustRemoteCode,
	}
}

// WorkerEnv returns the environment overrides forwarded to workers.
// Unset values are omitted entirely, not forwarded empty.
func (c Config) WorkerEnv() map[string]string {
	env := make(map[string]string)
	if c.HTTPProxy != "" {
		env["HTTP_PROXY"] = c.HTTPProxy
	}
	if c.HTTPSProxy != "" {
		env["HTTPS_PROXY"] = c.HTTPSProxy
	}
	if c.NoProxy != "" {
		env["NO_PROXY"] = c.NoProxy
	}
	if c.HFHome != "" {
		env["HF_HOME"] = c.HFHome
	}
	return env
}

func envInt(name string) (int, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}
