package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	path := writeTemp(t, "cfg.yaml", `
addr: ":8080"
base_port: 9100
max_instances: 5
default_trust_remote_code: true
launch_command: ["vllm", "serve"]
cors_enabled: true
cors_origins: ["http://localhost:3000"]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":8080" || cfg.BasePort != 9100 || cfg.MaxInstances != 5 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if !cfg.DefaultTrustRemoteCode || !cfg.CORSEnabled {
		t.Fatalf("bool fields not parsed: %+v", cfg)
	}
	if !reflect.DeepEqual(cfg.LaunchCommand, []string{"vllm", "serve"}) {
		t.Fatalf("launch_command=%v", cfg.LaunchCommand)
	}
}

func TestLoadJSON(t *testing.T) {
	path := writeTemp(t, "cfg.json", `{
  "addr": ":7000",
  "postgres_dsn": "postgres://u:p@localhost/db",
  "default_timeout": 120
}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":7000" || cfg.PostgresDSN != "postgres://u:p@localhost/db" || cfg.DefaultTimeout != 120 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestLoadTOML(t *testing.T) {
	path := writeTemp(t, "cfg.toml", `
addr = ":6000"
base_port = 9200
default_dtype = "float16"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":6000" || cfg.BasePort != 9200 || cfg.DefaultDtype != "float16" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestLoadUnsupportedExtension(t *testing.T) {
	path := writeTemp(t, "cfg.ini", "addr=:9")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for .ini")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("VLLMD_ADDR", ":9999")
	t.Setenv("VLLM_BASE_PORT", "9500")
	t.Setenv("VLLM_MAX_INSTANCES", "3")
	t.Setenv("VLLM_DEFAULT_TIMEOUT", "42")
	t.Setenv("VLLM_DEFAULT_TRUST_REMOTE_CODE", "true")
	t.Setenv("VLLMD_HF_HOME", "/data/hf")

	cfg := FromEnv(Config{Addr: ":5000", BasePort: 9000})
	if cfg.Addr != ":9999" || cfg.BasePort != 9500 || cfg.MaxInstances != 3 {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
	if cfg.DefaultTimeout != 42 || !cfg.DefaultTrustRemoteCode || cfg.HFHome != "/data/hf" {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
}

func TestFromEnvIgnoresInvalidInts(t *testing.T) {
	t.Setenv("VLLM_BASE_PORT", "not-a-number")
	cfg := FromEnv(Config{BasePort: 9000})
	if cfg.BasePort != 9000 {
		t.Fatalf("invalid int must be ignored, got %d", cfg.BasePort)
	}
}

func TestDefaults(t *testing.T) {
	cfg := Defaults(Config{})
	if cfg.Addr != ":5000" {
		t.Fatalf("addr=%q", cfg.Addr)
	}
	if cfg.BasePort != 9000 || cfg.MaxInstances != 20 {
		t.Fatalf("pool defaults: %+v", cfg)
	}
	if cfg.DefaultTimeout != 600 || cfg.ReadyTimeout != 120 || cfg.ReaperInterval != 60 {
		t.Fatalf("timing defaults: %+v", cfg)
	}
	if len(cfg.LaunchCommand) == 0 || cfg.LaunchCommand[0] != "python" {
		t.Fatalf("launch_command=%v", cfg.LaunchCommand)
	}
	if cfg.DefaultDtype != "auto" || cfg.DefaultKVCacheDtype != "auto" {
		t.Fatalf("dtype defaults: %+v", cfg)
	}

	// explicit values survive
	cfg = Defaults(Config{Addr: ":1", BasePort: 7, MaxInstances: 1})
	if cfg.Addr != ":1" || cfg.BasePort != 7 || cfg.MaxInstances != 1 {
		t.Fatalf("explicit values overwritten: %+v", cfg)
	}
}

func TestDefaultParams(t *testing.T) {
	c := Config{DefaultDtype: "auto", DefaultKVCacheDtype: "fp8", DefaultTrustRemoteCode: true}
	p := c.DefaultParams()
	if p["dtype"] != "auto" || p["kv_cache_dtype"] != "fp8" || p["trust_remote_code"] != true {
		t.Fatalf("params=%v", p)
	}
}

func TestWorkerEnvOnlyIncludesSetValues(t *testing.T) {
	env := Config{}.WorkerEnv()
	if len(env) != 0 {
		t.Fatalf("expected empty env, got %v", env)
	}
	env = Config{HTTPProxy: "http://proxy:3128", HFHome: "/hf"}.WorkerEnv()
	want := map[string]string{"HTTP_PROXY": "http://proxy:3128", "HF_HOME": "/hf"}
	if !reflect.DeepEqual(env, want) {
		t.Fatalf("env=%v want %v", env, want)
	}
}
