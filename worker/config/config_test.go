package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "imgbatch.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, resolved, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if resolved != "" {
		t.Errorf("Expected no config file, got %s", resolved)
	}
	if cfg.Engine.MaxConcurrent != 3 || cfg.MemoryBudget() != 500*mb || cfg.Engine.EvictCount != 3 {
		t.Errorf("Unexpected engine defaults: %+v", cfg.Engine)
	}
	if timeout, _ := cfg.TaskTimeout(); timeout != 0 {
		t.Errorf("Expected no task timeout by default, got %s", timeout)
	}
	if !filepath.IsAbs(cfg.DataDir) || !strings.HasSuffix(cfg.DatabasePath(), "imgbatch.db") {
		t.Errorf("Unexpected data dir %s", cfg.DataDir)
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := writeConfig(t, `
data_dir = "/tmp/imgbatch-test"

[engine]
max_concurrent = 5
task_timeout = "30s"

[counter]
backend = "remote"
url = "http://localhost:8080"
`)
	t.Setenv("IMGBATCH_MAX_CONCURRENT", "2")

	cfg, resolved, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if resolved != path {
		t.Errorf("Expected %s, got %s", path, resolved)
	}
	if cfg.Engine.MaxConcurrent != 2 {
		t.Errorf("Expected env to win, got %d", cfg.Engine.MaxConcurrent)
	}
	if timeout, _ := cfg.TaskTimeout(); timeout != 30*time.Second {
		t.Errorf("Expected 30s timeout, got %s", timeout)
	}
	if cfg.Counter.Backend != "remote" || cfg.DataDir != "/tmp/imgbatch-test" {
		t.Errorf("Unexpected config: %+v", cfg)
	}
}

func TestLoad_KafkaBrokersFromEnv(t *testing.T) {
	t.Setenv("IMGBATCH_COUNTER", "kafka")
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092")

	cfg, _, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(cfg.Counter.KafkaBrokers) != 2 || cfg.Counter.KafkaBrokers[1] != "b:9092" {
		t.Errorf("Unexpected brokers: %v", cfg.Counter.KafkaBrokers)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]string{
		"bad backend":        "[counter]\nbackend = \"etcd\"\n",
		"remote without url": "[counter]\nbackend = \"remote\"\n",
		"zero workers":       "[engine]\nmax_concurrent = 0\n",
		"bad timeout":        "[engine]\ntask_timeout = \"soon\"\n",
		"upload no bucket":   "[upload]\nenabled = true\nendpoint = \"localhost:9000\"\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			if _, _, err := Load(writeConfig(t, body)); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}
