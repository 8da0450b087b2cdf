// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/invowk/cougar/internal/issue"
	"github.com/invowk/cougar/pkg/operation"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, ConfigFileName+"."+ConfigFileExt)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config is invalid: %v", err)
	}
	if cfg.DefaultMaxExecutionTime() != 0 {
		t.Errorf("default max execution time = %s, want 0 (no limit)", cfg.DefaultMaxExecutionTime())
	}
	if cfg.DrainTimeout() != 30*time.Second {
		t.Errorf("drain timeout = %s, want 30s", cfg.DrainTimeout())
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("logging level = %q, want info", cfg.Logging.Level)
	}
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	t.Parallel()

	cfg, path, err := Load(context.Background(), LoadOptions{ConfigDirPath: t.TempDir(), SkipWorkingDir: true})
	if err != nil {
		t.Fatal(err)
	}
	if path != "" {
		t.Errorf("path = %q, want none", path)
	}
	if cfg.Executor != DefaultConfig().Executor {
		t.Errorf("executor = %+v, want defaults", cfg.Executor)
	}
}

func TestLoadFromFile(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
venue: default_max_execution_time_ms: 1500
timeouts: {
	"ns:Baseline/v1.0/echo": 250
	"Baseline/v1.0/slow": 5000
}
executor: workers: 3
qos: {
	enabled: true
	rps: 2.5
	burst: 4
}
logging: level: "debug"
`)

	cfg, got, err := Load(context.Background(), LoadOptions{ConfigFilePath: path})
	if err != nil {
		t.Fatal(err)
	}
	if got != path {
		t.Errorf("path = %q, want %q", got, path)
	}
	if cfg.DefaultMaxExecutionTime() != 1500*time.Millisecond {
		t.Errorf("default max execution time = %s", cfg.DefaultMaxExecutionTime())
	}
	if cfg.Executor.Workers != 3 || cfg.Executor.QueueSize != DefaultConfig().Executor.QueueSize {
		t.Errorf("executor = %+v, want workers from file and queue size default", cfg.Executor)
	}
	if !cfg.QoS.Enabled || cfg.QoS.RPS != 2.5 || cfg.QoS.Burst != 4 {
		t.Errorf("qos = %+v", cfg.QoS)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("logging level = %q", cfg.Logging.Level)
	}

	timeouts := cfg.TimeoutMap()
	echo := operation.MustParseKey("ns:Baseline/v1.0/echo")
	if d, ok := timeouts.Timeout(echo.ConfigKey(true)); !ok || d != 250*time.Millisecond {
		t.Errorf("qualified timeout = %s, %v", d, ok)
	}
	if d, ok := timeouts.Timeout("Baseline/v1.0/slow"); !ok || d != 5*time.Second {
		t.Errorf("unqualified timeout = %s, %v", d, ok)
	}
}

func TestLoadFromConfigDir(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `metrics: enabled: false`)
	cfg, got, err := Load(context.Background(), LoadOptions{ConfigDirPath: filepath.Dir(path)})
	if err != nil {
		t.Fatal(err)
	}
	if got != path || cfg.Metrics.Enabled {
		t.Errorf("Load() = %+v from %q", cfg.Metrics, got)
	}
}

func TestLoadErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		issue   issue.Id
		want    string
	}{
		{"syntax", `venue: {`, issue.ConfigLoadFailedId, ""},
		{"unknown field", `cache: size: 3`, issue.ConfigLoadFailedId, "cache"},
		{"wrong type", `executor: workers: "many"`, issue.ConfigLoadFailedId, "workers"},
		{"negative timeout", `venue: drain_timeout_ms: -1`, issue.ConfigLoadFailedId, "drain_timeout_ms"},
		{"bad timeout key", `timeouts: "not-a-key": 10`, issue.ConfigLoadFailedId, "not-a-key"},
		{"bad level", `logging: level: "loud"`, issue.ConfigLoadFailedId, "level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, _, err := Load(context.Background(), LoadOptions{ConfigFilePath: writeConfig(t, tt.content)})
			if err == nil {
				t.Fatal("expected an error")
			}
			ae, ok := issue.Find(err)
			if !ok || ae.Issue != tt.issue {
				t.Fatalf("error %v is not linked to issue %d", err, tt.issue)
			}
			if tt.want != "" && !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	t.Parallel()

	_, _, err := Load(context.Background(), LoadOptions{ConfigFilePath: filepath.Join(t.TempDir(), "absent.cue")})
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("Load() error = %v, want not found", err)
	}
}

func TestLoadCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := Load(ctx, LoadOptions{}); !errors.Is(err, context.Canceled) {
		t.Errorf("Load() error = %v, want context.Canceled", err)
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("COUGAR_EXECUTOR_WORKERS", "42")
	t.Setenv("COUGAR_LOGGING_LEVEL", "warn")

	path := writeConfig(t, `executor: workers: 3`)
	cfg, _, err := Load(context.Background(), LoadOptions{ConfigFilePath: path})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Executor.Workers != 42 || cfg.Logging.Level != "warn" {
		t.Errorf("env overrides not applied: executor=%+v logging=%+v", cfg.Executor, cfg.Logging)
	}
}

func TestEnvironmentValueIsValidated(t *testing.T) {
	t.Setenv("COUGAR_EXECUTOR_WORKERS", "0")

	_, _, err := Load(context.Background(), LoadOptions{ConfigDirPath: t.TempDir(), SkipWorkingDir: true})
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("Load() error = %v, want ErrInvalidConfig", err)
	}
	ae, _ := issue.Find(err)
	if ae == nil || ae.Issue != issue.ConfigInvalidId {
		t.Errorf("error not linked to the invalid config issue: %v", err)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		mut   func(*Config)
		field string
	}{
		{"workers", func(c *Config) { c.Executor.Workers = 0 }, "executor.workers"},
		{"queue", func(c *Config) { c.Executor.QueueSize = 0 }, "executor.queue_size"},
		{"qos rps", func(c *Config) { c.QoS = QoSConfig{Enabled: true, Burst: 1} }, "qos.rps"},
		{"qos burst", func(c *Config) { c.QoS = QoSConfig{Enabled: true, RPS: 1} }, "qos.burst"},
		{"timeout value", func(c *Config) { c.Timeouts = map[string]int64{"S/v1.0/op": -5} }, "timeouts.S/v1.0/op"},
		{"timeout key", func(c *Config) { c.Timeouts = map[string]int64{"bogus": 5} }, "timeouts.bogus"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := DefaultConfig()
			tt.mut(cfg)
			var ice *InvalidConfigError
			if err := cfg.Validate(); !errors.As(err, &ice) || ice.Field != tt.field {
				t.Errorf("Validate() = %v, want error on %s", err, tt.field)
			}
		})
	}
}

func TestRenderRoundTrip(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Timeouts = map[string]int64{"ns:Baseline/v1.0/echo": 250}
	cfg.QoS.RPS = 12.5

	cueDoc, err := Render(cfg, FormatCUE)
	if err != nil {
		t.Fatal(err)
	}
	loaded, _, err := Load(context.Background(), LoadOptions{ConfigFilePath: writeConfig(t, string(cueDoc))})
	if err != nil {
		t.Fatalf("generated CUE does not load: %v\n%s", err, cueDoc)
	}
	if loaded.QoS.RPS != 12.5 || loaded.TimeoutMap()["ns:baseline/v1.0/echo"] != 250*time.Millisecond {
		t.Errorf("round trip lost values: %+v", loaded)
	}

	tomlDoc, err := Render(cfg, FormatTOML)
	if err != nil {
		t.Fatal(err)
	}
	var fromTOML Config
	if err := toml.Unmarshal(tomlDoc, &fromTOML); err != nil {
		t.Fatal(err)
	}
	if fromTOML.Executor != cfg.Executor || fromTOML.Timeouts["ns:Baseline/v1.0/echo"] != 250 {
		t.Errorf("TOML output lost values:\n%s", tomlDoc)
	}

	yamlDoc, err := Render(cfg, FormatYAML)
	if err != nil {
		t.Fatal(err)
	}
	var fromYAML Config
	if err := yaml.Unmarshal(yamlDoc, &fromYAML); err != nil {
		t.Fatal(err)
	}
	if fromYAML.Transport != cfg.Transport {
		t.Errorf("YAML output lost values:\n%s", yamlDoc)
	}

	if _, err := Render(cfg, "ini"); !errors.Is(err, ErrInvalidFormat) {
		t.Errorf("Render(ini) error = %v, want ErrInvalidFormat", err)
	}
}

func TestSave(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "nested")
	path, err := Save(DefaultConfig(), dir)
	if err != nil {
		t.Fatal(err)
	}
	cfg, got, err := Load(context.Background(), LoadOptions{ConfigDirPath: dir})
	if err != nil {
		t.Fatal(err)
	}
	if got != path || cfg.Transport != DefaultConfig().Transport {
		t.Errorf("saved config did not load back: %q %+v", got, cfg.Transport)
	}
}
