package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TT_DATA_DIR", dir)

	cfg, err := Load(writeConfig(t, "{}\n"))
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Remote.Backend != BackendNone {
		t.Errorf("Remote.Backend = %q, want %q", cfg.Remote.Backend, BackendNone)
	}
	if cfg.Remote.Timeout != 10*time.Second {
		t.Errorf("Remote.Timeout = %v, want 10s", cfg.Remote.Timeout)
	}
	if cfg.Local.Path != filepath.Join(dir, "schedule.db") {
		t.Errorf("Local.Path = %q", cfg.Local.Path)
	}
	if cfg.Identity.SessionFile != filepath.Join(dir, "session.json") {
		t.Errorf("Identity.SessionFile = %q", cfg.Identity.SessionFile)
	}
	if cfg.Log.File != filepath.Join(dir, "tt.log") {
		t.Errorf("Log.File = %q", cfg.Log.File)
	}
	if cfg.Dashboard.Port != 8080 {
		t.Errorf("Dashboard.Port = %d, want 8080", cfg.Dashboard.Port)
	}

	opts, err := cfg.ExportOptions()
	if err != nil {
		t.Fatalf("ExportOptions() failed: %v", err)
	}
	if opts.PeriodStarts[3] != "12:40" {
		t.Errorf("PeriodStarts[3] = %q, want 12:40", opts.PeriodStarts[3])
	}
	if !opts.TermStart.IsZero() {
		t.Errorf("TermStart = %v, want zero", opts.TermStart)
	}
}

func TestLoad_FileAndEnvOverride(t *testing.T) {
	path := writeConfig(t, `
data_dir: /tmp/tt-test
remote:
  backend: redis
  timeout: 3s
  redis:
    addr: cache:6379
    key_prefix: "uni:"
export:
  term_start: "2026-03-02"
  timezone: America/Sao_Paulo
  period_starts:
    "1": "07:30"
`)
	t.Setenv("TT_REMOTE_REDIS_ADDR", "redis.internal:6380")
	t.Setenv("TT_DASHBOARD_PORT", "9001")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Remote.Backend != BackendRedis {
		t.Errorf("Remote.Backend = %q, want redis", cfg.Remote.Backend)
	}
	if cfg.Remote.Timeout != 3*time.Second {
		t.Errorf("Remote.Timeout = %v, want 3s", cfg.Remote.Timeout)
	}
	if cfg.Remote.Redis.Addr != "redis.internal:6380" {
		t.Errorf("env did not override redis addr: %q", cfg.Remote.Redis.Addr)
	}
	if cfg.Remote.Redis.KeyPrefix != "uni:" {
		t.Errorf("Redis.KeyPrefix = %q", cfg.Remote.Redis.KeyPrefix)
	}
	if cfg.Dashboard.Port != 9001 {
		t.Errorf("Dashboard.Port = %d, want 9001", cfg.Dashboard.Port)
	}
	if cfg.Local.Path != filepath.Join("/tmp/tt-test", "schedule.db") {
		t.Errorf("Local.Path = %q", cfg.Local.Path)
	}

	opts, err := cfg.ExportOptions()
	if err != nil {
		t.Fatalf("ExportOptions() failed: %v", err)
	}
	if opts.PeriodStarts[1] != "07:30" {
		t.Errorf("PeriodStarts[1] = %q, want 07:30", opts.PeriodStarts[1])
	}
	if opts.Location == nil || opts.Location.String() != "America/Sao_Paulo" {
		t.Errorf("Location = %v", opts.Location)
	}
	if got := opts.TermStart.Format(time.DateOnly); got != "2026-03-02" {
		t.Errorf("TermStart = %s, want 2026-03-02", got)
	}
	if opts.TermStart.Location() != opts.Location {
		t.Error("TermStart is not in the configured time zone")
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Load() of a missing explicit file succeeded")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		edit    func(*Config)
		wantErr string
	}{
		{
			name: "none backend",
			edit: func(c *Config) {},
		},
		{
			name:    "unknown backend",
			edit:    func(c *Config) { c.Remote.Backend = "firestore" },
			wantErr: "unknown remote.backend",
		},
		{
			name:    "libsql without url",
			edit:    func(c *Config) { c.Remote.Backend = BackendLibSQL },
			wantErr: "remote.url",
		},
		{
			name:    "s3 without bucket",
			edit:    func(c *Config) { c.Remote.Backend = BackendS3 },
			wantErr: "remote.s3.bucket",
		},
		{
			name:    "bad port",
			edit:    func(c *Config) { c.Dashboard.Port = 70000 },
			wantErr: "dashboard.port",
		},
		{
			name:    "bad term start",
			edit:    func(c *Config) { c.Export.TermStart = "March 2nd" },
			wantErr: "export.term_start",
		},
		{
			name:    "bad period key",
			edit:    func(c *Config) { c.Export.PeriodStarts = map[string]string{"first": "08:00"} },
			wantErr: "export.period_starts",
		},
		{
			name:    "bad period clock",
			edit:    func(c *Config) { c.Export.PeriodStarts = map[string]string{"1": "8am"} },
			wantErr: "export.period_starts",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Remote:    RemoteConfig{Backend: BackendNone},
				Dashboard: DashboardConfig{Port: 8080},
			}
			tt.edit(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() failed: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}
