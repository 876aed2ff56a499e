// Package config loads tt settings from defaults, an optional config.yaml and
// TT_* environment variables, in increasing order of precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/timetable-sync/timetable/internal/export"
)

// Remote backends accepted by remote.backend.
const (
	BackendNone   = "none"
	BackendMemory = "memory"
	BackendLibSQL = "libsql"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendS3     = "s3"
)

// Backends lists every accepted remote.backend value.
var Backends = []string{BackendNone, BackendMemory, BackendLibSQL, BackendSQLite, BackendRedis, BackendS3}

// Config is the full tt configuration.
type Config struct {
	DataDir   string          `mapstructure:"data_dir"`
	Local     LocalConfig     `mapstructure:"local"`
	Remote    RemoteConfig    `mapstructure:"remote"`
	Identity  IdentityConfig  `mapstructure:"identity"`
	Log       LogConfig       `mapstructure:"log"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
	Export    ExportConfig    `mapstructure:"export"`
}

// LocalConfig locates the on-device key-value database.
type LocalConfig struct {
	Path string `mapstructure:"path"` // empty means <data_dir>/schedule.db
}

// RemoteConfig selects and configures the per-owner document backend.
type RemoteConfig struct {
	Backend string        `mapstructure:"backend"`
	Timeout time.Duration `mapstructure:"timeout"`

	// libsql: primary url and token. sqlite: url is a file path.
	URL       string `mapstructure:"url"`
	AuthToken string `mapstructure:"auth_token"`

	Redis RedisConfig `mapstructure:"redis"`
	S3    S3Config    `mapstructure:"s3"`
}

// RedisConfig configures the redis backend.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// S3Config configures the S3 backend. Endpoint is set for S3 compatible
// services such as MinIO.
type S3Config struct {
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	Prefix          string `mapstructure:"prefix"`
	UsePathStyle    bool   `mapstructure:"use_path_style"`
}

// IdentityConfig locates the session file written by tt login.
type IdentityConfig struct {
	SessionFile string `mapstructure:"session_file"` // empty means <data_dir>/session.json
}

// LogConfig controls the rotating log file.
type LogConfig struct {
	File       string `mapstructure:"file"` // empty means <data_dir>/tt.log
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Verbose    bool   `mapstructure:"verbose"`
}

// DashboardConfig configures tt dashboard.
type DashboardConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// ExportConfig maps periods onto wall clock time for calendar export.
type ExportConfig struct {
	TermStart     string            `mapstructure:"term_start"` // YYYY-MM-DD
	Weeks         int               `mapstructure:"weeks"`
	PeriodStarts  map[string]string `mapstructure:"period_starts"`
	PeriodMinutes int               `mapstructure:"period_minutes"`
	Timezone      string            `mapstructure:"timezone"`
}

// DefaultDataDir returns $HOME/.timetable, or .timetable when the home
// directory is unknown.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".timetable"
	}
	return filepath.Join(home, ".timetable")
}

// Load reads configuration. If path is empty, config.yaml is searched for in
// the working directory and in $HOME/.timetable; a missing file is not an
// error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(DefaultDataDir())
	}

	v.SetEnvPrefix("TT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.resolvePaths()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", DefaultDataDir())
	v.SetDefault("local.path", "")

	v.SetDefault("remote.backend", BackendNone)
	v.SetDefault("remote.timeout", "10s")
	v.SetDefault("remote.url", "")
	v.SetDefault("remote.auth_token", "")
	v.SetDefault("remote.redis.addr", "localhost:6379")
	v.SetDefault("remote.redis.password", "")
	v.SetDefault("remote.redis.db", 0)
	v.SetDefault("remote.redis.key_prefix", "tt:")
	v.SetDefault("remote.s3.bucket", "")
	v.SetDefault("remote.s3.region", "us-east-1")
	v.SetDefault("remote.s3.endpoint", "")
	v.SetDefault("remote.s3.access_key_id", "")
	v.SetDefault("remote.s3.secret_access_key", "")
	v.SetDefault("remote.s3.prefix", "timetable/")
	v.SetDefault("remote.s3.use_path_style", false)

	v.SetDefault("identity.session_file", "")

	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
	v.SetDefault("log.verbose", false)

	v.SetDefault("dashboard.host", "localhost")
	v.SetDefault("dashboard.port", 8080)

	starts := make(map[string]string, len(export.DefaultPeriodStarts))
	for p, clock := range export.DefaultPeriodStarts {
		starts[strconv.Itoa(p)] = clock
	}
	v.SetDefault("export.term_start", "")
	v.SetDefault("export.weeks", export.DefaultWeeks)
	v.SetDefault("export.period_starts", starts)
	v.SetDefault("export.period_minutes", export.DefaultPeriodMinutes)
	v.SetDefault("export.timezone", "Local")
}

func (c *Config) resolvePaths() {
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir()
	}
	if c.Local.Path == "" {
		c.Local.Path = filepath.Join(c.DataDir, "schedule.db")
	}
	if c.Identity.SessionFile == "" {
		c.Identity.SessionFile = filepath.Join(c.DataDir, "session.json")
	}
	if c.Log.File == "" {
		c.Log.File = filepath.Join(c.DataDir, "tt.log")
	}
}

// Validate checks settings that would otherwise fail late.
func (c *Config) Validate() error {
	switch c.Remote.Backend {
	case BackendNone, BackendMemory:
	case BackendLibSQL, BackendSQLite:
		if c.Remote.URL == "" {
			return fmt.Errorf("invalid config: remote.url is required for backend %q", c.Remote.Backend)
		}
	case BackendRedis:
		if c.Remote.Redis.Addr == "" {
			return fmt.Errorf("invalid config: remote.redis.addr is required for backend redis")
		}
	case BackendS3:
		if c.Remote.S3.Bucket == "" {
			return fmt.Errorf("invalid config: remote.s3.bucket is required for backend s3")
		}
	default:
		return fmt.Errorf("invalid config: unknown remote.backend %q (want one of %s)",
			c.Remote.Backend, strings.Join(Backends, ", "))
	}
	if c.Remote.Timeout < 0 {
		return fmt.Errorf("invalid config: remote.timeout must not be negative")
	}
	if c.Dashboard.Port <= 0 || c.Dashboard.Port > 65535 {
		return fmt.Errorf("invalid config: dashboard.port must be between 1 and 65535")
	}
	if _, err := c.ExportOptions(); err != nil {
		return err
	}
	return nil
}

// ExportOptions converts the export section into export.Options.
func (c *Config) ExportOptions() (export.Options, error) {
	e := c.Export
	opts := export.Options{
		Weeks:         e.Weeks,
		PeriodMinutes: e.PeriodMinutes,
	}

	if e.Timezone != "" {
		loc, err := time.LoadLocation(e.Timezone)
		if err != nil {
			return opts, fmt.Errorf("invalid config: export.timezone: %w", err)
		}
		opts.Location = loc
	}

	if e.TermStart != "" {
		loc := opts.Location
		if loc == nil {
			loc = time.Local
		}
		t, err := time.ParseInLocation(time.DateOnly, e.TermStart, loc)
		if err != nil {
			return opts, fmt.Errorf("invalid config: export.term_start %q: want YYYY-MM-DD", e.TermStart)
		}
		opts.TermStart = t
	}

	if len(e.PeriodStarts) > 0 {
		opts.PeriodStarts = make(map[int]string, len(e.PeriodStarts))
		for k, clock := range e.PeriodStarts {
			p, err := strconv.Atoi(k)
			if err != nil || p < 1 {
				return opts, fmt.Errorf("invalid config: export.period_starts key %q is not a period number", k)
			}
			if _, err := time.Parse("15:04", clock); err != nil {
				return opts, fmt.Errorf("invalid config: export.period_starts[%s] = %q: want HH:MM", k, clock)
			}
			opts.PeriodStarts[p] = clock
		}
	}

	if opts.Weeks < 0 || opts.PeriodMinutes < 0 {
		return opts, fmt.Errorf("invalid config: export.weeks and export.period_minutes must not be negative")
	}
	return opts, nil
}
