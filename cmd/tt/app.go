package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/timetable-sync/timetable/internal/config"
	"github.com/timetable-sync/timetable/internal/identity"
	"github.com/timetable-sync/timetable/internal/local"
	"github.com/timetable-sync/timetable/internal/logging"
	"github.com/timetable-sync/timetable/internal/remote"
	"github.com/timetable-sync/timetable/internal/remote/redisdoc"
	"github.com/timetable-sync/timetable/internal/remote/s3doc"
	"github.com/timetable-sync/timetable/internal/remote/sqldoc"
	"github.com/timetable-sync/timetable/internal/store"
	"github.com/timetable-sync/timetable/internal/ui"
)

// app is everything a command needs, opened from cfg.
type app struct {
	logs     *logging.Factory
	kv       *local.SQLiteKV
	remote   remote.Adapter
	session  *identity.SessionFile // nil when no remote backend is configured
	provider identity.Provider
	store    *store.Store
	closers  []io.Closer
}

// openApp wires the store from configuration without starting it.
func openApp(ctx context.Context) (*app, error) {
	logs, err := logging.New(logging.Options{
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Verbose:    cfg.Log.Verbose,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open log: %w", err)
	}
	a := &app{logs: logs}

	kv, err := local.OpenSQLite(cfg.Local.Path)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to open local schedule: %w", err)
	}
	a.kv = kv
	a.closers = append(a.closers, kv)

	rem, closer, err := openRemote(ctx, cfg, logs.Logger("remote"))
	if err != nil {
		a.Close()
		return nil, err
	}
	if closer != nil {
		a.closers = append(a.closers, closer)
	}
	a.remote = remote.WithTimeout(rem, cfg.Remote.Timeout)

	if cfg.Remote.Backend == config.BackendNone {
		a.provider = identity.NewStatic(identity.Local())
	} else {
		a.session = identity.NewSessionFile(cfg.Identity.SessionFile, logs.Logger("identity"))
		a.provider = a.session
	}

	a.store = store.New(
		local.NewAdapter(kv, logs.Logger("local")),
		a.remote,
		a.provider,
		store.WithLogger(logs.Logger("store")),
	)
	return a, nil
}

// startApp opens the app and loads the schedule. A load or merge failure is
// reported as a warning; the store is still usable.
func startApp(ctx context.Context) (*app, error) {
	a, err := openApp(ctx)
	if err != nil {
		return nil, err
	}
	if err := a.store.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", ui.RenderWarn("Warning:"), err)
	}
	return a, nil
}

// Close releases every resource in reverse order of opening.
func (a *app) Close() {
	if a.store != nil {
		_ = a.store.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			fmt.Fprintf(os.Stderr, "%s %v\n", ui.RenderWarn("Warning:"), err)
		}
	}
	if a.logs != nil {
		_ = a.logs.Close()
	}
}

// openRemote builds the configured document backend. The closer is nil for
// backends holding no resources.
func openRemote(ctx context.Context, cfg *config.Config, logger *log.Logger) (remote.Adapter, io.Closer, error) {
	switch cfg.Remote.Backend {
	case config.BackendNone, config.BackendMemory:
		return remote.NewMemory(), nil, nil

	case config.BackendLibSQL:
		replica := filepath.Join(cfg.DataDir, "remote-replica.db")
		s, err := sqldoc.OpenLibSQL(ctx, cfg.Remote.URL, cfg.Remote.AuthToken, replica, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open libsql backend: %w", err)
		}
		return s, s, nil

	case config.BackendSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.Remote.URL), 0755); err != nil {
			return nil, nil, fmt.Errorf("failed to create remote database directory: %w", err)
		}
		conn, err := sql.Open("sqlite3", "file:"+cfg.Remote.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open sqlite backend: %w", err)
		}
		s, err := sqldoc.New(ctx, conn, logger)
		if err != nil {
			_ = conn.Close()
			return nil, nil, fmt.Errorf("failed to open sqlite backend: %w", err)
		}
		return s, s, nil

	case config.BackendRedis:
		r := cfg.Remote.Redis
		s, err := redisdoc.Open(ctx, redisdoc.Options{
			Addr:      r.Addr,
			Password:  r.Password,
			DB:        r.DB,
			KeyPrefix: r.KeyPrefix,
		}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open redis backend: %w", err)
		}
		return s, s, nil

	case config.BackendS3:
		c := cfg.Remote.S3
		s, err := s3doc.Open(ctx, s3doc.Config{
			Bucket:          c.Bucket,
			Region:          c.Region,
			Endpoint:        c.Endpoint,
			AccessKeyID:     c.AccessKeyID,
			SecretAccessKey: c.SecretAccessKey,
			Prefix:          c.Prefix,
			UsePathStyle:    c.UsePathStyle,
		}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open s3 backend: %w", err)
		}
		return s, nil, nil
	}
	return nil, nil, errors.New("unknown remote backend " + cfg.Remote.Backend)
}
