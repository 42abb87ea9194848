package app

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"time"

	"queryline/internal/config"
	"queryline/internal/db"
	"queryline/internal/engine"
	"queryline/internal/migrate"
	"queryline/internal/notify"
)

// Context bundles the open database and loaded config a command works with.
type Context struct {
	Workspace string
	DB        *sql.DB
	Config    *config.Config
}

// Bootstrap opens the workspace database, applies migrations and loads the
// workspace config. A missing config file falls back to the built-in default
// catalog so read commands keep working before `ql init` has run.
func Bootstrap(workspace string) (*Context, error) {
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default()
	}
	return &Context{Workspace: workspace, DB: conn, Config: cfg}, nil
}

// Engine returns an engine bound to this context, with notification sinks
// wired: state changes are logged through a dedup window sized from config.
func (c *Context) Engine() engine.Engine {
	e := engine.New(c.DB, c.Config)
	sink := notify.LogSink{Logger: slog.Default()}
	window := time.Duration(c.Config.Notifications.DedupWindowSeconds) * time.Second
	e.Notify = notify.NewDeduper(sink, window)
	e.Audit = sink
	return e
}

func (c *Context) Close() error {
	if c.DB == nil {
		return nil
	}
	return c.DB.Close()
}

// InitWorkspace writes the default config file when none exists and prepares
// the database. Returns the config path.
func InitWorkspace(workspace string) (string, error) {
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		return "", err
	}
	path := config.Path(workspace)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
			return "", err
		}
	} else if err != nil {
		return "", err
	}
	ctx, err := Bootstrap(workspace)
	if err != nil {
		return "", err
	}
	defer ctx.Close()
	if err := ctx.Config.Validate(); err != nil {
		return "", err
	}
	return path, nil
}
