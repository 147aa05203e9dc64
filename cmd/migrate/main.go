// Command migrate applies the schema migrations under migrations/ to the
// configured Postgres database.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/davidleathers/anomaly-detection-backend/internal/infrastructure/config"
)

func main() {
	var (
		configPath = flag.String("config", "configs/config.yaml", "path to configuration file")
		action     = flag.String("action", "up", "migration action: up, down, version")
		steps      = flag.Int("steps", 0, "number of migrations to run (0 = all)")
		sourceDir  = flag.String("source", "migrations", "directory holding migration files")
	)
	flag.Parse()

	cfg, err := config.LoadFrom(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if cfg.Database.URL == "" {
		slog.Error("no database URL configured, set database.url or ADE_DATABASE_URL")
		os.Exit(1)
	}

	m, err := migrate.New("file://"+*sourceDir, cfg.Database.URL)
	if err != nil {
		slog.Error("failed to initialize migrator", "error", err)
		os.Exit(1)
	}
	defer m.Close()

	if err := runAction(m, *action, *steps); err != nil {
		slog.Error("migration failed", "action", *action, "error", err)
		os.Exit(1)
	}
}

func runAction(m *migrate.Migrate, action string, steps int) error {
	switch action {
	case "up":
		return report(apply(m, steps, func() error { return m.Up() }))
	case "down":
		if steps == 0 {
			steps = 1
		}
		return report(m.Steps(-steps))
	case "version":
		version, dirty, err := m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			slog.Info("no migrations applied")
			return nil
		}
		if err != nil {
			return err
		}
		slog.Info("schema version", "version", version, "dirty", dirty)
		return nil
	default:
		return fmt.Errorf("unknown action %q", action)
	}
}

func apply(m *migrate.Migrate, steps int, all func() error) error {
	if steps > 0 {
		return m.Steps(steps)
	}
	return all()
}

func report(err error) error {
	if errors.Is(err, migrate.ErrNoChange) {
		slog.Info("schema already up to date")
		return nil
	}
	if err == nil {
		slog.Info("migrations applied")
	}
	return err
}
