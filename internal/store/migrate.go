package store

import (
	"context"
	"embed"
	"fmt"
	"sort"
	"strings"

	"log/slog"
)

// Embed files from a subfolder next to this file
//
//go:embed migrations/*.sql
var migrations embed.FS

// RunMigrations executes all embedded .sql files in name order.
// Every file is idempotent, so re-running on boot is safe.
func RunMigrations(ctx context.Context, p *Postgres, log *slog.Logger) error {
	entries, err := migrations.ReadDir("migrations")
	if err != nil {
		return err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		b, err := migrations.ReadFile("migrations/" + name)
		if err != nil {
			return err
		}
		if _, err := p.pool.Exec(ctx, string(b)); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		log.Info("migration.applied", "file", name)
	}
	return nil
}
