// Package cli holds the cota command tree.
package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/cota-system/cota/internal/app"
	"github.com/cota-system/cota/internal/platform/db"
)

// NewRootCommand builds the cota command with every subcommand attached.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "cota",
		Short:         "Supplier quotation service",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(
		newServeCommand(),
		newMigrateCommand(),
		newImportCommand(),
		newJobsCommand(),
	)
	return root
}

// env is the shared runtime of commands that talk to Postgres.
type env struct {
	cfg    *app.Config
	logger *slog.Logger
	pool   *pgxpool.Pool
}

func openEnv(ctx context.Context) (*env, error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger := app.NewLogger(cfg)
	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, logger: logger, pool: pool}, nil
}

func (e *env) Close() {
	if e != nil && e.pool != nil {
		e.pool.Close()
	}
}
