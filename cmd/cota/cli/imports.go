package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/cota-system/cota/internal/app"
	"github.com/cota-system/cota/internal/platform/cache"
	"github.com/cota-system/cota/internal/spreadsheet"
)

var importJSON bool

func newImportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Load spreadsheets into the database",
	}
	cmd.PersistentFlags().BoolVar(&importJSON, "json", false, "print the import report as JSON")

	cmd.AddCommand(&cobra.Command{
		Use:   "requisitions FILE...",
		Short: "Import RC spreadsheets (.xlsx or .xls)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd, args, func(ctx context.Context, s *app.Services, files []spreadsheet.File) (any, int, int, error) {
				rep, err := s.Requisitions.Import(ctx, files)
				return rep, rep.Accepted, len(rep.Rejected), err
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "suppliers FILE...",
		Short: "Import the approved vendor list",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd, args, func(ctx context.Context, s *app.Services, files []spreadsheet.File) (any, int, int, error) {
				rep, err := s.Suppliers.Import(ctx, files)
				return rep, rep.Imported, len(rep.Rejected), err
			})
		},
	})
	return cmd
}

type importFunc func(ctx context.Context, s *app.Services, files []spreadsheet.File) (report any, accepted, rejected int, err error)

func runImport(cmd *cobra.Command, paths []string, run importFunc) error {
	files, err := readFiles(paths)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	// Supplier writes bump the shared catalog version, so Redis is optional here.
	redisClient, err := cache.New(ctx, e.cfg.RedisAddr)
	if err != nil {
		e.logger.Warn("redis unavailable, catalog version not bumped", slog.Any("error", err))
	} else {
		defer func() {
			_ = redisClient.Close()
		}()
	}
	services, err := app.NewServices(app.ServiceParams{Config: e.cfg, Logger: e.logger, Pool: e.pool, Redis: redisClient})
	if err != nil {
		return err
	}
	rep, accepted, rejected, err := run(ctx, services, files)
	if err != nil {
		return err
	}
	return printReport(cmd.OutOrStdout(), rep, accepted, rejected)
}

func printReport(w io.Writer, rep any, accepted, rejected int) error {
	if importJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	}
	_, err := fmt.Fprintf(w, "imported: %d\nrejected: %d\n", accepted, rejected)
	return err
}

func readFiles(paths []string) ([]spreadsheet.File, error) {
	files := make([]spreadsheet.File, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", p, err)
		}
		files = append(files, spreadsheet.File{Name: filepath.Base(p), Data: data})
	}
	return files, nil
}
