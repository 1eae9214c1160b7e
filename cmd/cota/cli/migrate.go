package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cota-system/cota/migrations"
)

func newMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRunner(cmd, func(r *migrations.Runner) error {
				from, to, err := r.Up()
				if err != nil {
					return err
				}
				if from == to {
					fmt.Fprintf(cmd.OutOrStdout(), "schema is up to date (version %d)\n", to)
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "migrated %d -> %d\n", from, to)
				return nil
			})
		},
	}
	cmd.AddCommand(newMigrateDownCommand(), newMigrateVersionCommand())
	return cmd
}

func newMigrateDownCommand() *cobra.Command {
	var steps int
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back applied migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRunner(cmd, func(r *migrations.Runner) error {
				if err := r.Down(steps); err != nil {
					return err
				}
				v, err := r.Version()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "rolled back to version %d\n", v)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")
	return cmd
}

func newMigrateVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRunner(cmd, func(r *migrations.Runner) error {
				v, err := r.Version()
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), v)
				return nil
			})
		},
	}
}

func withRunner(cmd *cobra.Command, fn func(*migrations.Runner) error) error {
	e, err := openEnv(cmd.Context())
	if err != nil {
		return err
	}
	defer e.Close()
	r, err := migrations.New(e.pool, e.logger)
	if err != nil {
		return err
	}
	defer r.Close()
	return fn(r)
}
