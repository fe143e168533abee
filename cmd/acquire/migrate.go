package main

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func RunMigrateCommand(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the snatch database schema",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := setup(cmd.Context(), *configPath, true)
			if err != nil {
				return err
			}
			defer e.Close()
			return printVersion(cmd, e)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := setup(cmd.Context(), *configPath, false)
			if err != nil {
				return err
			}
			defer e.Close()
			if err := e.db.MigrateDown(cmd.Context()); err != nil {
				return errors.Wrap(err, "roll back migration")
			}
			return printVersion(cmd, e)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := setup(cmd.Context(), *configPath, false)
			if err != nil {
				return err
			}
			defer e.Close()
			return printVersion(cmd, e)
		},
	})

	return cmd
}

func printVersion(cmd *cobra.Command, e *env) error {
	v, err := e.db.MigrationVersion(cmd.Context())
	if err != nil {
		return errors.Wrap(err, "read schema version")
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: schema version %d\n", e.db.Path(), v)
	return nil
}
