package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zulandar/spotter/internal/db"
)

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
	}
	cmd.AddCommand(newDBMigrateCmd())
	return cmd
}

func newDBMigrateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the Spotter tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openApp(configPath)
			if err != nil {
				return err
			}
			defer rt.close()
			fmt.Fprintf(cmd.OutOrStdout(), "Migrated %d tables (%s)\n", len(db.AllModels()), rt.cfg.Database.Driver)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Spotter config file")
	return cmd
}
