package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zulandar/spotter/internal/db"
	"github.com/zulandar/spotter/internal/sweeper"
	"github.com/zulandar/spotter/internal/transcript"
)

func newSweepCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Cancel stale pending confirmations once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openApp(configPath)
			if err != nil {
				return err
			}
			defer rt.close()

			sw, err := newSweeper(rt)
			if err != nil {
				return err
			}
			n, err := sw.RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cancelled %d pending confirmations older than %s\n", n, rt.cfg.Sweeper.PendingTTL)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Spotter config file")
	return cmd
}

func newSweeper(rt *app) (*sweeper.Sweeper, error) {
	store, err := transcript.NewStore(transcript.StoreOpts{DB: rt.db})
	if err != nil {
		return nil, err
	}
	return sweeper.New(sweeper.Opts{
		Store:    store,
		Repo:     db.NewRepository(rt.db),
		Schedule: rt.cfg.Sweeper.Schedule,
		TTL:      rt.cfg.Sweeper.PendingTTL,
		Logger:   rt.log.Named("sweeper"),
	})
}
