package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/spotter/internal/db"
	"github.com/zulandar/spotter/internal/orchestrator"
	"github.com/zulandar/spotter/internal/provider"
	"github.com/zulandar/spotter/internal/server"
	"github.com/zulandar/spotter/internal/telemetry"
	"github.com/zulandar/spotter/internal/tools"
	"github.com/zulandar/spotter/internal/transcript"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		port       int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Spotter API",
		Long:  "Serves the conversation API and runs the pending-confirmation sweeper until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, port)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Spotter config file")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (overrides config)")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string, port int) error {
	a, err := openApp(configPath)
	if err != nil {
		return err
	}
	defer a.close()
	if port > 0 {
		a.cfg.Server.Port = port
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, a.cfg.Telemetry, Version)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			a.log.Warn("telemetry shutdown", zap.Error(err))
		}
	}()

	prov, err := provider.NewGemini(ctx, provider.GeminiConfig{
		APIKey:          a.cfg.Provider.APIKey(),
		Model:           a.cfg.Provider.Model,
		SystemPrompt:    a.cfg.Provider.SystemPrompt,
		MaxOutputTokens: a.cfg.Provider.MaxOutputTokens,
	})
	if err != nil {
		return fmt.Errorf("provider (key from $%s): %w", a.cfg.Provider.APIKeyEnv, err)
	}

	store, err := transcript.NewStore(transcript.StoreOpts{DB: a.db})
	if err != nil {
		return err
	}
	registry, err := tools.NewBuiltinRegistry()
	if err != nil {
		return err
	}
	dispatcher, err := tools.NewDispatcher(tools.DispatcherOpts{Registry: registry, Logger: a.log.Named("tools")})
	if err != nil {
		return err
	}
	repo := db.NewRepository(a.db)
	orch, err := orchestrator.New(orchestrator.Opts{
		Store:         store,
		Provider:      prov,
		Dispatcher:    dispatcher,
		Repo:          repo,
		MaxRoundTrips: a.cfg.Orchestrator.MaxRoundTrips,
		Logger:        a.log.Named("orchestrator"),
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Start(gctx, server.Opts{
			Store:        store,
			Orchestrator: orch,
			Repo:         repo,
			Port:         a.cfg.Server.Port,
			Logger:       a.log.Named("http"),
			Out:          cmd.OutOrStdout(),
		})
	})
	if !a.cfg.Sweeper.Disabled {
		sw, err := newSweeper(a)
		if err != nil {
			stop()
			_ = g.Wait()
			return err
		}
		g.Go(func() error {
			sw.Run(gctx)
			return nil
		})
	}

	a.log.Info("spotter started",
		zap.String("version", Version),
		zap.Int("port", a.cfg.Server.Port),
		zap.String("database", a.cfg.Database.Driver),
		zap.String("model", a.cfg.Provider.Model),
	)
	err = g.Wait()
	fmt.Fprintln(cmd.OutOrStdout(), "Spotter stopped.")
	return err
}
