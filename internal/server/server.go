// Package server exposes conversations and streamed turns over HTTP.
package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/spotter/internal/db"
	"github.com/zulandar/spotter/internal/orchestrator"
	"github.com/zulandar/spotter/internal/transcript"
	"go.uber.org/zap"
)

// shutdownTimeout bounds how long in-flight turns get to finish on shutdown.
const shutdownTimeout = 30 * time.Second

// Opts holds the dependencies of the HTTP API.
type Opts struct {
	Store        *transcript.Store
	Orchestrator *orchestrator.Orchestrator
	Repo         db.Repository // optional; keeps plan rows in step with confirmations
	Port         int
	Logger       *zap.Logger
	Out          io.Writer
}

// NewRouter builds the gin engine serving the API.
func NewRouter(opts Opts) (*gin.Engine, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("server: store is required")
	}
	if opts.Orchestrator == nil {
		return nil, fmt.Errorf("server: orchestrator is required")
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	router := gin.New()
	router.Use(traceContext(), requestLogger(log), gin.Recovery())
	registerRoutes(router, &handlers{
		store: opts.Store,
		orch:  opts.Orchestrator,
		repo:  opts.Repo,
		log:   log,
	})
	return router, nil
}

// Start serves the API until ctx is cancelled, then shuts down gracefully.
func Start(ctx context.Context, opts Opts) error {
	if opts.Port <= 0 {
		opts.Port = 8080
	}
	gin.SetMode(gin.ReleaseMode)
	router, err := NewRouter(opts)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdownErr := make(chan error, 1)
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		shutdownErr <- srv.Shutdown(sctx)
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Spotter API listening on :%d\n", opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: %w", err)
	}
	if err := <-shutdownErr; err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
