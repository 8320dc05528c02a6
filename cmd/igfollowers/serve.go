package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"igfollowers/internal/api"
	"igfollowers/pkg/logger"
	"igfollowers/pkg/models"

	"github.com/spf13/cobra"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var (
		addr   string
		resume bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the operator HTTP API",
		Long: `Run the scraper with an HTTP API for starting, inspecting and stopping jobs.

Batches are committed in the background for as long as the server runs.
With --resume, jobs left running by a previous process continue from their
saved cursor.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load(map[string]interface{}{"addr": addr})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, err := newApp(ctx, cfg, logger.GetLogger(), appDeps{})
			if err != nil {
				return err
			}
			defer app.Close()

			lis, err := net.Listen("tcp", cfg.Server.Addr)
			if err != nil {
				return fmt.Errorf("failed to listen on %s: %w", cfg.Server.Addr, err)
			}
			return serveApp(ctx, app, lis, resume)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().BoolVar(&resume, "resume", false, "resume jobs left running by a previous process")
	return cmd
}

// serveApp serves the API on lis and commits batches until ctx is done,
// then shuts the server down within the configured timeout.
func serveApp(ctx context.Context, app *App, lis net.Listener, resume bool) error {
	log := app.Logger.WithField("component", "server")

	srv := &http.Server{
		Handler:           api.NewRouter(api.NewHandler(app.Scraper, app.Logger)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	consumerCtx, cancelConsumer := context.WithCancel(context.Background())
	consumed := make(chan struct{})
	go func() {
		defer close(consumed)
		app.Scraper.RunConsumer(consumerCtx)
	}()
	defer func() {
		cancelConsumer()
		<-consumed
	}()

	app.Scraper.Start()
	if resume {
		resumeRunning(ctx, app, log)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.LogComponentStart(log, "http_server", map[string]interface{}{
			"addr": lis.Addr().String(),
		})
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info("Shutdown signal received")
	case serveErr = <-errCh:
		log.WithError(serveErr).Error("Server failure")
	}

	timeout := app.Config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("Server did not shut down cleanly")
	}
	logger.LogComponentStop(log, "http_server", "shutdown")
	return serveErr
}

func resumeRunning(ctx context.Context, app *App, log logger.Logger) {
	jobs, err := app.Scraper.ListJobs(ctx, models.StatusRunning)
	if err != nil {
		log.WithError(err).Warn("Failed to list running jobs")
		return
	}
	for _, j := range jobs {
		if err := app.Scraper.Resume(ctx, j.ID); err != nil {
			log.WithError(err).WithField("job_id", j.ID).Warn("Failed to resume job")
		}
	}
	if len(jobs) > 0 {
		log.WithField("jobs", len(jobs)).Info("Resumed running jobs")
	}
}
