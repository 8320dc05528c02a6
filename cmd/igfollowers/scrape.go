package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"igfollowers/pkg/instagram"
	"igfollowers/pkg/logger"
	"igfollowers/pkg/models"
	"igfollowers/pkg/scraper"
	"igfollowers/pkg/ui"

	"github.com/spf13/cobra"
)

type scrapeOptions struct {
	maxFollowers int
	workers      int
	batchSize    int
	account      string
	proxies      []string
	dbDriver     string
	databaseURL  string
	redisURL     string
}

func newScrapeCmd(root *rootOptions) *cobra.Command {
	opts := &scrapeOptions{}

	cmd := &cobra.Command{
		Use:   "scrape <username>",
		Short: "Collect the followers of an account",
		Long: `Start a job collecting the followers of an account and follow its progress
until it completes, fails or is interrupted. Interrupting stops the job; a
second interrupt exits immediately.`,
		Example: `  igfollowers scrape natgeo --max-followers 500
  igfollowers scrape https://instagram.com/natgeo --account mylogin --workers 4`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScrape(cmd, root, opts, args[0])
		},
	}

	f := cmd.Flags()
	f.IntVarP(&opts.maxFollowers, "max-followers", "m", 0, "maximum followers to collect (default from config)")
	f.IntVarP(&opts.workers, "workers", "w", 0, "number of page fetch workers")
	f.IntVar(&opts.batchSize, "batch-size", 0, "followers committed per batch")
	f.StringVarP(&opts.account, "account", "a", "", "login account to scrape with")
	f.StringSliceVar(&opts.proxies, "proxies", nil, "proxy URLs to rotate through")
	f.StringVar(&opts.dbDriver, "db-driver", "", "storage driver (memory, postgres)")
	f.StringVar(&opts.databaseURL, "database-url", "", "postgres connection URL")
	f.StringVar(&opts.redisURL, "redis-url", "", "redis URL for the session cache")
	return cmd
}

func (o *scrapeOptions) flags() map[string]interface{} {
	return map[string]interface{}{
		"max-followers": o.maxFollowers,
		"workers":       o.workers,
		"batch-size":    o.batchSize,
		"username":      o.account,
		"proxies":       o.proxies,
		"db-driver":     o.dbDriver,
		"database-url":  o.databaseURL,
		"redis-url":     o.redisURL,
	}
}

func parseTarget(raw string) (string, error) {
	target := instagram.SanitizeUsername(raw)
	if !instagram.IsValidUsername(target) {
		return "", fmt.Errorf("invalid username: %q", raw)
	}
	return target, nil
}

func runScrape(cmd *cobra.Command, root *rootOptions, opts *scrapeOptions, raw string) error {
	target, err := parseTarget(raw)
	if err != nil {
		return err
	}
	cfg, err := root.load(opts.flags())
	if err != nil {
		return err
	}
	p := root.printer(cmd)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApp(ctx, cfg, logger.GetLogger(), appDeps{})
	if err != nil {
		return err
	}
	defer app.Close()

	p.Info("Target", "@"+target)
	p.Info("Max followers", fmt.Sprintf("%d", cfg.Scraper.MaxFollowers))

	id, err := app.Scraper.StartScraping(ctx, target, cfg.Scraper.MaxFollowers)
	if err != nil {
		if errors.Is(err, scraper.ErrNoCredentials) {
			p.Warning("No login configured. Run 'igfollowers auth login' or set IGFOLLOWERS_USERNAME and IGFOLLOWERS_PASSWORD.")
		}
		return err
	}
	p.Info("Job", fmt.Sprintf("%d", id))

	return follow(ctx, stop, app, p, id)
}

// follow commits batches and redraws the progress of a job until it reaches
// a terminal status. When ctx is cancelled the job is stopped and followed
// until the stop lands.
func follow(ctx context.Context, stop context.CancelFunc, app *App, p *ui.Printer, id uint) error {
	consumerCtx, cancelConsumer := context.WithCancel(context.Background())
	consumed := make(chan struct{})
	go func() {
		defer close(consumed)
		app.Scraper.RunConsumer(consumerCtx)
	}()
	drain := func() {
		cancelConsumer()
		<-consumed
	}

	interval := app.Config.Scraper.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	done := ctx.Done()
	for {
		select {
		case <-done:
			// restore default signal handling so a second interrupt exits
			stop()
			done = nil
			p.Warning("\nInterrupted, stopping job...")
			if _, err := app.Scraper.Stop(context.Background(), id); err != nil {
				drain()
				return fmt.Errorf("failed to stop job %d: %w", id, err)
			}
		case <-ticker.C:
		}

		snap, err := app.Scraper.GetStatus(context.Background(), id)
		if err != nil {
			drain()
			return err
		}
		p.Progress(snap)
		// a running job whose loop exited and whose batches are all taken
		// will not move again in this process
		if !snap.Status.Terminal() && (app.Scraper.IsActive(id) || app.Scraper.QueuedBatches() > 0) {
			continue
		}

		drain()
		// the drain may have committed more followers
		if final, err := app.Scraper.GetStatus(context.Background(), id); err == nil {
			snap = final
		}
		stored := int64(-1)
		if job, err := app.Storage.GetJob(context.Background(), id); err == nil {
			if n, err := app.Storage.CountFollowers(context.Background(), job.AccountID); err == nil {
				stored = n
			}
		}
		p.Summary(snap, stored)

		switch snap.Status {
		case models.StatusFailed:
			return fmt.Errorf("job %d failed: %s", id, snap.LastError)
		case models.StatusRunning:
			return fmt.Errorf("job %d stopped making progress (last error: %q), resume it with: jobs resume %d", id, snap.LastError, id)
		}
		return nil
	}
}
