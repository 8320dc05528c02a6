package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"igfollowers/pkg/logger"
	"igfollowers/pkg/models"
	"igfollowers/pkg/storage"
	"igfollowers/pkg/ui"

	"github.com/spf13/cobra"
)

func newJobsCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and control scraping jobs",
		Long: `Inspect and control scraping jobs recorded in the configured database.

The memory driver keeps jobs only for the lifetime of one process, so these
commands are useful with the postgres driver.`,
	}
	cmd.AddCommand(
		newJobsListCmd(root),
		newJobsStatusCmd(root),
		newJobsFollowersCmd(root),
		newJobsStopCmd(root),
		newJobsStopAllCmd(root),
		newJobsResumeCmd(root),
	)
	return cmd
}

// withOfflineApp loads config and runs fn against an app that does not
// restore sessions.
func withOfflineApp(cmd *cobra.Command, root *rootOptions, fn func(app *App, p *ui.Printer) error) error {
	cfg, err := root.load(nil)
	if err != nil {
		return err
	}
	p := root.printer(cmd)
	if strings.EqualFold(cfg.Database.Driver, "memory") {
		p.Warning("Using the memory driver: only jobs of this process are visible")
	}

	app, err := newApp(cmd.Context(), cfg, logger.GetLogger(), appDeps{offline: true})
	if err != nil {
		return err
	}
	defer app.Close()
	return fn(app, p)
}

func parseJobID(raw string) (uint, error) {
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid job id %q", raw)
	}
	return uint(id), nil
}

func newJobsListCmd(root *rootOptions) *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := models.Status(strings.ToLower(status))
			if filter != "" && !filter.Valid() {
				return fmt.Errorf("unknown status %q", status)
			}
			return withOfflineApp(cmd, root, func(app *App, p *ui.Printer) error {
				jobs, err := app.Scraper.ListJobs(cmd.Context(), filter)
				if err != nil {
					return err
				}
				p.Jobs(jobs)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&status, "status", "s", "", "only list jobs with this status")
	return cmd
}

func newJobsStatusCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status <id>",
		Short: "Show a job and what was collected for its account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			return withOfflineApp(cmd, root, func(app *App, p *ui.Printer) error {
				ctx := cmd.Context()
				job, err := app.Storage.GetJob(ctx, id)
				if err != nil {
					return fmt.Errorf("job %d: %w", id, err)
				}
				stats, err := storage.AccountStats(ctx, app.Storage, job.AccountID)
				if err != nil {
					return err
				}

				p.Summary(job.Snapshot(), stats.TotalFollowers)
				if job.LastCursor != "" {
					p.Info("Cursor", job.LastCursor)
				}
				p.Info("Account jobs", fmt.Sprintf("%d", stats.TotalJobs))
				p.Info("Account followers", fmt.Sprintf("%d", stats.Account.FollowerCount))
				return nil
			})
		},
	}
}

func newJobsFollowersCmd(root *rootOptions) *cobra.Command {
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "followers <id>",
		Short: "List the followers stored for a job's target",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			if limit < 0 || offset < 0 {
				return fmt.Errorf("limit and offset must not be negative")
			}
			return withOfflineApp(cmd, root, func(app *App, p *ui.Printer) error {
				page, err := app.Scraper.Followers(cmd.Context(), id, limit, offset)
				if err != nil {
					return err
				}
				p.Followers(page)
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "followers to show, 0 for all")
	cmd.Flags().IntVar(&offset, "offset", 0, "followers to skip")
	return cmd
}

func newJobsStopCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stop <id>",
		Short: "Stop a running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			return withOfflineApp(cmd, root, func(app *App, p *ui.Printer) error {
				ok, err := app.Scraper.Stop(cmd.Context(), id)
				if err != nil {
					return err
				}
				if !ok {
					p.Warning(fmt.Sprintf("Job %d is not running", id))
					return nil
				}
				p.Success(fmt.Sprintf("Stopped job %d", id))
				return nil
			})
		},
	}
}

func newJobsStopAllCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stop-all",
		Short: "Stop every running job",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOfflineApp(cmd, root, func(app *App, p *ui.Printer) error {
				n, err := app.Scraper.StopAll(cmd.Context())
				p.Success(fmt.Sprintf("Stopped %d job(s)", n))
				return err
			})
		},
	}
}

func newJobsResumeCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "resume <id>",
		Short: "Resume a running job from its saved cursor and follow it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			cfg, err := root.load(nil)
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

			if err := app.Scraper.Resume(ctx, id); err != nil {
				return err
			}
			p.Info("Resumed job", fmt.Sprintf("%d", id))
			return follow(ctx, stop, app, p, id)
		},
	}
}
