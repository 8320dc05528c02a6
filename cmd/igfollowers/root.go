package main

import (
	"fmt"
	"os"
	"runtime"

	"igfollowers/pkg/config"
	"igfollowers/pkg/logger"
	"igfollowers/pkg/ui"

	"github.com/spf13/cobra"
)

var (
	// Version information
	version   = "0.1.0"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// rootOptions holds the global flags
type rootOptions struct {
	configFile string
	logLevel   string
	quiet      bool
	noColor    bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "igfollowers",
		Short: "Collect the followers of Instagram accounts",
		Long: `igfollowers collects the followers of Instagram accounts into a database.

It logs in with one or more accounts, spreads page fetches over a pool of
workers, rotates proxies, backs off on rate limits and resolves login
challenges. Jobs are bounded by a maximum follower count and can be stopped
and resumed.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&opts.configFile, "config", "c", "", "config file (default is ./.igfollowers.yaml or $HOME/.config/igfollowers/config.yaml)")
	pf.StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	pf.BoolVarP(&opts.quiet, "quiet", "q", false, "only log errors")
	pf.BoolVar(&opts.noColor, "no-color", false, "disable colored output")

	cmd.SetVersionTemplate(`igfollowers {{.Version}}
Go Version: ` + runtime.Version() + `
OS/Arch: ` + runtime.GOOS + `/` + runtime.GOARCH + `
`)
	cmd.CompletionOptions.DisableDefaultCmd = true

	cmd.AddCommand(
		newScrapeCmd(opts),
		newJobsCmd(opts),
		newServeCmd(opts),
		newAuthCmd(opts),
		newConfigCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

// Execute runs the root command and exits non-zero on error
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// load reads the configuration with flags on top and initializes the global logger
func (o *rootOptions) load(flags map[string]interface{}) (*config.Config, error) {
	if flags == nil {
		flags = make(map[string]interface{})
	}
	switch {
	case o.quiet:
		flags["log-level"] = "error"
	case o.logLevel != "":
		flags["log-level"] = o.logLevel
	}

	cfg, err := config.Load(o.configFile, flags)
	if err != nil {
		return nil, err
	}
	if err := logger.Initialize(&cfg.Logging); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, nil
}

func (o *rootOptions) printer(cmd *cobra.Command) *ui.Printer {
	if o.noColor {
		return ui.NewPlainPrinter(cmd.OutOrStdout())
	}
	return ui.NewPrinter(cmd.OutOrStdout())
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "igfollowers %s\ncommit: %s\nbuilt: %s\ngo: %s %s/%s\n",
				version, gitCommit, buildDate, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		},
	}
}
