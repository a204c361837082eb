// Package cmd defines and implements the CLI commands for the harvester executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/JakeFAU/crawl-harvester/internal/app"
	"github.com/JakeFAU/crawl-harvester/internal/config"
	"github.com/JakeFAU/crawl-harvester/internal/logging"
)

const closeTimeout = 10 * time.Second

// appKeyType is the key for storing the App in the context.
type appKeyType struct{}

// appFactory builds the services for one command invocation. Tests replace it
// to isolate the Prometheus registry.
type appFactory func(ctx context.Context, cfgFile string) (*app.App, error)

func defaultAppFactory(reg prometheus.Registerer) appFactory {
	return func(ctx context.Context, cfgFile string) (*app.App, error) {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
		if err != nil {
			return nil, fmt.Errorf("init logger: %w", err)
		}
		return app.New(ctx, cfg, logger, reg)
	}
}

// rootOptions carries the state shared between the root hooks and Execute.
type rootOptions struct {
	cfgFile string
	newApp  appFactory
	app     *app.App
}

// close is safe to call more than once; the post-run hook does not fire when
// a command fails, so Execute calls it too.
func (o *rootOptions) close() error {
	if o.app == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	err := o.app.Close(ctx)
	o.app = nil
	return err
}

// newRootCmd creates and configures the root command.
func newRootCmd(newApp appFactory) (*cobra.Command, *rootOptions) {
	opts := &rootOptions{newApp: newApp}
	cmd := &cobra.Command{
		Use:   "harvester",
		Short: "Drive a remote crawl service and harvest its results.",
		Long: `harvester submits site crawls to a remote crawl service, tracks each job
in a local report store, downloads completed results into a content store with
a resumable cursor, and indexes visited pages so later crawls skip them.`,
		SilenceUsage: true,

		// Builds the application once config is known and before the subcommand's RunE.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			a, err := opts.newApp(cmd.Context(), opts.cfgFile)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			opts.app = a
			cmd.SetContext(context.WithValue(cmd.Context(), appKeyType{}, a))
			return nil
		},

		PersistentPostRunE: func(*cobra.Command, []string) error {
			return opts.close()
		},
	}

	cmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (defaults and HARVESTER_* env vars apply without one)")

	cmd.AddCommand(
		newSubmitCmd(),
		newCancelCmd(),
		newStatusCmd(),
		newDownloadCmd(),
		newListCmd(),
		newVisitedPagesCmd(),
		newServeCmd(),
	)
	return cmd, opts
}

// Execute is the main entry point.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root, opts := newRootCmd(defaultAppFactory(prometheus.DefaultRegisterer))
	err := root.ExecuteContext(ctx)
	if cerr := opts.close(); cerr != nil {
		fmt.Fprintln(os.Stderr, "shutdown:", cerr)
	}
	if err != nil {
		os.Exit(1)
	}
}

func resolveApp(ctx context.Context) (*app.App, error) {
	a, ok := ctx.Value(appKeyType{}).(*app.App)
	if !ok || a == nil {
		return nil, errors.New("application services not initialized")
	}
	return a, nil
}
