// Package main implements the lifemoments service: the reminder API, the
// in-process dispatch scheduler and one-shot maintenance commands.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configPath string
	version    = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "lifemoments",
	Short: "Life Moments reminder service",
	Long: `lifemoments stores personal event reminders and emails the owner and
their recipients shortly before each occurrence.

Configuration is read from built-in defaults, the optional --config YAML file
and the environment (DATABASE_URI, BREVO_API_KEY, AUTH_JWT_SECRET, ...).`,
	Version:      version,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(dispatchCmd)
	rootCmd.AddCommand(migrateCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the dispatch scheduler",
	Long: `Run the HTTP API and, unless scheduler.enabled is false, dispatch due
reminders on the scheduler.cron schedule.

Examples:
  # Run with defaults and environment overrides
  lifemoments serve

  # Run with a config file, leaving dispatch to an external trigger
  SCHEDULER_ENABLED=false lifemoments serve --config config.yaml`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var dispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Send due reminders once and print the run summary",
	Long: `Process one batch of due reminders and print the summary as JSON.
Intended for external schedulers such as a system cron or a Kubernetes CronJob.`,
	Args: cobra.NoArgs,
	RunE: runDispatch,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	Args:  cobra.NoArgs,
	RunE:  runMigrate,
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, configPath, modeServe)
	if err != nil {
		return err
	}
	defer a.Close()

	return a.Serve(ctx)
}

func runDispatch(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, configPath, modeDispatch)
	if err != nil {
		return err
	}
	defer a.Close()

	summary, runErr := a.dispatcher.Run(ctx)
	out, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode summary: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return runErr
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, configPath, modeMigrate)
	if err != nil {
		return err
	}
	defer a.Close()

	a.logger.Info("migrations up to date")
	return nil
}

// exitOnPanic keeps a crash in a background goroutine from skipping deferred cleanup.
func exitOnPanic(logger *zap.Logger, name string, errCh chan<- error) {
	if r := recover(); r != nil {
		logger.Error("goroutine panicked", zap.String("goroutine", name), zap.Any("panic", r))
		errCh <- fmt.Errorf("%s panicked: %v", name, r)
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
