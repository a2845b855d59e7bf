package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"partitionstore/internal/app"
	"partitionstore/pkg/config"
	"partitionstore/pkg/logger"
	"partitionstore/pkg/shutdown"
)

const shutdownTimeout = 20 * time.Second

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Open the configured partitions and serve metrics until signalled",
	Long: `Load the effective configuration (flags over environment over config file
over defaults), open every configured partition, start the resource sensor,
the journal pruner and the metrics server, then block until SIGINT or
SIGTERM and close everything.`,
	Args: cobra.NoArgs,
	Run:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("root", "", "directory holding one store per partition (overrides config)")
}

// effectiveConfig builds and validates the configuration the same way for
// every command that needs one.
func effectiveConfig(cmd *cobra.Command) (config.EffectiveConfigResult, error) {
	flags := config.Flags{Set: map[string]bool{}}
	if f := cmd.Flags().Lookup("config"); f != nil {
		flags.Config = f.Value.String()
		flags.Set["config"] = f.Changed
	}
	if f := cmd.Flags().Lookup("root"); f != nil {
		flags.Root = f.Value.String()
		flags.Set["root"] = f.Changed
	}

	fileCfg, fileExists, err := config.ParseConfigFile(flags)
	if err != nil {
		return config.EffectiveConfigResult{}, fmt.Errorf("load config file: %w", err)
	}
	eff, err := config.LoadEffectiveConfig(flags, fileCfg, fileExists)
	if err != nil {
		return eff, err
	}
	if err := config.ValidateConfig(&eff); err != nil {
		return eff, fmt.Errorf("invalid configuration: %w", err)
	}
	if lv, _ := cmd.Flags().GetString("log-level"); lv != "" {
		eff.Config.Logging.Level = lv
	}
	return eff, nil
}

func runServe(cmd *cobra.Command, _ []string) {
	root, _ := cmd.Flags().GetString("root")

	eff, err := effectiveConfig(cmd)
	if err != nil {
		shutdown.Abort("failed to build effective config", err, root)
	}

	// initialize logger after config is fully loaded
	logger.Init(eff.Config.Logging.Level, eff.Config.Logging.Sink)
	defer logger.Sync()
	if dir := eff.Config.Logging.AuditDir; dir != "" {
		if err := logger.AttachAuditFileSink(dir); err != nil {
			shutdown.Abort("failed to open audit log", err, eff.Root)
		}
	}

	logger.Info("effective_config_loaded", "source", eff.Source, "root", eff.Root, "partitions", eff.Config.Store.Partitions)
	logger.LogConfigSummary("effective_config", eff.Config.Summary())

	a, err := app.New(eff, version, commit, buildDate)
	if err != nil {
		shutdown.Abort("failed to initialize app", err, eff.Root)
	}

	// set up context and signal handling for graceful shutdown
	ctx, cancel := shutdown.SetupSignalHandler(context.Background())
	defer cancel()

	runErr := a.Run(ctx)

	// shutdown the app with a bounded timeout so teardown cannot hang forever
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := a.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown_failed", "error", err)
		fmt.Fprintf(os.Stderr, "shutdown failed: %v\n", err)
	}
	if runErr != nil {
		shutdown.Abort("app run failed", runErr, eff.Root)
	}
}
