// Package cli provides the command-line interface for the dashboard backend.
package cli

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dataprofiler/dashboard/internal/config"
	"github.com/dataprofiler/dashboard/internal/logging"
	"github.com/dataprofiler/dashboard/internal/metrics"
	"github.com/dataprofiler/dashboard/internal/session"
	"github.com/dataprofiler/dashboard/internal/storage"
)

var (
	// Version is set at build time.
	Version   = "dev"
	BuildTime = "unknown"

	// Global flags
	configPath string
	verbose    bool

	// Loaded in PersistentPreRunE
	cfg         *config.AppConfig
	logger      *slog.Logger
	closeLogger func() error
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Data profiler dashboard backend",
	Long: `Dashboard uploads CSV files to the data profiling service and tracks
each analysis job through the service's status push stream.

Run "dashboard serve" for the browser API, or "dashboard analyze <file.csv>"
to run one job from the terminal.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		var err error
		cfg, err = config.LoadConfig(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if err := cfg.EnsureDirectories(); err != nil {
			return err
		}

		level := logging.ParseLevel(cfg.Advanced.LogLevel)
		if verbose {
			level = slog.LevelDebug
		}
		logger, closeLogger = logging.Setup(cfg.Advanced.LogFile, level)
		slog.SetDefault(logger)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if closeLogger != nil {
			if err := closeLogger(); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close log file: %v\n", err)
			}
		}
	},
}

func defaultConfigPath() string {
	if p := os.Getenv("DASHBOARD_CONFIG"); p != "" {
		return p
	}
	exePath, err := os.Executable()
	if err != nil {
		return "dashboard.config.xml"
	}
	return filepath.Join(filepath.Dir(exePath), "dashboard.config.xml")
}

// openReports opens the configured history backend.
func openReports() (storage.Store, error) {
	if cfg.Storage.Backend == config.BackendDuckDB {
		store, err := storage.NewDuckStore(cfg.ReportsDBPath(), storage.DuckOptions{
			Threads:     cfg.Advanced.DuckDBThreads,
			MemoryLimit: cfg.Advanced.DuckDBMemoryLimit,
			Limit:       cfg.Storage.HistoryLimit,
		}, logger)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
	store, err := storage.NewLocalStore(cfg.ReportsDir(), cfg.Storage.HistoryLimit)
	if err != nil {
		return nil, err
	}
	return store, nil
}

// mountSession starts the engine against the configured analysis service.
func mountSession(reports storage.Store) (*session.Manager, error) {
	return session.Mount(session.Options{
		AnalysisURL:    cfg.Analysis.BaseURL,
		UploadPath:     cfg.Analysis.UploadPath,
		EventsURL:      cfg.Analysis.EventsURL,
		Deadline:       cfg.Deadline(),
		CleanupDelay:   cfg.CleanupDelay(),
		ReconnectDelay: cfg.ReconnectDelay(),
		MaxMessageSize: cfg.MaxMessageBytes(),
		Reports:        reports,
		Metrics:        metrics.NewCollector(),
		Logger:         logger,
	})
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "config file (.xml, .yaml or .yml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(reportsCmd)
}
