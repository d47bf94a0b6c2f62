package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/audiolibrelab/clipstage/internal/config"
	"github.com/audiolibrelab/clipstage/internal/manager"

	"github.com/spf13/cobra"
)

var (
	cfg          *config.Config
	cfgFile      string
	scope        string
	logFile      string
	verboseLevel int
	logRotator   *lumberjack.Logger
)

var rootCmd = &cobra.Command{
	Use:   "clipstage",
	Short: "Record, stage and manage per-button audio clips",
	Long: `clipstage records short audio clips bound to numbered buttons.

A capture is staged in a temporary file first and only replaces the
button's stored clip when it is finalized. Each message type (scope) has
its own storage directory and metadata file.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogging(verboseLevel, logFile)

		// The default config path is only used when it exists
		if cfgFile == "" {
			defaultPath := os.ExpandEnv("$HOME/.config/clipstage.yaml")
			if _, err := os.Stat(defaultPath); err == nil {
				cfgFile = defaultPath
			}
		}

		var err error
		cfg, err = config.Load(cfgFile, scope)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		slog.Debug("configuration loaded", "config", cfgFile, "scope", cfg.MessageType)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if err := writeMetrics(os.Stderr); err != nil {
			slog.Warn("metrics unavailable", "error", err)
		}
		if logRotator != nil {
			logRotator.Close()
		}
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/clipstage.yaml)")
	rootCmd.PersistentFlags().StringVarP(&scope, "scope", "s", "", "message type to operate on (overrides message_type from file)")
	rootCmd.PersistentFlags().IntVarP(&verboseLevel, "verbose", "v", 0, "verbose level: 0=info, 1=debug, 2=debug with source locations")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "also write logs to this file, rotated by size")
	rootCmd.PersistentFlags().BoolVar(&showMetrics, "metrics", false, "print recorder metrics when the command ends")

	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(playCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(nextIDCmd)
	rootCmd.AddCommand(readOnlyCmd)
	rootCmd.AddCommand(defaultCmd)
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(configCmd)
}

// setupLogging configures slog based on the verbose level
func setupLogging(level int, path string) {
	var slogLevel slog.Level
	switch level {
	case 0:
		slogLevel = slog.LevelInfo
	default:
		slogLevel = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{
		Level:     slogLevel,
		AddSource: level >= 2,
	}

	var out io.Writer = os.Stderr
	if path != "" {
		logRotator = &lumberjack.Logger{
			Filename:   path,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		}
		out = io.MultiWriter(os.Stderr, logRotator)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(out, opts)))
}

// newManager opens the manager for the loaded scope.
func newManager() (*manager.Manager, error) {
	rm, err := recorderMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	mgr, err := manager.New(cfg, manager.WithLogger(slog.Default()), manager.WithMetrics(rm))
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", cfg.MessageType, err)
	}
	return mgr, nil
}

// closeManager releases mgr and reports a cleanup failure as a warning.
func closeManager(mgr *manager.Manager) {
	if err := mgr.Cleanup(); err != nil {
		slog.Warn("cleanup failed", "error", err)
	}
}
