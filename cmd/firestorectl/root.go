package main

import (
	"fmt"
	"os"

	"firestore-client/internal/config"
	"firestore-client/internal/shared/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	envFiles   []string
	verbose    bool
	logFormat  string
	logBackend string

	appLogger logger.Logger = logger.NewNopLogger()
)

var rootCmd = &cobra.Command{
	Use:   "firestorectl",
	Short: "Firestore emulator and command line client",
	Long: `firestorectl serves a Firestore compatible emulator backed by memory or MongoDB,
and reads, writes, queries and listens to documents of a running emulator.

Settings come from the environment (FIRESTORE_*, MONGODB_*, REDIS_*, JWT_*)
and from .env files.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if err := config.LoadDotEnv(envFiles...); err != nil {
			fatal("Failed to load env files", err)
		}
		l, err := newLogger()
		if err != nil {
			fatal("Failed to create logger", err)
		}
		appLogger = l
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "Load environment from these files instead of ./.env")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: text or json (default from LOG_FORMAT)")
	rootCmd.PersistentFlags().StringVar(&logBackend, "log-backend", "logrus", "Logging library: logrus or zap")
}

// newLogger logs to stderr so command output on stdout stays parseable.
func newLogger() (logger.Logger, error) {
	level := os.Getenv("LOG_LEVEL")
	if verbose {
		level = "debug"
	}
	format := logFormat
	if format == "" {
		format = os.Getenv("LOG_FORMAT")
	}

	switch logBackend {
	case "", "logrus":
		return logger.NewLoggerWithOutput(level, format, os.Stderr), nil
	case "zap":
		cfg := zap.NewProductionConfig()
		if format != "json" {
			cfg = zap.NewDevelopmentConfig()
		}
		if verbose {
			cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		}
		z, err := cfg.Build()
		if err != nil {
			return nil, err
		}
		return logger.NewZapLogger(z), nil
	}
	return nil, fmt.Errorf("unknown log backend %q", logBackend)
}
