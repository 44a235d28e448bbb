package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"firestore-client/internal/auth"
	"firestore-client/internal/changelog"
	"firestore-client/internal/config"
	"firestore-client/internal/rules"
	"firestore-client/internal/server"
	"firestore-client/internal/shared/logger"
	"firestore-client/pkg/firestore"
	"firestore-client/pkg/transport/memory"
	"firestore-client/pkg/transport/mongostore"

	"github.com/spf13/cobra"
)

var (
	serveHost    string
	servePort    string
	serveBackend string
	serveRules   string
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the emulator server",
	Long: `Serve the emulator over HTTP and WebSocket. The storage backend, change log,
security rules and token authentication are configured from the environment;
flags override the listen address, backend and rules file.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.LoadServerConfig()
		if err != nil {
			fatal("Failed to load configuration", err)
		}
		applyServeFlags(cmd, cfg)
		if err := cfg.Validate(); err != nil {
			fatal("Invalid configuration", err)
		}

		ctx, stop := context.WithCancel(context.Background())
		defer stop()

		emulator, cleanup, err := buildServer(ctx, cfg, appLogger)
		if err != nil {
			fatal("Failed to start emulator", err)
		}
		defer cleanup()

		appLogger.Infof("Serving project %s on %s (%s backend)", cfg.ProjectID, cfg.Addr(), cfg.Backend)

		serverShutdown := make(chan error, 1)
		go func() {
			serverShutdown <- emulator.Listen()
		}()

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case err := <-serverShutdown:
			if err != nil {
				fatal("Server stopped", err)
			}
		case sig := <-quit:
			appLogger.Infof("Received shutdown signal: %v", sig)
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := emulator.Shutdown(shutdownCtx); err != nil {
				appLogger.Errorf("Server forced to shutdown: %v", err)
			}
		}
		appLogger.Info("Emulator stopped")
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Listen host (SERVER_HOST)")
	serveCmd.Flags().StringVarP(&servePort, "port", "p", "", "Listen port (SERVER_PORT)")
	serveCmd.Flags().StringVar(&serveBackend, "backend", "", "Storage backend: memory or mongo (FIRESTORE_BACKEND)")
	serveCmd.Flags().StringVar(&serveRules, "rules", "", "Security rules YAML file (RULES_FILE)")
}

func applyServeFlags(cmd *cobra.Command, cfg *config.ServerConfig) {
	if cmd.Flags().Changed("host") {
		cfg.Host = serveHost
	}
	if cmd.Flags().Changed("port") {
		cfg.Port = servePort
	}
	if cmd.Flags().Changed("backend") {
		cfg.Backend = serveBackend
	}
	if cmd.Flags().Changed("rules") {
		cfg.RulesFile = serveRules
	}
}

// buildServer wires the configured backend, change log, rules and token
// service into a server. cleanup releases everything buildServer opened.
func buildServer(ctx context.Context, cfg *config.ServerConfig, log logger.Logger) (*server.Server, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*server.Server, func(), error) {
		cleanup()
		return nil, func() {}, err
	}

	var opts []server.Option
	var recorder firestore.ChangeRecorder
	if cfg.Redis.Enabled {
		client := cfg.Redis.NewClient()
		closers = append(closers, func() { _ = client.Close() })
		changes := changelog.NewRedisChangeLog(client, cfg.Redis.StreamKey, cfg.Redis.StreamMaxLength, log)
		if err := changes.Ping(ctx); err != nil {
			return fail(fmt.Errorf("redis change log at %s: %w", cfg.Redis.GetAddr(), err))
		}
		recorder = changes
		opts = append(opts, server.WithChangeLog(changes))
		log.Infof("Recording changes to Redis stream %s", cfg.Redis.StreamKey)
	}

	backend, err := openBackend(ctx, cfg, recorder, log)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, func() { _ = backend.Close() })

	if cfg.RulesFile != "" {
		engine, err := rules.NewEngine(log)
		if err != nil {
			return fail(err)
		}
		if err := engine.LoadFile(cfg.RulesFile); err != nil {
			return fail(fmt.Errorf("rules file %s: %w", cfg.RulesFile, err))
		}
		engine.SetDocumentLookup(rules.TransportLookup{Transport: backend})
		if cfg.RulesWatch {
			watchCtx, cancel := context.WithCancel(ctx)
			closers = append(closers, cancel)
			if err := engine.Watch(watchCtx, cfg.RulesFile); err != nil {
				return fail(err)
			}
		}
		opts = append(opts, server.WithRules(engine))
		log.Infof("Enforcing %d security rules from %s", len(engine.Rules()), cfg.RulesFile)
	}

	if cfg.AuthEnabled() {
		tokens, err := auth.NewJWTokenService(cfg)
		if err != nil {
			return fail(err)
		}
		opts = append(opts, server.WithTokenService(tokens))
	}

	opts = append(opts, server.WithLogger(log))
	return server.New(cfg, backend, opts...), cleanup, nil
}

func openBackend(ctx context.Context, cfg *config.ServerConfig, recorder firestore.ChangeRecorder, log logger.Logger) (firestore.Transport, error) {
	switch cfg.Backend {
	case config.BackendMongo:
		opts := []mongostore.Option{mongostore.WithLogger(log)}
		if recorder != nil {
			opts = append(opts, mongostore.WithChangeRecorder(recorder))
		}
		t, err := mongostore.Connect(ctx, cfg.MongoDBURI, cfg.MongoDBDatabase, opts...)
		if err != nil {
			return nil, err
		}
		log.Infof("Connected to MongoDB database %s", cfg.MongoDBDatabase)
		return t, nil
	default:
		opts := []memory.Option{memory.WithLogger(log)}
		if recorder != nil {
			opts = append(opts, memory.WithChangeRecorder(recorder))
		}
		return memory.New(opts...), nil
	}
}
