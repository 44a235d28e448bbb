// Package server is the emulator: it exposes any firestore.Transport over the
// HTTP and WebSocket protocol spoken by the remote transport.
package server

import (
	"context"
	"errors"
	"time"

	"firestore-client/internal/auth"
	"firestore-client/internal/config"
	"firestore-client/internal/rules"
	apperrors "firestore-client/internal/shared/errors"
	"firestore-client/internal/shared/logger"
	"firestore-client/pkg/firestore"
	"firestore-client/pkg/transport/remote"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

// ChangeLog is the read side of the committed change log.
type ChangeLog interface {
	GetSince(ctx context.Context, since string, count int64) ([]firestore.ChangeRecord, error)
}

// Server serves one project of a transport.
type Server struct {
	app       *fiber.App
	cfg       *config.ServerConfig
	transport firestore.Transport
	rules     *rules.Engine
	tokens    *auth.JWTokenService
	changes   ChangeLog
	log       logger.Logger
	started   time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithRules enforces security rules. Without an engine every request that passes
// authentication is allowed.
func WithRules(e *rules.Engine) Option {
	return func(s *Server) { s.rules = e }
}

// WithTokenService enables bearer token authentication.
func WithTokenService(t *auth.JWTokenService) Option {
	return func(s *Server) { s.tokens = t }
}

// WithChangeLog serves the change log endpoint.
func WithChangeLog(c ChangeLog) Option {
	return func(s *Server) { s.changes = c }
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) { s.log = l }
}

// New creates a server over t.
func New(cfg *config.ServerConfig, t firestore.Transport, opts ...Option) *Server {
	s := &Server{
		cfg:       cfg,
		transport: t,
		log:       logger.NewNopLogger(),
		started:   time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.WithComponent("server")

	s.app = fiber.New(fiber.Config{
		AppName:               "Firestore Emulator",
		ReadTimeout:           cfg.ReadTimeout,
		WriteTimeout:          cfg.WriteTimeout,
		DisableStartupMessage: true,
		UnescapePath:          true,
		ErrorHandler:          s.errorHandler,
	})
	s.app.Use(recover.New())
	s.app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))
	s.app.Use(s.requestID())

	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.app.Get(remote.HealthPath, s.health)

	v1 := s.app.Group(remote.APIPrefix, s.authenticate())
	v1.Get("/changes", s.listChanges)

	db := v1.Group("/projects/:project/databases/:database", s.checkDatabase)
	db.Post(`/documents\:runQuery`, s.runQuery)
	db.Post(`/documents\:commit`, s.commit)
	db.Get("/documents/*", s.getDocument)
	db.Use(remote.ListenSuffix, s.requireUpgrade)
	db.Get(remote.ListenSuffix, s.listenHandler())
}

// App exposes the Fiber application, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves on the configured address until Shutdown.
func (s *Server) Listen() error {
	s.log.Infof("Emulator listening on %s (project %s)", s.cfg.Addr(), s.cfg.ProjectID)
	return s.app.Listen(s.cfg.Addr())
}

// Shutdown stops accepting connections and waits for handlers to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "healthy",
		"service":   "firestore-emulator",
		"projectId": s.cfg.ProjectID,
		"backend":   s.cfg.Backend,
		"auth":      s.tokens != nil,
		"rules":     s.rules != nil,
		"changeLog": s.changes != nil,
		"uptime":    time.Since(s.started).Round(time.Second).String(),
	})
}

// errorHandler renders every error as {"error": {...}} with the status of its kind.
func (s *Server) errorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		appErr := apperrors.NewAppError(apperrors.TypeFromHTTPStatus(fe.Code), fe.Message)
		return c.Status(fe.Code).JSON(remote.ErrorBody{Error: appErr})
	}

	appErr := remote.ToAppError(err)
	status := apperrors.HTTPStatus(appErr.Type)
	if status >= fiber.StatusInternalServerError {
		s.log.Errorf("%s %s failed: %v", c.Method(), c.Path(), err)
	} else {
		s.log.Debugf("%s %s rejected: %v", c.Method(), c.Path(), err)
	}
	return c.Status(status).JSON(remote.ErrorBody{Error: appErr})
}
