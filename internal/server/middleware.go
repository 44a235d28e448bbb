package server

import (
	"context"
	"errors"
	"strings"

	"firestore-client/internal/auth"
	"firestore-client/internal/shared/contextkeys"
	apperrors "firestore-client/internal/shared/errors"
	"firestore-client/pkg/transport/remote"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const (
	localClaims     = "claims"
	headerRequestID = "X-Request-ID"
)

// requestID tags the request context with an id, reusing the caller's when present.
func (s *Server) requestID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Get(headerRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(headerRequestID, id)
		c.SetUserContext(context.WithValue(c.UserContext(), contextkeys.RequestIDKey, id))
		return c.Next()
	}
}

// authenticate validates the bearer token, taken from the Authorization header or,
// for WebSocket upgrades, the token query parameter. Requests without a token
// are anonymous; rules decide what they may do. With authentication enabled and
// no rules, a token is required.
func (s *Server) authenticate() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if s.tokens == nil {
			return c.Next()
		}

		token := extractToken(c)
		if token == "" {
			if s.rules == nil {
				return apperrors.NewUnauthenticatedError("Authorization token required")
			}
			return c.Next()
		}

		claims, err := s.tokens.ValidateToken(c.UserContext(), token)
		if err != nil {
			msg := "Invalid token"
			if errors.Is(err, auth.ErrTokenExpired) {
				msg = "Token expired"
			}
			return apperrors.NewUnauthenticatedError(msg).WithCause(err)
		}

		c.Locals(localClaims, claims)
		c.SetUserContext(context.WithValue(c.UserContext(), contextkeys.UserIDKey, claims.UID()))
		return c.Next()
	}
}

func extractToken(c *fiber.Ctx) string {
	if header := c.Get(fiber.HeaderAuthorization); strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return c.Query("token")
}

// checkDatabase rejects projects and databases this server does not serve.
func (s *Server) checkDatabase(c *fiber.Ctx) error {
	project := c.Params("project")
	database := c.Params("database")
	if project != s.cfg.ProjectID {
		return apperrors.NewNotFoundError("project " + project)
	}
	if database != remote.DefaultDatabaseID {
		return apperrors.NewNotFoundError("database " + database)
	}
	ctx := context.WithValue(c.UserContext(), contextkeys.ProjectIDKey, project)
	c.SetUserContext(context.WithValue(ctx, contextkeys.DatabaseIDKey, database))
	return c.Next()
}

func (s *Server) requireUpgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// claimsFrom reads the claims stored by authenticate, nil for anonymous callers.
func claimsFrom(local interface{}) *auth.Claims {
	claims, _ := local.(*auth.Claims)
	return claims
}
