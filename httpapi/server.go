// Package httpapi exposes the authentication core over HTTP with fiber. It
// owns the wire formats and status mapping; all semantics live in the
// engine.
package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/feastbook/authcore"
)

const (
	msgNoToken            = "No token provided"
	msgTokenExpired       = "Token expired"
	msgTokenInvalid       = "Invalid token"
	msgInvalidCredentials = "Invalid credentials"
	msgInvalidCode        = "Invalid verification code"
	msgInvalidBody        = "Invalid request body"
	msgInternal           = "Internal error"
)

const localsAuthKey = "authcore.result"

// Server wires the engine's operations onto fiber routes.
type Server struct {
	engine *authcore.Engine
	log    zerolog.Logger
}

// NewServer returns a Server over engine. The logger only records transport
// failures; authentication outcomes flow through the engine's audit sink.
func NewServer(engine *authcore.Engine, log zerolog.Logger) *Server {
	return &Server{engine: engine, log: log}
}

// Register mounts all authentication routes under /auth.
func (s *Server) Register(app fiber.Router) {
	auth := app.Group("/auth")

	auth.Post("/login", s.handleLogin)
	auth.Post("/2fa/verify", s.handleVerifySecondFactor)
	auth.Post("/check-username", s.handleCheckUsername)

	// Handlers run in registration order, so the guard goes first.
	auth.Get("/2fa/status", s.requireAuth, s.handleTwoFactorStatus)
	auth.Post("/2fa/setup/init", s.requireAuth, s.handleSetupInit)
	auth.Post("/2fa/setup/verify", s.requireAuth, s.handleSetupVerify)
	auth.Post("/2fa/disable", s.requireAuth, s.handleDisable)
	auth.Post("/2fa/backup-codes/regenerate", s.requireAuth, s.handleRegenerateBackupCodes)
}

// requireAuth authenticates the bearer token and stashes the result in the
// request locals. The three 401 messages are distinct on purpose.
func (s *Server) requireAuth(c fiber.Ctx) error {
	header := c.Get(fiber.HeaderAuthorization)
	const bearer = "Bearer "
	if len(header) <= len(bearer) || header[:len(bearer)] != bearer {
		return message(c, http.StatusUnauthorized, msgNoToken)
	}

	result, err := s.engine.Authorize(s.requestContext(c), header[len(bearer):])
	if err != nil {
		switch {
		case errors.Is(err, authcore.ErrTokenExpired):
			return message(c, http.StatusUnauthorized, msgTokenExpired)
		case errors.Is(err, authcore.ErrStoreUnavailable):
			return s.internal(c, err)
		default:
			return message(c, http.StatusUnauthorized, msgTokenInvalid)
		}
	}

	c.Locals(localsAuthKey, result)
	return c.Next()
}

// requestContext carries the caller's network identity into the engine for
// audit events.
func (s *Server) requestContext(c fiber.Ctx) context.Context {
	ctx := authcore.WithClientIP(c.Context(), c.IP())
	return authcore.WithUserAgent(ctx, c.Get(fiber.HeaderUserAgent))
}

func authResult(c fiber.Ctx) *authcore.AuthResult {
	result, _ := c.Locals(localsAuthKey).(*authcore.AuthResult)
	return result
}

func (s *Server) internal(c fiber.Ctx, err error) error {
	s.log.Error().Err(err).Str("path", c.Path()).Msg("request failed")
	return message(c, http.StatusInternalServerError, msgInternal)
}

func message(c fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(fiber.Map{"message": msg})
}
