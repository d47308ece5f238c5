package api

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/Checker-Finance/oneself-console/internal/auth"
	"github.com/Checker-Finance/oneself-console/internal/httpclient"
	"github.com/Checker-Finance/oneself-console/internal/navigation"
	"github.com/Checker-Finance/oneself-console/internal/rate"
	"github.com/Checker-Finance/oneself-console/internal/session"
	"github.com/Checker-Finance/oneself-console/pkg/utils"
)

// AuthService is the login workflow used by the handler.
type AuthService interface {
	Captcha(ctx context.Context) (*auth.Captcha, error)
	Login(ctx context.Context, p auth.LoginParams) (*httpclient.Envelope, error)
	Logout(ctx context.Context) (*httpclient.Envelope, error)
	Refresh(ctx context.Context) (*httpclient.Envelope, error)
}

// SessionReader exposes the session state the handler reports on.
type SessionReader interface {
	Snapshot() (session.Session, uint64)
	IsAuthenticated() bool
}

// Navigator applies the navigation guard.
type Navigator interface {
	Navigate(path string) (navigation.Route, string, error)
	Current() string
}

// ConsoleHandler serves the console's auth, session and view endpoints.
type ConsoleHandler struct {
	logger  *zap.Logger
	auth    AuthService
	session SessionReader
	nav     Navigator
	limiter *rate.Limiter
}

// NewConsoleHandler creates a ConsoleHandler.
func NewConsoleHandler(logger *zap.Logger, authSvc AuthService, sess SessionReader, nav Navigator) *ConsoleHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConsoleHandler{logger: logger, auth: authSvc, session: sess, nav: nav}
}

// Captcha returns a fresh captcha challenge.
func (h *ConsoleHandler) Captcha(c *fiber.Ctx) error {
	captcha, err := h.auth.Captcha(c.UserContext())
	if err != nil {
		h.logger.Warn("console.captcha_failed", zap.Error(err))
		return writeError(c, err)
	}
	return c.JSON(captcha)
}

// Login authenticates against the gateway.
func (h *ConsoleHandler) Login(c *fiber.Ctx) error {
	var req LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: err.Error()})
	}
	if err := req.Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: err.Error()})
	}

	env, err := h.auth.Login(c.UserContext(), auth.LoginParams{
		Username:    req.Username,
		Password:    req.Password,
		CaptchaID:   req.CaptchaID,
		CaptchaCode: req.CaptchaCode,
	})
	if err != nil {
		h.logger.Warn("console.login_failed", zap.String("username", req.Username), zap.Error(err))
		return writeError(c, err)
	}

	resp := fiber.Map{
		"authenticated": h.session.IsAuthenticated(),
		"envelope":      toEnvelopeResponse(env),
	}
	if h.session.IsAuthenticated() {
		if h.limiter != nil {
			h.limiter.Reset(c.IP())
		}
		if route, _, err := h.nav.Navigate(navigation.HomePath); err == nil {
			resp["redirect"] = route.Path
		}
	}
	return c.JSON(resp)
}

// Logout ends the session. The session is gone even when the gateway call fails.
func (h *ConsoleHandler) Logout(c *fiber.Ctx) error {
	env, err := h.auth.Logout(c.UserContext())
	_, _, _ = h.nav.Navigate(navigation.LoginPath)
	if err != nil {
		h.logger.Warn("console.logout_gateway_failed", zap.Error(err))
		return c.JSON(fiber.Map{
			"loggedOut": true,
			"warning":   err.Error(),
			"redirect":  navigation.LoginPath,
		})
	}
	return c.JSON(fiber.Map{
		"loggedOut": true,
		"envelope":  toEnvelopeResponse(env),
		"redirect":  navigation.LoginPath,
	})
}

// Refresh renews the access token.
func (h *ConsoleHandler) Refresh(c *fiber.Ctx) error {
	env, err := h.auth.Refresh(c.UserContext())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(toEnvelopeResponse(env))
}

// Session reports the current session without revealing the token.
func (h *ConsoleHandler) Session(c *fiber.Ctx) error {
	snap, gen := h.session.Snapshot()
	resp := SessionResponse{
		Authenticated:   snap.AccessToken != "",
		Token:           utils.MaskToken(snap.AccessToken),
		HasRefreshToken: snap.RefreshToken != "",
		Profile:         snap.UserProfile,
		Generation:      gen,
	}
	if exp, ok := session.TokenExpiry(snap.AccessToken); ok {
		resp.ExpiresAt = &exp
	}
	if sub, ok := session.TokenSubject(snap.AccessToken); ok {
		resp.Subject = sub
	}
	return c.JSON(resp)
}

// View resolves a console view through the navigation guard. Guard and alias
// redirects answer 302.
func (h *ConsoleHandler) View(c *fiber.Ctx) error {
	requested := c.Path()
	route, redirect, err := h.nav.Navigate(requested)
	if errors.Is(err, navigation.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Error: err.Error()})
	}
	if err != nil {
		return writeError(c, err)
	}
	if redirect != "" || route.Path != requested {
		return c.Redirect(route.Path, fiber.StatusFound)
	}
	return c.JSON(ViewResponse{View: route.Name, Path: route.Path, RequiresAuth: route.RequiresAuth})
}

// RequireSession rejects API calls when no token is stored.
func (h *ConsoleHandler) RequireSession(c *fiber.Ctx) error {
	if !h.session.IsAuthenticated() {
		return c.Status(fiber.StatusUnauthorized).JSON(ErrorResponse{
			Error:    "not logged in",
			Redirect: navigation.LoginPath,
		})
	}
	return c.Next()
}
