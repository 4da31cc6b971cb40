package auth

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"optcond-backend/internal/engine"
	"optcond-backend/internal/logger"
	"optcond-backend/internal/store"
)

// AuthHandler handles authentication endpoints.
type AuthHandler struct {
	store  *store.Store
	tokens *Tokens
	log    *logger.Logger
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(s *store.Store, tokens *Tokens, log *logger.Logger) *AuthHandler {
	return &AuthHandler{store: s, tokens: tokens, log: log}
}

// Login handles POST /api/auth/login.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.BodyParser(&body); err != nil {
		return engine.InvalidPayloadError("Invalid request body")
	}
	if body.Email == "" || body.Password == "" {
		return engine.UnauthorizedError("Email and password are required")
	}

	ctx := c.UserContext()

	var u user
	err := store.Get(ctx, h.store.DB, &u,
		"SELECT id, email, password_hash, roles, active FROM _users WHERE email = ?", body.Email)
	if errors.Is(err, store.ErrNotFound) {
		return engine.UnauthorizedError("Invalid email or password")
	}
	if err != nil {
		return err
	}
	if !u.Active {
		return engine.UnauthorizedError("Account is disabled")
	}
	if !CheckPassword(body.Password, u.PasswordHash) {
		h.log.Info("login rejected", "email", body.Email)
		return engine.UnauthorizedError("Invalid email or password")
	}

	pair, err := h.issue(ctx, h.store.DB, u.ID, u.Roles)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": pair})
}

// Refresh handles POST /api/auth/refresh. The used refresh token is deleted
// and a new pair is issued.
func (h *AuthHandler) Refresh(c *fiber.Ctx) error {
	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.BodyParser(&body); err != nil {
		return engine.InvalidPayloadError("Invalid request body")
	}
	if body.RefreshToken == "" {
		return engine.UnauthorizedError("Refresh token is required")
	}

	ctx := c.UserContext()
	var pair *TokenPair
	err := h.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		var row struct {
			ID        string `db:"id"`
			UserID    string `db:"user_id"`
			ExpiresAt int64  `db:"expires_at"`
			Roles     Roles  `db:"roles"`
			Active    bool   `db:"active"`
		}
		err := store.Get(ctx, tx, &row,
			`SELECT rt.id, rt.user_id, rt.expires_at, u.roles, u.active
			 FROM _refresh_tokens rt
			 JOIN _users u ON u.id = rt.user_id
			 WHERE rt.token = ?`, body.RefreshToken)
		if errors.Is(err, store.ErrNotFound) {
			return engine.UnauthorizedError("Invalid refresh token")
		}
		if err != nil {
			return err
		}

		if h.tokens.now().Unix() > row.ExpiresAt {
			return errRefreshExpired
		}
		if _, err := store.Exec(ctx, tx, "DELETE FROM _refresh_tokens WHERE id = ?", row.ID); err != nil {
			return err
		}
		if !row.Active {
			return engine.UnauthorizedError("Account is disabled")
		}

		pair, err = h.issue(ctx, tx, row.UserID, row.Roles)
		return err
	})
	if errors.Is(err, errRefreshExpired) {
		// The expired token is still removed.
		_, _ = store.Exec(ctx, h.store.DB, "DELETE FROM _refresh_tokens WHERE token = ?", body.RefreshToken)
		return engine.UnauthorizedError("Refresh token expired")
	}
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": pair})
}

// Logout handles POST /api/auth/logout.
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.BodyParser(&body); err != nil {
		return engine.InvalidPayloadError("Invalid request body")
	}
	if body.RefreshToken == "" {
		return engine.UnauthorizedError("Refresh token is required")
	}

	if _, err := store.Exec(c.UserContext(), h.store.DB,
		"DELETE FROM _refresh_tokens WHERE token = ?", body.RefreshToken); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"message": "Logged out"})
}

// RegisterAuthRoutes registers auth routes on the given Fiber app.
func RegisterAuthRoutes(app *fiber.App, h *AuthHandler) {
	auth := app.Group("/api/auth")
	auth.Post("/login", h.Login)
	auth.Post("/refresh", h.Refresh)
	auth.Post("/logout", h.Logout)
}

var errRefreshExpired = errors.New("refresh token expired")

func (h *AuthHandler) issue(ctx context.Context, q store.Querier, userID string, roles []string) (*TokenPair, error) {
	accessToken, err := h.tokens.AccessToken(userID, roles)
	if err != nil {
		return nil, err
	}

	refreshToken, expiresAt := h.tokens.RefreshToken()
	_, err = store.Exec(ctx, q,
		"INSERT INTO _refresh_tokens (id, user_id, token, expires_at) VALUES (?, ?, ?, ?)",
		uuid.NewString(), userID, refreshToken, expiresAt.Unix())
	if err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int64(h.tokens.accessTTL.Seconds()),
	}, nil
}
