package api

import (
	"encoding/json"
	"fmt"

	"github.com/gofiber/fiber/v2"

	"atrium-backend/internal/auth"
	"atrium-backend/internal/store"
)

// AuthHandler serves token issuance against the _users system table.
type AuthHandler struct {
	store     *store.Store
	jwtSecret string
}

func NewAuthHandler(s *store.Store, jwtSecret string) *AuthHandler {
	return &AuthHandler{store: s, jwtSecret: jwtSecret}
}

// Login handles POST /api/auth/login. The issued token carries the user's
// tenant and requested access mode; read_write is the default.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Mode     string `json:"mode"`
	}
	if err := c.BodyParser(&body); err != nil {
		return NewAppError("INVALID_PAYLOAD", 400, "Invalid request body")
	}
	if body.Email == "" || body.Password == "" {
		return fiber.NewError(fiber.StatusUnauthorized, "email and password are required")
	}

	ctx := c.Context()
	sqlStr := fmt.Sprintf(
		"SELECT id, tenant_id, password_hash, roles, active FROM _users WHERE email = %s",
		h.store.Dialect.Placeholder(1))
	user, err := store.QueryRow(ctx, h.store.DB, sqlStr, body.Email)
	if err != nil {
		return fiber.NewError(fiber.StatusUnauthorized, "invalid email or password")
	}

	if !isActive(user["active"]) {
		return fiber.NewError(fiber.StatusUnauthorized, "account is disabled")
	}

	passwordHash, _ := user["password_hash"].(string)
	if !auth.CheckPassword(body.Password, passwordHash) {
		return fiber.NewError(fiber.StatusUnauthorized, "invalid email or password")
	}

	userID, _ := user["id"].(string)
	tenantID, ok := toInt64(user["tenant_id"])
	if !ok {
		return fmt.Errorf("user %s has no tenant", userID)
	}
	roles := extractRoles(user["roles"])

	mode := body.Mode
	switch mode {
	case "", "read_write":
		mode = "read_write"
	case "read_only", "cross_tenant":
	default:
		return NewAppError("INVALID_MODE", 400, "mode must be read_write, read_only or cross_tenant")
	}

	token, err := auth.GenerateAccessToken(userID, tenantID, mode, roles, h.jwtSecret)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{"data": fiber.Map{"access_token": token}})
}

func isActive(v any) bool {
	switch a := v.(type) {
	case bool:
		return a
	case int64: // sqlite stores booleans as integers
		return a != 0
	}
	return false
}

// extractRoles handles both the postgres text[] representation and the
// sqlite JSON-text representation.
func extractRoles(v any) []string {
	switch raw := v.(type) {
	case []string:
		return raw
	case []any:
		roles := make([]string, 0, len(raw))
		for _, r := range raw {
			if s, ok := r.(string); ok {
				roles = append(roles, s)
			}
		}
		return roles
	case string:
		var roles []string
		if err := json.Unmarshal([]byte(raw), &roles); err == nil {
			return roles
		}
	}
	return nil
}
