package auth

import (
	"slices"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// PermissionSettlementRun lets an operator read run results and queue runs
const PermissionSettlementRun = "settlement:run"

// Claims carried by operator tokens minted by the member portal
type Claims struct {
	jwt.RegisteredClaims
	UserID      string   `json:"user_id"`
	Username    string   `json:"username"`
	Permissions []string `json:"permissions,omitempty"`
}

func (c *Claims) OperatorID() (uuid.UUID, error) {
	return uuid.Parse(c.UserID)
}

func (c *Claims) HasPermission(perm string) bool {
	return slices.Contains(c.Permissions, perm)
}

// HasAnyPermission is false for an empty perms list
func (c *Claims) HasAnyPermission(perms ...string) bool {
	return slices.ContainsFunc(perms, c.HasPermission)
}
