package models

import "github.com/golang-jwt/jwt/v5"

// Roles recognised by the admin surface.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// TokenClaims are the bearer-token claims accepted by the API.
type TokenClaims struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
	Role   string `json:"role,omitempty"`
	jwt.RegisteredClaims
}
