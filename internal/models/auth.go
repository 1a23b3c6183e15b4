package models

import (
	"github.com/golang-jwt/jwt/v5"
)

// UserInfo describes the authenticated user in responses.
type UserInfo struct {
	Username string   `json:"username"`
	Email    string   `json:"email,omitempty"`
	Role     UserRole `json:"role"`
	Groups   []string `json:"groups"`
}

// JWTClaims represents the access token payload issued by the identity provider.
type JWTClaims struct {
	Username string   `json:"preferred_username"`
	Email    string   `json:"email,omitempty"`
	Role     UserRole `json:"role"`
	Groups   []string `json:"groups,omitempty"`
	jwt.RegisteredClaims
}

// InGroup reports whether the user belongs to the given group.
func (c *JWTClaims) InGroup(group string) bool {
	if c == nil {
		return false
	}
	for _, g := range c.Groups {
		if g == group {
			return true
		}
	}
	return false
}

// DefaultGroup returns the first group of the user, used when no preference is stored.
func (c *JWTClaims) DefaultGroup() string {
	if c == nil || len(c.Groups) == 0 {
		return ""
	}
	return c.Groups[0]
}

// Info converts claims to the response shape.
func (c *JWTClaims) Info() UserInfo {
	groups := c.Groups
	if groups == nil {
		groups = []string{}
	}
	return UserInfo{Username: c.Username, Email: c.Email, Role: c.Role, Groups: groups}
}
