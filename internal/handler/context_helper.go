package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/collections-gateway/internal/middleware"
	"github.com/noah-isme/collections-gateway/internal/models"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*models.JWTClaims)
	if !ok {
		return nil
	}
	return claims
}

func usernameFromContext(c *gin.Context) string {
	if claims := claimsFromContext(c); claims != nil {
		return claims.Username
	}
	return ""
}
