package service

import (
	"crypto/rsa"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/noah-isme/collections-gateway/internal/models"
	appErrors "github.com/noah-isme/collections-gateway/pkg/errors"
)

// AuthConfig defines how access tokens issued by the identity provider are verified.
type AuthConfig struct {
	// Secret verifies HS256 tokens. Ignored when PublicKeyPEM is set.
	Secret string
	// PublicKeyPEM verifies RS256 tokens.
	PublicKeyPEM string
	Issuer       string
	Audience     []string
	Leeway       time.Duration
}

// AuthService validates bearer tokens. Tokens are issued by the identity provider; the
// gateway never stores credentials.
type AuthService struct {
	logger    *zap.Logger
	config    AuthConfig
	publicKey *rsa.PublicKey
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(logger *zap.Logger, config AuthConfig) (*AuthService, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &AuthService{logger: logger, config: config}
	if config.PublicKeyPEM != "" {
		key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(config.PublicKeyPEM))
		if err != nil {
			return nil, fmt.Errorf("parse jwt public key: %w", err)
		}
		s.publicKey = key
	} else if config.Secret == "" {
		return nil, fmt.Errorf("jwt secret or public key is required")
	}
	return s, nil
}

func (s *AuthService) parserOptions() []jwt.ParserOption {
	opts := []jwt.ParserOption{jwt.WithExpirationRequired()}
	if s.publicKey != nil {
		opts = append(opts, jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}))
	} else {
		opts = append(opts, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	}
	if s.config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.config.Issuer))
	}
	for _, aud := range s.config.Audience {
		opts = append(opts, jwt.WithAudience(aud))
	}
	if s.config.Leeway > 0 {
		opts = append(opts, jwt.WithLeeway(s.config.Leeway))
	}
	return opts
}

// ValidateToken parses and validates an access token returning the claims.
func (s *AuthService) ValidateToken(tokenString string) (*models.JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &models.JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if s.publicKey != nil {
			return s.publicKey, nil
		}
		return []byte(s.config.Secret), nil
	}, s.parserOptions()...)
	if err != nil {
		s.logger.Debug("token rejected", zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid token")
	}

	claims, ok := token.Claims.(*models.JWTClaims)
	if !ok || !token.Valid {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token claims")
	}
	if claims.Username == "" {
		claims.Username = claims.Subject
	}
	if claims.Username == "" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "token carries no user")
	}
	if claims.Role == "" {
		claims.Role = models.RoleReadOnly
	}
	return claims, nil
}

// IssueToken signs an HS256 token for local development and tests.
func (s *AuthService) IssueToken(claims models.JWTClaims, ttl time.Duration) (string, error) {
	if s.publicKey != nil {
		return "", fmt.Errorf("tokens are issued by the identity provider")
	}
	now := time.Now().UTC()
	claims.Issuer = s.config.Issuer
	claims.Audience = s.config.Audience
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.NotBefore = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	if claims.Subject == "" {
		claims.Subject = claims.Username
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, &claims).SignedString([]byte(s.config.Secret))
}
