package httpapi

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	tokenIssuer   = "signalmap-submit"
	tokenAudience = "signalmap-clients"
	tokenTTL      = 15 * time.Minute
	tokenLeeway   = 30 * time.Second
)

// TokenIssuer mints and verifies the short-lived HS256 bearer tokens that
// guard the submit endpoints. The token subject is the device's short code.
type TokenIssuer struct {
	key []byte
}

func NewTokenIssuer(key []byte) *TokenIssuer {
	return &TokenIssuer{key: key}
}

// Issue creates a token for a registered short code.
func (t *TokenIssuer) Issue(shortCode string, now time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		Audience:  jwt.ClaimStrings{tokenAudience},
		Subject:   shortCode,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.key)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks a token's signature, issuer, audience, and expiry, and
// returns the short code it was issued for.
func (t *TokenIssuer) Verify(tokenString string) (string, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithAudience(tokenAudience),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(tokenLeeway),
	)
	claims := &jwt.RegisteredClaims{}
	if _, err := parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return t.key, nil
	}); err != nil {
		return "", fmt.Errorf("verify token: %w", err)
	}
	return claims.Subject, nil
}

// shortCodeKey is the gin context key the auth middleware stores the verified
// short code under.
const shortCodeKey = "short_code"

// requireToken rejects requests without a valid bearer token and exposes the
// token's short code to downstream handlers.
func requireToken(issuer *TokenIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "bearer token required"})
			return
		}
		shortCode, err := issuer.Verify(strings.TrimSpace(strings.TrimPrefix(auth, "Bearer ")))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(shortCodeKey, shortCode)
		c.Next()
	}
}

// handleToken issues a bearer token for a registered short code.
// GET /api/token?shortCode=XXXX-XXXX-XXXX
func (s *Server) handleToken(c *gin.Context) {
	shortCode := c.Query("shortCode")
	if !shortCodeRe.MatchString(shortCode) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid shortCode"})
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	known, err := s.store.ViewerExists(ctx, shortCode)
	if err != nil {
		s.logger.Error("viewer lookup failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if !known {
		c.JSON(http.StatusForbidden, gin.H{"error": "shortCode is not registered"})
		return
	}

	token, err := s.issuer.Issue(shortCode, time.Now().UTC())
	if err != nil {
		s.logger.Error("token issuance failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":     token,
		"expiresIn": int(tokenTTL.Seconds()),
	})
}
