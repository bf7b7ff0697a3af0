package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt"
)

const (
	userIdClaim = "user-id"
	expClaim    = "exp"
)

// DefaultTokenTTL is the lifetime of both session cookies and websocket
// handshake tokens.
const DefaultTokenTTL = 24 * time.Hour

// TokenResolver mints and verifies the HS256 tokens used for the session
// cookie and the websocket handshake. Given a bearer token it resolves the
// stable user id embedded in it.
type TokenResolver struct {
	signingKey []byte
}

func NewTokenResolver(signingKey []byte) *TokenResolver {
	return &TokenResolver{signingKey: signingKey}
}

func (tr *TokenResolver) CreateToken(userId string, ttl time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		userIdClaim: userId,
		expClaim:    time.Now().Add(ttl).Unix(),
	})

	return token.SignedString(tr.signingKey)
}

func (tr *TokenResolver) UserIdFromToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return tr.signingKey, nil
	})
	if err != nil {
		return "", fmt.Errorf("parse token: %w", err)
	}

	if !token.Valid {
		return "", fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("invalid token claims")
	}

	userId, ok := claims[userIdClaim].(string)
	if !ok || userId == "" {
		return "", fmt.Errorf("invalid user id claim")
	}

	return userId, nil
}
