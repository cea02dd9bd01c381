package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt"
	"golang.org/x/crypto/bcrypt"
)

const (
	defaultExp     = 24 * time.Hour
	tokenCookieKey = "token"

	usernameClaim = "username"
	expClaim      = "exp"
)

type contextKey string

const usernameKey contextKey = "username"

func WithUsername(ctx context.Context, username string) context.Context {
	return context.WithValue(ctx, usernameKey, username)
}

// Username returns the authenticated username stored by authMiddleware.
func Username(ctx context.Context) (string, bool) {
	username, ok := ctx.Value(usernameKey).(string)
	return username, ok && username != ""
}

func (s *ChatApp) createJwtForSession(username string, exp time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		usernameClaim: username,
		expClaim:      time.Now().Add(exp).Unix(),
	})

	return token.SignedString(s.signingKey)
}

func (s *ChatApp) extractUsernameFromToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.signingKey, nil
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

	username, ok := claims[usernameClaim].(string)
	if !ok || username == "" {
		return "", fmt.Errorf("invalid username claim")
	}

	return username, nil
}

func createJwtCookie(tokenString string, exp time.Duration) *http.Cookie {
	c := &http.Cookie{
		Name:     tokenCookieKey,
		Value:    tokenString,
		Path:     "/",
		Expires:  time.Now().Add(exp),
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	}
	if exp <= 0 {
		c.Expires = time.Unix(0, 0)
		c.MaxAge = -1
	}

	return c
}

func hashPassword(passwd string) (string, error) {
	passwdHash, err := bcrypt.GenerateFromPassword([]byte(passwd), bcrypt.DefaultCost)
	return string(passwdHash), err
}

func verifyPassword(passwdHash, passwd string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(passwdHash), []byte(passwd))
	return err == nil
}
