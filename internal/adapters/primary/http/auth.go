package http

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jupiterclapton/cenackle-timeline/internal/core/domain"
)

// Clé privée pour le contexte (évite les collisions)
type contextKey struct{ name string }

var userCtxKey = &contextKey{"user_id"}

// UserClaims : mêmes claims que ceux émis par l'Identity Service
type UserClaims struct {
	UserID   string `json:"user_id"`
	Email    string `json:"email"`
	Username string `json:"username"`
	Role     string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// TokenVerifier valide les access tokens RS256 avec la clé PUBLIQUE de l'Identity Service.
type TokenVerifier struct {
	publicKey *rsa.PublicKey
}

func NewTokenVerifier(publicKeyPEM []byte) (*TokenVerifier, error) {
	pubKey, err := jwt.ParseRSAPublicKeyFromPEM(publicKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	return &TokenVerifier{publicKey: pubKey}, nil
}

// Validate vérifie la signature et retourne l'UserID (Subject)
func (v *TokenVerifier) Validate(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &UserClaims{}, func(token *jwt.Token) (interface{}, error) {
		// Refuse "none"/HS256 : seule la clé publique RSA fait foi
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.publicKey, nil
	})
	if err != nil {
		return "", err
	}

	if claims, ok := token.Claims.(*UserClaims); ok && token.Valid {
		if claims.Subject != "" {
			return claims.Subject, nil
		}
		return claims.UserID, nil
	}
	return "", errors.New("invalid token claims")
}

// Middleware injecte l'ID utilisateur dans le contexte.
// Sans verifier (env local), le header X-User-Id fait foi.
func Middleware(verifier *TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if verifier == nil {
				if uid := strings.TrimSpace(r.Header.Get("X-User-Id")); uid != "" {
					r = r.WithContext(context.WithValue(r.Context(), userCtxKey, uid))
				}
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get("Authorization")
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}

			tokenStr, ok := strings.CutPrefix(header, "Bearer ")
			if !ok {
				writeError(w, http.StatusUnauthorized, "invalid token format")
				return
			}

			userID, err := verifier.Validate(tokenStr)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), userCtxKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ForContext renvoie l'ID de l'appelant, ou ErrUnauthenticated.
func ForContext(ctx context.Context) (string, error) {
	raw, _ := ctx.Value(userCtxKey).(string)
	if raw == "" {
		return "", domain.ErrUnauthenticated
	}
	return raw, nil
}
