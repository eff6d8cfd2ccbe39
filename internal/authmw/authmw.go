// Package authmw provides HTTP middleware for bearer authentication with a
// static API token or an HS256-signed JWT.
package authmw

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenSubject is the subject recorded for requests authenticated with the
// static API token.
const TokenSubject = "api-token"

const leeway = 30 * time.Second

type subjectKey struct{}

// SubjectFromContext returns the authenticated subject, if any.
func SubjectFromContext(ctx context.Context) (string, bool) {
	s, ok := ctx.Value(subjectKey{}).(string)
	return s, ok
}

// BearerToken returns middleware that only accepts the static token.
func BearerToken(token string) func(http.Handler) http.Handler {
	return Bearer(token, nil)
}

// Bearer returns middleware that validates the Authorization header. The
// credential is accepted if it equals token (constant-time) or, when secret
// is non-empty, if it is an unexpired HS256 JWT signed with secret. An empty
// token disables static-token auth.
func Bearer(token string, secret []byte) func(http.Handler) http.Handler {
	expected := []byte(token)
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(leeway),
	)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")

			if !strings.HasPrefix(auth, "Bearer ") {
				http.Error(w, `{"error":"missing or malformed authorization header"}`, http.StatusUnauthorized)
				return
			}

			got := auth[len("Bearer "):]

			if len(expected) > 0 && subtle.ConstantTimeCompare([]byte(got), expected) == 1 {
				next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), subjectKey{}, TokenSubject)))
				return
			}

			if len(secret) > 0 {
				if sub, err := verifyJWT(parser, got, secret); err == nil {
					next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), subjectKey{}, sub)))
					return
				}
			}

			http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
		})
	}
}

func verifyJWT(parser *jwt.Parser, raw string, secret []byte) (string, error) {
	var claims jwt.RegisteredClaims
	tok, err := parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return secret, nil
	})
	if err != nil {
		return "", err
	}
	if !tok.Valid {
		return "", errors.New("invalid token")
	}
	if claims.ExpiresAt == nil {
		return "", errors.New("token has no expiry")
	}
	return claims.Subject, nil
}

// IssueToken signs an HS256 JWT for subject valid for ttl.
func IssueToken(secret []byte, subject string, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("authmw: empty signing secret")
	}
	now := time.Now().UTC()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
