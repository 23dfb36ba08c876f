// Package auth verifies the JWTs minted by the identity gateway. The
// subscription service never issues tokens; it only checks signatures and
// extracts the verified user ID and role claims.
package auth

import (
	"context"
	"errors"
	"fmt"

	jwt "github.com/golang-jwt/jwt/v5"

	"learnloop/internal/config"
	"learnloop/internal/types"
)

// Claims is the token payload expected from the identity gateway: the
// standard registered claims plus the user's role.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// TokenVerifier validates HS256 tokens against the shared gateway secret.
type TokenVerifier struct {
	secret []byte
	issuer string
}

func NewTokenVerifier(cfg config.AuthConfig) *TokenVerifier {
	return &TokenVerifier{
		secret: []byte(cfg.JWTSecret.Unmask()),
		issuer: cfg.Issuer,
	}
}

// ResolveToken verifies the token and returns the acting user. Expired
// tokens and invalid ones are reported with distinct error codes so the
// middleware can answer precisely.
func (v *TokenVerifier) ResolveToken(_ context.Context, token string) (*types.Actor, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, v.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(v.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, types.NewAppError(types.ErrCodeAuthTokenExpired, "token has expired", err)
		}
		return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "token verification failed", err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || claims.Subject == "" {
		return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "token is missing a subject", nil)
	}

	role, err := parseRole(claims.Role)
	if err != nil {
		return nil, err
	}

	return &types.Actor{UserID: claims.Subject, Role: role}, nil
}

func (v *TokenVerifier) keyFunc(t *jwt.Token) (any, error) {
	if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
	}
	return v.secret, nil
}

func parseRole(role string) (types.UserRole, error) {
	switch r := types.UserRole(role); r {
	case types.RoleAdmin, types.RoleTeacher, types.RoleStudent:
		return r, nil
	default:
		return "", types.NewAppError(types.ErrCodeAuthTokenInvalid,
			fmt.Sprintf("unknown role claim %q", role), nil)
	}
}
