package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/partyconnect/engage-backend/pkg/config"
)

var jwtSigningMethod = jwt.SigningMethodHS256

// ErrTokenExpired is returned by ParseAccessToken for well-formed tokens
// past their expiry (plus leeway).
var ErrTokenExpired = errors.New("access token expired")

// Token is a signed access token and the instant it stops being accepted.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

func checkConfig(cfg config.JWTConfig) error {
	switch {
	case cfg.Secret == "":
		return errors.New("jwt secret is required")
	case cfg.Issuer == "":
		return errors.New("jwt issuer is required")
	case cfg.ExpirationMinutes <= 0:
		return errors.New("jwt expiration minutes must be positive")
	}
	return nil
}

// MintAccessToken signs a member token valid from now for cfg.Expiration().
func MintAccessToken(cfg config.JWTConfig, now time.Time, payload AccessTokenPayload) (Token, error) {
	if err := checkConfig(cfg); err != nil {
		return Token{}, err
	}
	if payload.UserID == uuid.Nil {
		return Token{}, errors.New("user id is required")
	}
	if !payload.Role.IsValid() {
		return Token{}, fmt.Errorf("invalid user role %q", payload.Role)
	}
	jti := strings.TrimSpace(payload.JTI)
	if jti == "" {
		jti = uuid.NewString()
	}
	expiresAt := now.Add(cfg.Expiration()).Truncate(time.Second)

	claims := AccessTokenClaims{
		UserID: payload.UserID,
		Role:   payload.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			Subject:   payload.UserID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        jti,
		},
	}
	if cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{cfg.Audience}
	}

	signed, err := jwt.NewWithClaims(jwtSigningMethod, claims).SignedString([]byte(cfg.Secret))
	if err != nil {
		return Token{}, fmt.Errorf("signing jwt: %w", err)
	}
	return Token{Value: signed, ExpiresAt: expiresAt}, nil
}

// ParseAccessToken verifies signature, issuer, audience when configured, and
// the time claims. Expired tokens report ErrTokenExpired.
func ParseAccessToken(cfg config.JWTConfig, tokenString string) (*AccessTokenClaims, error) {
	if cfg.Secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwtSigningMethod.Alg()}),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(cfg.Leeway()),
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	claims := &AccessTokenClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return []byte(cfg.Secret), nil
	}, opts...)
	if errors.Is(err, jwt.ErrTokenExpired) {
		return nil, ErrTokenExpired
	}
	if err != nil {
		return nil, err
	}
	if claims.UserID == uuid.Nil {
		return nil, errors.New("token missing user id")
	}
	if claims.Subject != "" && claims.Subject != claims.UserID.String() {
		return nil, errors.New("token subject does not match user id")
	}
	if !claims.Role.IsValid() {
		return nil, fmt.Errorf("token carries invalid role %q", claims.Role)
	}
	return claims, nil
}
