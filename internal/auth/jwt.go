package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rethoric/rethoric/internal/config"
	"github.com/rs/zerolog"
)

var ErrInvalidToken = errors.New("invalid token")

// Validator checks session tokens issued by the identity provider, either
// HS256 with a shared secret or asymmetric keys served from a JWKS endpoint.
type Validator struct {
	secret []byte
	issuer string
	jwks   *keyfunc.JWKS
	log    zerolog.Logger
}

func NewValidator(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Validator, error) {
	v := &Validator{
		secret: []byte(cfg.JWTSecret),
		issuer: cfg.JWTIssuer,
		log:    log,
	}
	if cfg.JWKSURL == "" {
		return v, nil
	}

	jwks, err := keyfunc.Get(cfg.JWKSURL, keyfunc.Options{
		Ctx:               ctx,
		RefreshInterval:   time.Hour,
		RefreshUnknownKID: true,
		RefreshErrorHandler: func(err error) {
			log.Error().Err(err).Msg("jwks refresh error")
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load JWKS: %w", err)
	}
	v.jwks = jwks
	return v, nil
}

func (v *Validator) Close() {
	if v.jwks != nil {
		v.jwks.EndBackground()
	}
}

func (v *Validator) keyFunc(token *jwt.Token) (interface{}, error) {
	switch token.Method.(type) {
	case *jwt.SigningMethodHMAC:
		if len(v.secret) == 0 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	default:
		if v.jwks == nil {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.jwks.Keyfunc(token)
	}
}

// ValidateJWT returns the token subject.
func (v *Validator) ValidateJWT(tokenString string) (string, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256", "RS256", "RS384", "RS512", "ES256"}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	token, err := jwt.Parse(tokenString, v.keyFunc, opts...)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return "", ErrInvalidToken
	}

	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return sub, nil
}

// GenerateJWT mints an HS256 session token. Used for local development and
// tests when no identity provider is available.
func GenerateJWT(secret, subject, issuer string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": subject,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	if issuer != "" {
		claims["iss"] = issuer
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func BearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
