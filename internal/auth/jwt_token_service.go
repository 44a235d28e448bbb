package auth

import (
	"context"
	"errors"
	"time"

	"firestore-client/internal/config"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrTokenInvalid          = errors.New("token is invalid")
	ErrTokenExpired          = errors.New("token is expired")
	ErrTokenSignatureInvalid = errors.New("token signature is invalid")
)

// Claims are the claims carried by an emulator access token. The subject is the
// caller's uid; Custom holds extra claims exposed to security rules as auth.token.
type Claims struct {
	Email  string                 `json:"email,omitempty"`
	Custom map[string]interface{} `json:"claims,omitempty"`
	jwt.RegisteredClaims
}

// UID returns the subject.
func (c *Claims) UID() string {
	return c.Subject
}

// TokenMap flattens the claims the way security rules see them.
func (c *Claims) TokenMap() map[string]interface{} {
	out := make(map[string]interface{}, len(c.Custom)+3)
	for k, v := range c.Custom {
		out[k] = v
	}
	out["sub"] = c.Subject
	out["iss"] = c.Issuer
	if c.Email != "" {
		out["email"] = c.Email
	}
	return out
}

// JWTokenService issues and validates HS256 access tokens.
type JWTokenService struct {
	secretKey []byte
	issuer    string
	ttl       time.Duration
}

// NewJWTokenService creates a token service from the server configuration.
func NewJWTokenService(cfg *config.ServerConfig) (*JWTokenService, error) {
	if cfg.JWTSecretKey == "" {
		return nil, errors.New("jwt secret key cannot be empty")
	}
	if cfg.JWTIssuer == "" {
		return nil, errors.New("jwt issuer cannot be empty")
	}
	if cfg.AccessTokenTTL <= 0 {
		return nil, errors.New("jwt access token TTL must be positive")
	}

	return &JWTokenService{
		secretKey: []byte(cfg.JWTSecretKey),
		issuer:    cfg.JWTIssuer,
		ttl:       cfg.AccessTokenTTL,
	}, nil
}

// GenerateToken issues a token for uid.
func (s *JWTokenService) GenerateToken(ctx context.Context, uid, email string, custom map[string]interface{}) (string, error) {
	if uid == "" {
		return "", errors.New("uid cannot be empty")
	}
	now := time.Now()
	claims := &Claims{
		Email:  email,
		Custom: custom,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uid,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    s.issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secretKey)
}

// ValidateToken parses tokenString and returns its claims.
func (s *JWTokenService) ValidateToken(ctx context.Context, tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrTokenInvalid
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrTokenSignatureInvalid
		}
		return s.secretKey, nil
	}, jwt.WithIssuer(s.issuer))

	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrTokenExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, ErrTokenSignatureInvalid):
			return nil, ErrTokenSignatureInvalid
		}
		return nil, ErrTokenInvalid
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}
