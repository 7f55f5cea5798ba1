package auth

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"

	"github.com/ncecere/open_chat_usage/internal/config"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid or expired token")
)

// Claims is the verified identity carried by a session token.
type Claims struct {
	Role        string      `json:"role,omitempty"`
	AppMetadata AppMetadata `json:"app_metadata"`
	jwt.RegisteredClaims
}

type AppMetadata struct {
	Tier string `json:"tier,omitempty"`
}

// Identity is the caller resolved from a verified token.
type Identity struct {
	UserID string
	Role   string
	Tier   string
	Admin  bool
}

// TokenManager verifies HS256 session tokens issued by the identity provider.
type TokenManager struct {
	secret    []byte
	issuer    string
	audience  string
	adminRole string
}

func NewTokenManager(cfg config.AuthConfig) (*TokenManager, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.New("token secret required")
	}
	adminRole := strings.TrimSpace(cfg.AdminRole)
	if adminRole == "" {
		adminRole = "admin"
	}
	return &TokenManager{
		secret:    []byte(cfg.JWTSecret),
		issuer:    cfg.Issuer,
		audience:  cfg.Audience,
		adminRole: adminRole,
	}, nil
}

// Verify parses a token and returns the caller identity.
func (tm *TokenManager) Verify(raw string) (Identity, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Identity{}, ErrMissingToken
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if tm.issuer != "" {
		opts = append(opts, jwt.WithIssuer(tm.issuer))
	}
	if tm.audience != "" {
		opts = append(opts, jwt.WithAudience(tm.audience))
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return tm.secret, nil
	}, opts...)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return Identity{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return Identity{
		UserID: claims.Subject,
		Role:   claims.Role,
		Tier:   claims.AppMetadata.Tier,
		Admin:  strings.EqualFold(claims.Role, tm.adminRole),
	}, nil
}

// Generate signs a token for the identity. Used by tooling and tests; real
// sessions come from the identity provider.
func (tm *TokenManager) Generate(id Identity, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		return "", errors.New("token ttl must be > 0")
	}
	now := time.Now()
	claims := Claims{
		Role:        id.Role,
		AppMetadata: AppMetadata{Tier: id.Tier},
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			Issuer:    tm.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}
	if tm.audience != "" {
		claims.Audience = jwt.ClaimStrings{tm.audience}
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(tm.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Fingerprint derives the opaque anonymous identity for a client address.
// Rate-limit keys already carry the tier, so the request path is not part of it.
func Fingerprint(ip string) string {
	sum := blake2b.Sum256([]byte("anon|" + strings.ToLower(strings.TrimSpace(ip))))
	return hex.EncodeToString(sum[:16])
}
