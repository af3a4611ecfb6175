package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/Strob0t/QueryForge/internal/config"
	"github.com/Strob0t/QueryForge/internal/domain"
)

const (
	tokenAudience = "queryforge"
	tokenIssuer   = "queryforge"
)

// TokenClaims is the payload of an access token.
type TokenClaims struct {
	Subject  string `json:"sub"`
	IssuedAt int64  `json:"iat"`
	Expiry   int64  `json:"exp"`
	Audience string `json:"aud"`
	Issuer   string `json:"iss"`
}

// AuthService resolves the caller's identity from an access token or an
// API key. It decides who is calling, never what they may do.
type AuthService struct {
	cfg    *config.Auth
	secret []byte
}

// NewAuthService creates an AuthService from the auth configuration.
func NewAuthService(cfg *config.Auth) *AuthService {
	return &AuthService{cfg: cfg, secret: []byte(cfg.JWTSecret)}
}

// ValidateAccessToken verifies an HS256 token and returns its claims.
func (s *AuthService) ValidateAccessToken(token string) (*TokenClaims, error) {
	if len(s.secret) == 0 {
		return nil, fmt.Errorf("access tokens not configured: %w", domain.ErrUnauthenticated)
	}
	claims, err := s.verifyJWT(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrUnauthenticated, err)
	}
	return claims, nil
}

// ValidateAPIKey returns the user id bound to rawKey.
func (s *AuthService) ValidateAPIKey(rawKey string) (string, error) {
	for _, k := range s.cfg.APIKeys {
		if bcrypt.CompareHashAndPassword([]byte(k.Hash), []byte(rawKey)) == nil {
			return k.UserID, nil
		}
	}
	return "", fmt.Errorf("invalid api key: %w", domain.ErrUnauthenticated)
}

// SignAccessToken issues a token for userID valid for ttl.
func (s *AuthService) SignAccessToken(userID string, ttl time.Duration) (string, error) {
	if len(s.secret) == 0 {
		return "", errors.New("jwt secret not configured")
	}
	now := time.Now()
	payload, err := json.Marshal(TokenClaims{
		Subject:  userID,
		IssuedAt: now.Unix(),
		Expiry:   now.Add(ttl).Unix(),
		Audience: tokenAudience,
		Issuer:   tokenIssuer,
	})
	if err != nil {
		return "", fmt.Errorf("marshal claims: %w", err)
	}

	signingInput := jwtHeader + "." + base64URLEncode(payload)
	return signingInput + "." + s.sign(signingInput), nil
}

// HashAPIKey returns the bcrypt hash stored in auth.api_keys.
func HashAPIKey(rawKey string) (string, error) {
	if len(rawKey) < 16 {
		return "", fmt.Errorf("api key must be at least 16 characters: %w", domain.ErrValidation)
	}
	h, err := bcrypt.GenerateFromPassword([]byte(rawKey), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash api key: %w", err)
	}
	return string(h), nil
}

// --- JWT implementation (HS256 with stdlib) ---

var jwtHeader = base64URLEncode([]byte(`{"alg":"HS256","typ":"JWT"}`))

func (s *AuthService) sign(signingInput string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(signingInput))
	return base64URLEncode(mac.Sum(nil))
}

func (s *AuthService) verifyJWT(tokenStr string) (*TokenClaims, error) {
	parts := strings.SplitN(tokenStr, ".", 3)
	if len(parts) != 3 {
		return nil, errors.New("malformed token")
	}
	if parts[0] != jwtHeader {
		return nil, errors.New("unsupported token header")
	}

	if !hmac.Equal([]byte(parts[2]), []byte(s.sign(parts[0]+"."+parts[1]))) {
		return nil, errors.New("invalid signature")
	}

	payload, err := base64URLDecode(parts[1])
	if err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}

	var claims TokenClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, fmt.Errorf("unmarshal claims: %w", err)
	}

	if time.Now().Unix() > claims.Expiry {
		return nil, errors.New("token expired")
	}
	if claims.Audience != tokenAudience {
		return nil, errors.New("invalid token audience")
	}
	if claims.Issuer != tokenIssuer {
		return nil, errors.New("invalid token issuer")
	}
	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}
	return &claims, nil
}

func base64URLEncode(data []byte) string {
	return base64.RawURLEncoding.EncodeToString(data)
}

func base64URLDecode(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}
