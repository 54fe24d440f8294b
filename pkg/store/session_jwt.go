package store

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"truefeedback/pkg/domain"
)

const (
	defaultJWTIssuer   = "truefeedback"
	defaultJWTAudience = "truefeedback-dashboard"
	minJWTSecretBytes  = 32
)

var defaultJWTLeeway = 30 * time.Second

var (
	ErrInvalidToken = errors.New("invalid session token")
	ErrTokenRevoked = errors.New("session token revoked")
)

// JWTOptions configures JWT claim validation behavior.
type JWTOptions struct {
	Issuer   string
	Audience string
	Leeway   time.Duration
}

type sessionClaims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// JWTSessionStore issues and validates HS256 session tokens.
type JWTSessionStore struct {
	secret  []byte
	ttl     time.Duration
	revoker TokenRevoker

	issuer   string
	audience string
	leeway   time.Duration
	now      func() time.Time
}

// NewJWTSessionStore builds a session store signing with secret.
func NewJWTSessionStore(secret string, ttl time.Duration, revoker TokenRevoker, opts JWTOptions) (*JWTSessionStore, error) {
	if len(secret) < minJWTSecretBytes {
		return nil, fmt.Errorf("jwt secret must be at least %d bytes", minJWTSecretBytes)
	}
	if ttl <= 0 {
		return nil, errors.New("session ttl must be positive")
	}
	opts = normalizeJWTOptions(opts)
	return &JWTSessionStore{
		secret:   []byte(secret),
		ttl:      ttl,
		revoker:  revoker,
		issuer:   opts.Issuer,
		audience: opts.Audience,
		leeway:   opts.Leeway,
		now:      time.Now,
	}, nil
}

// NewSession signs a token for acct and returns it with its expiry.
func (s *JWTSessionStore) NewSession(_ context.Context, acct domain.Account) (string, time.Time, error) {
	if strings.TrimSpace(acct.ID) == "" {
		return "", time.Time{}, errors.New("account id required")
	}
	now := s.now().UTC()
	expiresAt := now.Add(s.ttl)
	claims := sessionClaims{
		Username: acct.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   acct.ID,
			Issuer:    s.issuer,
			Audience:  jwt.ClaimStrings{s.audience},
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        randomHexID(12),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// GetSession validates token and returns the session it carries.
func (s *JWTSessionStore) GetSession(ctx context.Context, token string) (domain.Session, error) {
	claims, err := s.parseAndVerify(token)
	if err != nil {
		return domain.Session{}, err
	}
	if s.revoker != nil {
		revoked, err := s.revoker.IsRevoked(ctx, claims.ID)
		if err != nil {
			return domain.Session{}, err
		}
		if revoked {
			return domain.Session{}, ErrTokenRevoked
		}
	}
	return domain.Session{
		AccountID: claims.Subject,
		Username:  claims.Username,
		TokenID:   claims.ID,
		ExpiresAt: claims.ExpiresAt.Time.UTC(),
	}, nil
}

// DeleteSession revokes the token until it expires. Invalid tokens are ignored.
func (s *JWTSessionStore) DeleteSession(ctx context.Context, token string) error {
	if s.revoker == nil {
		return nil
	}
	claims, err := s.parseAndVerify(token)
	if err != nil {
		return nil
	}
	return s.revoker.Revoke(ctx, claims.ID, claims.ExpiresAt.Time.Sub(s.now()))
}

func (s *JWTSessionStore) parseAndVerify(token string) (sessionClaims, error) {
	claims := sessionClaims{}
	token = strings.TrimSpace(token)
	if token == "" {
		return claims, ErrInvalidToken
	}
	parserOptions := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(s.leeway),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithTimeFunc(s.now),
	}
	parsed, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, parserOptions...)
	if err != nil || !parsed.Valid {
		return claims, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if strings.TrimSpace(claims.ID) == "" || strings.TrimSpace(claims.Subject) == "" {
		return claims, ErrInvalidToken
	}
	return claims, nil
}

func randomHexID(nBytes int) string {
	buf := make([]byte, nBytes)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return fmt.Sprintf("%x", buf)
}

func normalizeJWTOptions(opts JWTOptions) JWTOptions {
	opts.Issuer = strings.TrimSpace(opts.Issuer)
	opts.Audience = strings.TrimSpace(opts.Audience)
	if opts.Issuer == "" {
		opts.Issuer = defaultJWTIssuer
	}
	if opts.Audience == "" {
		opts.Audience = defaultJWTAudience
	}
	if opts.Leeway <= 0 {
		opts.Leeway = defaultJWTLeeway
	}
	return opts
}
