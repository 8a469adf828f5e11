// Package session issues and verifies signed session tokens. The client keeps
// the token together with its expiry; every privileged request is verified
// here, so a token edited on the client is rejected.
package session

import (
	"errors"
	"fmt"
	"time"

	"courseplatform.app/api/internal/apperr"
	"courseplatform.app/api/models"
	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

const (
	Issuer     = "courseplatform"
	DefaultTTL = 4 * time.Hour
)

var (
	ErrInvalidToken = apperr.New(apperr.Unauthorized, "INVALID_SESSION", "Session is invalid")
	ErrExpiredToken = apperr.New(apperr.Unauthorized, "SESSION_EXPIRED", "Session has expired")
)

type Claims struct {
	UserID string
	Email  string
	Expiry time.Time
}

type privateClaims struct {
	Email string `json:"email"`
}

// Token is what the client persists: the signed value and its expiry.
type Token struct {
	Value     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type Manager struct {
	signer jose.Signer
	key    []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewManager(secret []byte, ttl time.Duration) (*Manager, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.HS256, Key: secret},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create signer: %w", err)
	}
	return &Manager{signer: signer, key: secret, ttl: ttl, now: time.Now}, nil
}

// WithClock replaces the time source, for tests.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

func (m *Manager) Issue(user *models.User) (*Token, error) {
	now := m.now()
	expiry := now.Add(m.ttl)

	std := jwt.Claims{
		Issuer:   Issuer,
		Subject:  user.ID,
		IssuedAt: jwt.NewNumericDate(now),
		Expiry:   jwt.NewNumericDate(expiry),
	}

	raw, err := jwt.Signed(m.signer).Claims(std).Claims(privateClaims{Email: user.Email}).Serialize()
	if err != nil {
		return nil, fmt.Errorf("failed to sign session: %w", err)
	}

	return &Token{Value: raw, ExpiresAt: expiry.UTC().Truncate(time.Second)}, nil
}

func (m *Manager) Verify(raw string) (*Claims, error) {
	tok, err := jwt.ParseSigned(raw, []jose.SignatureAlgorithm{jose.HS256})
	if err != nil {
		return nil, ErrInvalidToken
	}

	var std jwt.Claims
	var private privateClaims
	if err := tok.Claims(m.key, &std, &private); err != nil {
		return nil, ErrInvalidToken
	}

	err = std.ValidateWithLeeway(jwt.Expected{Issuer: Issuer, Time: m.now()}, 0)
	if errors.Is(err, jwt.ErrExpired) {
		return nil, ErrExpiredToken
	}
	if err != nil || std.Subject == "" {
		return nil, ErrInvalidToken
	}

	return &Claims{
		UserID: std.Subject,
		Email:  private.Email,
		Expiry: std.Expiry.Time(),
	}, nil
}
