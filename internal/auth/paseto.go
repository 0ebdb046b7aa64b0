package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"aidanwoods.dev/go-paseto"
)

var (
	ErrInvalidSessionToken = errors.New("invalid session token")
	ErrExpiredSessionToken = errors.New("session token has expired")
)

// SessionClaims are the claims carried by a session credential.
type SessionClaims struct {
	AccountID int64
	Email     string
	Role      string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// PasetoService issues and verifies session credentials as PASETO
// v4.local tokens (symmetric encryption with XChaCha20-Poly1305).
// Sessions are entirely client-held; there is no server-side
// revocation, invalidation is only by expiry.
type PasetoService struct {
	symmetricKey paseto.V4SymmetricKey
}

func NewPasetoService(symmetricKey []byte) (*PasetoService, error) {
	if len(symmetricKey) != 32 {
		return nil, fmt.Errorf("symmetric key must be exactly 32 bytes, got %d", len(symmetricKey))
	}

	key, err := paseto.V4SymmetricKeyFromBytes(symmetricKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create symmetric key: %w", err)
	}

	return &PasetoService{symmetricKey: key}, nil
}

// CreateToken issues a session credential for the given subject.
func (s *PasetoService) CreateToken(accountID int64, email, role string, duration time.Duration) (string, error) {
	now := time.Now()

	token := paseto.NewToken()
	token.SetIssuedAt(now)
	token.SetExpiration(now.Add(duration))
	token.SetString("account_id", strconv.FormatInt(accountID, 10))
	token.SetString("email", email)
	token.SetString("role", role)

	return token.V4Encrypt(s.symmetricKey, nil), nil
}

// VerifyToken validates a session credential and returns its claims.
func (s *PasetoService) VerifyToken(tokenStr string) (*SessionClaims, error) {
	parser := paseto.NewParser()

	token, err := parser.ParseV4Local(s.symmetricKey, tokenStr, nil)
	if err != nil {
		// The parser checks expiration by default; distinguish expired from invalid
		if errors.Is(err, &paseto.RuleError{}) {
			return nil, ErrExpiredSessionToken
		}
		return nil, ErrInvalidSessionToken
	}

	idStr, err := token.GetString("account_id")
	if err != nil {
		return nil, ErrInvalidSessionToken
	}
	accountID, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return nil, ErrInvalidSessionToken
	}

	email, err := token.GetString("email")
	if err != nil {
		return nil, ErrInvalidSessionToken
	}

	role, err := token.GetString("role")
	if err != nil {
		return nil, ErrInvalidSessionToken
	}

	issuedAt, err := token.GetIssuedAt()
	if err != nil {
		return nil, ErrInvalidSessionToken
	}

	expiresAt, err := token.GetExpiration()
	if err != nil {
		return nil, ErrInvalidSessionToken
	}

	return &SessionClaims{
		AccountID: accountID,
		Email:     email,
		Role:      role,
		IssuedAt:  issuedAt,
		ExpiresAt: expiresAt,
	}, nil
}
