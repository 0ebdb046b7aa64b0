package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/harborarts/member-api/internal/account"
	"github.com/harborarts/member-api/internal/logging"
)

var (
	ErrNameRequired       = errors.New("name is required")
	ErrEmailRequired      = errors.New("email is required")
	ErrPasswordRequired   = errors.New("password is required")
	ErrTokenRequired      = errors.New("token is required")
	ErrInvalidEmailFormat = errors.New("invalid email format")

	ErrInvalidCredentials    = errors.New("invalid email or password")
	ErrAccountInactive       = errors.New("account is inactive")
	ErrEmailNotVerified      = errors.New("email not verified, please check your inbox")
	ErrInvalidOrExpiredToken = errors.New("invalid or expired token")
	ErrAlreadyVerified       = errors.New("email already verified")
	ErrAccessDenied          = errors.New("access denied")
)

// AccountStore is the credential store the orchestrator reads and
// mutates. Emails are canonicalized at the store boundary.
type AccountStore interface {
	Create(ctx context.Context, email, passwordHash, name string, phone *string) (*account.Account, error)
	GetByEmail(ctx context.Context, email string) (*account.Account, error)
	GetByID(ctx context.Context, id int64) (*account.Account, error)
	UpdatePassword(ctx context.Context, id int64, passwordHash string) error
}

// VerificationStore holds at most one live email verification token
// per (account, email) pair.
type VerificationStore interface {
	Replace(ctx context.Context, accountID int64, email, token string, isEmailChange bool, expiresAt time.Time) error
	Get(ctx context.Context, token string) (*VerificationToken, error)
	Redeem(ctx context.Context, t *VerificationToken) error
}

// ResetStore holds at most one live password reset token per account.
type ResetStore interface {
	Replace(ctx context.Context, accountID int64, token string, expiresAt time.Time) error
	Get(ctx context.Context, token string) (*ResetToken, error)
	Delete(ctx context.Context, token string) error
}

// EmailDispatcher sends transactional email or fails.
type EmailDispatcher interface {
	SendVerificationEmail(ctx context.Context, toEmail, token string) error
	SendEmailChangeEmail(ctx context.Context, toEmail, token string) error
	SendPasswordResetEmail(ctx context.Context, toEmail, token string) error
	SendWelcomeEmail(ctx context.Context, toEmail, name string) error
}

// SessionIssuer mints client-held session credentials.
type SessionIssuer interface {
	CreateToken(accountID int64, email, role string, duration time.Duration) (string, error)
}

// Service orchestrates the credential lifecycle: registration, login,
// email verification, email change, and password reset flows.
type Service struct {
	accounts        AccountStore
	verifications   VerificationStore
	resets          ResetStore
	sessions        SessionIssuer
	email           EmailDispatcher
	hasher          *PasswordHasher
	logger          *logging.Logger
	sessionDuration time.Duration
}

func NewService(
	accounts AccountStore,
	verifications VerificationStore,
	resets ResetStore,
	sessions SessionIssuer,
	email EmailDispatcher,
	hasher *PasswordHasher,
	logger *logging.Logger,
	sessionDuration time.Duration,
) *Service {
	return &Service{
		accounts:        accounts,
		verifications:   verifications,
		resets:          resets,
		sessions:        sessions,
		email:           email,
		hasher:          hasher,
		logger:          logger,
		sessionDuration: sessionDuration,
	}
}

// dispatch routes an email send by criticality. Critical sends are
// awaited and their failure is returned to the caller; best-effort
// sends run in a goroutine and failures are only logged.
func (s *Service) dispatch(ctx context.Context, critical bool, kind string, send func(context.Context) error) error {
	if critical {
		if err := send(ctx); err != nil {
			return fmt.Errorf("failed to send %s email: %w", kind, err)
		}
		return nil
	}

	go func() {
		// Detached context: the response must not wait on delivery.
		emailCtx := context.Background()
		if err := send(emailCtx); err != nil {
			s.logger.Warn("failed to send email", "kind", kind, "error", err)
		}
	}()
	return nil
}

// Register creates an account with its profile, stores a verification
// token, and sends the verification email best-effort. Registration
// never logs the caller in.
func (s *Service) Register(ctx context.Context, name, email, phone, password string) (*account.Account, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrNameRequired
	}
	if strings.TrimSpace(email) == "" {
		return nil, ErrEmailRequired
	}
	if _, err := mail.ParseAddress(strings.TrimSpace(email)); err != nil {
		return nil, ErrInvalidEmailFormat
	}
	if password == "" {
		return nil, ErrPasswordRequired
	}
	if err := ValidatePassword(password); err != nil {
		return nil, err
	}

	passwordHash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}

	newAccount, err := s.accounts.Create(ctx, email, passwordHash, name, account.NormalizePhone(phone))
	if err != nil {
		if errors.Is(err, account.ErrDuplicateEmail) {
			return nil, account.ErrDuplicateEmail
		}
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	token, err := generateToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate verification token: %w", err)
	}
	if err := s.verifications.Replace(ctx, newAccount.ID, newAccount.Email, token, false, time.Now().Add(verificationTokenTTL)); err != nil {
		return nil, err
	}

	// Best-effort: the account exists either way and can request a resend.
	_ = s.dispatch(ctx, false, "verification", func(ctx context.Context) error {
		return s.email.SendVerificationEmail(ctx, newAccount.Email, token)
	})

	return newAccount, nil
}

// Login verifies credentials and issues a session credential.
// Credential checks run strictly before the status and verified checks
// so an invalid password never leaks account state.
func (s *Service) Login(ctx context.Context, email, password string) (*account.Account, string, error) {
	if strings.TrimSpace(email) == "" {
		return nil, "", ErrEmailRequired
	}
	if password == "" {
		return nil, "", ErrPasswordRequired
	}

	existing, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return nil, "", ErrInvalidCredentials
		}
		return nil, "", fmt.Errorf("failed to get account: %w", err)
	}

	if !s.hasher.Verify(existing.PasswordHash, password) {
		return nil, "", ErrInvalidCredentials
	}

	if !existing.IsActive() {
		return nil, "", ErrAccountInactive
	}
	if !existing.EmailVerified {
		return nil, "", ErrEmailNotVerified
	}

	token, err := s.sessions.CreateToken(existing.ID, existing.Email, existing.Profile.Role, s.sessionDuration)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create session token: %w", err)
	}

	return existing, token, nil
}

// VerifyEmail consumes a verification token. Email-change tokens swap
// the account's address and mark it verified in the same step; the new
// address is considered verified the moment the token is consumed.
func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	if token == "" {
		return ErrTokenRequired
	}

	t, err := s.verifications.Get(ctx, token)
	if err != nil {
		if errors.Is(err, ErrVerificationTokenNotFound) {
			return ErrInvalidOrExpiredToken
		}
		return fmt.Errorf("failed to get verification token: %w", err)
	}
	if t.IsExpired() {
		return ErrInvalidOrExpiredToken
	}

	if err := s.verifications.Redeem(ctx, t); err != nil {
		return fmt.Errorf("failed to redeem verification token: %w", err)
	}

	if !t.IsEmailChange {
		verified, err := s.accounts.GetByID(ctx, t.AccountID)
		if err != nil {
			s.logger.Warn("failed to load account for welcome email", "account_id", t.AccountID, "error", err)
			return nil
		}
		_ = s.dispatch(ctx, false, "welcome", func(ctx context.Context) error {
			return s.email.SendWelcomeEmail(ctx, verified.Email, verified.Profile.Name)
		})
	}

	return nil
}

// ResendVerification issues a fresh verification token for the caller
// and awaits delivery. The caller is actively waiting on the email, so
// a dispatch failure fails the whole request.
func (s *Service) ResendVerification(ctx context.Context, accountID int64) error {
	existing, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return fmt.Errorf("failed to get account: %w", err)
	}

	if existing.EmailVerified {
		return ErrAlreadyVerified
	}

	token, err := generateToken()
	if err != nil {
		return fmt.Errorf("failed to generate verification token: %w", err)
	}
	if err := s.verifications.Replace(ctx, existing.ID, existing.Email, token, false, time.Now().Add(verificationTokenTTL)); err != nil {
		return err
	}

	return s.dispatch(ctx, true, "verification", func(ctx context.Context) error {
		return s.email.SendVerificationEmail(ctx, existing.Email, token)
	})
}

// RequestPasswordReset stores a reset token and sends the reset email
// best-effort for active accounts. The externally observable outcome
// is identical whether or not the account exists.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	if strings.TrimSpace(email) == "" {
		return ErrEmailRequired
	}

	existing, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, account.ErrNotFound) {
			s.logger.Warn("failed to get account for password reset", "error", err)
		}
		return nil
	}
	if !existing.IsActive() {
		return nil
	}

	token, err := generateToken()
	if err != nil {
		s.logger.Warn("failed to generate reset token", "error", err)
		return nil
	}
	if err := s.resets.Replace(ctx, existing.ID, token, time.Now().Add(passwordResetTokenTTL)); err != nil {
		s.logger.Warn("failed to store reset token", "error", err)
		return nil
	}

	_ = s.dispatch(ctx, false, "password reset", func(ctx context.Context) error {
		return s.email.SendPasswordResetEmail(ctx, existing.Email, token)
	})

	return nil
}

// ResetPassword consumes a reset token and overwrites the password.
// The policy check runs before the token lookup so a weak password
// never burns the token. The caller is not logged in afterwards.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	if token == "" {
		return ErrTokenRequired
	}
	if err := ValidatePassword(newPassword); err != nil {
		return err
	}

	t, err := s.resets.Get(ctx, token)
	if err != nil {
		if errors.Is(err, ErrResetTokenNotFound) {
			return ErrInvalidOrExpiredToken
		}
		return fmt.Errorf("failed to get reset token: %w", err)
	}
	if t.IsExpired() {
		return ErrInvalidOrExpiredToken
	}

	passwordHash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := s.accounts.UpdatePassword(ctx, t.AccountID, passwordHash); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}

	// A token whose delete fails is rejected on next lookup by expiry.
	if err := s.resets.Delete(ctx, token); err != nil {
		s.logger.Warn("failed to delete reset token", "error", err)
	}

	return nil
}

// ChangePassword is the authenticated self-service password change.
// Only the account owner may call it, and the current password must
// verify against the stored hash.
func (s *Service) ChangePassword(ctx context.Context, callerID, targetID int64, currentPassword, newPassword string) error {
	if callerID != targetID {
		return ErrAccessDenied
	}
	if err := ValidatePassword(newPassword); err != nil {
		return err
	}

	existing, err := s.accounts.GetByID(ctx, targetID)
	if err != nil {
		return fmt.Errorf("failed to get account: %w", err)
	}

	if !s.hasher.Verify(existing.PasswordHash, currentPassword) {
		return ErrInvalidCredentials
	}

	passwordHash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := s.accounts.UpdatePassword(ctx, targetID, passwordHash); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}

	return nil
}

// RequestEmailChange stores a change-verification token and sends the
// verification link to the NEW address. Delivery is awaited: if it
// fails the request fails and the account is left untouched. The
// stored token stays behind in that case and simply expires.
func (s *Service) RequestEmailChange(ctx context.Context, accountID int64, newEmail string) error {
	canonical := account.CanonicalEmail(newEmail)
	if canonical == "" {
		return ErrEmailRequired
	}
	if _, err := mail.ParseAddress(canonical); err != nil {
		return ErrInvalidEmailFormat
	}

	token, err := generateToken()
	if err != nil {
		return fmt.Errorf("failed to generate verification token: %w", err)
	}
	if err := s.verifications.Replace(ctx, accountID, canonical, token, true, time.Now().Add(verificationTokenTTL)); err != nil {
		return err
	}

	return s.dispatch(ctx, true, "email change", func(ctx context.Context) error {
		return s.email.SendEmailChangeEmail(ctx, canonical, token)
	})
}
