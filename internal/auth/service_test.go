package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/harborarts/member-api/internal/account"
	"github.com/harborarts/member-api/internal/logging"
)

// --- fakes ---

type fakeAccounts struct {
	mu     sync.Mutex
	byID   map[int64]*account.Account
	nextID int64

	createErr error
	updateErr error
}

func newFakeAccounts() *fakeAccounts {
	return &fakeAccounts{byID: make(map[int64]*account.Account)}
}

func (f *fakeAccounts) Create(ctx context.Context, email, passwordHash, name string, phone *string) (*account.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}

	canonical := account.CanonicalEmail(email)
	for _, a := range f.byID {
		if a.Email == canonical {
			return nil, account.ErrDuplicateEmail
		}
	}

	f.nextID++
	a := &account.Account{
		ID:            f.nextID,
		Email:         canonical,
		PasswordHash:  passwordHash,
		Status:        account.StatusActive,
		EmailVerified: false,
		Profile: account.Profile{
			Name:     name,
			Phone:    phone,
			Role:     account.RoleMember,
			JoinDate: time.Now(),
		},
	}
	f.byID[a.ID] = a
	return copyAccount(a), nil
}

func (f *fakeAccounts) GetByEmail(ctx context.Context, email string) (*account.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	canonical := account.CanonicalEmail(email)
	for _, a := range f.byID {
		if a.Email == canonical {
			return copyAccount(a), nil
		}
	}
	return nil, account.ErrNotFound
}

func (f *fakeAccounts) GetByID(ctx context.Context, id int64) (*account.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.byID[id]
	if !ok {
		return nil, account.ErrNotFound
	}
	return copyAccount(a), nil
}

func (f *fakeAccounts) UpdatePassword(ctx context.Context, id int64, passwordHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	a, ok := f.byID[id]
	if !ok {
		return account.ErrNotFound
	}
	a.PasswordHash = passwordHash
	return nil
}

func (f *fakeAccounts) set(a *account.Account) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a.ID == 0 {
		f.nextID++
		a.ID = f.nextID
	}
	f.byID[a.ID] = a
}

func copyAccount(a *account.Account) *account.Account {
	cp := *a
	return &cp
}

type fakeVerifications struct {
	mu       sync.Mutex
	tokens   map[string]*VerificationToken
	accounts *fakeAccounts

	replaceErr error
}

func newFakeVerifications(accounts *fakeAccounts) *fakeVerifications {
	return &fakeVerifications{tokens: make(map[string]*VerificationToken), accounts: accounts}
}

func (f *fakeVerifications) Replace(ctx context.Context, accountID int64, email, token string, isEmailChange bool, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.replaceErr != nil {
		return f.replaceErr
	}
	canonical := account.CanonicalEmail(email)
	for k, t := range f.tokens {
		if t.AccountID == accountID && t.Email == canonical {
			delete(f.tokens, k)
		}
	}
	f.tokens[token] = &VerificationToken{
		Token:         token,
		AccountID:     accountID,
		Email:         canonical,
		IsEmailChange: isEmailChange,
		ExpiresAt:     expiresAt,
	}
	return nil
}

func (f *fakeVerifications) Get(ctx context.Context, token string) (*VerificationToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tokens[token]
	if !ok {
		return nil, ErrVerificationTokenNotFound
	}
	cp := *t
	return &cp, nil
}

func (f *fakeVerifications) Redeem(ctx context.Context, t *VerificationToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts.mu.Lock()
	defer f.accounts.mu.Unlock()

	a, ok := f.accounts.byID[t.AccountID]
	if !ok {
		return ErrVerificationTokenNotFound
	}
	a.EmailVerified = true
	if t.IsEmailChange {
		a.Email = t.Email
	}
	delete(f.tokens, t.Token)
	return nil
}

// tokenFor returns the live token for an account, or "".
func (f *fakeVerifications) tokenFor(accountID int64) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	for k, t := range f.tokens {
		if t.AccountID == accountID {
			return k
		}
	}
	return ""
}

func (f *fakeVerifications) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tokens)
}

type fakeResets struct {
	mu     sync.Mutex
	tokens map[string]*ResetToken

	replaceErr error
}

func newFakeResets() *fakeResets {
	return &fakeResets{tokens: make(map[string]*ResetToken)}
}

func (f *fakeResets) Replace(ctx context.Context, accountID int64, token string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.replaceErr != nil {
		return f.replaceErr
	}
	for k, t := range f.tokens {
		if t.AccountID == accountID {
			delete(f.tokens, k)
		}
	}
	f.tokens[token] = &ResetToken{Token: token, AccountID: accountID, ExpiresAt: expiresAt}
	return nil
}

func (f *fakeResets) Get(ctx context.Context, token string) (*ResetToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tokens[token]
	if !ok {
		return nil, ErrResetTokenNotFound
	}
	cp := *t
	return &cp, nil
}

func (f *fakeResets) Delete(ctx context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tokens, token)
	return nil
}

func (f *fakeResets) tokenFor(accountID int64) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	for k, t := range f.tokens {
		if t.AccountID == accountID {
			return k
		}
	}
	return ""
}

func (f *fakeResets) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tokens)
}

type fakeDispatcher struct {
	mu sync.Mutex

	verificationTo []string
	changeTo       []string
	resetTo        []string
	welcomeTo      []string

	verificationErr error
	changeErr       error
	resetErr        error
}

func (f *fakeDispatcher) SendVerificationEmail(ctx context.Context, toEmail, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.verificationErr != nil {
		return f.verificationErr
	}
	f.verificationTo = append(f.verificationTo, toEmail)
	return nil
}

func (f *fakeDispatcher) SendEmailChangeEmail(ctx context.Context, toEmail, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.changeErr != nil {
		return f.changeErr
	}
	f.changeTo = append(f.changeTo, toEmail)
	return nil
}

func (f *fakeDispatcher) SendPasswordResetEmail(ctx context.Context, toEmail, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resetErr != nil {
		return f.resetErr
	}
	f.resetTo = append(f.resetTo, toEmail)
	return nil
}

func (f *fakeDispatcher) SendWelcomeEmail(ctx context.Context, toEmail, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.welcomeTo = append(f.welcomeTo, toEmail)
	return nil
}

func (f *fakeDispatcher) verificationCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.verificationTo)
}

func (f *fakeDispatcher) resetCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.resetTo)
}

func (f *fakeDispatcher) welcomeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.welcomeTo)
}

type stubIssuer struct{}

func (stubIssuer) CreateToken(accountID int64, email, role string, duration time.Duration) (string, error) {
	return fmt.Sprintf("session-%d-%s", accountID, role), nil
}

type fixture struct {
	service       *Service
	accounts      *fakeAccounts
	verifications *fakeVerifications
	resets        *fakeResets
	dispatcher    *fakeDispatcher
	hasher        *PasswordHasher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	accounts := newFakeAccounts()
	verifications := newFakeVerifications(accounts)
	resets := newFakeResets()
	dispatcher := &fakeDispatcher{}
	hasher := NewPasswordHasher(bcrypt.MinCost)

	service := NewService(
		accounts,
		verifications,
		resets,
		stubIssuer{},
		dispatcher,
		hasher,
		logging.NewLogger(true),
		7*24*time.Hour,
	)

	return &fixture{
		service:       service,
		accounts:      accounts,
		verifications: verifications,
		resets:        resets,
		dispatcher:    dispatcher,
		hasher:        hasher,
	}
}

func (fx *fixture) registerVerified(t *testing.T, name, email, password string) *account.Account {
	t.Helper()
	ctx := context.Background()

	registered, err := fx.service.Register(ctx, name, email, "", password)
	require.NoError(t, err)

	token := fx.verifications.tokenFor(registered.ID)
	require.NotEmpty(t, token)
	require.NoError(t, fx.service.VerifyEmail(ctx, token))

	verified, err := fx.accounts.GetByID(ctx, registered.ID)
	require.NoError(t, err)
	return verified
}

// --- registration ---

func TestRegister(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	registered, err := fx.service.Register(ctx, "Jo", "jo@x.com", "", "Abcdef12")
	require.NoError(t, err)
	assert.Equal(t, "jo@x.com", registered.Email)
	assert.Equal(t, account.StatusActive, registered.Status)
	assert.False(t, registered.EmailVerified)
	assert.Equal(t, account.RoleMember, registered.Profile.Role)
	assert.False(t, registered.Profile.EmailOptIn)

	// A verification token is stored and the email goes out without
	// blocking the response.
	assert.NotEmpty(t, fx.verifications.tokenFor(registered.ID))
	require.Eventually(t, func() bool {
		return fx.dispatcher.verificationCount() == 1
	}, time.Second, 10*time.Millisecond)

	// Registration never auto-logs-in: unverified login is refused.
	_, _, err = fx.service.Login(ctx, "jo@x.com", "Abcdef12")
	assert.ErrorIs(t, err, ErrEmailNotVerified)
}

func TestRegisterValidation(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	_, err := fx.service.Register(ctx, "", "jo@x.com", "", "Abcdef12")
	assert.ErrorIs(t, err, ErrNameRequired)

	_, err = fx.service.Register(ctx, "Jo", "", "", "Abcdef12")
	assert.ErrorIs(t, err, ErrEmailRequired)

	_, err = fx.service.Register(ctx, "Jo", "not-an-email", "", "Abcdef12")
	assert.ErrorIs(t, err, ErrInvalidEmailFormat)

	_, err = fx.service.Register(ctx, "Jo", "jo@x.com", "", "")
	assert.ErrorIs(t, err, ErrPasswordRequired)

	_, err = fx.service.Register(ctx, "Jo", "jo@x.com", "", "abcdef12")
	assert.ErrorIs(t, err, ErrPasswordNoUpper)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	_, err := fx.service.Register(ctx, "Jo", "jo@x.com", "", "Abcdef12")
	require.NoError(t, err)

	_, err = fx.service.Register(ctx, "Other Jo", "jo@x.com", "", "Abcdef12")
	assert.ErrorIs(t, err, account.ErrDuplicateEmail)

	// Lookups are case-insensitive, so a recased duplicate is caught too.
	_, err = fx.service.Register(ctx, "Shouty Jo", "JO@X.COM", "", "Abcdef12")
	assert.ErrorIs(t, err, account.ErrDuplicateEmail)
}

func TestRegisterPhoneNormalized(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	registered, err := fx.service.Register(ctx, "Jo", "jo@x.com", "(555) 123-4567", "Abcdef12")
	require.NoError(t, err)
	stored, err := fx.accounts.GetByID(ctx, registered.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.Profile.Phone)
	assert.Equal(t, "5551234567", *stored.Profile.Phone)
}

func TestRegisterSurvivesEmailFailure(t *testing.T) {
	fx := newFixture(t)
	fx.dispatcher.verificationErr = errors.New("smtp down")
	ctx := context.Background()

	// Dispatch failure is logged, not surfaced: the account exists and
	// can request a resend.
	registered, err := fx.service.Register(ctx, "Jo", "jo@x.com", "", "Abcdef12")
	require.NoError(t, err)
	assert.NotEmpty(t, fx.verifications.tokenFor(registered.ID))
}

// --- login ---

func TestLoginSuccess(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	verified := fx.registerVerified(t, "Jo", "jo@x.com", "Abcdef12")

	loggedIn, token, err := fx.service.Login(ctx, "jo@x.com", "Abcdef12")
	require.NoError(t, err)
	assert.Equal(t, verified.ID, loggedIn.ID)
	assert.Equal(t, fmt.Sprintf("session-%d-member", verified.ID), token)
}

func TestLoginInvalidCredentials(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.registerVerified(t, "Jo", "jo@x.com", "Abcdef12")

	// Unknown email and wrong password fail identically.
	_, _, err := fx.service.Login(ctx, "nobody@x.com", "Abcdef12")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, _, err = fx.service.Login(ctx, "jo@x.com", "WrongPass1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLoginCredentialCheckPrecedesStateChecks(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	hash, err := fx.hasher.Hash("Abcdef12")
	require.NoError(t, err)
	fx.accounts.set(&account.Account{
		Email:         "jo@x.com",
		PasswordHash:  hash,
		Status:        account.StatusInactive,
		EmailVerified: false,
		Profile:       account.Profile{Name: "Jo", Role: account.RoleMember},
	})

	// Wrong password on an inactive, unverified account: the generic
	// credential failure wins so account state never leaks.
	_, _, err = fx.service.Login(ctx, "jo@x.com", "WrongPass1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	// Correct password surfaces the inactive state.
	_, _, err = fx.service.Login(ctx, "jo@x.com", "Abcdef12")
	assert.ErrorIs(t, err, ErrAccountInactive)
}

// --- email verification ---

func TestVerifyEmail(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	registered, err := fx.service.Register(ctx, "Jo", "jo@x.com", "", "Abcdef12")
	require.NoError(t, err)
	token := fx.verifications.tokenFor(registered.ID)
	require.NotEmpty(t, token)

	require.NoError(t, fx.service.VerifyEmail(ctx, token))

	stored, err := fx.accounts.GetByID(ctx, registered.ID)
	require.NoError(t, err)
	assert.True(t, stored.EmailVerified)

	// Login now succeeds.
	_, sessionToken, err := fx.service.Login(ctx, "jo@x.com", "Abcdef12")
	require.NoError(t, err)
	assert.NotEmpty(t, sessionToken)

	// The welcome email goes out best-effort after first verification.
	require.Eventually(t, func() bool {
		return fx.dispatcher.welcomeCount() == 1
	}, time.Second, 10*time.Millisecond)

	// Single-use: the same token fails on second redemption.
	err = fx.service.VerifyEmail(ctx, token)
	assert.ErrorIs(t, err, ErrInvalidOrExpiredToken)
}

func TestVerifyEmailRejectsMissingAndUnknown(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	assert.ErrorIs(t, fx.service.VerifyEmail(ctx, ""), ErrTokenRequired)
	assert.ErrorIs(t, fx.service.VerifyEmail(ctx, "deadbeef"), ErrInvalidOrExpiredToken)
}

func TestVerifyEmailRejectsExpired(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	registered, err := fx.service.Register(ctx, "Jo", "jo@x.com", "", "Abcdef12")
	require.NoError(t, err)

	require.NoError(t, fx.verifications.Replace(ctx, registered.ID, "jo@x.com", "expiredtoken", false, time.Now().Add(-time.Minute)))

	err = fx.service.VerifyEmail(ctx, "expiredtoken")
	assert.ErrorIs(t, err, ErrInvalidOrExpiredToken)

	stored, err := fx.accounts.GetByID(ctx, registered.ID)
	require.NoError(t, err)
	assert.False(t, stored.EmailVerified)
}

func TestVerifyEmailChangeSwapsAddress(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	verified := fx.registerVerified(t, "Jo", "jo@x.com", "Abcdef12")

	require.NoError(t, fx.service.RequestEmailChange(ctx, verified.ID, "new@x.com"))
	token := fx.verifications.tokenFor(verified.ID)
	require.NotEmpty(t, token)

	require.NoError(t, fx.service.VerifyEmail(ctx, token))

	stored, err := fx.accounts.GetByID(ctx, verified.ID)
	require.NoError(t, err)
	assert.Equal(t, "new@x.com", stored.Email)
	// The new address is considered verified the moment the token is
	// consumed.
	assert.True(t, stored.EmailVerified)
}

// --- resend verification ---

func TestResendVerification(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	registered, err := fx.service.Register(ctx, "Jo", "jo@x.com", "", "Abcdef12")
	require.NoError(t, err)
	firstToken := fx.verifications.tokenFor(registered.ID)

	require.NoError(t, fx.service.ResendVerification(ctx, registered.ID))

	// The prior token was replaced; only the latest one redeems.
	secondToken := fx.verifications.tokenFor(registered.ID)
	assert.NotEqual(t, firstToken, secondToken)
	assert.Equal(t, 1, fx.verifications.count())
	assert.ErrorIs(t, fx.service.VerifyEmail(ctx, firstToken), ErrInvalidOrExpiredToken)
	assert.NoError(t, fx.service.VerifyEmail(ctx, secondToken))
}

func TestResendVerificationAlreadyVerified(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	verified := fx.registerVerified(t, "Jo", "jo@x.com", "Abcdef12")

	err := fx.service.ResendVerification(ctx, verified.ID)
	assert.ErrorIs(t, err, ErrAlreadyVerified)
}

func TestResendVerificationAwaitsDelivery(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	registered, err := fx.service.Register(ctx, "Jo", "jo@x.com", "", "Abcdef12")
	require.NoError(t, err)

	// The caller is actively waiting on this email, so delivery failure
	// is a hard failure.
	fx.dispatcher.verificationErr = errors.New("smtp down")
	err = fx.service.ResendVerification(ctx, registered.ID)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrAlreadyVerified)
}

// --- password reset ---

func TestRequestPasswordResetAntiEnumeration(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.registerVerified(t, "Jo", "jo@x.com", "Abcdef12")

	// Existing and non-existent addresses produce the same outcome.
	assert.NoError(t, fx.service.RequestPasswordReset(ctx, "jo@x.com"))
	assert.NoError(t, fx.service.RequestPasswordReset(ctx, "nobody@x.com"))

	// Only the real account got a token and an email.
	assert.Equal(t, 1, fx.resets.count())
	require.Eventually(t, func() bool {
		return fx.dispatcher.resetCount() == 1
	}, time.Second, 10*time.Millisecond)
}

func TestRequestPasswordResetSkipsInactive(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	hash, err := fx.hasher.Hash("Abcdef12")
	require.NoError(t, err)
	fx.accounts.set(&account.Account{
		Email:         "gone@x.com",
		PasswordHash:  hash,
		Status:        account.StatusInactive,
		EmailVerified: true,
		Profile:       account.Profile{Name: "Gone", Role: account.RoleMember},
	})

	assert.NoError(t, fx.service.RequestPasswordReset(ctx, "gone@x.com"))
	assert.Equal(t, 0, fx.resets.count())
}

func TestRequestPasswordResetReplacesPriorToken(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	verified := fx.registerVerified(t, "Jo", "jo@x.com", "Abcdef12")

	require.NoError(t, fx.service.RequestPasswordReset(ctx, "jo@x.com"))
	first := fx.resets.tokenFor(verified.ID)
	require.NoError(t, fx.service.RequestPasswordReset(ctx, "jo@x.com"))
	second := fx.resets.tokenFor(verified.ID)

	assert.NotEqual(t, first, second)
	assert.Equal(t, 1, fx.resets.count())
}

func TestResetPassword(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	verified := fx.registerVerified(t, "Jo", "jo@x.com", "Abcdef12")

	require.NoError(t, fx.service.RequestPasswordReset(ctx, "jo@x.com"))
	token := fx.resets.tokenFor(verified.ID)
	require.NotEmpty(t, token)

	// Weak password is rejected before the token is touched, with the
	// first violated rule's message.
	err := fx.service.ResetPassword(ctx, token, "Weak1")
	assert.ErrorIs(t, err, ErrPasswordTooShort)
	assert.Equal(t, 1, fx.resets.count())

	require.NoError(t, fx.service.ResetPassword(ctx, token, "Newpass99"))

	// Old password rejected, new password accepted, no auto-login
	// side effects beyond the explicit login below.
	_, _, err = fx.service.Login(ctx, "jo@x.com", "Abcdef12")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, _, err = fx.service.Login(ctx, "jo@x.com", "Newpass99")
	assert.NoError(t, err)

	// Single-use: the token is gone.
	err = fx.service.ResetPassword(ctx, token, "Another99")
	assert.ErrorIs(t, err, ErrInvalidOrExpiredToken)
}

func TestResetPasswordValidation(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	assert.ErrorIs(t, fx.service.ResetPassword(ctx, "", "Abcdef12"), ErrTokenRequired)
	assert.ErrorIs(t, fx.service.ResetPassword(ctx, "sometoken", "Abcdef12"), ErrInvalidOrExpiredToken)
}

func TestResetPasswordRejectsExpiredToken(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	verified := fx.registerVerified(t, "Jo", "jo@x.com", "Abcdef12")

	require.NoError(t, fx.resets.Replace(ctx, verified.ID, "expiredtoken", time.Now().Add(-time.Minute)))

	err := fx.service.ResetPassword(ctx, "expiredtoken", "Newpass99")
	assert.ErrorIs(t, err, ErrInvalidOrExpiredToken)

	// The password was not changed.
	_, _, err = fx.service.Login(ctx, "jo@x.com", "Abcdef12")
	assert.NoError(t, err)
}

// --- authenticated password change ---

func TestChangePassword(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	verified := fx.registerVerified(t, "Jo", "jo@x.com", "Abcdef12")

	// Only the account owner may change their password.
	err := fx.service.ChangePassword(ctx, verified.ID+1, verified.ID, "Abcdef12", "Newpass99")
	assert.ErrorIs(t, err, ErrAccessDenied)

	err = fx.service.ChangePassword(ctx, verified.ID, verified.ID, "WrongPass1", "Newpass99")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	err = fx.service.ChangePassword(ctx, verified.ID, verified.ID, "Abcdef12", "weak")
	assert.ErrorIs(t, err, ErrPasswordTooShort)

	require.NoError(t, fx.service.ChangePassword(ctx, verified.ID, verified.ID, "Abcdef12", "Newpass99"))
	_, _, err = fx.service.Login(ctx, "jo@x.com", "Newpass99")
	assert.NoError(t, err)
}

// --- email change ---

func TestRequestEmailChange(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	verified := fx.registerVerified(t, "Jo", "jo@x.com", "Abcdef12")

	require.NoError(t, fx.service.RequestEmailChange(ctx, verified.ID, "New@X.com"))

	token := fx.verifications.tokenFor(verified.ID)
	require.NotEmpty(t, token)
	stored, err := fx.verifications.Get(ctx, token)
	require.NoError(t, err)
	assert.True(t, stored.IsEmailChange)
	assert.Equal(t, "new@x.com", stored.Email)

	// The verification link goes to the NEW address, awaited.
	fx.dispatcher.mu.Lock()
	changeTo := append([]string(nil), fx.dispatcher.changeTo...)
	fx.dispatcher.mu.Unlock()
	require.Len(t, changeTo, 1)
	assert.Equal(t, "new@x.com", changeTo[0])

	// The account is untouched until the token is redeemed.
	current, err := fx.accounts.GetByID(ctx, verified.ID)
	require.NoError(t, err)
	assert.Equal(t, "jo@x.com", current.Email)
}

func TestRequestEmailChangeDeliveryFailure(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	verified := fx.registerVerified(t, "Jo", "jo@x.com", "Abcdef12")

	fx.dispatcher.changeErr = errors.New("smtp down")
	err := fx.service.RequestEmailChange(ctx, verified.ID, "new@x.com")
	assert.Error(t, err)

	// The stored token stays behind as an accepted gap; the account is
	// untouched.
	assert.NotEmpty(t, fx.verifications.tokenFor(verified.ID))
	current, getErr := fx.accounts.GetByID(ctx, verified.ID)
	require.NoError(t, getErr)
	assert.Equal(t, "jo@x.com", current.Email)
}

func TestRequestEmailChangeValidation(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	verified := fx.registerVerified(t, "Jo", "jo@x.com", "Abcdef12")

	assert.ErrorIs(t, fx.service.RequestEmailChange(ctx, verified.ID, "  "), ErrEmailRequired)
	assert.ErrorIs(t, fx.service.RequestEmailChange(ctx, verified.ID, "not-an-email"), ErrInvalidEmailFormat)
}
