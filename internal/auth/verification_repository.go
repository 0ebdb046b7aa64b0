package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/harborarts/member-api/internal/account"
	"github.com/harborarts/member-api/internal/database"
)

var ErrVerificationTokenNotFound = errors.New("verification token not found")

// VerificationToken is a pending email verification. Email is the
// address being verified, which differs from the account's current
// address when IsEmailChange is set.
type VerificationToken struct {
	Token         string
	AccountID     int64
	Email         string
	IsEmailChange bool
	ExpiresAt     time.Time
}

// IsExpired reports whether the token's expiry has passed. Expiry is
// evaluated lazily at lookup; there is no background sweeper.
func (t *VerificationToken) IsExpired() bool {
	return !t.ExpiresAt.After(time.Now())
}

// VerificationRepository handles email verification token persistence.
type VerificationRepository struct {
	db *bun.DB
}

func NewVerificationRepository(db *bun.DB) *VerificationRepository {
	return &VerificationRepository{db: db}
}

// Replace stores a new verification token for the (account, email)
// pair, deleting any prior token for that pair first. Both steps run in
// one transaction so at most one live token exists per pair.
func (r *VerificationRepository) Replace(ctx context.Context, accountID int64, email, token string, isEmailChange bool, expiresAt time.Time) error {
	dbToken := &database.EmailVerification{
		Token:         token,
		AccountID:     accountID,
		Email:         account.CanonicalEmail(email),
		IsEmailChange: isEmailChange,
		ExpiresAt:     expiresAt,
		CreatedAt:     time.Now(),
	}

	err := r.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().
			Model((*database.EmailVerification)(nil)).
			Where("account_id = ?", accountID).
			Where("email = ?", dbToken.Email).
			Exec(ctx); err != nil {
			return err
		}
		_, err := tx.NewInsert().Model(dbToken).Exec(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to store verification token: %w", err)
	}

	return nil
}

// Get retrieves a verification token by its opaque value.
func (r *VerificationRepository) Get(ctx context.Context, token string) (*VerificationToken, error) {
	dbToken := new(database.EmailVerification)
	err := r.db.NewSelect().
		Model(dbToken).
		Where("token = ?", token).
		Scan(ctx)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrVerificationTokenNotFound
		}
		return nil, fmt.Errorf("failed to get verification token: %w", err)
	}

	return &VerificationToken{
		Token:         dbToken.Token,
		AccountID:     dbToken.AccountID,
		Email:         dbToken.Email,
		IsEmailChange: dbToken.IsEmailChange,
		ExpiresAt:     dbToken.ExpiresAt,
	}, nil
}

// Redeem applies the account mutation a token stands for and deletes
// the token, in one transaction. Email-change tokens overwrite the
// account's email and mark it verified; first-time tokens only flip
// the verified flag.
func (r *VerificationRepository) Redeem(ctx context.Context, t *VerificationToken) error {
	err := r.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		update := tx.NewUpdate().
			Model((*database.Account)(nil)).
			Set("email_verified = ?", true).
			Set("updated_at = NOW()").
			Where("id = ?", t.AccountID)
		if t.IsEmailChange {
			update = update.Set("email = ?", account.CanonicalEmail(t.Email))
		}

		result, err := update.Exec(ctx)
		if err != nil {
			return err
		}
		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if rowsAffected == 0 {
			return ErrVerificationTokenNotFound
		}

		_, err = tx.NewDelete().
			Model((*database.EmailVerification)(nil)).
			Where("token = ?", t.Token).
			Exec(ctx)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrVerificationTokenNotFound) {
			return ErrVerificationTokenNotFound
		}
		return fmt.Errorf("failed to redeem verification token: %w", err)
	}

	return nil
}
