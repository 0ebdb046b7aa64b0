package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/harborarts/member-api/internal/database"
)

var ErrResetTokenNotFound = errors.New("password reset token not found")

// ResetToken is a pending password reset.
type ResetToken struct {
	Token     string
	AccountID int64
	ExpiresAt time.Time
}

// IsExpired reports whether the token's expiry has passed.
func (t *ResetToken) IsExpired() bool {
	return !t.ExpiresAt.After(time.Now())
}

// ResetRepository handles password reset token persistence.
type ResetRepository struct {
	db *bun.DB
}

func NewResetRepository(db *bun.DB) *ResetRepository {
	return &ResetRepository{db: db}
}

// Replace stores a new reset token for the account, deleting any prior
// token for that account first, in one transaction.
func (r *ResetRepository) Replace(ctx context.Context, accountID int64, token string, expiresAt time.Time) error {
	dbToken := &database.PasswordResetToken{
		Token:     token,
		AccountID: accountID,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now(),
	}

	err := r.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().
			Model((*database.PasswordResetToken)(nil)).
			Where("account_id = ?", accountID).
			Exec(ctx); err != nil {
			return err
		}
		_, err := tx.NewInsert().Model(dbToken).Exec(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to store reset token: %w", err)
	}

	return nil
}

// Get retrieves a reset token by its opaque value.
func (r *ResetRepository) Get(ctx context.Context, token string) (*ResetToken, error) {
	dbToken := new(database.PasswordResetToken)
	err := r.db.NewSelect().
		Model(dbToken).
		Where("token = ?", token).
		Scan(ctx)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrResetTokenNotFound
		}
		return nil, fmt.Errorf("failed to get reset token: %w", err)
	}

	return &ResetToken{
		Token:     dbToken.Token,
		AccountID: dbToken.AccountID,
		ExpiresAt: dbToken.ExpiresAt,
	}, nil
}

// Delete removes a consumed token.
func (r *ResetRepository) Delete(ctx context.Context, token string) error {
	_, err := r.db.NewDelete().
		Model((*database.PasswordResetToken)(nil)).
		Where("token = ?", token).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete reset token: %w", err)
	}

	return nil
}
