package account

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"

	"github.com/harborarts/member-api/internal/database"
)

var (
	ErrNotFound       = errors.New("account not found")
	ErrDuplicateEmail = errors.New("an account with this email already exists")
)

// Repository handles account and profile persistence.
type Repository struct {
	db *bun.DB
}

func NewRepository(db *bun.DB) *Repository {
	return &Repository{db: db}
}

// ProfileUpdate carries a partial profile update. Provided flags
// distinguish "field absent" from "field set to empty/null".
type ProfileUpdate struct {
	Name                     *string
	Phone                    *string
	PhoneProvided            bool
	EmailOptIn               *bool
	InstructorNumber         *string
	InstructorNumberProvided bool

	// Admin-only fields; callers must authorize before setting these.
	Role   *string
	Status *string
}

// Create inserts an account and its profile as one transaction. The
// account starts active and unverified; the profile starts as a member
// joined today. Emails are canonicalized before storage.
func (r *Repository) Create(ctx context.Context, email, passwordHash, name string, phone *string) (*Account, error) {
	now := time.Now()
	dbAccount := &database.Account{
		Email:         CanonicalEmail(email),
		PasswordHash:  passwordHash,
		Status:        StatusActive,
		EmailVerified: false,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	dbProfile := &database.Profile{
		Name:       name,
		Phone:      phone,
		Role:       RoleMember,
		JoinDate:   now.Truncate(24 * time.Hour),
		EmailOptIn: false,
	}

	err := r.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(dbAccount).Returning("*").Exec(ctx); err != nil {
			return err
		}
		dbProfile.AccountID = dbAccount.ID
		if _, err := tx.NewInsert().Model(dbProfile).Returning("*").Exec(ctx); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key value violates unique constraint") {
			return nil, ErrDuplicateEmail
		}
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	dbAccount.Profile = dbProfile
	return mapDBAccountToModel(dbAccount), nil
}

// GetByEmail retrieves an account by canonicalized email.
func (r *Repository) GetByEmail(ctx context.Context, email string) (*Account, error) {
	dbAccount := new(database.Account)
	err := r.db.NewSelect().
		Model(dbAccount).
		Relation("Profile").
		Where("email = ?", CanonicalEmail(email)).
		Scan(ctx)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get account by email: %w", err)
	}

	return mapDBAccountToModel(dbAccount), nil
}

// GetByID retrieves an account by ID.
func (r *Repository) GetByID(ctx context.Context, id int64) (*Account, error) {
	dbAccount := new(database.Account)
	err := r.db.NewSelect().
		Model(dbAccount).
		Relation("Profile").
		Where("account.id = ?", id).
		Scan(ctx)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get account by id: %w", err)
	}

	return mapDBAccountToModel(dbAccount), nil
}

// UpdatePassword overwrites an account's password hash.
func (r *Repository) UpdatePassword(ctx context.Context, id int64, passwordHash string) error {
	result, err := r.db.NewUpdate().
		Model((*database.Account)(nil)).
		Set("password_hash = ?", passwordHash).
		Set("updated_at = NOW()").
		Where("id = ?", id).
		Exec(ctx)

	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// UpdateProfile applies a partial update to the profile row and, for
// admin-set fields, the account row. Returns the updated account.
func (r *Repository) UpdateProfile(ctx context.Context, id int64, upd ProfileUpdate) (*Account, error) {
	err := r.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		q := tx.NewUpdate().Model((*database.Profile)(nil)).Where("account_id = ?", id)
		touched := false

		if upd.Name != nil {
			q = q.Set("name = ?", *upd.Name)
			touched = true
		}
		if upd.PhoneProvided {
			q = q.Set("phone = ?", upd.Phone)
			touched = true
		}
		if upd.EmailOptIn != nil {
			q = q.Set("email_opt_in = ?", *upd.EmailOptIn)
			touched = true
		}
		if upd.InstructorNumberProvided {
			q = q.Set("instructor_number = ?", upd.InstructorNumber)
			touched = true
		}
		if upd.Role != nil {
			q = q.Set("role = ?", *upd.Role)
			touched = true
		}

		if touched {
			result, err := q.Exec(ctx)
			if err != nil {
				return err
			}
			rowsAffected, err := result.RowsAffected()
			if err != nil {
				return err
			}
			if rowsAffected == 0 {
				return ErrNotFound
			}
		}

		if upd.Status != nil {
			if _, err := tx.NewUpdate().
				Model((*database.Account)(nil)).
				Set("status = ?", *upd.Status).
				Set("updated_at = NOW()").
				Where("id = ?", id).
				Exec(ctx); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}

	return r.GetByID(ctx, id)
}

// Delete removes an account, its profile, and any live tokens for it.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	err := r.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().
			Model((*database.EmailVerification)(nil)).
			Where("account_id = ?", id).
			Exec(ctx); err != nil {
			return err
		}
		if _, err := tx.NewDelete().
			Model((*database.PasswordResetToken)(nil)).
			Where("account_id = ?", id).
			Exec(ctx); err != nil {
			return err
		}
		if _, err := tx.NewDelete().
			Model((*database.Profile)(nil)).
			Where("account_id = ?", id).
			Exec(ctx); err != nil {
			return err
		}
		result, err := tx.NewDelete().
			Model((*database.Account)(nil)).
			Where("id = ?", id).
			Exec(ctx)
		if err != nil {
			return err
		}
		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if rowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to delete account: %w", err)
	}

	return nil
}

// mapDBAccountToModel converts the database model to the domain model.
func mapDBAccountToModel(dba *database.Account) *Account {
	a := &Account{
		ID:            dba.ID,
		Email:         dba.Email,
		PasswordHash:  dba.PasswordHash,
		Status:        dba.Status,
		EmailVerified: dba.EmailVerified,
		CreatedAt:     dba.CreatedAt,
		UpdatedAt:     dba.UpdatedAt,
	}
	if dba.Profile != nil {
		a.Profile = Profile{
			Name:             dba.Profile.Name,
			Phone:            dba.Profile.Phone,
			Role:             dba.Profile.Role,
			JoinDate:         dba.Profile.JoinDate,
			EmailOptIn:       dba.Profile.EmailOptIn,
			InstructorNumber: dba.Profile.InstructorNumber,
		}
	}
	return a
}
