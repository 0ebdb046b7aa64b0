package database

import (
	"time"

	"github.com/uptrace/bun"
)

// Account is the credential row for a member. Emails are stored
// canonicalized (trimmed, lowercased) by the account repository.
type Account struct {
	bun.BaseModel `bun:"table:accounts"`

	ID            int64     `bun:"id,pk,autoincrement"`
	Email         string    `bun:"email,notnull,unique"`
	PasswordHash  string    `bun:"password_hash,notnull"`
	Status        string    `bun:"status,notnull,default:'active'"`
	EmailVerified bool      `bun:"email_verified,notnull,default:false"`
	CreatedAt     time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt     time.Time `bun:"updated_at,notnull,default:current_timestamp"`

	Profile *Profile `bun:"rel:has-one,join:id=account_id"`
}

// Profile is the 1:1 member profile extension of an account.
type Profile struct {
	bun.BaseModel `bun:"table:profiles"`

	ID               int64     `bun:"id,pk,autoincrement"`
	AccountID        int64     `bun:"account_id,notnull,unique"`
	Name             string    `bun:"name,notnull"`
	Phone            *string   `bun:"phone"`
	Role             string    `bun:"role,notnull,default:'member'"`
	JoinDate         time.Time `bun:"join_date,notnull"`
	EmailOptIn       bool      `bun:"email_opt_in,notnull,default:false"`
	InstructorNumber *string   `bun:"instructor_number"`
}

// EmailVerification holds a pending email verification token. For
// email-change flows Email carries the new address and IsEmailChange
// is true; for new accounts Email matches the account's address.
type EmailVerification struct {
	bun.BaseModel `bun:"table:email_verifications"`

	ID            int64     `bun:"id,pk,autoincrement"`
	Token         string    `bun:"token,notnull,unique"`
	AccountID     int64     `bun:"account_id,notnull"`
	Email         string    `bun:"email,notnull"`
	IsEmailChange bool      `bun:"is_email_change,notnull,default:false"`
	ExpiresAt     time.Time `bun:"expires_at,notnull"`
	CreatedAt     time.Time `bun:"created_at,notnull,default:current_timestamp"`
}

// PasswordResetToken holds a pending password reset token.
type PasswordResetToken struct {
	bun.BaseModel `bun:"table:password_reset_tokens"`

	ID        int64     `bun:"id,pk,autoincrement"`
	Token     string    `bun:"token,notnull,unique"`
	AccountID int64     `bun:"account_id,notnull"`
	ExpiresAt time.Time `bun:"expires_at,notnull"`
	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
}
