package account

import (
	"regexp"
	"strings"
	"time"
)

// Account statuses.
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

// Profile roles.
const (
	RoleMember     = "member"
	RoleAdmin      = "admin"
	RoleInstructor = "instructor"
)

// Account is the domain view of a member credential plus its profile.
// The password hash is never serialized.
type Account struct {
	ID            int64     `json:"id"`
	Email         string    `json:"email"`
	PasswordHash  string    `json:"-"`
	Status        string    `json:"status"`
	EmailVerified bool      `json:"emailVerified"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
	Profile       Profile   `json:"profile"`
}

// Profile is the 1:1 extension record carried by every account.
type Profile struct {
	Name             string    `json:"name"`
	Phone            *string   `json:"phone"`
	Role             string    `json:"role"`
	JoinDate         time.Time `json:"joinDate"`
	EmailOptIn       bool      `json:"emailOptIn"`
	InstructorNumber *string   `json:"instructorNumber"`
}

// IsActive reports whether the account may log in.
func (a *Account) IsActive() bool {
	return a.Status == StatusActive
}

// IsAdmin reports whether the account's profile carries the admin role.
func (a *Account) IsAdmin() bool {
	return a.Profile.Role == RoleAdmin
}

// CanonicalEmail applies the single case-folding rule used for every
// stored and looked-up email: trim surrounding whitespace, lowercase.
func CanonicalEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

var nonDigitRe = regexp.MustCompile(`\D`)

// NormalizePhone reduces a free-form phone value to at most ten digits.
// Returns nil when no digits remain.
func NormalizePhone(phone string) *string {
	digits := nonDigitRe.ReplaceAllString(phone, "")
	if digits == "" {
		return nil
	}
	if len(digits) > 10 {
		digits = digits[:10]
	}
	return &digits
}

var instructorNumberRe = regexp.MustCompile(`^[a-zA-Z0-9]{9,10}$`)

// ValidInstructorNumber reports whether the value is 9-10 alphanumeric
// characters.
func ValidInstructorNumber(n string) bool {
	return instructorNumberRe.MatchString(n)
}
