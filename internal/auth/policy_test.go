package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		name     string
		password string
		wantErr  error
	}{
		{"valid", "Abcdef12", nil},
		{"valid long", "CorrectHorse99", nil},
		{"empty", "", ErrPasswordTooShort},
		{"too short", "Abc1", ErrPasswordTooShort},
		{"too short despite mix", "Aa1bcde", ErrPasswordTooShort},
		{"no uppercase", "abcdef12", ErrPasswordNoUpper},
		{"no lowercase", "ABCDEF12", ErrPasswordNoLower},
		{"no digit", "Abcdefgh", ErrPasswordNoDigit},
		// Checks run in fixed order; the first failure wins.
		{"short and no upper reports length", "ab1", ErrPasswordTooShort},
		{"no upper and no digit reports upper", "abcdefgh", ErrPasswordNoUpper},
		{"only digits reports upper first", "12345678", ErrPasswordNoUpper},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePassword(tt.password)
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestValidatePasswordFirstRuleMessage(t *testing.T) {
	err := ValidatePassword("Weak1")
	assert.ErrorContains(t, err, "at least 8 characters")
}
