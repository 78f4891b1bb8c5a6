package cryptox

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateMasterPassword(t *testing.T) {
	tests := []struct {
		name     string
		password string
		want     []error
	}{
		{"valid", "Correct-Horse-42", nil},
		{"too short", "Abc1", []error{ErrPasswordTooShort}},
		{"no upper", "lowercase-only-1", []error{ErrPasswordNoUpper}},
		{"no lower", "UPPERCASE-ONLY-1", []error{ErrPasswordNoLower}},
		{"no digit", "No-Digits-Here!", []error{ErrPasswordNoDigit}},
		{"empty", "", []error{ErrPasswordTooShort, ErrPasswordNoUpper, ErrPasswordNoLower, ErrPasswordNoDigit}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateMasterPassword(tt.password)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			for _, w := range tt.want {
				assert.ErrorIs(t, err, w)
			}
		})
	}
}

func TestPasswordStrength(t *testing.T) {
	tests := []struct {
		password string
		want     int
	}{
		{"", 0},
		{"abcdefgh", 30},
		{"abcdefghijkl", 50},
		{"Abcdefghijkl1", 70},
		{"Abcdefghijklmnop1!", 100},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, PasswordStrength(tt.password), tt.password)
	}
}
