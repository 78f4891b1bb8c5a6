package cryptox

import (
	"errors"
	"unicode/utf8"
)

// MinMasterPasswordLength is the minimum accepted master password length, in runes.
const MinMasterPasswordLength = 12

// Master password policy violations. ValidateMasterPassword joins every
// violation that applies so callers can report all of them at once.
var (
	ErrPasswordTooShort = errors.New("password must be at least 12 characters")
	ErrPasswordNoUpper  = errors.New("password must contain at least one uppercase letter")
	ErrPasswordNoLower  = errors.New("password must contain at least one lowercase letter")
	ErrPasswordNoDigit  = errors.New("password must contain at least one number")
)

// ValidateMasterPassword checks password against the master password policy.
// It is a separate rule from derivation: DeriveKey accepts any non-empty secret.
func ValidateMasterPassword(password string) error {
	var errs []error

	if utf8.RuneCountInString(password) < MinMasterPasswordLength {
		errs = append(errs, ErrPasswordTooShort)
	}

	c := classify(password)
	if !c.upper {
		errs = append(errs, ErrPasswordNoUpper)
	}
	if !c.lower {
		errs = append(errs, ErrPasswordNoLower)
	}
	if !c.digit {
		errs = append(errs, ErrPasswordNoDigit)
	}

	return errors.Join(errs...)
}

// PasswordStrength scores password from 0 to 100 by length and character variety.
func PasswordStrength(password string) int {
	n := utf8.RuneCountInString(password)
	strength := 0

	if n >= 8 {
		strength += 20
	}
	if n >= 12 {
		strength += 20
	}
	if n >= 16 {
		strength += 10
	}

	c := classify(password)
	if c.lower {
		strength += 10
	}
	if c.upper {
		strength += 10
	}
	if c.digit {
		strength += 10
	}
	if c.other {
		strength += 20
	}

	return min(strength, 100)
}

type charClasses struct {
	upper, lower, digit, other bool
}

// classify uses ASCII classes only, matching the policy's A-Z / a-z / 0-9 rules.
func classify(s string) charClasses {
	var c charClasses
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z':
			c.upper = true
		case r >= 'a' && r <= 'z':
			c.lower = true
		case r >= '0' && r <= '9':
			c.digit = true
		default:
			c.other = true
		}
	}
	return c
}
