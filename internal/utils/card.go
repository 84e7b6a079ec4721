package utils

import (
	"crypto/rand"
	"fmt"
	"strings"
)

// IBAN layout used for generated cards: country code, two check digits and a
// numeric account part.
const (
	IBANCountryCode   = "CP"
	IBANAccountDigits = 18
)

// GenerateIBAN generates an IBAN-like card identifier with the given
// two-letter country code, ISO 13616 mod-97 check digits and a random numeric
// account part of the requested length.
func GenerateIBAN(countryCode string, digits int) (string, error) {
	if len(countryCode) != 2 {
		return "", fmt.Errorf("invalid country code: %q", countryCode)
	}
	if digits < 10 || digits > 30 {
		return "", fmt.Errorf("invalid account part length: %d", digits)
	}

	// Generate random digits
	raw := make([]byte, digits)
	_, err := rand.Read(raw)
	if err != nil {
		return "", fmt.Errorf("failed to generate random digits: %w", err)
	}

	var builder strings.Builder
	for _, b := range raw {
		builder.WriteByte(b%10 + '0')
	}
	account := builder.String()

	check, err := ibanCheckDigits(countryCode, account)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%s%02d%s", countryCode, check, account), nil
}

// ValidateIBAN reports whether the identifier carries correct check digits.
func ValidateIBAN(iban string) bool {
	if len(iban) < 5 {
		return false
	}
	rem, err := ibanMod97(iban[4:] + iban[:4])
	return err == nil && rem == 1
}

// ibanCheckDigits computes the two check digits so the full identifier
// satisfies mod-97 == 1 after rearrangement.
func ibanCheckDigits(countryCode, account string) (int, error) {
	rem, err := ibanMod97(account + countryCode + "00")
	if err != nil {
		return 0, err
	}
	return 98 - rem, nil
}

// ibanMod97 computes the ISO 13616 remainder: letters expand to two-digit
// values (A=10 .. Z=35), then the whole number is reduced mod 97 digit by
// digit to avoid big-integer arithmetic.
func ibanMod97(s string) (int, error) {
	rem := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
			rem = (rem*10 + int(c-'0')) % 97
		case c >= 'A' && c <= 'Z':
			v := int(c-'A') + 10
			rem = (rem*100 + v) % 97
		default:
			return 0, fmt.Errorf("invalid iban character: %q", c)
		}
	}
	return rem, nil
}
