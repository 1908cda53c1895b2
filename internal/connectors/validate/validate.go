// Package validate holds cheap local format checks for source identifiers.
// They reject obviously malformed input before it costs a rate-limit slot.
package validate

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	vatBody = regexp.MustCompile(`^[0-9A-Z+*]{2,13}$`)
	country = regexp.MustCompile(`^[A-Z]{2}$`)
	leiForm = regexp.MustCompile(`^[0-9A-Z]{18}[0-9]{2}$`)
)

// VATNumber accepts "CCxxxx" where CC is an EU country prefix (EL for Greece,
// XI for Northern Ireland) followed by 2-13 alphanumerics. Spaces, dots and
// dashes are ignored.
func VATNumber(v string) error {
	v = CleanVAT(v)
	if len(v) < 4 {
		return errors.New("vat number too short")
	}
	cc, body := v[:2], v[2:]
	if !country.MatchString(cc) {
		return fmt.Errorf("vat number must start with a country prefix, got %q", cc)
	}
	if !vatBody.MatchString(body) {
		return fmt.Errorf("vat number body %q must be 2-13 alphanumerics", body)
	}
	return nil
}

// CleanVAT upper-cases and strips separators.
func CleanVAT(v string) string {
	r := strings.NewReplacer(" ", "", ".", "", "-", "")
	return strings.ToUpper(r.Replace(strings.TrimSpace(v)))
}

// VATWithCountry prefixes a bare VAT number with the subject's country code
// unless it already carries one. Greece uses EL in VIES.
func VATWithCountry(vat, countryCode string) string {
	vat = CleanVAT(vat)
	cc := strings.ToUpper(strings.TrimSpace(countryCode))
	if cc == "GR" {
		cc = "EL"
	}
	if len(vat) >= 2 && country.MatchString(vat[:2]) {
		return vat
	}
	return cc + vat
}

// LEI checks the ISO 17442 shape and its ISO 7064 mod 97-10 check digits.
func LEI(v string) error {
	v = strings.ToUpper(strings.TrimSpace(v))
	if len(v) != 20 {
		return fmt.Errorf("lei must be 20 characters, got %d", len(v))
	}
	if !leiForm.MatchString(v) {
		return errors.New("lei must be 18 alphanumerics followed by 2 check digits")
	}
	if mod97(v) != 1 {
		return errors.New("lei check digits do not verify")
	}
	return nil
}

// mod97 converts letters to two-digit numbers (A=10..Z=35) and reduces the
// resulting decimal string modulo 97 digit by digit.
func mod97(s string) int {
	rem := 0
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
			rem = (rem*10 + int(c-'0')) % 97
		case c >= 'A' && c <= 'Z':
			n := int(c-'A') + 10
			rem = (rem*100 + n) % 97
		}
	}
	return rem
}
