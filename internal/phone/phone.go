// Package phone turns user-entered phone numbers into canonical
// international form.
package phone

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// DefaultRegion is assumed for numbers written without a country code.
const DefaultRegion = "DE"

// ErrInvalidNumber reports input that parses but is not a dialable number for
// the assumed region.
var ErrInvalidNumber = errors.New("phone: not a valid number")

// Error describes a number that could not be normalized.
type Error struct {
	Input  string
	Region string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("phone: normalize %q (region %s): %v", e.Input, e.Region, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Normalizer parses numbers relative to a fixed default region.
type Normalizer struct {
	region string
}

// NewNormalizer returns a Normalizer for region, falling back to DefaultRegion.
func NewNormalizer(region string) *Normalizer {
	region = strings.ToUpper(strings.TrimSpace(region))
	if region == "" {
		region = DefaultRegion
	}
	return &Normalizer{region: region}
}

// SupportedRegion reports whether region is a two-letter code with a known
// calling code. Case and surrounding spaces are ignored.
func SupportedRegion(region string) bool {
	region = strings.ToUpper(strings.TrimSpace(region))
	return phonenumbers.GetCountryCodeForRegion(region) != 0
}

// Region returns the ISO 3166 region used for parsing.
func (n *Normalizer) Region() string {
	return n.region
}

// Normalize strips spaces from raw, parses it and renders it as +<cc><number>
// without separators. The result is stable under repeated normalization.
func (n *Normalizer) Normalize(raw string) (string, error) {
	cleaned := strings.ReplaceAll(raw, " ", "")
	if cleaned == "" {
		return "", &Error{Input: raw, Region: n.region, Err: ErrInvalidNumber}
	}
	num, err := phonenumbers.Parse(cleaned, n.region)
	if err != nil {
		return "", &Error{Input: raw, Region: n.region, Err: err}
	}
	if !phonenumbers.IsValidNumber(num) {
		return "", &Error{Input: raw, Region: n.region, Err: ErrInvalidNumber}
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}

// SearchPattern converts a configured area-code prefix into an international
// pattern usable as a number search filter. "+4989" is kept, "089" and "89"
// become "+4989" in region DE.
func (n *Normalizer) SearchPattern(prefix string) string {
	p := strings.ReplaceAll(strings.TrimSpace(prefix), " ", "")
	switch {
	case p == "":
		return ""
	case strings.HasPrefix(p, "+"):
		return p
	case strings.HasPrefix(p, "00"):
		return "+" + strings.TrimPrefix(p, "00")
	}
	code := phonenumbers.GetCountryCodeForRegion(n.region)
	if code == 0 {
		return p
	}
	return fmt.Sprintf("+%d%s", code, strings.TrimPrefix(p, "0"))
}
