package oktaclient

import (
	"fmt"
	"strings"
)

// Standard Okta profile attribute names.
const (
	ProfileLogin        = "login"
	ProfileFirstName    = "firstName"
	ProfileLastName     = "lastName"
	ProfileMobilePhone  = "mobilePhone"
	ProfilePrimaryPhone = "primaryPhone"
)

// User is an Okta user record. Only the fields the reconciler needs are typed;
// the profile keeps every attribute so updates do not drop custom ones.
type User struct {
	ID      string  `json:"id"`
	Status  string  `json:"status,omitempty"`
	Profile Profile `json:"profile"`
}

// Profile is the user's attribute map as returned by Okta.
type Profile map[string]any

// String returns the attribute as a string, or "" when absent or null.
func (p Profile) String(key string) string {
	v, ok := p[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Set assigns a string attribute.
func (p Profile) Set(key, value string) {
	p[key] = value
}

// Login returns the user's login.
func (u User) Login() string { return u.Profile.String(ProfileLogin) }

// MobilePhone returns the user-supplied mobile number.
func (u User) MobilePhone() string { return u.Profile.String(ProfileMobilePhone) }

// PrimaryPhone returns the company phone number.
func (u User) PrimaryPhone() string { return u.Profile.String(ProfilePrimaryPhone) }

// DisplayName returns "First Last", falling back to the login.
func (u User) DisplayName() string {
	name := strings.TrimSpace(u.Profile.String(ProfileFirstName) + " " + u.Profile.String(ProfileLastName))
	if name == "" {
		return u.Login()
	}
	return name
}

// Clone returns a copy whose profile can be modified independently.
func (u User) Clone() User {
	profile := make(Profile, len(u.Profile))
	for k, v := range u.Profile {
		profile[k] = v
	}
	u.Profile = profile
	return u
}
