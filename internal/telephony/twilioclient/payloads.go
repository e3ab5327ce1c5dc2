package twilioclient

import (
	"errors"
	"net/url"
	"strconv"
	"strings"
)

// AvailableNumberFilter narrows an available-number search.
type AvailableNumberFilter struct {
	Contains     string
	SMSEnabled   *bool
	VoiceEnabled *bool
}

func (f AvailableNumberFilter) values() url.Values {
	q := url.Values{}
	if v := strings.TrimSpace(f.Contains); v != "" {
		q.Set("Contains", v)
	}
	if f.SMSEnabled != nil {
		q.Set("SmsEnabled", strconv.FormatBool(*f.SMSEnabled))
	}
	if f.VoiceEnabled != nil {
		q.Set("VoiceEnabled", strconv.FormatBool(*f.VoiceEnabled))
	}
	return q
}

// Capabilities lists the channels a number supports.
type Capabilities struct {
	Voice bool `json:"voice"`
	SMS   bool `json:"SMS"`
	MMS   bool `json:"MMS"`
}

// AvailableNumber is a purchasable number returned by a search.
type AvailableNumber struct {
	PhoneNumber  string       `json:"phone_number"`
	FriendlyName string       `json:"friendly_name"`
	Locality     string       `json:"locality"`
	Region       string       `json:"region"`
	PostalCode   string       `json:"postal_code"`
	ISOCountry   string       `json:"iso_country"`
	Capabilities Capabilities `json:"capabilities"`
}

// IncomingNumberRequest purchases PhoneNumber and points its webhooks at the
// given URLs.
type IncomingNumberRequest struct {
	PhoneNumber string
	VoiceURL    string
	SMSURL      string
}

func (r IncomingNumberRequest) validate() error {
	if strings.TrimSpace(r.PhoneNumber) == "" {
		return errors.New("twilioclient: phone number required")
	}
	return nil
}

func (r IncomingNumberRequest) values() url.Values {
	form := url.Values{}
	form.Set("PhoneNumber", r.PhoneNumber)
	if r.VoiceURL != "" {
		form.Set("VoiceUrl", r.VoiceURL)
	}
	if r.SMSURL != "" {
		form.Set("SmsUrl", r.SMSURL)
	}
	return form
}

// IncomingNumber is a number owned by the account.
type IncomingNumber struct {
	SID          string `json:"sid"`
	AccountSID   string `json:"account_sid"`
	PhoneNumber  string `json:"phone_number"`
	FriendlyName string `json:"friendly_name"`
	VoiceURL     string `json:"voice_url"`
	SMSURL       string `json:"sms_url"`
}
