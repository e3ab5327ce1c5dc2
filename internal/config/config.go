package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/wolfman30/twilify/internal/phone"
	"github.com/wolfman30/twilify/pkg/logging"
)

// Config holds the settings needed to reconcile the directory against the
// telephony provider. JSON names match files written by earlier releases.
type Config struct {
	OktaToken             string `koanf:"oktaToken" json:"oktaToken" validate:"required"`
	OktaOrgURL            string `koanf:"oktaOrgUrl" json:"oktaOrgUrl" validate:"required"`
	TwilioAccountSID      string `koanf:"twilioAccountSid" json:"twilioAccountSid" validate:"required"`
	TwilioAuthToken       string `koanf:"twilioAuthToken" json:"twilioAuthToken" validate:"required"`
	Prefix                string `koanf:"prefix" json:"prefix" validate:"required"`
	TwilioFunctionBaseURL string `koanf:"twilioFunctionBaseUrl" json:"twilioFunctionBaseUrl" validate:"required"`

	// Region is optional; empty means the phone package default.
	Region string `koanf:"region" json:"region,omitempty"`
}

// Setting keys as stored in the config file.
const (
	KeyOktaToken             = "oktaToken"
	KeyOktaOrgURL            = "oktaOrgUrl"
	KeyTwilioAccountSID      = "twilioAccountSid"
	KeyTwilioAuthToken       = "twilioAuthToken"
	KeyPrefix                = "prefix"
	KeyTwilioFunctionBaseURL = "twilioFunctionBaseUrl"
	KeyRegion                = "region"
)

// Param describes one interactively prompted setting.
type Param struct {
	Name    string
	Message string
	Secret  bool
}

// Params lists the required settings in prompt order.
var Params = []Param{
	{Name: KeyOktaToken, Message: "Please enter your Okta SSWS token", Secret: true},
	{Name: KeyOktaOrgURL, Message: "Please enter your Okta Org URL"},
	{Name: KeyTwilioAccountSID, Message: "Please enter your Twilio Account SID"},
	{Name: KeyTwilioAuthToken, Message: "Please enter your Twilio Auth Token", Secret: true},
	{Name: KeyPrefix, Message: "Please enter your company's phone number prefix (area code)"},
	{Name: KeyTwilioFunctionBaseURL, Message: "Please enter your Twilio Functions base URL. This should be something like https://toolbox-bobcat-xxxx.twil.io"},
}

var (
	// ErrNotFound reports a missing config file.
	ErrNotFound = errors.New("config: file not found")
	// ErrMissingConfig reports that no configuration was available at all.
	ErrMissingConfig = errors.New("config: no configuration")
	// ErrMissingFields reports required settings that are absent or empty.
	ErrMissingFields = errors.New("config: required parameters missing")
	// ErrUnknownRegion reports a region without a calling code.
	ErrUnknownRegion = errors.New("config: unknown region")
)

// Error is returned for unreadable, unparsable or incomplete configuration.
type Error struct {
	Op      string
	Path    string
	Missing []string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("config: ")
	b.WriteString(e.Op)
	if e.Path != "" {
		b.WriteString(" ")
		b.WriteString(e.Path)
	}
	if len(e.Missing) > 0 {
		fmt.Fprintf(&b, ": missing %s", strings.Join(e.Missing, ", "))
	} else if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// DefaultPath returns ~/.config/twilify/config.json.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: resolve home directory: %w", err)
	}
	return filepath.Join(home, ".config", "twilify", "config.json"), nil
}

// Get returns the setting stored under a file key.
func (c *Config) Get(key string) string {
	switch key {
	case KeyOktaToken:
		return c.OktaToken
	case KeyOktaOrgURL:
		return c.OktaOrgURL
	case KeyTwilioAccountSID:
		return c.TwilioAccountSID
	case KeyTwilioAuthToken:
		return c.TwilioAuthToken
	case KeyPrefix:
		return c.Prefix
	case KeyTwilioFunctionBaseURL:
		return c.TwilioFunctionBaseURL
	case KeyRegion:
		return c.Region
	}
	return ""
}

// Set stores value under a file key. Unknown keys are ignored.
func (c *Config) Set(key, value string) {
	switch key {
	case KeyOktaToken:
		c.OktaToken = value
	case KeyOktaOrgURL:
		c.OktaOrgURL = value
	case KeyTwilioAccountSID:
		c.TwilioAccountSID = value
	case KeyTwilioAuthToken:
		c.TwilioAuthToken = value
	case KeyPrefix:
		c.Prefix = value
	case KeyTwilioFunctionBaseURL:
		c.TwilioFunctionBaseURL = value
	case KeyRegion:
		c.Region = value
	}
}

func (c *Config) trim() {
	c.OktaToken = strings.TrimSpace(c.OktaToken)
	c.OktaOrgURL = strings.TrimSpace(c.OktaOrgURL)
	c.TwilioAccountSID = strings.TrimSpace(c.TwilioAccountSID)
	c.TwilioAuthToken = strings.TrimSpace(c.TwilioAuthToken)
	c.Prefix = strings.TrimSpace(c.Prefix)
	c.TwilioFunctionBaseURL = strings.TrimSpace(c.TwilioFunctionBaseURL)
	c.Region = strings.TrimSpace(c.Region)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate reports whether cfg can drive a reconciliation run. Every missing
// required setting is logged before the error is returned.
func Validate(cfg *Config, logger *logging.Logger) error {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg == nil {
		return &Error{Op: "validate", Err: ErrMissingConfig}
	}
	err := validate.Struct(cfg)
	if err == nil {
		if cfg.Region != "" && !phone.SupportedRegion(cfg.Region) {
			logger.Error(KeyRegion + " " + strconv.Quote(cfg.Region) + " is not a known region. Use an ISO 3166 code such as DE or US.")
			return &Error{Op: "validate", Err: fmt.Errorf("%w: %q", ErrUnknownRegion, cfg.Region)}
		}
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return &Error{Op: "validate", Err: err}
	}
	missing := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		missing = append(missing, fe.Field())
		logger.Error(fe.Field() + " is a required parameter. Use --help to learn more or --init to create a config file.")
	}
	return &Error{Op: "validate", Missing: missing, Err: ErrMissingFields}
}
