// Package telephony buys company numbers and wires them to the forwarding
// webhooks.
package telephony

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/twilify/internal/telephony/twilioclient"
	"github.com/wolfman30/twilify/pkg/logging"
)

var tracer = otel.Tracer("twilify.internal.telephony")

// Webhook paths appended to the configured function base URL.
const (
	VoiceForwardPath = "/call-forward"
	SMSForwardPath   = "/sms-forward"
)

// ErrNoNumbersAvailable reports an available-number search with no results.
var ErrNoNumbersAvailable = errors.New("telephony: no available phone numbers")

// ProvisioningError wraps failures while searching for or buying a number.
type ProvisioningError struct {
	Stage  string // search or create
	Prefix string
	Number string
	Err    error
}

func (e *ProvisioningError) Error() string {
	if errors.Is(e.Err, ErrNoNumbersAvailable) {
		return fmt.Sprintf("telephony: no available phone numbers in the (%s) area code", e.Prefix)
	}
	if e.Number != "" {
		return fmt.Sprintf("telephony: %s %s: %v", e.Stage, e.Number, e.Err)
	}
	return fmt.Sprintf("telephony: %s: %v", e.Stage, e.Err)
}

func (e *ProvisioningError) Unwrap() error {
	return e.Err
}

// NumberProvider is the subset of twilioclient.Client needed to buy numbers.
type NumberProvider interface {
	ListAvailableLocalNumbers(ctx context.Context, country string, filter twilioclient.AvailableNumberFilter) ([]twilioclient.AvailableNumber, error)
	CreateIncomingNumber(ctx context.Context, req twilioclient.IncomingNumberRequest) (*twilioclient.IncomingNumber, error)
}

// Options configures a Provisioner.
type Options struct {
	// Country is the ISO region searched for local numbers.
	Country string
	// Prefix is the configured area code, used in diagnostics.
	Prefix string
	// SearchPattern is the Contains filter derived from Prefix.
	SearchPattern  string
	WebhookBaseURL string
	Logger         *logging.Logger
}

// Provisioner purchases one number per call. It does not deduplicate:
// two calls buy two numbers. Calls are serialized so every search sees the
// numbers bought before it.
type Provisioner struct {
	mu       sync.Mutex
	provider NumberProvider
	country  string
	prefix   string
	pattern  string
	voiceURL string
	smsURL   string
	logger   *logging.Logger
}

// NewProvisioner builds a Provisioner on top of provider.
func NewProvisioner(provider NumberProvider, opts Options) *Provisioner {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}
	base := strings.TrimRight(strings.TrimSpace(opts.WebhookBaseURL), "/")
	return &Provisioner{
		provider: provider,
		country:  strings.ToUpper(strings.TrimSpace(opts.Country)),
		prefix:   opts.Prefix,
		pattern:  opts.SearchPattern,
		voiceURL: base + VoiceForwardPath,
		smsURL:   base + SMSForwardPath,
		logger:   logger,
	}
}

// PurchaseNumber buys the first available number matching the configured
// prefix and returns it. Any failure is a *ProvisioningError. Once the create
// request is sent it is not cancelled with ctx; the client timeout bounds it.
func (p *Provisioner) PurchaseNumber(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return "", &ProvisioningError{Stage: "search", Prefix: p.prefix, Err: err}
	}

	ctx, span := tracer.Start(ctx, "telephony.purchase_number")
	defer span.End()
	span.SetAttributes(
		attribute.String("twilify.country", p.country),
		attribute.String("twilify.search_pattern", p.pattern),
	)

	enabled := true
	candidates, err := p.provider.ListAvailableLocalNumbers(ctx, p.country, twilioclient.AvailableNumberFilter{
		Contains:     p.pattern,
		VoiceEnabled: &enabled,
		SMSEnabled:   &enabled,
	})
	if err != nil {
		perr := &ProvisioningError{Stage: "search", Prefix: p.prefix, Err: err}
		span.RecordError(perr)
		return "", perr
	}
	if len(candidates) == 0 {
		perr := &ProvisioningError{Stage: "search", Prefix: p.prefix, Err: ErrNoNumbersAvailable}
		span.RecordError(perr)
		return "", perr
	}

	number := candidates[0].PhoneNumber
	created, err := p.provider.CreateIncomingNumber(context.WithoutCancel(ctx), twilioclient.IncomingNumberRequest{
		PhoneNumber: number,
		VoiceURL:    p.voiceURL,
		SMSURL:      p.smsURL,
	})
	if err != nil {
		perr := &ProvisioningError{Stage: "create", Prefix: p.prefix, Number: number, Err: err}
		span.RecordError(perr)
		return "", perr
	}
	if created != nil && created.PhoneNumber != "" {
		number = created.PhoneNumber
	}
	span.SetAttributes(attribute.String("twilify.number", number))
	p.logger.Debug("twilio number provisioned", "number", number, "voice_url", p.voiceURL, "sms_url", p.smsURL)
	return number, nil
}
