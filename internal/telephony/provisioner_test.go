package telephony

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/twilify/internal/telephony/twilioclient"
	"github.com/wolfman30/twilify/pkg/logging"
)

type fakeProvider struct {
	mu        sync.Mutex
	available []twilioclient.AvailableNumber
	searchErr error
	createErr error
	searches  []searchCall
	created   []twilioclient.IncomingNumberRequest
}

type searchCall struct {
	country string
	filter  twilioclient.AvailableNumberFilter
}

func (f *fakeProvider) ListAvailableLocalNumbers(_ context.Context, country string, filter twilioclient.AvailableNumberFilter) ([]twilioclient.AvailableNumber, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searches = append(f.searches, searchCall{country: country, filter: filter})
	return f.available, f.searchErr
}

func (f *fakeProvider) CreateIncomingNumber(_ context.Context, req twilioclient.IncomingNumberRequest) (*twilioclient.IncomingNumber, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, req)
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &twilioclient.IncomingNumber{SID: "PN1", PhoneNumber: req.PhoneNumber}, nil
}

func newTestProvisioner(provider NumberProvider) *Provisioner {
	return NewProvisioner(provider, Options{
		Country:        "de",
		Prefix:         "089",
		SearchPattern:  "+4989",
		WebhookBaseURL: "https://toolbox-bobcat-1234.twil.io/",
		Logger:         logging.Discard(),
	})
}

func TestPurchaseNumberBuysFirstCandidate(t *testing.T) {
	provider := &fakeProvider{available: []twilioclient.AvailableNumber{
		{PhoneNumber: "+498912345670"},
		{PhoneNumber: "+498912345671"},
	}}
	p := newTestProvisioner(provider)

	number, err := p.PurchaseNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "+498912345670", number)

	require.Len(t, provider.searches, 1)
	assert.Equal(t, "DE", provider.searches[0].country)
	assert.Equal(t, "+4989", provider.searches[0].filter.Contains)

	require.Len(t, provider.created, 1)
	assert.Equal(t, twilioclient.IncomingNumberRequest{
		PhoneNumber: "+498912345670",
		VoiceURL:    "https://toolbox-bobcat-1234.twil.io/call-forward",
		SMSURL:      "https://toolbox-bobcat-1234.twil.io/sms-forward",
	}, provider.created[0])
}

func TestPurchaseNumberNoCandidates(t *testing.T) {
	provider := &fakeProvider{}
	p := newTestProvisioner(provider)

	_, err := p.PurchaseNumber(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoNumbersAvailable)
	assert.Equal(t, "telephony: no available phone numbers in the (089) area code", err.Error())
	assert.Empty(t, provider.created, "no create call may follow an empty search")

	var perr *ProvisioningError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "search", perr.Stage)
}

func TestPurchaseNumberSearchFailure(t *testing.T) {
	boom := errors.New("twilioclient: status 401 code 20003: Authenticate")
	provider := &fakeProvider{searchErr: boom}
	p := newTestProvisioner(provider)

	_, err := p.PurchaseNumber(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, provider.created)
}

func TestPurchaseNumberCreateFailure(t *testing.T) {
	boom := errors.New("twilioclient: status 400 code 21422: PhoneNumber is not available")
	provider := &fakeProvider{
		available: []twilioclient.AvailableNumber{{PhoneNumber: "+498912345670"}},
		createErr: boom,
	}
	p := newTestProvisioner(provider)

	_, err := p.PurchaseNumber(context.Background())
	require.Error(t, err)

	var perr *ProvisioningError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "create", perr.Stage)
	assert.Equal(t, "+498912345670", perr.Number)
	assert.ErrorIs(t, err, boom)
}

func TestPurchaseNumberTwiceBuysTwice(t *testing.T) {
	provider := &fakeProvider{available: []twilioclient.AvailableNumber{{PhoneNumber: "+498912345670"}}}
	p := newTestProvisioner(provider)

	_, err := p.PurchaseNumber(context.Background())
	require.NoError(t, err)
	_, err = p.PurchaseNumber(context.Background())
	require.NoError(t, err)
	assert.Len(t, provider.created, 2)
}

func TestWebhookURLsTrimTrailingSlash(t *testing.T) {
	provider := &fakeProvider{available: []twilioclient.AvailableNumber{{PhoneNumber: "+498912345670"}}}
	p := NewProvisioner(provider, Options{Country: "DE", WebhookBaseURL: " https://fn.twil.io// "})

	_, err := p.PurchaseNumber(context.Background())
	require.NoError(t, err)
	require.Len(t, provider.created, 1)
	assert.Equal(t, "https://fn.twil.io/call-forward", provider.created[0].VoiceURL)
	assert.Equal(t, "https://fn.twil.io/sms-forward", provider.created[0].SMSURL)
}

func TestPurchaseNumberAsksForVoiceAndSMS(t *testing.T) {
	provider := &fakeProvider{available: []twilioclient.AvailableNumber{{PhoneNumber: "+498912345670"}}}
	_, err := newTestProvisioner(provider).PurchaseNumber(context.Background())
	require.NoError(t, err)

	require.Len(t, provider.searches, 1)
	filter := provider.searches[0].filter
	require.NotNil(t, filter.VoiceEnabled)
	require.NotNil(t, filter.SMSEnabled)
	assert.True(t, *filter.VoiceEnabled)
	assert.True(t, *filter.SMSEnabled)
}

// inventory behaves like Twilio: bought numbers leave the search results and
// buying a number twice is rejected.
type inventory struct {
	mu    sync.Mutex
	free  []string
	owned map[string]bool
}

func (inv *inventory) ListAvailableLocalNumbers(context.Context, string, twilioclient.AvailableNumberFilter) ([]twilioclient.AvailableNumber, error) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	out := make([]twilioclient.AvailableNumber, 0, len(inv.free))
	for _, n := range inv.free {
		out = append(out, twilioclient.AvailableNumber{PhoneNumber: n})
	}
	return out, nil
}

func (inv *inventory) CreateIncomingNumber(_ context.Context, req twilioclient.IncomingNumberRequest) (*twilioclient.IncomingNumber, error) {
	// Widen the window between search and create.
	time.Sleep(5 * time.Millisecond)
	inv.mu.Lock()
	defer inv.mu.Unlock()
	if inv.owned[req.PhoneNumber] {
		return nil, &twilioclient.APIError{StatusCode: 400, Code: 21422, Message: "PhoneNumber requested is not available"}
	}
	inv.owned[req.PhoneNumber] = true
	for i, n := range inv.free {
		if n == req.PhoneNumber {
			inv.free = append(inv.free[:i], inv.free[i+1:]...)
			break
		}
	}
	return &twilioclient.IncomingNumber{PhoneNumber: req.PhoneNumber}, nil
}

func TestPurchaseNumberConcurrentCallersGetDistinctNumbers(t *testing.T) {
	inv := &inventory{
		free:  []string{"+498911111111", "+498922222222", "+498933333333", "+498944444444"},
		owned: map[string]bool{},
	}
	p := newTestProvisioner(inv)

	var wg sync.WaitGroup
	results := make([]string, 3)
	errs := make([]error, 3)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = p.PurchaseNumber(context.Background())
		}(i)
	}
	wg.Wait()

	seen := map[string]bool{}
	for i := range results {
		require.NoError(t, errs[i])
		assert.False(t, seen[results[i]], "number %s handed out twice", results[i])
		seen[results[i]] = true
	}
	assert.Len(t, inv.free, 1)
}

type cancellingProvider struct {
	fakeProvider
	cancel    context.CancelFunc
	createErr error
}

func (c *cancellingProvider) ListAvailableLocalNumbers(ctx context.Context, country string, filter twilioclient.AvailableNumberFilter) ([]twilioclient.AvailableNumber, error) {
	numbers, err := c.fakeProvider.ListAvailableLocalNumbers(ctx, country, filter)
	c.cancel()
	return numbers, err
}

func (c *cancellingProvider) CreateIncomingNumber(ctx context.Context, req twilioclient.IncomingNumberRequest) (*twilioclient.IncomingNumber, error) {
	c.createErr = ctx.Err()
	return c.fakeProvider.CreateIncomingNumber(ctx, req)
}

func TestPurchaseNumberCreateSurvivesCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	provider := &cancellingProvider{
		fakeProvider: fakeProvider{available: []twilioclient.AvailableNumber{{PhoneNumber: "+498912345670"}}},
		cancel:       cancel,
	}

	number, err := newTestProvisioner(provider).PurchaseNumber(ctx)
	require.NoError(t, err)
	assert.Equal(t, "+498912345670", number)
	assert.NoError(t, provider.createErr, "create must not inherit the run's cancellation")
}

func TestPurchaseNumberCancelledBeforeSearch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	provider := &fakeProvider{available: []twilioclient.AvailableNumber{{PhoneNumber: "+498912345670"}}}

	_, err := newTestProvisioner(provider).PurchaseNumber(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, provider.searches)
	assert.Empty(t, provider.created)
}
