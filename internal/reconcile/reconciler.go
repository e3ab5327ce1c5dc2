// Package reconcile walks the directory, fixes mobile number formatting and
// assigns company numbers to users who have none.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/wolfman30/twilify/internal/directory/oktaclient"
	"github.com/wolfman30/twilify/internal/observability/metrics"
	"github.com/wolfman30/twilify/internal/telephony"
	"github.com/wolfman30/twilify/pkg/logging"
)

var tracer = otel.Tracer("twilify.internal.reconcile")

const defaultConcurrency = 4

// Directory lists and updates user records.
type Directory interface {
	ListUsers(ctx context.Context, fn func(oktaclient.User) error) error
	UpdateUser(ctx context.Context, user oktaclient.User) (*oktaclient.User, error)
}

// Normalizer canonicalizes a phone number.
type Normalizer interface {
	Normalize(raw string) (string, error)
}

// Provisioner buys a company number.
type Provisioner interface {
	PurchaseNumber(ctx context.Context) (string, error)
}

// DirectoryError wraps a failure reported by the directory.
type DirectoryError struct {
	Op     string // list or update
	UserID string
	Err    error
}

func (e *DirectoryError) Error() string {
	if e.UserID != "" {
		return fmt.Sprintf("reconcile: directory %s %s: %v", e.Op, e.UserID, e.Err)
	}
	return fmt.Sprintf("reconcile: directory %s: %v", e.Op, e.Err)
}

func (e *DirectoryError) Unwrap() error {
	return e.Err
}

// Options tunes a Reconciler.
type Options struct {
	// Concurrency bounds how many users are processed at once.
	Concurrency int
	// DryRun logs planned changes without purchasing or updating.
	DryRun  bool
	Logger  *logging.Logger
	Metrics *metrics.ReconcileMetrics
}

// Reconciler drives one pass over the directory.
type Reconciler struct {
	directory   Directory
	normalizer  Normalizer
	provisioner Provisioner
	concurrency int
	dryRun      bool
	logger      *logging.Logger
	metrics     *metrics.ReconcileMetrics

	mu      sync.Mutex
	summary Summary
}

// New wires a Reconciler.
func New(directory Directory, normalizer Normalizer, provisioner Provisioner, opts Options) *Reconciler {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &Reconciler{
		directory:   directory,
		normalizer:  normalizer,
		provisioner: provisioner,
		concurrency: concurrency,
		dryRun:      opts.DryRun,
		logger:      logger,
		metrics:     opts.Metrics,
	}
}

// Run processes every directory user and waits for all of them to finish.
// Per-user normalization and update failures are recorded in the summary and
// do not stop the run. A provisioning failure or a failed listing stops the
// run and is returned together with the partial summary.
func (r *Reconciler) Run(ctx context.Context) (Summary, error) {
	ctx, span := tracer.Start(ctx, "reconcile.run")
	defer span.End()
	start := time.Now()

	r.mu.Lock()
	r.summary = Summary{DryRun: r.dryRun}
	r.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	listErr := r.directory.ListUsers(gctx, func(u oktaclient.User) error {
		if err := gctx.Err(); err != nil {
			return err
		}
		user := u.Clone()
		g.Go(func() error {
			return r.reconcileUser(gctx, user)
		})
		return nil
	})
	fatal := g.Wait()

	summary := r.snapshot()
	summary.Duration = time.Since(start)
	span.SetAttributes(
		attribute.Int("twilify.users_scanned", summary.Scanned),
		attribute.Int("twilify.users_failed", summary.Failed),
	)

	var err error
	switch {
	case fatal != nil:
		err = fatal
	case listErr != nil && ctx.Err() != nil:
		err = ctx.Err()
	case listErr != nil:
		err = &DirectoryError{Op: "list", Err: listErr}
	}
	if err != nil {
		span.RecordError(err)
	}
	r.metrics.ObserveRun(summary.Duration, time.Now(), err == nil)
	return summary, err
}

func (r *Reconciler) reconcileUser(ctx context.Context, user oktaclient.User) error {
	// Users queued before a fatal error are dropped, not counted.
	if ctx.Err() != nil {
		return nil
	}
	ctx, span := tracer.Start(ctx, "reconcile.user", trace.WithAttributes(attribute.String("twilify.user_id", user.ID)))
	defer span.End()

	r.update(func(s *Summary) { s.Scanned++ })
	logger := r.logger.With("user_id", user.ID, "user", user.DisplayName())

	mobile := user.MobilePhone()
	if mobile == "" {
		r.update(func(s *Summary) { s.Skipped++ })
		r.metrics.ObserveUser(metrics.OutcomeSkipped)
		logger.Debug("no mobile phone, skipping")
		return nil
	}

	normalized, err := r.normalizer.Normalize(mobile)
	if err != nil {
		r.fail(user, err)
		logger.Warn("could not normalize mobile phone", "mobile_phone", mobile, "error", err)
		span.RecordError(err)
		return nil
	}

	var changes []string
	if normalized != mobile {
		user.Profile.Set(oktaclient.ProfileMobilePhone, normalized)
		changes = append(changes, metrics.ChangeNormalized)
	}

	var purchased string
	if user.PrimaryPhone() == "" {
		if r.dryRun {
			changes = append(changes, metrics.ChangeProvisioned)
		} else {
			purchased, err = r.provisioner.PurchaseNumber(ctx)
			if err != nil {
				var perr *telephony.ProvisioningError
				if errors.As(err, &perr) && perr.Stage == "create" && perr.Number != "" {
					logger.Error("company number may have been purchased without being assigned", "possibly_purchased", perr.Number, "error", err)
				}
				if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
					// The run is already stopping; this user was never started.
					return nil
				}
				r.fail(user, err)
				logger.Error("could not purchase a company number", "error", err)
				span.RecordError(err)
				return err
			}
			user.Profile.Set(oktaclient.ProfilePrimaryPhone, purchased)
			changes = append(changes, metrics.ChangeProvisioned)
		}
	}

	if len(changes) == 0 {
		r.update(func(s *Summary) { s.Unchanged++ })
		r.metrics.ObserveUser(metrics.OutcomeUnchanged)
		return nil
	}

	if r.dryRun {
		for _, change := range changes {
			switch change {
			case metrics.ChangeNormalized:
				logger.Info("dry run: would clean up the formatting of a phone number", "from", mobile, "to", normalized)
			case metrics.ChangeProvisioned:
				logger.Info("dry run: would purchase a new company number")
			}
		}
		r.recordChanges(changes)
		return nil
	}

	updateCtx := ctx
	if purchased != "" {
		// A bought number must reach the directory even if the run is stopping.
		updateCtx = context.WithoutCancel(ctx)
	}
	if _, err := r.directory.UpdateUser(updateCtx, user); err != nil {
		derr := &DirectoryError{Op: "update", UserID: user.ID, Err: err}
		r.fail(user, derr)
		attrs := []any{"error", derr}
		if purchased != "" {
			attrs = append(attrs, "unassigned_number", purchased)
		}
		logger.Error("could not update directory user", attrs...)
		span.RecordError(derr)
		return nil
	}

	for _, change := range changes {
		switch change {
		case metrics.ChangeNormalized:
			logger.Info(fmt.Sprintf("Cleaned up the formatting of a phone number (%s) for %s.", normalized, user.DisplayName()))
		case metrics.ChangeProvisioned:
			logger.Info(fmt.Sprintf("Purchased a new company number (%s) for %s.", purchased, user.DisplayName()))
		}
	}
	r.recordChanges(changes)
	return nil
}

func (r *Reconciler) recordChanges(changes []string) {
	r.update(func(s *Summary) {
		s.Updated++
		for _, change := range changes {
			switch change {
			case metrics.ChangeNormalized:
				s.Normalized++
			case metrics.ChangeProvisioned:
				s.Provisioned++
			}
		}
	})
	r.metrics.ObserveUser(metrics.OutcomeUpdated)
	for _, change := range changes {
		r.metrics.ObserveChange(change)
	}
}

func (r *Reconciler) fail(user oktaclient.User, err error) {
	r.update(func(s *Summary) {
		s.Failed++
		s.Failures = append(s.Failures, Failure{UserID: user.ID, Login: user.Login(), Err: err})
	})
	r.metrics.ObserveUser(metrics.OutcomeFailed)
}

func (r *Reconciler) update(fn func(*Summary)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(&r.summary)
}

func (r *Reconciler) snapshot() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.summary
	s.Failures = append([]Failure(nil), r.summary.Failures...)
	return s
}
