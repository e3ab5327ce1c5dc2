package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/wolfman30/twilify/internal/config"
	"github.com/wolfman30/twilify/internal/directory/oktaclient"
	"github.com/wolfman30/twilify/internal/observability/metrics"
	"github.com/wolfman30/twilify/internal/phone"
	"github.com/wolfman30/twilify/internal/reconcile"
	"github.com/wolfman30/twilify/internal/telephony"
	"github.com/wolfman30/twilify/internal/telephony/twilioclient"
	"github.com/wolfman30/twilify/pkg/logging"
)

const (
	oktaRequestsPerSecond   = 10
	twilioRequestsPerSecond = 5
	httpTimeout             = 10 * time.Second
)

func (a *App) run(ctx context.Context, opts *options) error {
	logger := logging.NewWithOptions(logging.Options{
		Level:  opts.logLevel,
		Format: opts.logFormat,
		Writer: a.stderr(),
	}).With("run_id", uuid.NewString())

	path, err := a.configPath(opts)
	if err != nil {
		return err
	}
	store := config.NewStore(path)

	cfg, err := a.loadConfig(opts, store, logger)
	if err != nil {
		return err
	}
	if err := config.Validate(cfg, logger); err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	reconciler, err := a.buildReconciler(cfg, opts, logger, metrics.NewReconcileMetrics(registry))
	if err != nil {
		return err
	}

	logger.Info("reconciling directory", "org_url", cfg.OktaOrgURL, "prefix", cfg.Prefix, "dry_run", opts.dryRun)
	summary, runErr := reconciler.Run(ctx)
	if runErr != nil {
		logger.Error("reconciliation stopped", append(summary.LogAttrs(), "error", runErr)...)
	} else {
		logger.Info("reconciliation finished", summary.LogAttrs()...)
	}
	for _, f := range summary.Failures {
		logger.Warn("user not reconciled", "user_id", f.UserID, "login", f.Login, "error", f.Err)
	}

	if opts.metricsFile != "" {
		if err := metrics.WriteTextfile(opts.metricsFile, registry); err != nil {
			logger.Error("failed to write metrics file", "path", opts.metricsFile, "error", err)
			if runErr == nil {
				return fmt.Errorf("write metrics file: %w", err)
			}
		}
	}
	return runErr
}

// loadConfig runs initialization when asked, then loads the layered
// configuration. A missing file yields a nil config so validation reports it.
func (a *App) loadConfig(opts *options, store *config.Store, logger *logging.Logger) (*config.Config, error) {
	if opts.init {
		if _, err := store.Initialize(a.Prompter); err != nil {
			return nil, err
		}
		logger.Info("config file written", "path", store.Path())
	}
	if err := config.LoadDotEnv(a.DotEnvPaths...); err != nil {
		return nil, err
	}
	cfg, err := store.Load(opts.overrideValues())
	if errors.Is(err, config.ErrNotFound) {
		logger.Error("no config file found. Use --init to create one.", "path", store.Path())
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func (a *App) buildReconciler(cfg *config.Config, opts *options, logger *logging.Logger, m *metrics.ReconcileMetrics) (*reconcile.Reconciler, error) {
	directory, err := oktaclient.New(oktaclient.Config{
		OrgURL:            cfg.OktaOrgURL,
		Token:             cfg.OktaToken,
		Timeout:           httpTimeout,
		Logger:            logger.Logger,
		RequestsPerSecond: oktaRequestsPerSecond,
	})
	if err != nil {
		return nil, &config.Error{Op: "validate", Err: err}
	}
	twilio, err := twilioclient.New(twilioclient.Config{
		BaseURL:    a.TwilioBaseURL,
		AccountSID: cfg.TwilioAccountSID,
		AuthToken:  cfg.TwilioAuthToken,
		Timeout:    httpTimeout,
		Logger:     logger.Logger,
		// Purchases are serialized; this caps search+create bursts.
		RequestsPerSecond: twilioRequestsPerSecond,
	})
	if err != nil {
		return nil, &config.Error{Op: "validate", Err: err}
	}

	normalizer := phone.NewNormalizer(cfg.Region)
	provisioner := telephony.NewProvisioner(twilio, telephony.Options{
		Country:        normalizer.Region(),
		Prefix:         cfg.Prefix,
		SearchPattern:  normalizer.SearchPattern(cfg.Prefix),
		WebhookBaseURL: cfg.TwilioFunctionBaseURL,
		Logger:         logger,
	})

	return reconcile.New(directory, normalizer, provisioner, reconcile.Options{
		Concurrency: opts.concurrency,
		DryRun:      opts.dryRun,
		Logger:      logger,
		Metrics:     m,
	}), nil
}
