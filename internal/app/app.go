package app

import (
	"context"
	"errors"

	"github.com/jkaberg/leafspy-hass/internal/config"
	"github.com/jkaberg/leafspy-hass/internal/metrics"
	"github.com/jkaberg/leafspy-hass/internal/webhook"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Run restores persisted state, then serves the webhook until ctx is
// cancelled. It returns nil on a clean shutdown.
func Run(
	parentCtx context.Context,
	cfg *config.Config,
	bridge *Bridge,
	m *metrics.Metrics,
	logger *logrus.Logger,
) error {
	if err := bridge.Restore(parentCtx); err != nil {
		// Partial restore still leaves a usable bridge.
		logger.WithError(err).Warn("State restore incomplete")
	}

	router := webhook.NewRouter(webhook.Options{
		Path:    cfg.WebhookPath,
		Secret:  cfg.Secret,
		Metrics: m.Handler(),
	}, bridge, m, logger)
	server := webhook.NewServer(cfg.ListenAddr, router, logger)

	grp, ctx := errgroup.WithContext(parentCtx)

	grp.Go(func() error {
		return server.Run(ctx)
	})

	err := grp.Wait()
	if errors.Is(err, context.Canceled) && parentCtx.Err() != nil {
		return nil
	}
	return err
}
