package service

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/TURRA7/BotShop/internal/apperr"
	"github.com/TURRA7/BotShop/internal/entity"
	"github.com/TURRA7/BotShop/internal/repository"
)

// Confirmer is the part of PaymentService the poller and the notification consumers need.
type Confirmer interface {
	ConfirmCardCheckout(ctx context.Context, intentID string) (Confirmation, error)
}

// Poller re-checks open payment intents so a lost webhook never strands a paid cart.
type Poller struct {
	payments  repository.PaymentRepository
	confirmer Confirmer
	limiter   *rate.Limiter
	interval  time.Duration
	maxAge    time.Duration
	batch     int
	logger    *slog.Logger
	now       func() time.Time
}

type PollerConfig struct {
	Interval time.Duration
	MaxAge   time.Duration
	// RPS caps gateway status calls per second.
	RPS   float64
	Batch int
}

func NewPoller(payments repository.PaymentRepository, confirmer Confirmer, cfg PollerConfig, logger *slog.Logger) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 24 * time.Hour
	}
	if cfg.RPS <= 0 {
		cfg.RPS = 5
	}
	if cfg.Batch <= 0 {
		cfg.Batch = 100
	}
	return &Poller{
		payments:  payments,
		confirmer: confirmer,
		limiter:   rate.NewLimiter(rate.Limit(cfg.RPS), 1),
		interval:  cfg.Interval,
		maxAge:    cfg.MaxAge,
		batch:     cfg.Batch,
		logger:    orDefault(logger),
		now:       time.Now,
	}
}

// Run polls until ctx is done.
func (p *Poller) Run(ctx context.Context) {
	p.logger.Info("Payment poller started", "interval", p.interval, "max_age", p.maxAge)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Payment poller stopped")
			return
		case <-ticker.C:
			if _, err := p.Tick(ctx); err != nil && ctx.Err() == nil {
				p.logger.Error("Payment poll failed", "err", err)
			}
		}
	}
}

// Tick confirms one batch of open intents and returns how many reached a terminal status.
func (p *Poller) Tick(ctx context.Context) (int, error) {
	intents, err := p.payments.ListOpen(ctx, p.now().Add(-p.maxAge), p.batch)
	if err != nil {
		return 0, err
	}

	resolved := 0
	for _, intent := range intents {
		if err := p.limiter.Wait(ctx); err != nil {
			return resolved, err
		}
		res, err := p.confirmer.ConfirmCardCheckout(ctx, intent.ID)
		if err != nil {
			if apperr.Transient(err) {
				p.logger.Warn("Payment confirmation deferred", "intent_id", intent.ID, "err", err)
			} else {
				p.logger.Error("Payment confirmation failed", "intent_id", intent.ID, "err", err)
			}
			continue
		}
		if res.Status == entity.PaymentSucceeded || res.Status == entity.PaymentFailed {
			resolved++
		}
	}
	return resolved, nil
}
