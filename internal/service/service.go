// Package service holds the commerce use cases the chat layer calls.
// Every error leaving this package is an *apperr.Error.
package service

import (
	"context"
	"log/slog"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/TURRA7/BotShop/internal/apperr"
)

// failure logs an infrastructure error with full context and hides it behind INTERNAL.
func failure(ctx context.Context, logger *slog.Logger, op string, err error, args ...any) error {
	logger.ErrorContext(ctx, "Service failure", append([]any{"op", op, "err", err}, args...)...)
	return apperr.New(apperr.Internal, op, err)
}

func orDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}

type metrics struct {
	checkouts     metric.Int64Counter
	confirmations metric.Int64Counter
	balance       metric.Int64Counter
}

func newMetrics(mp metric.MeterProvider) *metrics {
	meter := mp.Meter("github.com/TURRA7/BotShop/internal/service")
	return &metrics{
		checkouts:     counter(meter, "shop.checkouts.total", "Completed checkouts"),
		confirmations: counter(meter, "shop.payment_confirmations.total", "Payment confirmation attempts by outcome"),
		balance:       counter(meter, "shop.balance_mutations.total", "Committed balance mutations"),
	}
}

func counter(meter metric.Meter, name, description string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(description))
	if err != nil {
		slog.Warn("Metric disabled", "name", name, "err", err)
		return noop.Int64Counter{}
	}
	return c
}

func count(ctx context.Context, c metric.Int64Counter, key, value string) {
	c.Add(ctx, 1, metric.WithAttributes(attribute.String(key, value)))
}

func userKey(id int64) string { return strconv.FormatInt(id, 10) }
