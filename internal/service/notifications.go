package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/TURRA7/BotShop/internal/apperr"
	"github.com/TURRA7/BotShop/internal/messaging"
)

// NotificationHandler confirms the intent referenced by a gateway notification read from the broker.
// Only the intent id is taken from the payload; the gateway is always re-queried.
func NotificationHandler(confirmer Confirmer, logger *slog.Logger) func(ctx context.Context, payload []byte) error {
	logger = orDefault(logger)
	return func(ctx context.Context, payload []byte) error {
		var n messaging.Notification
		if err := json.Unmarshal(payload, &n); err != nil || strings.TrimSpace(n.Object.ID) == "" {
			logger.Warn("Dropping malformed payment notification", "err", err)
			return nil
		}

		res, err := confirmer.ConfirmCardCheckout(ctx, n.Object.ID)
		if apperr.Is(err, apperr.NotFound) {
			logger.Warn("Notification for unknown payment", "intent_id", n.Object.ID, "event", n.Event)
			return nil
		}
		if err != nil {
			return err
		}
		logger.Info("Payment notification processed", "intent_id", res.IntentID, "status", res.Status, "already_processed", res.AlreadyProcessed)
		return nil
	}
}
