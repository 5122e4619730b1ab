package kafka

import (
	"context"
	"errors"
	"strings"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/forwarder/internal/domain"
)

// AutomationApplier применяет системное обновление статуса заказа.
type AutomationApplier interface {
	ApplyAutomationUpdate(ctx context.Context, orderID string, status domain.OrderStatus, notes string) (domain.Order, error)
}

// NewAutomationHandler создаёт обработчик topic автоматических обновлений.
// Заказы с выключенной автоматизацией пропускаются без ошибки.
func NewAutomationHandler(applier AutomationApplier, logger *log.Entry) MessageHandler {
	if logger == nil {
		logger = log.WithField("component", "automation-handler")
	}

	return func(ctx context.Context, message *sarama.ConsumerMessage) error {
		event, err := ParseAutomationEvent(message)
		if err != nil {
			return Permanent(err)
		}

		orderID := strings.TrimSpace(event.OrderID)
		if orderID == "" {
			orderID = string(message.Key)
		}
		status := domain.OrderStatus(strings.TrimSpace(event.Status))
		notes := event.Notes
		if notes == "" && event.Source != "" {
			notes = "Automated update from " + event.Source
		}

		fields := log.Fields{
			"order_id": orderID,
			"status":   status,
			"source":   event.Source,
		}

		_, err = applier.ApplyAutomationUpdate(ctx, orderID, status, notes)
		switch {
		case err == nil:
			logger.WithFields(fields).Debug("automation event applied")
			return nil
		case errors.Is(err, domain.ErrAutomationDisabled):
			logger.WithFields(fields).Info("automation disabled for order, event skipped")
			return nil
		case domain.IsNotFound(err), domain.IsValidationError(err):
			return Permanent(err)
		default:
			return err
		}
	}
}
