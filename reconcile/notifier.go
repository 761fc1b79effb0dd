package reconcile

import (
	"context"

	"github.com/payrelay/payrelay/infra/logger"
)

// LogNotifier is the default Notifier: it writes the message to the system
// log. Real deployments swap in a chat-bot transport behind the same
// interface.
type LogNotifier struct{}

// Notify logs the notification message
func (LogNotifier) Notify(ctx context.Context, merchantID, category, message string) error {
	logger.Info("Notification", logger.LogContext{
		Fields: map[string]any{
			"merchant_id": merchantID,
			"category":    category,
			"message":     message,
		},
	})
	return nil
}
