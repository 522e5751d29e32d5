package nudge

import (
	"context"

	"go.uber.org/zap"

	"github.com/atelierops/pulse/model"
)

// LogNotifier writes notifications to the structured log instead of an
// external transport. Default delivery path for single-node deployments
// until a real channel integration is wired in.
type LogNotifier struct {
	log *zap.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(log *zap.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

// Send logs the notification.
func (n *LogNotifier) Send(_ context.Context, msg model.Notification) error {
	n.log.Info("notification",
		zap.String("type", msg.Type),
		zap.String("recipient_id", msg.RecipientID),
		zap.Strings("channels", msg.Channels),
		zap.String("body", msg.Body),
	)
	return nil
}
