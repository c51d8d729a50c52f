// Package alert implements the notification state machines: debounced
// activation and resolution, tier escalation with dwell, signature dedup and
// persist-before-notify delivery.
package alert

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/position-sentinel/internal/logging"
	"github.com/position-sentinel/internal/models"
)

// ErrRecipientUnreachable signals that a sink cannot deliver to the recipient
// at all, as opposed to a transient delivery failure. The engine mutes the
// recipient in memory for the rest of the run.
var ErrRecipientUnreachable = errors.New("recipient unreachable")

// Sink delivers one rendered notification to a user.
type Sink interface {
	Notify(ctx context.Context, entry *models.AlertLogEntry) error
}

// LogSink writes notifications to the structured log. It is the default sink
// and the delivery path of last resort when no messenger is configured.
type LogSink struct {
	log *zap.Logger
}

// NewLogSink creates a sink that emits notifications as log records.
func NewLogSink() *LogSink {
	return &LogSink{log: logging.Named("alert.sink")}
}

// Notify logs the notification. It never fails.
func (s *LogSink) Notify(_ context.Context, entry *models.AlertLogEntry) error {
	s.log.Info("alert",
		zap.String("user", entry.Key.UserID),
		zap.String("chain", string(entry.Key.Chain)),
		zap.String("contract", entry.Key.ContractAddress),
		zap.String("token", entry.Key.TokenID),
		zap.String("type", string(entry.Key.Type)),
		zap.String("phase", string(entry.Phase)),
		zap.String("tier", string(entry.Tier)),
		zap.String("message", entry.Message),
	)
	return nil
}
