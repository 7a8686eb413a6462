package eventbus

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/matthewbaird/pgform/internal/event"
	"github.com/matthewbaird/pgform/internal/logger"
)

// LogConsumer logs all notifications.
type LogConsumer struct{}

func NewLogConsumer() *LogConsumer { return &LogConsumer{} }

func (c *LogConsumer) HandleNotification(ctx context.Context, n event.Notification) error {
	entry := logger.FromContext(ctx).WithFields(logrus.Fields{
		"type":   n.Type,
		"dialog": n.Dialog,
		"node":   n.Node,
	})
	if n.Field != "" {
		entry = entry.WithField("field", n.Field)
	}
	switch n.Level {
	case event.LevelError:
		entry.Error(n.Message)
	case event.LevelWarning:
		entry.Warn(n.Message)
	default:
		entry.Info(n.Message)
	}
	return nil
}
