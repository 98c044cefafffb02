package door

import (
	"context"

	"go.uber.org/zap"
)

// LogOnly records open requests without touching hardware. Selected with
// DOOR_DRIVER=log for development.
type LogOnly struct {
	logger *zap.Logger
}

func NewLogOnly(logger *zap.Logger) *LogOnly {
	return &LogOnly{logger: logger.Named("door.log")}
}

func (l *LogOnly) TriggerOpen(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.logger.Info("door open requested (log driver)")
	return nil
}
