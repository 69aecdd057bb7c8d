package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/vps-stock-monitor/internal/progress"
)

// LogSink writes each event as one structured log line. Domain failures log
// at warn so they surface at the default level; everything else is debug.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink returns a sink writing to logger.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume implements progress.Sink.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", evt.RunUUID().String()),
			zap.String("stage", string(evt.Stage)),
			zap.String("domain", evt.Domain),
			zap.Int("products", evt.Products),
			zap.Int("pages", evt.Pages),
			zap.Duration("dur", evt.Dur),
		}
		if evt.URL != "" {
			fields = append(fields, zap.String("url", evt.URL))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		if evt.Stage == progress.StageDomainError {
			s.logger.Warn("progress event", fields...)
			continue
		}
		s.logger.Debug("progress event", fields...)
	}
	return nil
}

// Close is a no-op; the logger is owned by the caller.
func (*LogSink) Close(context.Context) error { return nil }
