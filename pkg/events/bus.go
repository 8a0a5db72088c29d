package events

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"go.uber.org/zap"
)

// NewLocalBus returns an in-process pub/sub that delivers messages in
// publish order: Publish waits for the subscriber's ack.
func NewLocalBus(logger *zap.Logger) *gochannel.GoChannel {
	return gochannel.NewGoChannel(gochannel.Config{
		BlockPublishUntilSubscriberAck: true,
	}, NewWatermillLogger(logger))
}

// WatermillLogger adapts a zap logger to watermill.LoggerAdapter.
type WatermillLogger struct {
	logger *zap.Logger
}

// NewWatermillLogger wraps logger. A nil logger discards everything.
func NewWatermillLogger(logger *zap.Logger) *WatermillLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WatermillLogger{logger: logger.WithOptions(zap.AddCallerSkip(1))}
}

func (w *WatermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	w.logger.Error(msg, append(zapFields(fields), zap.Error(err))...)
}

// Info maps to debug; watermill is chatty at info.
func (w *WatermillLogger) Info(msg string, fields watermill.LogFields) {
	w.logger.Debug(msg, zapFields(fields)...)
}

func (w *WatermillLogger) Debug(msg string, fields watermill.LogFields) {
	w.logger.Debug(msg, zapFields(fields)...)
}

// Trace is dropped.
func (w *WatermillLogger) Trace(string, watermill.LogFields) {}

func (w *WatermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &WatermillLogger{logger: w.logger.With(zapFields(fields)...)}
}

var _ watermill.LoggerAdapter = (*WatermillLogger)(nil)

func zapFields(fields watermill.LogFields) []zap.Field {
	out := make([]zap.Field, 0, len(fields)+1)
	for k, v := range fields {
		out = append(out, zap.Any(k, v))
	}
	return out
}
