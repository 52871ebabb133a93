package notify

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"library/internal/models"
)

// LogObserver writes events to a zap logger
type LogObserver struct {
	logger *zap.Logger
}

// NewLogObserver creates a console notifier backed by logger
func NewLogObserver(logger *zap.Logger) *LogObserver {
	return &LogObserver{logger: logger}
}

// Handle logs the event at info level
func (o *LogObserver) Handle(ctx context.Context, event models.Event) error {
	o.logger.Info("Library notification", eventFields(event)...)
	return nil
}

// FileObserver appends events as JSON lines to a file
type FileObserver struct {
	path   string
	logger *zap.Logger
}

// NewFileObserver opens (or creates) path for appending event lines
func NewFileObserver(path string) (*FileObserver, error) {
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{path}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.Sampling = nil
	cfg.EncoderConfig.TimeKey = "logged_at"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to open fine log %s: %w", path, err)
	}
	return &FileObserver{path: path, logger: logger}, nil
}

// Handle appends the event to the file
func (o *FileObserver) Handle(ctx context.Context, event models.Event) error {
	o.logger.Info(string(event.Type), eventFields(event)...)
	return nil
}

// Close flushes buffered lines
func (o *FileObserver) Close() error {
	// Sync on some files (e.g. /dev/stdout) returns EINVAL; nothing is lost there
	_ = o.logger.Sync()
	return nil
}

func eventFields(event models.Event) []zap.Field {
	fields := []zap.Field{
		zap.String("event_type", string(event.Type)),
		zap.String("patron_id", event.Patron.ID),
		zap.String("patron_name", event.Patron.Name),
		zap.String("message", event.Message),
		zap.Time("occurred_at", event.OccurredAt),
	}
	if event.Fine != nil {
		fields = append(fields,
			zap.String("fine_id", event.Fine.ID),
			zap.String("loan_id", event.Fine.LoanID),
			zap.String("amount", event.Fine.Amount.StringFixed(2)),
			zap.String("paid_amount", event.Fine.PaidAmount.StringFixed(2)),
		)
	}
	return fields
}
