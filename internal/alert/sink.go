package alert

import (
	"context"
	"errors"

	"github.com/KG-NINJA/YOLOdemo/internal/logger"
)

// Sink delivers a composed alert: speech, a tone, a log line or a push to
// connected dashboards.
type Sink interface {
	Deliver(ctx context.Context, a Alert) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, a Alert) error

// Deliver calls f.
func (f SinkFunc) Deliver(ctx context.Context, a Alert) error {
	return f(ctx, a)
}

// LogSink writes alerts to the process log.
type LogSink struct{}

// Deliver logs a.
func (LogSink) Deliver(_ context.Context, a Alert) error {
	logger.Info("Alert", "[%s/%s] %s", a.Kind, a.Voice, a.Message)
	return nil
}

// MultiSink delivers to every sink; one failing sink does not stop the rest.
type MultiSink []Sink

// Deliver fans a out and joins the errors.
func (m MultiSink) Deliver(ctx context.Context, a Alert) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Deliver(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
