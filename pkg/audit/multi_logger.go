package audit

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// MultiLogger writes each entry to several sinks concurrently and waits for
// all of them
type MultiLogger struct {
	loggers []Logger
}

// NewMultiLogger creates a new multi-logger that writes to multiple destinations
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	return &MultiLogger{loggers: loggers}
}

// Append fans the entry out to every sink. The first error is returned after
// all sinks have finished.
func (m *MultiLogger) Append(ctx context.Context, entry *Entry) error {
	var g errgroup.Group
	for _, l := range m.loggers {
		g.Go(func() error {
			return l.Append(ctx, entry)
		})
	}
	return g.Wait()
}

// Close closes all loggers
func (m *MultiLogger) Close() error {
	var firstErr error
	for _, logger := range m.loggers {
		if err := logger.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close logger: %w", err)
		}
	}
	return firstErr
}
