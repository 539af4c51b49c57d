package logger

import (
	"fmt"
	"log/slog"
)

// StyledLogger wraps slog.Logger with a handful of convenience methods for
// messages that always carry the same one or two fields (an endpoint
// address, a running count), so call sites read like prose instead of
// repeating "endpoint", addr key/value pairs everywhere.
type StyledLogger struct {
	logger *slog.Logger
}

func NewStyledLogger(logger *slog.Logger) *StyledLogger {
	return &StyledLogger{logger: logger}
}

func (sl *StyledLogger) Debug(msg string, args ...any) { sl.logger.Debug(msg, args...) }
func (sl *StyledLogger) Info(msg string, args ...any)  { sl.logger.Info(msg, args...) }
func (sl *StyledLogger) Warn(msg string, args ...any)  { sl.logger.Warn(msg, args...) }
func (sl *StyledLogger) Error(msg string, args ...any) { sl.logger.Error(msg, args...) }

func (sl *StyledLogger) InfoWithCount(msg string, count int, args ...any) {
	sl.logger.Info(fmt.Sprintf("%s (%d)", msg, count), args...)
}

func (sl *StyledLogger) InfoWithEndpoint(msg string, endpoint string, args ...any) {
	sl.logger.Info(msg, append([]any{"endpoint", endpoint}, args...)...)
}

func (sl *StyledLogger) WarnWithEndpoint(msg string, endpoint string, args ...any) {
	sl.logger.Warn(msg, append([]any{"endpoint", endpoint}, args...)...)
}

func (sl *StyledLogger) ErrorWithEndpoint(msg string, endpoint string, args ...any) {
	sl.logger.Error(msg, append([]any{"endpoint", endpoint}, args...)...)
}

// GetUnderlying returns the wrapped slog.Logger for callers that need it
// verbatim (e.g. to hand to a third-party library's logger adapter).
func (sl *StyledLogger) GetUnderlying() *slog.Logger {
	return sl.logger
}

// WithAttrs creates a new StyledLogger with additional structured attributes.
func (sl *StyledLogger) WithAttrs(attrs ...slog.Attr) *StyledLogger {
	args := make([]any, 0, len(attrs)*2)
	for _, attr := range attrs {
		args = append(args, attr.Key, attr.Value)
	}
	return &StyledLogger{logger: sl.logger.With(args...)}
}

// With creates a new StyledLogger with additional key-value pairs.
func (sl *StyledLogger) With(args ...any) *StyledLogger {
	return &StyledLogger{logger: sl.logger.With(args...)}
}

// NewWithStyled builds both the root logger and a StyledLogger wrapping it.
func NewWithStyled(cfg *Config) (*slog.Logger, *StyledLogger, func(), error) {
	base, cleanup, err := New(cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	return base, NewStyledLogger(base), cleanup, nil
}
