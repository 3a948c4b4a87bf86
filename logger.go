package netframe

import "log/slog"

// Logger is the interface for structured logging.
// It is designed to be compatible with *slog.Logger from the standard library.
type Logger interface {
	// Debug logs a debug-level message with optional key-value pairs.
	Debug(msg string, args ...any)
	// Info logs an info-level message with optional key-value pairs.
	Info(msg string, args ...any)
	// Warn logs a warning-level message with optional key-value pairs.
	Warn(msg string, args ...any)
	// Error logs an error-level message with optional key-value pairs.
	Error(msg string, args ...any)
}

// defaultLogger returns the default slog logger from the standard library.
func defaultLogger() Logger {
	return slog.Default()
}

// prefixLogger prepends fixed key-value pairs to every record.
type prefixLogger struct {
	l    Logger
	args []any
}

// withArgs returns a Logger that adds args to every call on l.
func withArgs(l Logger, args ...any) Logger {
	if sl, ok := l.(*slog.Logger); ok {
		return sl.With(args...)
	}
	return &prefixLogger{l: l, args: args}
}

func (p *prefixLogger) join(args []any) []any {
	out := make([]any, 0, len(p.args)+len(args))
	return append(append(out, p.args...), args...)
}

func (p *prefixLogger) Debug(msg string, args ...any) { p.l.Debug(msg, p.join(args)...) }
func (p *prefixLogger) Info(msg string, args ...any)  { p.l.Info(msg, p.join(args)...) }
func (p *prefixLogger) Warn(msg string, args ...any)  { p.l.Warn(msg, p.join(args)...) }
func (p *prefixLogger) Error(msg string, args ...any) { p.l.Error(msg, p.join(args)...) }
