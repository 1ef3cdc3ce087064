package types

// Logger is the minimal structured logging interface shared by workers and
// jobs. *slog.Logger satisfies Info, Error, and Warn directly, but its With
// returns *slog.Logger, so callers wrap it in a small adapter.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	With(args ...any) Logger
}
