package myq

// Logger receives progress and diagnostic lines from the client. The
// composing application typically adapts a *log.Logger.
type Logger interface {
	Log(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Log(string, ...any) {}

// NopLogger returns a Logger that discards everything.
func NopLogger() Logger {
	return nopLogger{}
}
