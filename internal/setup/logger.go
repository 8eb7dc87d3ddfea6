package setup

import "log/slog"

var logger = slog.Default()

// SetLogger routes privilege and rlimit messages to l. A nil logger restores
// slog.Default.
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.Default()
	}
	logger = l
}

func getLogger() *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}
