package logger

import "log/slog"

// Error returns a standard error attribute so error fields keep a consistent
// key across the codebase.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String("error", err.Error())
}

// Component tags a record with the emitting component name.
func Component(name string) slog.Attr {
	return slog.String("component", name)
}
