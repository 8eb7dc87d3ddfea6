package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Mode selects the record format.
type Mode int

const (
	// ModeCLI renders records as terse single lines.
	ModeCLI Mode = iota
	// ModeJSON renders records as JSON objects.
	ModeJSON
)

// DefaultLogFile is where run logs go unless disabled or redirected.
const DefaultLogFile = "/var/log/automagic/automagic.log"

// New constructs a logger writing to w. A nil level means slog.LevelInfo.
func New(mode Mode, w io.Writer, level slog.Leveler) *slog.Logger {
	if w == nil {
		panic("logging: writer must not be nil")
	}
	if level == nil {
		level = slog.LevelInfo
	}
	if mode == ModeJSON {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	}
	return slog.New(newLineHandler(w, level))
}

// NewCLI constructs a logger emitting human-readable lines.
func NewCLI(w io.Writer, level slog.Leveler) *slog.Logger {
	return New(ModeCLI, w, level)
}

// Ensure returns logger, or the process default when nil.
func Ensure(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return slog.Default()
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// FileOptions configures the rotating log file.
type FileOptions struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Output is the destination of a run's log records.
type Output struct {
	Writer io.Writer
	file   *lumberjack.Logger
}

// Close flushes and closes the log file, if any.
func (o *Output) Close() error {
	if o == nil || o.file == nil {
		return nil
	}
	return o.file.Close()
}

// OpenOutput tees console into a rotating log file. With a nil opts only the console
// is used.
func OpenOutput(console io.Writer, opts *FileOptions) (*Output, error) {
	if opts == nil {
		return &Output{Writer: console}, nil
	}

	path := opts.Path
	if path == "" {
		path = DefaultLogFile
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	// lumberjack opens lazily; probe now so an unusable destination fails at startup.
	probe, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	probe.Close()

	file := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    withDefault(opts.MaxSizeMB, 20),
		MaxBackups: withDefault(opts.MaxBackups, 5),
		MaxAge:     withDefault(opts.MaxAgeDays, 90),
		Compress:   opts.Compress,
	}
	return &Output{Writer: io.MultiWriter(console, file), file: file}, nil
}

func withDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
