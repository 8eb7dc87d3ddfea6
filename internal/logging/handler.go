package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
)

// lineHandler writes "LEVEL timestamp | message key=value ..." records.
type lineHandler struct {
	out   *lockedWriter
	level slog.Leveler

	attrs  []boundAttr
	groups []string
}

// boundAttr keeps the groups that were open when the attribute was added.
type boundAttr struct {
	groups []string
	attr   slog.Attr
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func newLineHandler(w io.Writer, level slog.Leveler) slog.Handler {
	return &lineHandler{out: &lockedWriter{w: w}, level: level}
}

func (h *lineHandler) Enabled(_ context.Context, level slog.Level) bool {
	threshold := slog.LevelInfo
	if h.level != nil {
		threshold = h.level.Level()
	}
	return level >= threshold
}

func (h *lineHandler) Handle(_ context.Context, record slog.Record) error {
	ts := record.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	var b strings.Builder
	b.WriteString(strings.ToUpper(record.Level.String()))
	b.WriteByte(' ')
	b.WriteString(ts.Format(time.RFC3339))
	b.WriteString(" | ")
	b.WriteString(record.Message)

	for _, bound := range h.attrs {
		writeAttr(&b, bound.groups, bound.attr)
	}
	record.Attrs(func(attr slog.Attr) bool {
		writeAttr(&b, h.groups, attr)
		return true
	})
	b.WriteByte('\n')

	h.out.mu.Lock()
	defer h.out.mu.Unlock()
	_, err := io.WriteString(h.out.w, b.String())
	return err
}

func (h *lineHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append([]boundAttr(nil), h.attrs...)
	for _, attr := range attrs {
		clone.attrs = append(clone.attrs, boundAttr{groups: h.groups, attr: attr})
	}
	return &clone
}

func (h *lineHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.groups = append(append([]string(nil), h.groups...), name)
	return &clone
}

func writeAttr(b *strings.Builder, groups []string, attr slog.Attr) {
	value := attr.Value.Resolve()
	if value.Kind() == slog.KindGroup {
		nested := append(append([]string(nil), groups...), attr.Key)
		for _, a := range value.Group() {
			writeAttr(b, nested, a)
		}
		return
	}
	if attr.Key == "" {
		return
	}

	key := attr.Key
	if len(groups) > 0 {
		key = strings.Join(groups, ".") + "." + key
	}
	b.WriteByte(' ')
	b.WriteString(key)
	b.WriteByte('=')
	b.WriteString(quoteIfNeeded(formatValue(value)))
}

func formatValue(value slog.Value) string {
	switch value.Kind() {
	case slog.KindString:
		return value.String()
	case slog.KindInt64:
		return strconv.FormatInt(value.Int64(), 10)
	case slog.KindUint64:
		return strconv.FormatUint(value.Uint64(), 10)
	case slog.KindFloat64:
		return strconv.FormatFloat(value.Float64(), 'f', -1, 64)
	case slog.KindBool:
		return strconv.FormatBool(value.Bool())
	case slog.KindDuration:
		return value.Duration().String()
	case slog.KindTime:
		return value.Time().Format(time.RFC3339)
	case slog.KindAny:
		if err, ok := value.Any().(error); ok && err != nil {
			return err.Error()
		}
		return fmt.Sprint(value.Any())
	default:
		return value.String()
	}
}

func quoteIfNeeded(s string) string {
	if s == "" || strings.ContainsAny(s, " \t\n\"=") {
		return strconv.Quote(s)
	}
	return s
}
