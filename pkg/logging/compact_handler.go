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

// CompactHandler writes one console line per record:
//
//	[LEVEL] HH:MM:SS message | key=value key=value
//
// Request ids are shortened, durationMs gets an ms suffix and errors are
// quoted. Derived handlers share the writer lock.
type CompactHandler struct {
	level  slog.Leveler
	mu     *sync.Mutex
	out    io.Writer
	attrs  []byte // preformatted attributes from WithAttrs
	prefix string // "group." for attributes added under WithGroup
}

// NewCompactHandler creates a compact console handler. Only opts.Level is
// used.
func NewCompactHandler(w io.Writer, opts *slog.HandlerOptions) *CompactHandler {
	h := &CompactHandler{level: slog.LevelInfo, mu: &sync.Mutex{}, out: w}
	if opts != nil && opts.Level != nil {
		h.level = opts.Level
	}
	return h
}

func (h *CompactHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *CompactHandler) Handle(_ context.Context, r slog.Record) error {
	buf := make([]byte, 0, 256)
	buf = append(buf, levelLabel(r.Level)...)
	buf = r.Time.AppendFormat(buf, "15:04:05")
	buf = append(buf, ' ')
	buf = append(buf, r.Message...)

	mark := len(buf)
	buf = append(buf, " |"...)
	buf = append(buf, h.attrs...)
	r.Attrs(func(a slog.Attr) bool {
		buf = appendAttr(buf, h.prefix, a)
		return true
	})
	if len(buf) == mark+2 {
		buf = buf[:mark]
	}
	buf = append(buf, '\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.out.Write(buf)
	return err
}

func (h *CompactHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	c := *h
	c.attrs = append([]byte(nil), h.attrs...)
	for _, a := range attrs {
		c.attrs = appendAttr(c.attrs, h.prefix, a)
	}
	return &c
}

func (h *CompactHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := *h
	c.prefix = h.prefix + name + "."
	return &c
}

func levelLabel(l slog.Level) string {
	switch l {
	case LevelTrace:
		return "[TRACE] "
	case slog.LevelDebug:
		return "[DEBUG] "
	case slog.LevelInfo:
		return "[INFO]  "
	case slog.LevelWarn:
		return "[WARN]  "
	case slog.LevelError:
		return "[ERROR] "
	}
	return fmt.Sprintf("[%-5s] ", l.String())
}

// appendAttr appends " key=value", flattening groups into dotted keys.
func appendAttr(buf []byte, prefix string, a slog.Attr) []byte {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return buf
	}
	if a.Value.Kind() == slog.KindGroup {
		if a.Key != "" {
			prefix += a.Key + "."
		}
		for _, g := range a.Value.Group() {
			buf = appendAttr(buf, prefix, g)
		}
		return buf
	}

	buf = append(buf, ' ')
	switch a.Key {
	case "requestID":
		if s := a.Value.String(); len(s) > 8 {
			buf = append(buf, "req="...)
			return append(buf, s[:8]...)
		}
	case "durationMs":
		buf = append(buf, prefix...)
		buf = append(buf, "duration="...)
		buf = appendValue(buf, a.Value)
		return append(buf, "ms"...)
	case "error":
		buf = append(buf, prefix...)
		buf = append(buf, "error="...)
		return strconv.AppendQuote(buf, fmt.Sprint(a.Value.Any()))
	}

	buf = append(buf, prefix...)
	buf = append(buf, a.Key...)
	buf = append(buf, '=')
	return appendValue(buf, a.Value)
}

func appendValue(buf []byte, v slog.Value) []byte {
	switch v.Kind() {
	case slog.KindString:
		s := v.String()
		if strings.ContainsAny(s, " \t\n\"=") {
			return strconv.AppendQuote(buf, s)
		}
		return append(buf, s...)
	case slog.KindInt64:
		return strconv.AppendInt(buf, v.Int64(), 10)
	case slog.KindUint64:
		return strconv.AppendUint(buf, v.Uint64(), 10)
	case slog.KindFloat64:
		return strconv.AppendFloat(buf, v.Float64(), 'g', -1, 64)
	case slog.KindBool:
		return strconv.AppendBool(buf, v.Bool())
	case slog.KindDuration:
		return append(buf, v.Duration().String()...)
	case slog.KindTime:
		return v.Time().AppendFormat(buf, time.RFC3339)
	}
	return fmt.Append(buf, v.Any())
}
