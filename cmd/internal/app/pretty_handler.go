package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"thoughtstream/cmd/internal/identity"
)

// prettyHandler writes one compact line per record for watching a live session:
//
//	15:04:05.000 INF [stream] stream.connected conn=7QK2ZP url=wss://...
//
// The component attribute becomes the bracketed tag, and stream identifiers are shortened.
type prettyHandler struct {
	w         io.Writer
	opts      slog.HandlerOptions
	component string
	attrs     []slog.Attr
	groups    []string
	color     bool
	mu        *sync.Mutex
}

func newPrettyHandler(w io.Writer, opts *slog.HandlerOptions, color bool) slog.Handler {
	h := &prettyHandler{w: w, color: color, mu: &sync.Mutex{}}
	if opts != nil {
		h.opts = *opts
	}
	return h
}

func (h *prettyHandler) Enabled(_ context.Context, level slog.Level) bool {
	minLevel := slog.LevelInfo
	if h.opts.Level != nil {
		minLevel = h.opts.Level.Level()
	}
	return level >= minLevel
}

func (h *prettyHandler) Handle(_ context.Context, r slog.Record) error {
	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	var b strings.Builder
	b.WriteString(h.paint(ansiDim, ts.Format("15:04:05.000")))
	b.WriteByte(' ')
	b.WriteString(h.level(r.Level))

	component := h.component
	var rest []slog.Attr
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == "component" && len(h.groups) == 0 {
			component = a.Value.String()
			return true
		}
		rest = append(rest, a)
		return true
	})
	if component != "" {
		b.WriteString(" [" + h.paint(ansiMagenta, component) + "]")
	}
	b.WriteByte(' ')
	b.WriteString(h.paint(ansiBright, r.Message))

	for _, a := range h.attrs {
		h.writeAttr(&b, a, nil)
	}
	for _, a := range rest {
		h.writeAttr(&b, a, h.groups)
	}

	if h.opts.AddSource && r.PC != 0 {
		f, _ := runtime.CallersFrames([]uintptr{r.PC}).Next()
		if f.File != "" {
			b.WriteString(" " + h.paint(ansiDim, fmt.Sprintf("(%s:%d)", filepath.Base(f.File), f.Line)))
		}
	}
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, b.String())
	return err
}

// WithAttrs captures the component tag; other attributes are pre-qualified with the
// current groups so later WithGroup calls do not rename them.
func (h *prettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	cp := *h
	cp.attrs = append([]slog.Attr{}, h.attrs...)
	for _, a := range attrs {
		if a.Key == "component" && len(h.groups) == 0 {
			cp.component = a.Value.String()
			continue
		}
		if len(h.groups) > 0 {
			a.Key = strings.Join(h.groups, ".") + "." + a.Key
		}
		cp.attrs = append(cp.attrs, a)
	}
	return &cp
}

func (h *prettyHandler) WithGroup(name string) slog.Handler {
	if strings.TrimSpace(name) == "" {
		return h
	}
	cp := *h
	cp.groups = append(append([]string{}, h.groups...), name)
	return &cp
}

func (h *prettyHandler) writeAttr(b *strings.Builder, a slog.Attr, prefix []string) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) || strings.TrimSpace(a.Key) == "" {
		return
	}
	path := append(append([]string{}, prefix...), a.Key)

	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			h.writeAttr(b, ga, path)
		}
		return
	}

	key, val := h.format(a.Key, a.Value)
	path[len(path)-1] = key
	b.WriteByte(' ')
	b.WriteString(h.paint(ansiDim, strings.Join(path, ".")+"="))
	b.WriteString(val)
}

// format maps well-known thoughtstream attributes to a short display form.
func (h *prettyHandler) format(key string, v slog.Value) (string, string) {
	s := v.String()
	switch key {
	case "conn_id":
		return "conn", h.paint(ansiBlue, shortID(s))
	case "did":
		return key, h.paint(ansiCyan, identity.Fallback(s))
	case "handle":
		return key, h.paint(ansiCyan, quote(s))
	case "content", "text":
		return key, quote(clip(s, 48))
	case "state":
		return key, h.state(s)
	case "status":
		if v.Kind() == slog.KindInt64 {
			return key, h.status(int(v.Int64()))
		}
	case "duration_ms":
		switch v.Kind() {
		case slog.KindInt64:
			return "duration", strconv.FormatInt(v.Int64(), 10) + "ms"
		case slog.KindFloat64:
			return "duration", strconv.FormatFloat(v.Float64(), 'f', 1, 64) + "ms"
		}
	case "method":
		return key, h.paint(ansiCyan, strings.ToUpper(s))
	case "err":
		return key, h.paint(ansiRed, quote(s))
	}
	if v.Kind() == slog.KindTime {
		return key, v.Time().Format(time.RFC3339)
	}
	return key, quote(s)
}

func (h *prettyHandler) level(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return h.paint(ansiRed, "ERR")
	case l >= slog.LevelWarn:
		return h.paint(ansiYellow, "WRN")
	case l >= slog.LevelInfo:
		return h.paint(ansiGreen, "INF")
	default:
		return h.paint(ansiDim, "DBG")
	}
}

func (h *prettyHandler) state(s string) string {
	switch s {
	case "connected":
		return h.paint(ansiGreen, s)
	case "connecting", "reconnect_pending", "disconnected":
		return h.paint(ansiYellow, s)
	}
	return quote(s)
}

func (h *prettyHandler) status(code int) string {
	s := strconv.Itoa(code)
	switch {
	case code >= 500:
		return h.paint(ansiRed, s)
	case code >= 400:
		return h.paint(ansiYellow, s)
	case code == 101:
		return h.paint(ansiBlue, s)
	}
	return h.paint(ansiGreen, s)
}

func (h *prettyHandler) paint(code, s string) string {
	if !h.color || s == "" {
		return s
	}
	return code + s + ansiReset
}

const (
	ansiReset   = "\x1b[0m"
	ansiBright  = "\x1b[1m"
	ansiDim     = "\x1b[2m"
	ansiRed     = "\x1b[31m"
	ansiGreen   = "\x1b[32m"
	ansiYellow  = "\x1b[33m"
	ansiBlue    = "\x1b[34m"
	ansiMagenta = "\x1b[35m"
	ansiCyan    = "\x1b[36m"
)

// shortID keeps the random tail of a ULID, which is enough to tell connections apart.
func shortID(id string) string {
	if len(id) > 6 {
		return id[len(id)-6:]
	}
	return id
}

func clip(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > n {
		return string(r[:n]) + "…"
	}
	return s
}

func quote(s string) string {
	if s == "" || strings.ContainsAny(s, " \t\r\n\"=") {
		return strconv.Quote(s)
	}
	return s
}
