package logging

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/zhouzirui/agent-salon/backend/internal/config"
)

// New builds the root logger. Format "json" writes JSON lines; anything else
// uses the colorized text handler.
func New(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	level := ParseLevel(cfg.Level)

	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	}
	return slog.New(&colorHandler{mu: &sync.Mutex{}, w: w, level: level, colors: newColors(cfg.Color)})
}

// colors holds one handler's attributes so disabling them stays local.
type colors struct {
	faint, err, warn, info, debug *color.Color
}

func newColors(enabled bool) *colors {
	c := &colors{
		faint: color.New(color.FgHiBlack),
		err:   color.New(color.FgRed, color.Bold),
		warn:  color.New(color.FgYellow),
		info:  color.New(color.FgCyan),
		debug: color.New(color.FgMagenta),
	}
	if !enabled {
		for _, col := range []*color.Color{c.faint, c.err, c.warn, c.info, c.debug} {
			col.DisableColor()
		}
	}
	return c
}

// ParseLevel maps a level name to a slog level, defaulting to info.
func ParseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// colorHandler writes one colorized line per record.
type colorHandler struct {
	mu     *sync.Mutex
	w      io.Writer
	level  slog.Level
	colors *colors
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	var buf strings.Builder

	c := h.colors
	buf.WriteString(c.faint.Sprint(r.Time.Format("15:04:05") + " "))

	switch {
	case r.Level >= slog.LevelError:
		buf.WriteString(c.err.Sprint("ERR "))
	case r.Level >= slog.LevelWarn:
		buf.WriteString(c.warn.Sprint("WRN "))
	case r.Level >= slog.LevelInfo:
		buf.WriteString(c.info.Sprint("INF "))
	default:
		buf.WriteString(c.debug.Sprint("DBG "))
	}

	buf.WriteString(r.Message)

	prefix := ""
	if len(h.groups) > 0 {
		prefix = strings.Join(h.groups, ".") + "."
	}
	for _, a := range h.attrs {
		writeAttr(&buf, c.faint, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(&buf, c.faint, prefix, a)
		return true
	})
	buf.WriteString("\n")

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, buf.String())
	return err
}

func writeAttr(buf *strings.Builder, key *color.Color, prefix string, a slog.Attr) {
	if a.Equal(slog.Attr{}) {
		return
	}
	buf.WriteString(key.Sprint(" " + prefix + a.Key + "="))
	buf.WriteString(a.Value.Resolve().String())
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	prefix := ""
	if len(h.groups) > 0 {
		prefix = strings.Join(h.groups, ".") + "."
	}
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	for _, a := range attrs {
		newAttrs = append(newAttrs, slog.Attr{Key: prefix + a.Key, Value: a.Value})
	}
	return &colorHandler{mu: h.mu, w: h.w, level: h.level, colors: h.colors, attrs: newAttrs, groups: h.groups}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{mu: h.mu, w: h.w, level: h.level, colors: h.colors, attrs: h.attrs, groups: newGroups}
}
