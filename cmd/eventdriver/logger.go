package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// EventHandler is a human-friendly log handler for scenario runs.
type EventHandler struct {
	mu     *sync.Mutex
	out    io.Writer
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

// NewEventHandler creates a new human-friendly log handler.
func NewEventHandler(out io.Writer, level slog.Level) *EventHandler {
	return &EventHandler{
		mu:    &sync.Mutex{},
		out:   out,
		level: level,
	}
}

func (h *EventHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *EventHandler) Handle(_ context.Context, r slog.Record) error {
	var buf strings.Builder

	buf.WriteString(r.Time.Format("15:04:05"))
	buf.WriteString(" ")
	buf.WriteString(getIcon(r.Level, r.Message))
	buf.WriteString(" ")
	buf.WriteString(r.Message)

	prefix := strings.Join(h.groups, ".")
	var attrs []string
	for _, a := range h.attrs {
		if s := formatAttr(a); s != "" {
			attrs = append(attrs, s)
		}
	}
	r.Attrs(func(a slog.Attr) bool {
		if prefix != "" {
			a.Key = prefix + "." + a.Key
		}
		if s := formatAttr(a); s != "" {
			attrs = append(attrs, s)
		}
		return true
	})

	if len(attrs) > 0 {
		buf.WriteString(" (")
		buf.WriteString(strings.Join(attrs, ", "))
		buf.WriteString(")")
	}
	buf.WriteString("\n")

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.out, buf.String())
	return err
}

func (h *EventHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	prefix := strings.Join(h.groups, ".")
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	for _, a := range attrs {
		if prefix != "" {
			a.Key = prefix + "." + a.Key
		}
		merged = append(merged, a)
	}
	return &EventHandler{
		mu:     h.mu,
		out:    h.out,
		level:  h.level,
		attrs:  merged,
		groups: h.groups,
	}
}

func (h *EventHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	groups := make([]string, 0, len(h.groups)+1)
	groups = append(groups, h.groups...)
	return &EventHandler{
		mu:     h.mu,
		out:    h.out,
		level:  h.level,
		attrs:  h.attrs,
		groups: append(groups, name),
	}
}

func getIcon(level slog.Level, msg string) string {
	if level >= slog.LevelError {
		return "❌"
	}
	if level == slog.LevelWarn {
		return "⚠️ "
	}

	msgLower := strings.ToLower(msg)

	switch {
	case strings.Contains(msgLower, "completed successfully"),
		strings.Contains(msgLower, "passed"):
		return "✅"
	case strings.Contains(msgLower, "started"),
		strings.Contains(msgLower, "starting"):
		return "🚀"
	case strings.Contains(msgLower, "fault"),
		strings.Contains(msgLower, "failed"):
		return "💥"
	case strings.Contains(msgLower, "woke"),
		strings.Contains(msgLower, "wake"):
		return "⏰"
	case strings.Contains(msgLower, "alarm"),
		strings.Contains(msgLower, "rearm"):
		return "🔔"
	case strings.Contains(msgLower, "command"):
		return "📤"
	case strings.Contains(msgLower, "fired"):
		return "▶️ "
	case strings.Contains(msgLower, "dormant"):
		return "💤"
	case strings.Contains(msgLower, "retry"):
		return "🔄"
	case strings.Contains(msgLower, "horizon"),
		strings.Contains(msgLower, "reached"):
		return "🎯"
	case strings.Contains(msgLower, "scenario"):
		return "📋"
	default:
		if level == slog.LevelDebug {
			return "🔍"
		}
		return "ℹ️ "
	}
}

func formatAttr(a slog.Attr) string {
	key := a.Key
	val := a.Value.Resolve()

	if val.Kind() == slog.KindString && val.String() == "" {
		return ""
	}

	switch val.Kind() {
	case slog.KindDuration:
		d := val.Duration()
		if d < time.Second {
			return fmt.Sprintf("%s=%dms", key, d.Milliseconds())
		}
		return fmt.Sprintf("%s=%s", key, d.Round(time.Millisecond))
	case slog.KindTime:
		return fmt.Sprintf("%s=%s", key, val.Time().Format("15:04:05"))
	case slog.KindInt64:
		return fmt.Sprintf("%s=%d", key, val.Int64())
	case slog.KindUint64:
		return fmt.Sprintf("%s=%d", key, val.Uint64())
	case slog.KindString:
		s := val.String()
		if !strings.Contains(s, " ") && !strings.Contains(s, ",") {
			return fmt.Sprintf("%s=%s", key, s)
		}
		return fmt.Sprintf("%s=%q", key, s)
	default:
		return fmt.Sprintf("%s=%v", key, val.Any())
	}
}
