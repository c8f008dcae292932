package tui

import (
	"context"
	"log/slog"
	"testing"
	"time"
)

func TestLogHandler_Enabled(t *testing.T) {
	h := NewLogHandler(slog.LevelInfo)
	ctx := context.Background()

	if h.Enabled(ctx, slog.LevelDebug) {
		t.Error("Enabled(debug) = true, want false")
	}
	if !h.Enabled(ctx, slog.LevelWarn) {
		t.Error("Enabled(warn) = false, want true")
	}
}

func TestLogHandler_DropsWithoutProgram(t *testing.T) {
	h := NewLogHandler(slog.LevelDebug)
	record := slog.NewRecord(time.Now(), slog.LevelInfo, "hello", 0)
	if err := h.Handle(context.Background(), record); err != nil {
		t.Errorf("Handle() error = %v", err)
	}
}

func TestLogHandler_Summary(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		handler slog.Handler
		attrs   []slog.Attr
		want    string
	}{
		{
			name:    "message only",
			handler: NewLogHandler(slog.LevelInfo),
			want:    "poll finished",
		},
		{
			name:    "record attrs",
			handler: NewLogHandler(slog.LevelInfo),
			attrs:   []slog.Attr{slog.String("card", "card0"), slog.Int("metrics", 18)},
			want:    "poll finished (card=card0, metrics=18)",
		},
		{
			name:    "handler attrs first",
			handler: NewLogHandler(slog.LevelInfo).WithAttrs([]slog.Attr{slog.String("component", "poller")}),
			attrs:   []slog.Attr{slog.String("card", "card0")},
			want:    "poll finished (component=poller, card=card0)",
		},
		{
			name:    "group qualifies record attrs",
			handler: NewLogHandler(slog.LevelInfo).WithGroup("gpu"),
			attrs:   []slog.Attr{slog.String("card", "card1")},
			want:    "poll finished (gpu.card=card1)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			record := slog.NewRecord(now, slog.LevelWarn, "poll finished", 0)
			record.AddAttrs(tt.attrs...)

			msg := tt.handler.(*LogHandler).message(record)
			if msg.Summary != tt.want {
				t.Errorf("Summary = %q, want %q", msg.Summary, tt.want)
			}
			if msg.Level != slog.LevelWarn {
				t.Errorf("Level = %v, want WARN", msg.Level)
			}
			if !msg.Time.Equal(now) {
				t.Errorf("Time = %v, want %v", msg.Time, now)
			}
		})
	}
}

func TestLogHandler_DerivedSharesProgram(t *testing.T) {
	root := NewLogHandler(slog.LevelInfo)
	derived := root.WithAttrs([]slog.Attr{slog.String("k", "v")}).(*LogHandler)
	if derived.program != root.program {
		t.Error("derived handler must share the program pointer")
	}
	if len(root.attrs) != 0 {
		t.Error("WithAttrs modified the parent handler")
	}
}
