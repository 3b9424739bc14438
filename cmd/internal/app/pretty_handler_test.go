package app

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestQuoteIfNeeded(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{in: "", want: `""`},
		{in: "plain", want: "plain"},
		{in: "has space", want: `"has space"`},
		{in: `k=v`, want: `"k=v"`},
	}

	for _, tc := range cases {
		if got := quoteIfNeeded(tc.in); got != tc.want {
			t.Fatalf("quoteIfNeeded(%q)=%q want=%q", tc.in, got, tc.want)
		}
	}
}

func TestLevelTagPlain(t *testing.T) {
	t.Parallel()

	cases := []struct {
		level slog.Level
		want  string
	}{
		{level: slog.LevelDebug, want: "[DEBUG]"},
		{level: slog.LevelInfo, want: "[INFO]"},
		{level: slog.LevelWarn, want: "[WARN]"},
		{level: slog.LevelError, want: "[ERROR]"},
	}

	for _, tc := range cases {
		if got := levelTag(tc.level, false); got != tc.want {
			t.Fatalf("levelTag(%v)=%q want=%q", tc.level, got, tc.want)
		}
	}
}

func TestColorizeStatusCodePlain(t *testing.T) {
	t.Parallel()

	if got := colorizeStatusCode(200, false); got != "200" {
		t.Fatalf("got %q", got)
	}
	if got := colorizeStatusCode(503, true); !strings.Contains(got, "503") || !strings.Contains(got, ansiRed) {
		t.Fatalf("5xx should be red: %q", got)
	}
}

func TestPrettyHandlerHandle(t *testing.T) {
	t.Parallel()

	var sb strings.Builder
	h := newPrettyHandler(&sb, &slog.HandlerOptions{Level: slog.LevelInfo}, false)
	log := slog.New(h)

	log.Info("ws.accept", "conn_id", "abc123", "remote", "127.0.0.1:5000")

	line := sb.String()
	if !strings.Contains(line, "msg=ws.accept") {
		t.Fatalf("missing msg: %q", line)
	}
	if !strings.Contains(line, "conn_id=abc123") {
		t.Fatalf("missing attr: %q", line)
	}
	if !strings.Contains(line, `remote=127.0.0.1:5000`) {
		t.Fatalf("missing remote attr: %q", line)
	}
	if !strings.HasSuffix(line, "\n") {
		t.Fatalf("record must end with newline: %q", line)
	}
}

func TestPrettyHandlerGroupsAndAttrs(t *testing.T) {
	t.Parallel()

	var sb strings.Builder
	base := newPrettyHandler(&sb, nil, false)
	h := base.WithGroup("http").WithAttrs([]slog.Attr{slog.String("route", "/ws")})

	rec := slog.NewRecord(time.Now(), slog.LevelInfo, "request", 0)
	rec.AddAttrs(slog.Int("status", 200))
	if err := h.Handle(context.Background(), rec); err != nil {
		t.Fatalf("handle: %v", err)
	}

	line := sb.String()
	if !strings.Contains(line, "http.route=/ws") {
		t.Fatalf("group prefix missing: %q", line)
	}
	if !strings.Contains(line, "http.status=200") {
		t.Fatalf("grouped status missing: %q", line)
	}
}

func TestPrettyHandlerRespectsLevel(t *testing.T) {
	t.Parallel()

	h := newPrettyHandler(&strings.Builder{}, &slog.HandlerOptions{Level: slog.LevelWarn}, false)
	if h.Enabled(context.Background(), slog.LevelInfo) {
		t.Fatalf("info should be disabled at warn level")
	}
	if !h.Enabled(context.Background(), slog.LevelError) {
		t.Fatalf("error should be enabled at warn level")
	}
}
