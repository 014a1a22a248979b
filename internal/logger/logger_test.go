package logger

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestJSONFields(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := JSON(&buf, slog.LevelInfo)
	log.With("component", "controller").Info("step", "slot", 3)

	out := buf.String()
	for _, want := range []string{`"msg":"step"`, `"slot":3`, `"component":"controller"`, `"level":"INFO"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %s in %s", want, out)
		}
	}
}

func TestJSONLevelFiltering(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := JSON(&buf, slog.LevelWarn)
	log.Info("hidden")
	log.Debug("hidden")
	if buf.Len() > 0 {
		t.Fatalf("unexpected output %s", buf.String())
	}
	log.Warn("shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Fatalf("warn missing: %s", buf.String())
	}
}

func TestPrettyLine(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	h := NewPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	h.color = false
	log := New(h)
	log.WithGroup("fill").With("rows", 2).Debug("step done", "slot", 17, "note", "two words")

	out := buf.String()
	for _, want := range []string{"DEBUG step done", "fill.rows=2", "fill.slot=17", `fill.note="two words"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in %q", want, out)
		}
	}
	if strings.Contains(out, "\033[") {
		t.Fatalf("colour escapes with colour disabled: %q", out)
	}
}

func TestPrettyDropsBelowLevel(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := Pretty(&buf, slog.LevelInfo)
	log.Debug("quiet")
	if buf.Len() != 0 {
		t.Fatalf("debug written at info level: %q", buf.String())
	}
}

func TestNop(t *testing.T) {
	t.Parallel()
	log := Nop()
	log.Error("nothing")
	log.With("k", "v").WithGroup("g").Info("nothing")
}

func TestSetup(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log, err := Setup(&buf, "json", "debug")
	if err != nil {
		t.Fatal(err)
	}
	log.Debug("visible")
	if !strings.Contains(buf.String(), `"msg":"visible"`) {
		t.Fatalf("json debug missing: %s", buf.String())
	}
	if _, err := Setup(&buf, "xml", "info"); err == nil {
		t.Fatal("expected unknown format error")
	}
	if _, err := Setup(&buf, "text", "loud"); err == nil {
		t.Fatal("expected unknown level error")
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"":        slog.LevelInfo,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Fatalf("ParseLevel(%q) = %v, %v", in, got, err)
		}
	}
}

func TestContextRoundTrip(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	ctx := WithContext(context.Background(), JSON(&buf, slog.LevelInfo))
	FromContext(ctx).Info("roundtrip")
	if !strings.Contains(buf.String(), "roundtrip") {
		t.Fatalf("context logger not used: %s", buf.String())
	}
	if FromContext(context.Background()) == nil {
		t.Fatal("no default logger")
	}
}

func TestNeedsQuoting(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		want bool
	}{
		{"simple", false},
		{"has space", true},
		{"tab\there", true},
		{`q"uote`, true},
		{"k=v", true},
		{"", true},
	}
	for _, tc := range cases {
		if got := needsQuoting(tc.in); got != tc.want {
			t.Errorf("needsQuoting(%q) = %v", tc.in, got)
		}
	}
}
