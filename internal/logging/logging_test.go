package logging

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseFormat(t *testing.T) {
	for raw, want := range map[string]Format{"": FormatText, "TEXT": FormatText, " json ": FormatJSON} {
		got, err := ParseFormat(raw)
		if err != nil {
			t.Fatalf("ParseFormat(%q): %v", raw, err)
		}
		if got != want {
			t.Fatalf("ParseFormat(%q)=%q, want %q", raw, got, want)
		}
	}
	if _, err := ParseFormat("xml"); err == nil {
		t.Fatalf("expected error for unsupported format")
	}
}

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("debug")
	if err != nil || lvl != zapcore.DebugLevel {
		t.Fatalf("ParseLevel(debug)=%v, %v", lvl, err)
	}
	lvl, err = ParseLevel("")
	if err != nil || lvl != zapcore.InfoLevel {
		t.Fatalf("ParseLevel(\"\")=%v, %v", lvl, err)
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatalf("expected error for unsupported level")
	}
}

func TestSetupReplacesGlobals(t *testing.T) {
	prev := zap.L()
	t.Cleanup(func() { zap.ReplaceGlobals(prev) })

	logger, err := Setup("json", "warn")
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if zap.L() != logger {
		t.Fatalf("expected global logger to be replaced")
	}
	if logger.Core().Enabled(zapcore.InfoLevel) {
		t.Fatalf("info should be disabled at warn level")
	}
}

func TestOrNop(t *testing.T) {
	if OrNop(nil) == nil {
		t.Fatalf("expected nop logger")
	}
}
