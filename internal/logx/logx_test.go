package logx

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestConsoleLoggerLevel(t *testing.T) {
	var buf bytes.Buffer
	log := Component(newConsoleLogger(&buf, zerolog.WarnLevel), "decoder")

	log.Info().Msg("hidden")
	log.Warn().Msg("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info message logged at warn level: %q", out)
	}
	if !strings.Contains(out, "shown") || !strings.Contains(out, "decoder") {
		t.Fatalf("output = %q, want warn message with component", out)
	}
}

func TestNewLoggerLevelFallback(t *testing.T) {
	for _, s := range []string{"", "nonsense"} {
		if got := NewLoggerLevel(s).GetLevel(); got != zerolog.InfoLevel {
			t.Fatalf("NewLoggerLevel(%q) level = %v, want info", s, got)
		}
	}
	if got := NewLoggerLevel(" DEBUG ").GetLevel(); got != zerolog.DebugLevel {
		t.Fatalf("NewLoggerLevel(DEBUG) level = %v, want debug", got)
	}
}
