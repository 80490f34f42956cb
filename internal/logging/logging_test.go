package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"amsd/internal/config"
)

func TestHandlerLevelAndSource(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(&buf, config.LoggingConfig{Level: "warn", NoColor: true}))

	logger.Info("hidden")
	logger.Warn("shown", "key", "value")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("Info record should be filtered at warn level")
	}
	if !strings.Contains(out, "shown") || !strings.Contains(out, "key=value") {
		t.Errorf("Expected the warn record, got %q", out)
	}
	if !strings.Contains(out, "logging_test.go") {
		t.Errorf("Expected the source location, got %q", out)
	}
	if moduleRoot != "" && strings.Contains(out, moduleRoot) {
		t.Errorf("Source path was not trimmed: %q", out)
	}
}
