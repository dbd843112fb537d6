package telemetry

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestLoggerLevels(t *testing.T) {
	logger, err := NewLogger(LoggingConfig{Level: "debug", Format: "json", Output: "stderr"})
	if err != nil {
		t.Fatal(err)
	}
	child := logger.NewComponentLogger("lexer").WithTaskID("Wheel-Toyota")
	child.Debug("tokenizing")

	ctx := logger.WithContext(context.Background())
	if FromContext(ctx) != logger {
		t.Errorf("context round trip lost the logger")
	}
	if FromContext(context.Background()) == nil {
		t.Errorf("missing logger falls back to a default")
	}
}

func TestLoggerFileOutput(t *testing.T) {
	path := t.TempDir() + "/eikobot.log"
	logger, err := NewLogger(LoggingConfig{Level: "info", Format: "json", Output: path})
	if err != nil {
		t.Fatal(err)
	}
	logger.Info("hello")
}

func TestMetricsRecording(t *testing.T) {
	m := NewMetrics()
	m.CompileFinished(true, 20*time.Millisecond)
	m.RunStarted()
	m.TaskFinished("deployed", 5*time.Millisecond)
	m.TaskFinished("failed", 0)
	m.RunCompleted(false, time.Second)

	// A nil receiver is a usable no-op.
	var disabled *Metrics
	disabled.RunStarted()
	disabled.TaskFinished("deployed", 0)
	disabled.RunCompleted(true, 0)

	if m.Handler() == nil {
		t.Errorf("metrics should expose an HTTP handler")
	}
}

func TestTracerInit(t *testing.T) {
	var buf strings.Builder
	shutdown, err := InitTracer(&buf)
	if err != nil {
		t.Fatal(err)
	}
	_, span := StartSpan(context.Background(), "compile")
	span.End()
	if err := shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "compile") {
		t.Errorf("span output missing: %q", buf.String())
	}
}
