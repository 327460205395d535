package logctx

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

// Logs emitted outside any span must not carry trace correlation fields.
func TestTraceHandler_NoSpanContext(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewTraceHandler(slog.NewJSONHandler(&buf, &slog.HandlerOptions{})))

	logger.InfoContext(context.Background(), "test message", "key", "value")

	var logEntry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &logEntry); err != nil {
		t.Fatalf("failed to parse JSON log output: %v", err)
	}

	if _, exists := logEntry["trace_id"]; exists {
		t.Errorf("trace_id should not be present without span context, got: %v", logEntry["trace_id"])
	}

	if _, exists := logEntry["span_id"]; exists {
		t.Errorf("span_id should not be present without span context, got: %v", logEntry["span_id"])
	}

	if logEntry["msg"] != "test message" {
		t.Errorf("expected msg='test message', got: %v", logEntry["msg"])
	}

	if logEntry["key"] != "value" {
		t.Errorf("expected key='value', got: %v", logEntry["key"])
	}
}

func TestTraceHandler_NilHandlerPanics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("NewTraceHandler(nil) should panic")
		}
	}()

	NewTraceHandler(nil)
}

func TestTraceHandler_WithAttrsPreservesWrapping(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(NewTraceHandler(slog.NewJSONHandler(&buf, &slog.HandlerOptions{})))
	logger := base.With("component", "engine")

	logger.InfoContext(context.Background(), "attached")

	var logEntry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &logEntry); err != nil {
		t.Fatalf("failed to parse JSON log output: %v", err)
	}

	if logEntry["component"] != "engine" {
		t.Errorf("expected component='engine', got: %v", logEntry["component"])
	}
}
