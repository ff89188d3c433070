package logger

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/oggyb/chaperone/internal/config"
)

// captureGlobal points the global logger at a buffer for the duration of f.
func captureGlobal(t *testing.T, c Config, f func()) string {
	t.Helper()

	var buf bytes.Buffer
	c.Output = &buf
	Init(&c)
	t.Cleanup(func() { Init(&Config{Level: "info", Format: FormatText}) })

	f()
	return buf.String()
}

func TestLogger_TextFormat(t *testing.T) {
	out := captureGlobal(t, Config{Level: "debug", Format: FormatText, Component: "test"}, func() {
		Info("hello chaperone", "key", "value")
	})

	if !strings.Contains(out, "hello chaperone") {
		t.Errorf("expected message, got: %s", out)
	}
	if !strings.Contains(out, "component=test") {
		t.Errorf("expected component field, got: %s", out)
	}
	if !strings.Contains(out, "key=value") {
		t.Errorf("expected structured field, got: %s", out)
	}
}

func TestLogger_JSONFormat(t *testing.T) {
	out := captureGlobal(t, Config{Level: "info", Format: FormatJSON, Component: "json_test"}, func() {
		Info("json log", "foo", "bar")
	})

	if !strings.Contains(out, `"msg":"json log"`) {
		t.Errorf("expected JSON message, got: %s", out)
	}
	if !strings.Contains(out, `"component":"json_test"`) {
		t.Errorf("expected component in JSON, got: %s", out)
	}
	if !strings.Contains(out, `"foo":"bar"`) {
		t.Errorf("expected structured field in JSON, got: %s", out)
	}
}

func TestLogger_LevelFilter(t *testing.T) {
	out := captureGlobal(t, Config{Level: "error", Format: FormatText}, func() {
		Info("should not appear")
		Error("should appear")
	})

	if strings.Contains(out, "should not appear") {
		t.Errorf("info log should not appear, got: %s", out)
	}
	if !strings.Contains(out, "should appear") {
		t.Errorf("error log should appear, got: %s", out)
	}
}

func TestLogger_WithAddsFields(t *testing.T) {
	out := captureGlobal(t, Config{Level: "debug", Format: FormatText}, func() {
		With("req_id", "123").Info("processing request")
	})

	if !strings.Contains(out, "req_id=123") {
		t.Errorf("expected req_id field, got: %s", out)
	}
}

func TestLogger_InitFromConfig(t *testing.T) {
	appCfg := &config.Config{}
	appCfg.Log.Level = "debug"
	appCfg.Log.Format = "json"
	appCfg.Log.Component = "cfg_test"

	InitFromConfig(appCfg)
	t.Cleanup(func() { Init(&Config{Level: "info", Format: FormatText}) })

	if !L().Enabled(context.Background(), slog.LevelDebug) {
		t.Errorf("expected debug level to be enabled")
	}
	if cfg.Component != "cfg_test" || cfg.Format != FormatJSON {
		t.Errorf("expected settings from config, got: %+v", cfg)
	}
}

func TestLogger_ContextRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	reqLog := New(Config{Level: "info", Format: FormatText, Output: &buf}).With("request_id", "abc")

	ctx := WithContext(context.Background(), reqLog)
	FromContext(ctx, nil).Info("scoped")

	if !strings.Contains(buf.String(), "request_id=abc") {
		t.Errorf("expected request-scoped field, got: %s", buf.String())
	}

	fallback := Discard()
	if FromContext(context.Background(), fallback) != fallback {
		t.Errorf("expected fallback logger when none stored")
	}
}
