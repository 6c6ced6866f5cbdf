package logger

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestGetBeforeInitIsUsable(t *testing.T) {
	Set(nil)
	l := Get()
	if l == nil {
		t.Fatalf("expected no-op logger")
	}
	l.Info("ignored")
}

func TestParseLevel(t *testing.T) {
	cases := map[LogLevel]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"WARN":    zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"":        zapcore.InfoLevel,
		"verbose": zapcore.InfoLevel,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestInitAndSet(t *testing.T) {
	if err := Init("json", InfoLevel); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if !Get().Core().Enabled(zapcore.InfoLevel) {
		t.Fatalf("expected info enabled")
	}
	if Get().Core().Enabled(zapcore.DebugLevel) {
		t.Fatalf("expected debug disabled at info level")
	}

	core, logs := observer.New(zapcore.InfoLevel)
	Set(zap.New(core))
	t.Cleanup(func() { Set(nil) })

	Get().Info("hello", zap.String("user_id", "u1"))
	if logs.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", logs.Len())
	}
	if got := logs.All()[0].ContextMap()["user_id"]; got != "u1" {
		t.Fatalf("unexpected field: %v", got)
	}
}
