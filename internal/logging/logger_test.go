package logging

import (
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func observe(t *testing.T, level zapcore.Level) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(level)
	prev := logger
	SetLogger(zap.New(core))
	t.Cleanup(func() { logger = prev })
	return logs
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"info", zapcore.InfoLevel},
		{"warn", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"verbose", zapcore.InfoLevel},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestInitialize_SilentWithoutLevel(t *testing.T) {
	t.Setenv(LogLevelEnvVar, "")
	prev := logger
	t.Cleanup(func() { logger = prev })

	if err := Initialize(""); err != nil {
		t.Fatal(err)
	}
	if GetLogger().Core().Enabled(zapcore.ErrorLevel) {
		t.Error("logger without a level should be a no-op")
	}
}

func TestLogConnection(t *testing.T) {
	logs := observe(t, zapcore.InfoLevel)

	LogConnection("192.168.1.40:51234", "session_opened")
	LogStateTransition("unconfigured", "connecting_station")

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["remote_addr"] != "192.168.1.40:51234" || fields["event"] != "session_opened" {
		t.Errorf("connection fields = %v", fields)
	}
	fields = entries[1].ContextMap()
	if fields["from"] != "unconfigured" || fields["to"] != "connecting_station" {
		t.Errorf("transition fields = %v", fields)
	}
}

func TestLogRawBytes(t *testing.T) {
	logs := observe(t, zapcore.DebugLevel)
	if !DebugEnabled() {
		t.Fatal("DebugEnabled() = false with a debug core")
	}

	LogRawBytes("Inbound", []byte("ok\n"))

	fields := logs.All()[0].ContextMap()
	if fields["hex"] != "6f6b0a" || fields["ascii"] != "ok." {
		t.Errorf("fields = %v", fields)
	}

	long := hexDump([]byte(strings.Repeat("a", 300)))
	if !strings.HasSuffix(long, "...") || len(long) != 512+3 {
		t.Errorf("hexDump did not truncate: len %d", len(long))
	}
}
