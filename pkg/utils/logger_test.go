package utils

import (
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zapcore"
)

func TestLoggerConfig_levels(t *testing.T) {
	tests := []struct {
		debug     bool
		wantDebug bool
		encoding  string
	}{
		{debug: true, wantDebug: true, encoding: "console"},
		{debug: false, wantDebug: false, encoding: "json"},
	}
	for _, tt := range tests {
		cfg := loggerConfig(tt.debug)
		if got := cfg.Level.Enabled(zapcore.DebugLevel); got != tt.wantDebug {
			t.Errorf("debug=%v: debug level enabled = %v", tt.debug, got)
		}
		if !cfg.Level.Enabled(zapcore.InfoLevel) {
			t.Errorf("debug=%v: info level should be enabled", tt.debug)
		}
		if cfg.Encoding != tt.encoding {
			t.Errorf("debug=%v: encoding = %q, want %q", tt.debug, cfg.Encoding, tt.encoding)
		}
	}
}

func TestLoggerConfig_productionTime(t *testing.T) {
	cfg := loggerConfig(false)
	enc := zapcore.NewJSONEncoder(cfg.EncoderConfig)
	entry := zapcore.Entry{
		Level:   zapcore.InfoLevel,
		Time:    time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC),
		Message: "document loaded",
	}
	buf, err := enc.EncodeEntry(entry, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer buf.Free()
	line := buf.String()
	if !strings.Contains(line, `"time":"2024-03-01T12:30:00.000Z"`) {
		t.Errorf("expected ISO8601 time under \"time\": %s", line)
	}
	if strings.Contains(line, `"ts":`) {
		t.Errorf("default time key should be replaced: %s", line)
	}
}

func TestNewLogger(t *testing.T) {
	for _, debug := range []bool{true, false} {
		logger, err := NewLogger(debug)
		if err != nil {
			t.Fatalf("NewLogger(%v) error: %v", debug, err)
		}
		if got := logger.Core().Enabled(zapcore.DebugLevel); got != debug {
			t.Errorf("NewLogger(%v): debug enabled = %v", debug, got)
		}
		_ = logger.Sync()
	}
}
