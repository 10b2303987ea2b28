package logger

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestNew(t *testing.T) {
	log := New("")
	if log.GetLevel() != zerolog.InfoLevel {
		t.Errorf("Expected info level by default, got %s", log.GetLevel())
	}
}

func TestNew_Levels(t *testing.T) {
	tests := []struct {
		input string
		want  zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"warn", zerolog.WarnLevel},
		{"nonsense", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		if got := New(tt.input).GetLevel(); got != tt.want {
			t.Errorf("New(%q) level = %s, want %s", tt.input, got, tt.want)
		}
	}
}

func TestNewWithWriter(t *testing.T) {
	buf := &bytes.Buffer{}
	log := NewWithWriter(buf)

	log.Info().Msg("test message")

	if !strings.Contains(buf.String(), "test message") {
		t.Errorf("Expected output to contain 'test message', got: %s", buf.String())
	}
}

func TestFromContext(t *testing.T) {
	buf := &bytes.Buffer{}
	ctx := WithContext(context.Background(), NewWithWriter(buf))

	log := FromContext(ctx)
	log.Info().Msg("test")

	if buf.Len() == 0 {
		t.Error("Expected log output from retrieved logger")
	}
}

func TestFromContext_DefaultLogger(t *testing.T) {
	log := FromContext(context.Background())

	if log.GetLevel() == zerolog.Disabled {
		t.Error("Expected default logger to be enabled")
	}
}

func TestForSource(t *testing.T) {
	buf := &bytes.Buffer{}
	log := ForSource(NewWithWriter(buf), "PayPal-Main", "PayPal")

	log.Info().Msg("fetched")

	out := buf.String()
	if !strings.Contains(out, `"source":"PayPal-Main"`) || !strings.Contains(out, `"kind":"PayPal"`) {
		t.Errorf("Expected source fields in output, got: %s", out)
	}
}
