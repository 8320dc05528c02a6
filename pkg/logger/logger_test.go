package logger

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"igfollowers/pkg/config"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *config.LoggingConfig
		wantErr bool
	}{
		{"info level", &config.LoggingConfig{Level: "info"}, false},
		{"debug json", &config.LoggingConfig{Level: "debug", Format: "json"}, false},
		{"invalid level", &config.LoggingConfig{Level: "invalid"}, true},
		{"file output", &config.LoggingConfig{Level: "info", File: filepath.Join(t.TempDir(), "logs", "igf.log")}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && l == nil {
				t.Error("New() returned nil logger")
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		level    string
		expected zerolog.Level
		wantErr  bool
	}{
		{"debug", zerolog.DebugLevel, false},
		{"INFO", zerolog.InfoLevel, false},
		{"", zerolog.InfoLevel, false},
		{"warning", zerolog.WarnLevel, false},
		{"error", zerolog.ErrorLevel, false},
		{"disabled", zerolog.Disabled, false},
		{"loud", zerolog.InfoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			got, err := parseLogLevel(tt.level)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseLogLevel(%q) error = %v", tt.level, err)
			}
			if got != tt.expected {
				t.Errorf("parseLogLevel(%q) = %v, want %v", tt.level, got, tt.expected)
			}
		})
	}
}

func newBufferLogger(buf *bytes.Buffer) Logger {
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	zl := zerolog.New(buf)
	return &zerologLogger{logger: &zl, fields: map[string]interface{}{}}
}

func TestWithFieldsDoesNotMutateParent(t *testing.T) {
	var buf bytes.Buffer
	parent := newBufferLogger(&buf)

	child := parent.WithField("job_id", uint(4)).WithFields(map[string]interface{}{"target": "acme"})
	child.Info("child")
	parent.Info("parent")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"job_id":4`)
	assert.Contains(t, lines[0], `"target":"acme"`)
	assert.NotContains(t, lines[1], "job_id")
}

func TestFieldTypes(t *testing.T) {
	var buf bytes.Buffer
	l := newBufferLogger(&buf)

	l.InfoWithFields("typed", map[string]interface{}{
		"str":   "s",
		"int":   3,
		"bool":  true,
		"dur":   time.Second,
		"list":  []string{"a", "b"},
		"cause": errors.New("bad"),
	})

	out := buf.String()
	assert.Contains(t, out, `"str":"s"`)
	assert.Contains(t, out, `"int":3`)
	assert.Contains(t, out, `"bool":true`)
	assert.Contains(t, out, `"list":["a","b"]`)
	assert.Contains(t, out, `"cause":"bad"`)
}

func TestWithErrorNil(t *testing.T) {
	var buf bytes.Buffer
	l := newBufferLogger(&buf)
	assert.Same(t, l, l.WithError(nil))
}

func TestGlobalLogger(t *testing.T) {
	require.NoError(t, Initialize(&config.LoggingConfig{Level: "error"}))
	assert.NotNil(t, GetLogger())

	own := NewNopLogger()
	assert.Same(t, own, OrDefault(own))
	assert.Equal(t, GetLogger(), OrDefault(nil))
}

func TestTestLoggerCapturesChildren(t *testing.T) {
	tl := NewTestLogger()

	tl.WithField("session", "bot1").WithError(errors.New("challenge")).Warn("re-authenticating")
	tl.Info("plain")

	msgs := tl.GetMessages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "WARN", msgs[0].Level)
	assert.Equal(t, "bot1", msgs[0].Fields["session"])
	assert.Equal(t, "challenge", msgs[0].Error)
	assert.True(t, tl.HasMessage("plain"))
	assert.False(t, tl.HasError())

	tl.Clear()
	assert.Empty(t, tl.GetMessages())
}

func TestHelpers(t *testing.T) {
	tl := NewTestLogger()

	LogScrapeProgress(tl, 9, "acme", 5, 20)
	LogRateLimit(tl, "bot1", time.Minute)
	LogRequest(tl, "GET", "http://x", 503, time.Millisecond)
	LogComponentStart(tl, "worker_pool", map[string]interface{}{"workers": 3})
	LogComponentStop(tl, "worker_pool", "shutdown")

	msgs := tl.GetMessages()
	require.Len(t, msgs, 5)
	assert.Equal(t, "25.0%", msgs[0].Fields["percentage"])
	assert.Equal(t, "WARN", msgs[1].Level)
	assert.Equal(t, "ERROR", msgs[2].Level)
	assert.Equal(t, 3, msgs[3].Fields["workers"])
	assert.Equal(t, "shutdown", msgs[4].Fields["reason"])
}
