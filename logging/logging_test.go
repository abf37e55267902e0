package logging

import (
	"bytes"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutputSplitterRouting(t *testing.T) {
	splitter := OutputSplitter{}

	tests := []struct {
		name string
		line []byte
	}{
		{"error level", []byte(`time="2024-01-15T10:30:00Z" level=error msg="write failed"`)},
		{"info level", []byte(`time="2024-01-15T10:30:00Z" level=info msg="db opened"`)},
		{"warn level", []byte(`time="2024-01-15T10:30:00Z" level=warning msg="replication lag"`)},
		{"error word in message body", []byte(`level=info msg="no error occurred"`)},
		{"empty", []byte("")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := splitter.Write(tt.line)
			assert.NoError(t, err)
			assert.Equal(t, len(tt.line), n)
		})
	}
}

func TestNewLoggerAppliesLevelAndFormat(t *testing.T) {
	logger := NewLogger(LoggerConfig{Level: LevelDebug, Format: "json"})
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	_, ok := logger.Formatter.(*logrus.JSONFormatter)
	assert.True(t, ok)

	logger = NewLogger(LoggerConfig{Level: LevelWarn, Format: "text"})
	assert.Equal(t, logrus.WarnLevel, logger.GetLevel())
	_, ok = logger.Formatter.(*logrus.TextFormatter)
	assert.True(t, ok)
}

func TestContextLoggerFieldsAreImmutable(t *testing.T) {
	var buf bytes.Buffer
	base := logrus.New()
	base.SetOutput(&buf)
	base.SetFormatter(&logrus.JSONFormatter{})

	root := NewContextLogger(base, map[string]interface{}{"database": "animals"})
	child := root.WithField("doc_id", "dog")

	root.Info("root message")
	require.Contains(t, buf.String(), `"database":"animals"`)
	assert.NotContains(t, buf.String(), `"doc_id"`)

	buf.Reset()
	child.Info("child message")
	assert.Contains(t, buf.String(), `"database":"animals"`)
	assert.Contains(t, buf.String(), `"doc_id":"dog"`)
}

func TestLogOperationReturnsUnderlyingError(t *testing.T) {
	cl := NewContextLogger(Logger, nil)
	want := errors.New("boom")
	got := LogOperation(cl, "bulk_docs", func() error { return want })
	assert.Equal(t, want, got)
}
