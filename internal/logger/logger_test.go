package logger

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "WARN", "text")
	defer InitWithWriter(&buf, "INFO", "text")

	Debug("debug message")
	Info("info message")
	Warn("warn message")
	Error("error message")

	out := buf.String()
	assert.NotContains(t, out, "debug message")
	assert.NotContains(t, out, "info message")
	assert.Contains(t, out, "warn message")
	assert.Contains(t, out, "error message")
}

func TestStructuredFields(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "text")

	Info("upload complete", "task_id", 7, "path", "shots/0001.jpg")

	out := buf.String()
	assert.Contains(t, out, "task_id=7")
	assert.Contains(t, out, "path=shots/0001.jpg")
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "json")
	defer InitWithWriter(&buf, "INFO", "text")

	Info("hello", "task_id", 3)

	out := buf.String()
	assert.Contains(t, out, `"msg":"hello"`)
	assert.Contains(t, out, `"task_id":3`)
}

func TestContextFields(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "DEBUG", "text")
	defer InitWithWriter(&buf, "INFO", "text")

	lc := NewLogContext(42, "10.0.0.5")
	lc.Command = "FILE"
	ctx := WithContext(context.Background(), lc)

	InfoCtx(ctx, "negotiated")

	out := buf.String()
	assert.Contains(t, out, "task_id=42")
	assert.Contains(t, out, "client_ip=10.0.0.5")
	assert.Contains(t, out, "command=FILE")
}

func TestContextFieldsMissing(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "text")

	InfoCtx(context.Background(), "no context here")

	out := buf.String()
	require.Contains(t, out, "no context here")
	assert.False(t, strings.Contains(out, "task_id"))
}

func TestSetLevelIgnoresInvalid(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "text")

	SetLevel("NOISY")
	Info("still info")
	assert.Contains(t, buf.String(), "still info")
}
