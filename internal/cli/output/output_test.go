package output

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in   string
		want Format
	}{
		{"", FormatTable},
		{"table", FormatTable},
		{"JSON", FormatJSON},
		{" yaml ", FormatYAML},
		{"yml", FormatYAML},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	_, err := ParseFormat("xml")
	assert.Error(t, err)
}

type taskTable struct{}

func (taskTable) Headers() []string { return []string{"TASK", "IP"} }
func (taskTable) Rows() [][]string {
	return [][]string{{"42", "192.168.56.101"}}
}

func TestPrintTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, PrintTable(&buf, taskTable{}))

	out := buf.String()
	assert.Contains(t, out, "TASK")
	assert.Contains(t, out, "192.168.56.101")
}

func TestKeyValueTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, KeyValueTable(&buf, [][2]string{
		{"Tasks", "3"},
		{"Sessions", "7"},
	}))

	out := buf.String()
	assert.Contains(t, out, "Tasks")
	assert.Contains(t, out, "7")
}

func TestPrintJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, PrintJSON(&buf, map[string]int{"tasks": 3}))
	assert.JSONEq(t, `{"tasks": 3}`, buf.String())
}

func TestPrintYAML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, PrintYAML(&buf, map[string]int{"tasks": 3}))
	assert.Equal(t, "tasks: 3\n", buf.String())
}
