package resultserver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizePathAccepted(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"plain upload", "files/dropped.exe", "files/dropped.exe"},
		{"screenshot", "shots/0001.jpg", "shots/0001.jpg"},
		{"behavioral log", "logs/1234.bson", "logs/1234.bson"},
		{"windows separators", "files\\payload.dll", "files/payload.dll"},
		{"memory dump", "memory/2600-0.dmp", "memory/2600-0.dmp"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SanitizePath(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSanitizePathRejected(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"no directory", "loose.bin"},
		{"unknown directory", "reports/report.json"},
		{"traversal", "../../../etc/passwd"},
		{"traversal inside whitelist", "files/../../etc/passwd"},
		{"absolute", "/etc/passwd"},
		{"nul byte in name", "files/evil\x00.exe"},
		{"colon in name", "files/ntfs:ads"},
		{"empty", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := SanitizePath(tt.raw)
			require.ErrorIs(t, err, ErrPathRejected)
		})
	}
}

func TestSanitizePathNestedWhitelistDir(t *testing.T) {
	// Only one level below the whitelisted directory is allowed; the
	// directory component is matched by exact equality.
	_, err := SanitizePath("files/sub/dropped.exe")
	require.ErrorIs(t, err, ErrPathRejected)
}
