package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalysisPath(t *testing.T) {
	assert.Equal(t, filepath.Join("/var/lib/sandtrap/analyses", "7"),
		AnalysisPath("/var/lib/sandtrap/analyses", 7))
}

func TestEnsureAnalysisDirs(t *testing.T) {
	root := t.TempDir()
	path := AnalysisPath(root, 42)

	require.NoError(t, EnsureAnalysisDirs(path))

	for _, dir := range ResultDirs {
		info, err := os.Stat(filepath.Join(path, dir))
		require.NoError(t, err, dir)
		assert.True(t, info.IsDir(), dir)
	}

	// Idempotent on a second call.
	require.NoError(t, EnsureAnalysisDirs(path))
}

func TestIsUploadable(t *testing.T) {
	for _, dir := range UploadableDirs {
		assert.True(t, IsUploadable(dir), dir)
	}
	assert.False(t, IsUploadable("reports"))
	assert.False(t, IsUploadable(""))
	assert.False(t, IsUploadable("Files"))
}
