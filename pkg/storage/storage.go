// Package storage defines the on-disk layout of analysis directories.
//
// Each task owns one directory under the configured analyses root. The
// result server writes artifacts only into a fixed set of subdirectories,
// which doubles as the upload path whitelist.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// UploadableDirs are the subdirectories a VM agent may upload artifacts
// into. The set also acts as the path whitelist for uploads.
var UploadableDirs = []string{
	"files", "shots", "buffer", "extracted", "memory", "package_files", "logs",
}

// ResultDirs are all subdirectories created for an analysis. "reports" is
// written by post-processing, never by the VM agent.
var ResultDirs = append(append([]string{}, UploadableDirs...), "reports")

// IsUploadable reports whether dir is one of the whitelisted upload
// directories. Comparison is by exact string equality.
func IsUploadable(dir string) bool {
	for _, d := range UploadableDirs {
		if dir == d {
			return true
		}
	}
	return false
}

// AnalysisPath returns the storage directory for a task. This is the pure
// path computation; it does not touch the filesystem.
func AnalysisPath(root string, taskID int64) string {
	return filepath.Join(root, strconv.FormatInt(taskID, 10))
}

// EnsureAnalysisDirs creates the analysis directory for a task along with
// every result subdirectory. It is idempotent.
func EnsureAnalysisDirs(path string) error {
	for _, dir := range ResultDirs {
		if err := os.MkdirAll(filepath.Join(path, dir), 0755); err != nil {
			return fmt.Errorf("create analysis directory %s: %w", dir, err)
		}
	}
	return nil
}
