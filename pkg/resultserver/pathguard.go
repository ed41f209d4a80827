package resultserver

import (
	"fmt"
	"strings"

	"github.com/sandtrap-io/sandtrap/pkg/storage"
)

// Bytes that must never appear in an artifact filename. NUL invites C API
// confusion in downstream tooling; the colon names NTFS alternate data
// streams.
const bannedPathChars = "\x00:"

// SanitizePath validates an agent-provided relative artifact path and
// returns it in canonical form (forward slashes).
//
// The parent directory component must be exactly one of the whitelisted
// upload directories; no other normalization is applied. A ".." that
// survives the whitelist comparison cannot escape, because the comparison
// is by string equality against fixed names.
func SanitizePath(raw string) (string, error) {
	path := strings.ReplaceAll(raw, "\\", "/")

	dir, name := splitLast(path)
	if !storage.IsUploadable(dir) {
		return "", fmt.Errorf("%w: %q", ErrPathRejected, raw)
	}
	if strings.ContainsAny(name, bannedPathChars) {
		return "", fmt.Errorf("%w: %q", ErrPathRejected, raw)
	}
	return path, nil
}

// splitLast splits a slash path into its directory part and final element.
func splitLast(path string) (dir, name string) {
	i := strings.LastIndex(path, "/")
	if i < 0 {
		return "", path
	}
	return path[:i], path[i+1:]
}
