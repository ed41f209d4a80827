//go:build !linux && !darwin

package logger

// isTerminal conservatively reports false on platforms without a detector,
// disabling color output.
func isTerminal(fd uintptr) bool {
	return false
}
