package resultserver

import "errors"

// Sentinel errors for per-connection protocol failures. Each one closes the
// offending connection; none of them escapes the session boundary.
var (
	// ErrPathRejected indicates a client-supplied artifact path outside the
	// whitelisted upload directories or containing banned bytes.
	ErrPathRejected = errors.New("banned artifact path requested")

	// ErrLineTooLong indicates a framing line exceeding MaxLineLen without a
	// newline.
	ErrLineTooLong = errors.New("received overly long line")

	// ErrOverwrite indicates an upload targeting an artifact path that
	// already exists. Artifacts are write-once.
	ErrOverwrite = errors.New("attempted to overwrite an existing artifact")
)
