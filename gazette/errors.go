package gazette

import "errors"

var (
	// ErrConfig is returned by Config.Validate for unusable settings.
	ErrConfig = errors.New("gazette: invalid config")
	// ErrNotFound is returned by read methods for an unknown hash.
	ErrNotFound = errors.New("gazette: document not found")
)

// ErrInvalidArgument is returned by read methods for a missing or malformed
// argument.
var ErrInvalidArgument = errors.New("gazette: invalid argument")
