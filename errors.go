package substrate

import "errors"

// Sentinel errors for the closed error-kind set. Wrap with fmt.Errorf
// ("...: %w", ErrX) and test with errors.Is.
var (
	ErrBackendUnavailable = errors.New("substrate: backend unavailable")
	ErrPersistence        = errors.New("substrate: persistence failure")
	ErrCorruptState       = errors.New("substrate: corrupt on-disk state")
	ErrNotFound           = errors.New("substrate: not found")
	ErrPatternMismatch    = errors.New("substrate: pattern/context mismatch")
	ErrDirectoryLocked    = errors.New("substrate: data directory locked by another process")
	ErrCancelled          = errors.New("substrate: cancelled")
	ErrConfigMissing      = errors.New("substrate: missing required configuration")
)
