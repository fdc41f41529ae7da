package env

import "errors"

// Startup error categories. Structural initialization failures are
// reported through these sentinels (wrapped with context); transient
// resource exhaustion is reported by boolean/nil returns instead.
var (
	// ErrAllocationFailure indicates native memory for GC bookkeeping
	// could not be obtained.
	ErrAllocationFailure = errors.New("gc: allocation failure")

	// ErrInitializationError indicates a subsystem failed to construct
	// (option validation, option file loading, dispatcher construction).
	ErrInitializationError = errors.New("gc: initialization error")

	// ErrThreadStartFailure indicates a GC thread could not be started.
	ErrThreadStartFailure = errors.New("gc: thread start failure")

	// ErrUnsupportedPlatform indicates the host runtime interface
	// version or platform is outside the supported range.
	ErrUnsupportedPlatform = errors.New("gc: unsupported platform")
)
