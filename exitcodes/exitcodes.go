// Package exitcodes defines the standard exit codes used by op-checks.
package exitcodes

// Exit code constants used by op-checks
// These constants define the exit codes that the application uses to indicate
// various states when it exits:
//
// * Success (0): Used when all selected sessions pass
// * SessionFailure (1): Used when a session's command exits non-zero
// * RuntimeErr (2): Used for runtime errors such as bad configuration or panics
const (
	Success        = 0 // All sessions pass
	SessionFailure = 1 // Session command failures
	RuntimeErr     = 2 // Runtime errors or broken toolchain contracts
)
