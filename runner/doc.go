// Package runner provides components for executing check sessions in a structured, organized manner.
//
// The main components are:
//   - SessionRunner: Runs the selected sessions in registry order and aggregates their results
//   - Executor: Handles individual command execution, streaming or capturing child process output
//   - CmdBuilder: Abstracts process creation so tests can substitute fake commands
//
// Each session kind maps to a fixed command plan (installs, builders, checkers
// or the coverage pipeline). A failing child process marks the session failed
// and aborts the remaining sessions; orchestration errors are surfaced
// separately so they can map to a distinct exit code.
package runner
