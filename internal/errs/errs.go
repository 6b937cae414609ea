// Package errs defines the named error kinds the orchestrator can
// return (spec §7), following the sentinel-plus-predicate convention
// used by the teacher's own libcalico-go/lib/errors package.
package errs

import "errors"

var (
	// ErrEmptyJumpIndex is returned when discovery finds no mutable
	// jumps at all; fatal per spec §7.
	ErrEmptyJumpIndex = errors.New("muttfuzz: target has no mutable jumps")

	// ErrAllSitesUnreachable is returned when the policy cannot find a
	// reachable site within the configured number of draws.
	ErrAllSitesUnreachable = errors.New("muttfuzz: all sites appear unreachable")

	// ErrDisassemblerMissing is returned when the configured
	// disassembler binary cannot be found in PATH.
	ErrDisassemblerMissing = errors.New("muttfuzz: disassembler not found")

	// ErrNoFunctionHeaders is returned when the disassembler produced
	// output but no function headers were found in it, per spec §9's
	// "fail fast" requirement.
	ErrNoFunctionHeaders = errors.New("muttfuzz: disassembler produced no function headers")

	// ErrMissingEntryOffset is the fatal internal error surfaced when a
	// plan references a function absent from the entry-offset map
	// (spec §9 Open Question).
	ErrMissingEntryOffset = errors.New("muttfuzz: function referenced by plan is missing from entry-offset map")
)

// Is reports whether err (or any error it wraps) matches target,
// delegating to errors.Is so callers can classify a wrapped error from
// deep inside the orchestrator without string matching.
func Is(err, target error) bool {
	return errors.Is(err, target)
}
