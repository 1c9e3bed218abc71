package coverage

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ObjectFlag is the marker token preceding each test binary path in the
// coverage export argument list.
const ObjectFlag = "-object"

// Build message lines can be large; raise the scanner limit well past the
// bufio default.
const maxMessageLine = 4 * 1024 * 1024

// InvariantViolationError reports a build message whose shape contradicts the
// toolchain contract. It is fatal: guessing which binary to sample would
// produce a silently wrong coverage report.
type InvariantViolationError struct {
	Detail string
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("invariant violation: %s", e.Detail)
}

// IsInvariantViolation checks if the error is or wraps an InvariantViolationError
func IsInvariantViolation(err error) bool {
	var invErr *InvariantViolationError
	return err != nil && errors.As(err, &invErr)
}

// buildMessage mirrors the fields consumed from the compiler's JSON build
// messages. Pointer fields distinguish absent keys from zero values.
type buildMessage struct {
	Profile   *buildProfile `json:"profile"`
	Filenames []string      `json:"filenames"`
}

type buildProfile struct {
	Test *bool `json:"test"`
}

// ParseBuildMessages scans a newline-delimited JSON build message stream and
// returns the export arguments for every compiled test binary: the ObjectFlag
// marker followed by the binary path, in stream order.
//
// The stream interleaves heterogeneous records, so lines that fail to decode
// or lack the profile or filenames fields are skipped. A test-profile record
// must name exactly one artifact; any other count aborts parsing.
func ParseBuildMessages(r io.Reader) ([]string, error) {
	var objects []string

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxMessageLine)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var msg buildMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			// Not a JSON record. Compilers mix human-readable
			// diagnostics into the stream.
			continue
		}
		if msg.Profile == nil || msg.Profile.Test == nil {
			continue
		}
		if !*msg.Profile.Test {
			continue
		}
		if msg.Filenames == nil {
			continue
		}
		if len(msg.Filenames) != 1 {
			return nil, &InvariantViolationError{
				Detail: fmt.Sprintf("test-profile build message names %d artifacts, want exactly 1", len(msg.Filenames)),
			}
		}
		objects = append(objects, ObjectFlag, msg.Filenames[0])
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan build messages: %w", err)
	}

	return objects, nil
}
