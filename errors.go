package raft

import "github.com/pkg/errors"

// Code is one of the stable, small integer error codes from the
// specification's external error taxonomy. It lets callers (and the
// reference transport, which must serialize errors across the wire)
// switch on error identity without depending on message text.
type Code int

const (
	CodeOK Code = iota
	CodeShutdown
	CodeIOErr
	CodeNotLeader
	CodeLeadershipLost
	CodeDuplicateID
	CodeUnknownID
	CodeBadState
	CodeConfigBusy
	CodeInternal
)

func (c Code) String() string {
	switch c {
	case CodeOK:
		return "ok"
	case CodeShutdown:
		return "shutdown"
	case CodeIOErr:
		return "io_err"
	case CodeNotLeader:
		return "not_leader"
	case CodeLeadershipLost:
		return "leadership_lost"
	case CodeDuplicateID:
		return "duplicate_id"
	case CodeUnknownID:
		return "unknown_id"
	case CodeBadState:
		return "bad_state"
	case CodeConfigBusy:
		return "config_busy"
	case CodeInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// codedError pairs a stable Code with a message, the way the C core's
// small integer error set would be represented in Go: callers compare via
// errors.Is against the package sentinels below, not via string matching.
type codedError struct {
	code Code
	msg  string
}

func (e *codedError) Error() string { return e.msg }

func newCodedError(code Code, msg string) error {
	return &codedError{code: code, msg: msg}
}

// CodeOf extracts the stable error code from err, or CodeInternal if err
// was not produced by this package.
func CodeOf(err error) Code {
	if err == nil {
		return CodeOK
	}
	var ce *codedError
	if errors.As(err, &ce) {
		return ce.code
	}
	return CodeInternal
}

// Client-visible precondition failures (§7 kind 3): returned from the
// originating operation, no state change.
var (
	ErrNotLeader       = newCodedError(CodeNotLeader, "raft: not the leader")
	ErrLeadershipLost  = newCodedError(CodeLeadershipLost, "raft: leadership lost during replication")
	ErrDuplicateID     = newCodedError(CodeDuplicateID, "raft: duplicate server id")
	ErrUnknownID       = newCodedError(CodeUnknownID, "raft: unknown server id")
	ErrInvalidConfig   = newCodedError(CodeBadState, "raft: configuration would have no voting members")
	ErrConfigBusy      = newCodedError(CodeConfigBusy, "raft: a configuration change is already in flight")
	ErrBadState        = newCodedError(CodeBadState, "raft: operation not valid in the current role")
	ErrIndexOutOfRange = newCodedError(CodeInternal, "raft: log index out of range")
	// ErrIndexIsCompacted is the sentinel spec.md §4.2 calls for: callers
	// asking about an index below Log.FirstIndex() must fall back to the
	// snapshot's last_included_{index,term} instead of treating this as a
	// hard failure.
	ErrIndexIsCompacted = newCodedError(CodeInternal, "raft: log index has been compacted into a snapshot")
)

// Protocol-detected corruption (§7 kind 1): the engine enters Unavailable
// and returns this error from every subsequent operation.
var ErrShutdown = newCodedError(CodeShutdown, "raft: engine shut down after detecting a protocol invariant violation")

// ErrIO wraps a transient I/O failure (§7 kind 2) reported through
// AppendDone/SendDone or surfaced from an incoming-RPC handler whose own
// append failed.
func ErrIO(cause error) error {
	return errors.Wrap(newCodedError(CodeIOErr, "raft: i/o failure"), cause.Error())
}

// internalf wraps an assertion-adjacent invariant violation (§7 kind 4)
// with a stack trace, the way a production core would annotate a bug
// report rather than silently continuing.
func internalf(format string, args ...interface{}) error {
	return errors.Wrapf(newCodedError(CodeInternal, "raft: internal invariant violated"), format, args...)
}
