package types

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ErrorCode classifies every failure a public operation can report.
type ErrorCode string

const (
	// ErrCodeUnknownProtocol: no layout registered for the protocol. Fatal,
	// never retried.
	ErrCodeUnknownProtocol ErrorCode = "unknown_protocol"
	// ErrCodeProofUnavailable: the node cannot produce a proof for the
	// requested block (outside retained history). Not retryable; the caller
	// must supply a different block.
	ErrCodeProofUnavailable ErrorCode = "proof_unavailable"
	// ErrCodeDataUnavailable: no historical vote index exists at or before
	// the requested block.
	ErrCodeDataUnavailable ErrorCode = "data_unavailable"
	// ErrCodeRPCFailure: transient node failure after retry exhaustion.
	ErrCodeRPCFailure ErrorCode = "rpc_failure"
	// ErrCodeAbsentRecord: a read reverted because the position genuinely has
	// no record. A valid "ineligible" outcome for callers that treat it so.
	ErrCodeAbsentRecord ErrorCode = "absent_record"
	// ErrCodeBadInput: malformed caller input (zero address, bad hex).
	ErrCodeBadInput ErrorCode = "bad_input"
)

// ErrorContext pins a failure to the query that produced it.
type ErrorContext struct {
	Protocol Protocol
	Gauge    common.Address
	User     common.Address
	Epoch    uint64
	Block    uint64
}

// Error is the structured failure every public operation returns. Source
// names the component that failed, Code classifies the failure, Context
// carries the query coordinates.
type Error struct {
	Code    ErrorCode
	Source  string
	Message string
	Context ErrorContext
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s [%s]", e.Source, e.Message, e.Code)
	if e.Context.Protocol != "" {
		fmt.Fprintf(&b, " protocol=%s", e.Context.Protocol)
	}
	if e.Context.Gauge != (common.Address{}) {
		fmt.Fprintf(&b, " gauge=%s", e.Context.Gauge.Hex())
	}
	if e.Context.User != (common.Address{}) {
		fmt.Fprintf(&b, " user=%s", e.Context.User.Hex())
	}
	if e.Context.Epoch != 0 {
		fmt.Fprintf(&b, " epoch=%d", e.Context.Epoch)
	}
	if e.Context.Block != 0 {
		fmt.Fprintf(&b, " block=%d", e.Context.Block)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is match on code: errors.Is(err, &types.Error{Code: c}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code && (t.Source == "" || t.Source == e.Source)
}

// NewError builds a structured error. Context fields are attached with the
// With* chain to keep call sites short.
func NewError(source string, code ErrorCode, msg string, wrapped error) *Error {
	return &Error{Code: code, Source: source, Message: msg, Err: wrapped}
}

// WithProtocol attaches the protocol to the error context.
func (e *Error) WithProtocol(p Protocol) *Error { e.Context.Protocol = p; return e }

// WithGauge attaches the gauge address to the error context.
func (e *Error) WithGauge(g common.Address) *Error { e.Context.Gauge = g; return e }

// WithUser attaches the user address to the error context.
func (e *Error) WithUser(u common.Address) *Error { e.Context.User = u; return e }

// WithEpoch attaches the epoch to the error context.
func (e *Error) WithEpoch(epoch uint64) *Error { e.Context.Epoch = epoch; return e }

// WithBlock attaches the block number to the error context.
func (e *Error) WithBlock(block uint64) *Error { e.Context.Block = block; return e }

// CodeOf extracts the ErrorCode of an error chain, or "" if it carries none.
func CodeOf(err error) ErrorCode {
	var domain *Error
	for err != nil {
		if d, ok := err.(*Error); ok {
			domain = d
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	if domain == nil {
		return ""
	}
	return domain.Code
}
