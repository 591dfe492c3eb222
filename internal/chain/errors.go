package chain

import (
	"context"
	"errors"
	"strings"
)

// Node errors fall into three buckets with different handling:
// transient transport trouble (retry with backoff), deterministic reverts
// (a valid "absent" outcome, never retried), and missing history (the node
// cannot serve the block; the caller must pick another block).

var revertMarkers = []string{
	"execution reverted",
	"revert",
	"invalid opcode",
}

var missingHistoryMarkers = []string{
	"missing trie node",
	"header not found",
	"block not found",
	"state not available",
	"state is not available",
	"pruning",
	"distance to target block exceeds maximum proof window",
}

var transientMarkers = []string{
	"timeout",
	"deadline exceeded",
	"connection reset",
	"connection refused",
	"broken pipe",
	"too many requests",
	"rate limit",
	"429",
	"502",
	"503",
	"eof",
}

// IsRevert reports whether the node rejected the call deterministically.
func IsRevert(err error) bool {
	return matches(err, revertMarkers)
}

// IsMissingHistory reports whether the node cannot serve state for the
// requested block.
func IsMissingHistory(err error) bool {
	return matches(err, missingHistoryMarkers)
}

// IsTransient reports whether the failure is worth a timed retry. Reverts and
// missing history are never transient regardless of transport wrapping.
func IsTransient(err error) bool {
	if err == nil || IsRevert(err) || IsMissingHistory(err) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return matches(err, transientMarkers)
}

func matches(err error, markers []string) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, m := range markers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
