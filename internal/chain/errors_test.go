package chain

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestIsRevert(t *testing.T) {
	if !IsRevert(errors.New("execution reverted")) {
		t.Error("plain revert not detected")
	}
	if !IsRevert(fmt.Errorf("call failed: %w", errors.New("execution reverted: no active vote"))) {
		t.Error("wrapped revert not detected")
	}
	if IsRevert(errors.New("connection reset by peer")) {
		t.Error("transport error misread as revert")
	}
}

func TestIsMissingHistory(t *testing.T) {
	for _, msg := range []string{
		"missing trie node 1d4a…",
		"required historical state unavailable: pruning threshold exceeded",
		"header not found",
	} {
		if !IsMissingHistory(errors.New(msg)) {
			t.Errorf("%q not detected as missing history", msg)
		}
	}
	if IsMissingHistory(errors.New("execution reverted")) {
		t.Error("revert misread as missing history")
	}
}

func TestIsTransient(t *testing.T) {
	for _, msg := range []string{
		"read tcp: connection reset by peer",
		"429 Too Many Requests",
		"i/o timeout",
		"unexpected EOF",
	} {
		if !IsTransient(errors.New(msg)) {
			t.Errorf("%q should be transient", msg)
		}
	}

	// classified failures are final even when the transport message around
	// them looks flaky
	if IsTransient(errors.New("timeout waiting for response: execution reverted")) {
		t.Error("revert wrapped in timeout text must not retry")
	}
	if IsTransient(errors.New("retry budget: missing trie node")) {
		t.Error("missing history must not retry")
	}
	if IsTransient(context.Canceled) {
		t.Error("caller cancellation must not retry")
	}
	if IsTransient(nil) {
		t.Error("nil is not transient")
	}
}
