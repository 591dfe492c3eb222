// Package chain is the read-only EVM JSON-RPC access layer: headers, state
// proofs, single and batched calls. Every request is rate limited and retried
// with bounded backoff; failures come back classified so callers never guess
// whether to retry.
package chain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"golang.org/x/time/rate"

	"github.com/gaugeworks/voteproofs/internal/config"
	"github.com/gaugeworks/voteproofs/internal/logging"
	"github.com/gaugeworks/voteproofs/internal/metrics"
	"github.com/gaugeworks/voteproofs/internal/util"
	"github.com/gaugeworks/voteproofs/pkg/types"
)

// Call is one read call in a batch.
type Call struct {
	To   common.Address
	Data []byte
}

// CallResult pairs a batch item's return data with its own error, so one
// failing item never erases the rest of the batch.
type CallResult struct {
	Data []byte
	Err  error
}

// Client wraps one chain's JSON-RPC endpoint.
type Client struct {
	rpc     *rpc.Client
	eth     *ethclient.Client
	limiter *rate.Limiter
	backoff util.Backoff
	timeout time.Duration
	metrics *metrics.Collector
}

// Dial connects a Client using the service configuration. The metrics
// collector may be nil.
func Dial(ctx context.Context, url string, cfg *config.Config, collector *metrics.Collector) (*Client, error) {
	rc, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return NewClient(rc, cfg, collector), nil
}

// NewClient builds a Client around an existing RPC connection.
func NewClient(rc *rpc.Client, cfg *config.Config, collector *metrics.Collector) *Client {
	return &Client{
		rpc:     rc,
		eth:     ethclient.NewClient(rc),
		limiter: rate.NewLimiter(rate.Limit(cfg.RPC.RatePerSecond), cfg.RPC.RateBurst),
		backoff: util.Backoff{
			MaxAttempts: cfg.Retry.MaxAttempts,
			BaseDelay:   time.Duration(cfg.Retry.BaseDelayMS) * time.Millisecond,
			MaxDelay:    time.Duration(cfg.Retry.MaxDelayMS) * time.Millisecond,
			Multiplier:  2.0,
			Jitter:      0.1,
		},
		timeout: cfg.RequestTimeout(),
		metrics: collector,
	}
}

// Close releases the underlying connection.
func (c *Client) Close() {
	c.rpc.Close()
}

// do runs one RPC operation through the rate limiter and retry policy.
// Reverts and missing-history errors are permanent; everything transient is
// retried until the backoff gives up.
func (c *Client) do(ctx context.Context, method string, op func(context.Context) error) error {
	attempt := 0
	err := c.backoff.Retry(ctx, func() error {
		attempt++
		if attempt > 1 {
			if c.metrics != nil {
				c.metrics.RPCRetry()
			}
			logging.Debug("retrying rpc call", "method", method, "attempt", attempt)
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return util.MarkPermanent(err)
		}
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		err := op(callCtx)
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return util.MarkPermanent(err)
		}
		return err
	})
	if c.metrics != nil {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		c.metrics.ObserveRPC(method, outcome)
	}
	return err
}

// HeaderByNumber fetches a block header.
func (c *Client) HeaderByNumber(ctx context.Context, block uint64) (*gethtypes.Header, error) {
	var header *gethtypes.Header
	err := c.do(ctx, "eth_getBlockByNumber", func(ctx context.Context) error {
		h, err := c.eth.HeaderByNumber(ctx, new(big.Int).SetUint64(block))
		if err != nil {
			return err
		}
		header = h
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("header %d: %w", block, err)
	}
	return header, nil
}

// GetProof fetches the account and storage branches for the given slots at a
// block. A node that no longer retains state for the block yields
// ErrCodeProofUnavailable; the caller must choose a different block, the
// failure is never papered over with a substitute block.
func (c *Client) GetProof(ctx context.Context, account common.Address, slotKeys []common.Hash, block uint64) (*types.RawProof, error) {
	slots := make([]string, len(slotKeys))
	for i, s := range slotKeys {
		slots[i] = s.Hex()
	}
	var proof types.RawProof
	err := c.do(ctx, "eth_getProof", func(ctx context.Context) error {
		return c.rpc.CallContext(ctx, &proof, "eth_getProof",
			account, slots, hexutil.Uint64(block))
	})
	if err != nil {
		if IsMissingHistory(err) {
			return nil, types.NewError("chain", types.ErrCodeProofUnavailable,
				"node cannot produce a proof for this block", err).WithBlock(block)
		}
		return nil, types.NewError("chain", types.ErrCodeRPCFailure,
			"eth_getProof failed", err).WithBlock(block)
	}
	if len(proof.AccountProof) == 0 {
		return nil, types.NewError("chain", types.ErrCodeProofUnavailable,
			"node returned an empty account branch", nil).WithBlock(block)
	}
	return &proof, nil
}

// CallAt executes one read call at a block. Block 0 means latest.
func (c *Client) CallAt(ctx context.Context, to common.Address, data []byte, block uint64) ([]byte, error) {
	msg := ethereum.CallMsg{To: &to, Data: data}
	var at *big.Int
	if block != 0 {
		at = new(big.Int).SetUint64(block)
	}
	var out []byte
	err := c.do(ctx, "eth_call", func(ctx context.Context) error {
		b, err := c.eth.CallContract(ctx, msg, at)
		if err != nil {
			return err
		}
		out = b
		return nil
	})
	return out, err
}

// FilterLogs fetches logs matching the query.
func (c *Client) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]gethtypes.Log, error) {
	var logs []gethtypes.Log
	err := c.do(ctx, "eth_getLogs", func(ctx context.Context) error {
		l, err := c.eth.FilterLogs(ctx, q)
		if err != nil {
			return err
		}
		logs = l
		return nil
	})
	return logs, err
}

// BatchCallAt executes many read calls in one JSON-RPC round trip. Items fail
// independently; the slice always has one result per call. Block 0 means
// latest.
func (c *Client) BatchCallAt(ctx context.Context, calls []Call, block uint64) ([]CallResult, error) {
	if len(calls) == 0 {
		return nil, nil
	}
	blockTag := "latest"
	if block != 0 {
		blockTag = hexutil.EncodeUint64(block)
	}
	elems := make([]rpc.BatchElem, len(calls))
	outs := make([]hexutil.Bytes, len(calls))
	for i, call := range calls {
		elems[i] = rpc.BatchElem{
			Method: "eth_call",
			Args: []interface{}{
				map[string]interface{}{
					"to":   call.To,
					"data": hexutil.Bytes(call.Data),
				},
				blockTag,
			},
			Result: &outs[i],
		}
	}
	err := c.do(ctx, "eth_call(batch)", func(ctx context.Context) error {
		return c.rpc.BatchCallContext(ctx, elems)
	})
	if err != nil {
		return nil, err
	}
	results := make([]CallResult, len(calls))
	for i := range elems {
		results[i] = CallResult{Data: outs[i], Err: elems[i].Error}
	}
	return results, nil
}
