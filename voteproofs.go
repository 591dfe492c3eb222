// Package voteproofs generates storage proofs and voter-eligibility sets for
// vote-incentive markets on EVM gauge controllers. It derives the controller
// storage slots a weekly vote lives in, fetches eth_getProof branches pinned
// to a block, re-frames them for on-chain oracle verification, and computes
// which voters still count for a gauge at an epoch.
package voteproofs

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/gaugeworks/voteproofs/internal/chain"
	"github.com/gaugeworks/voteproofs/internal/config"
	"github.com/gaugeworks/voteproofs/internal/eligibility"
	"github.com/gaugeworks/voteproofs/internal/logging"
	"github.com/gaugeworks/voteproofs/internal/metrics"
	"github.com/gaugeworks/voteproofs/internal/votes"
	"github.com/gaugeworks/voteproofs/pkg/types"
)

// mainnetChainID: every supported controller lives on Ethereum mainnet.
const mainnetChainID = 1

// Reader is the chain access the engine needs. *chain.Client satisfies it;
// tests substitute scripted readers.
type Reader interface {
	HeaderByNumber(ctx context.Context, block uint64) (*gethtypes.Header, error)
	GetProof(ctx context.Context, account common.Address, slotKeys []common.Hash, block uint64) (*types.RawProof, error)
	CallAt(ctx context.Context, to common.Address, data []byte, block uint64) ([]byte, error)
	BatchCallAt(ctx context.Context, calls []chain.Call, block uint64) ([]chain.CallResult, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]gethtypes.Log, error)
}

// Engine is the proof orchestrator. Safe for concurrent use; independent
// requests proceed in parallel and identical requests hit the cache.
type Engine struct {
	cfg     *config.Config
	reader  Reader
	index   votes.Index
	elig    *eligibility.Engine
	metrics *metrics.Collector
	cache   *lru.Cache[string, any]

	closeReader func()
}

// Option adjusts engine construction.
type Option func(*Engine)

// WithReader injects a chain reader instead of dialing the configured
// endpoint. The caller keeps ownership; Close will not touch it.
func WithReader(r Reader) Option {
	return func(e *Engine) { e.reader = r }
}

// WithVoteIndex substitutes the voter-discovery collaborator, for callers
// that maintain an external vote index.
func WithVoteIndex(idx votes.Index) Option {
	return func(e *Engine) { e.index = idx }
}

// WithCollector shares a metrics collector with the host process.
func WithCollector(c *metrics.Collector) Option {
	return func(e *Engine) { e.metrics = c }
}

// New builds an Engine from configuration. Without WithReader it dials the
// mainnet endpoint from the environment.
func New(cfg *config.Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	logging.Configure(nil, cfg.Log.Format, cfg.Log.Level)

	e := &Engine{cfg: cfg}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = metrics.New()
	}
	if e.reader == nil {
		url, err := cfg.Endpoint(mainnetChainID)
		if err != nil {
			return nil, err
		}
		client, err := chain.Dial(context.Background(), url, cfg, e.metrics)
		if err != nil {
			return nil, err
		}
		e.reader = client
		e.closeReader = client.Close
	}
	if e.index == nil {
		e.index = votes.NewLogIndex(e.reader, cfg.Eligibility.LogChunkSize, cfg.Eligibility.Workers)
	}
	e.elig = eligibility.New(e.reader, e.index, cfg, e.metrics)

	cache, err := lru.New[string, any](cfg.Cache.Entries)
	if err != nil {
		return nil, err
	}
	e.cache = cache
	return e, nil
}

// Close releases the dialed RPC client, if the engine owns one.
func (e *Engine) Close() {
	if e.closeReader != nil {
		e.closeReader()
	}
}

// Metrics exposes the engine's collector for exposition wiring.
func (e *Engine) Metrics() *metrics.Collector { return e.metrics }

// cached runs fn once per key; repeat requests for identical inputs return
// the stored result. Failures are never cached.
func cached[T any](e *Engine, key string, fn func() (T, error)) (T, error) {
	if v, ok := e.cache.Get(key); ok {
		if typed, ok := v.(T); ok {
			e.metrics.CacheHit()
			return typed, nil
		}
	}
	e.metrics.CacheMiss()
	out, err := fn()
	if err != nil {
		return out, err
	}
	e.cache.Add(key, out)
	return out, nil
}
