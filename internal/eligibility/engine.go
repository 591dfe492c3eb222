// Package eligibility computes which voters still count for a gauge at an
// epoch. It discovers voters from the vote log index, reads their accounting
// through Multicall3 in halving batches, and applies the eligibility predicate
// uniformly over the decoded records.
package eligibility

import (
	"context"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gaugeworks/voteproofs/internal/config"
	"github.com/gaugeworks/voteproofs/internal/logging"
	"github.com/gaugeworks/voteproofs/internal/metrics"
	"github.com/gaugeworks/voteproofs/internal/registry"
	"github.com/gaugeworks/voteproofs/internal/util"
	"github.com/gaugeworks/voteproofs/internal/votes"
	"github.com/gaugeworks/voteproofs/pkg/types"
)

// Engine answers eligibility queries for one chain backend.
type Engine struct {
	backend  Backend
	index    votes.Index
	metrics  *metrics.Collector
	workers  int
	maxBatch int
}

// New wires an Engine from a chain backend and a vote index.
func New(backend Backend, index votes.Index, cfg *config.Config, collector *metrics.Collector) *Engine {
	workers := cfg.Eligibility.Workers
	if workers <= 0 {
		workers = 4
	}
	maxBatch := cfg.Eligibility.MaxBatchUsers
	if maxBatch <= 0 {
		maxBatch = 50
	}
	return &Engine{
		backend:  backend,
		index:    index,
		metrics:  collector,
		workers:  workers,
		maxBatch: maxBatch,
	}
}

// EligibleUsers lists every voter of the gauge that passes the eligibility
// predicate for the given epoch, reading vote accounting at the pinned block.
// The epoch is floored to the weekly boundary first. Per-user read failures
// are reported in the result, never as an error for the whole gauge.
func (e *Engine) EligibleUsers(ctx context.Context, protocol types.Protocol, gauge common.Address, epoch, block uint64) (*types.EligibilityResult, error) {
	layout, err := registry.LayoutFor(protocol)
	if err != nil {
		return nil, err
	}
	epoch = types.FloorEpoch(epoch)

	users, err := e.index.UsersWhoVoted(ctx, layout, gauge, block)
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return &types.EligibilityResult{}, nil
	}
	logging.Debug("computing eligibility",
		"protocol", string(protocol), "gauge", gauge.Hex(),
		"epoch", epoch, "voters", len(users))

	records, failures, err := e.readAll(ctx, layout, users, gauge, block)
	if err != nil {
		return nil, types.NewError("eligibility", types.ErrCodeRPCFailure,
			"reading vote accounting", err).
			WithProtocol(protocol).WithGauge(gauge).WithEpoch(epoch).WithBlock(block)
	}

	result := &types.EligibilityResult{Failures: failures}
	for _, rec := range records {
		slope, ok := evaluate(layout, rec, epoch)
		if !ok {
			continue
		}
		result.Users = append(result.Users, types.EligibleUser{
			User:           rec.User,
			LastVote:       rec.LastVote,
			EffectiveSlope: slope,
			Power:          rec.Power,
			End:            rec.End,
		})
	}
	sort.Slice(result.Users, func(i, j int) bool {
		return result.Users[i].User.Cmp(result.Users[j].User) < 0
	})
	return result, nil
}

// readAll fans the voter set out over bounded workers, one halving batch per
// worker slot, and reassembles records in input order.
func (e *Engine) readAll(ctx context.Context, layout registry.Layout, users []common.Address, gauge common.Address, block uint64) ([]types.VoteRecord, []types.UserFailure, error) {
	type span struct{ lo, hi int }
	var spans []span
	for lo := 0; lo < len(users); lo += e.maxBatch {
		hi := lo + e.maxBatch
		if hi > len(users) {
			hi = len(users)
		}
		spans = append(spans, span{lo, hi})
	}

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		firstErr error
		records  = make([]types.VoteRecord, len(users))
		failures []types.UserFailure
		sem      = make(chan struct{}, e.workers)
	)
	for _, s := range spans {
		s := s
		wg.Add(1)
		sem <- struct{}{}
		util.SafeGo("eligibility.batch", func() {
			defer wg.Done()
			defer func() { <-sem }()
			res, err := e.fetchRecords(ctx, layout, users[s.lo:s.hi], gauge, block)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				return
			}
			copy(records[s.lo:s.hi], res.records)
			failures = append(failures, res.failures...)
		})
	}
	wg.Wait()
	if firstErr != nil {
		return nil, nil, firstErr
	}
	return records, failures, nil
}

// evaluate applies the eligibility predicate to one decoded record. The
// returned slope is the one reward math should use: the bias value stands in
// for the slope on an infinite lock, which never decays.
func evaluate(layout registry.Layout, rec types.VoteRecord, epoch uint64) (*big.Int, bool) {
	ep := new(big.Int).SetUint64(epoch)
	if ep.Cmp(rec.LastVote) <= 0 {
		return nil, false
	}
	// the infinite-lock exception replaces only the slope clause; a vote cast
	// at or after the epoch stays ineligible regardless of lock end
	if layout.DecodeShape == registry.ShapeBias && rec.End.Cmp(types.MaxUint256) == 0 {
		if rec.Bias != nil && rec.Bias.Sign() > 0 {
			return rec.Bias, true
		}
		return nil, false
	}
	if ep.Cmp(rec.End) >= 0 {
		return nil, false
	}
	if rec.Slope.Sign() <= 0 {
		return nil, false
	}
	return rec.Slope, true
}
