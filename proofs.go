package voteproofs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/gaugeworks/voteproofs/internal/logging"
	"github.com/gaugeworks/voteproofs/internal/proofenc"
	"github.com/gaugeworks/voteproofs/internal/registry"
	"github.com/gaugeworks/voteproofs/internal/slots"
	"github.com/gaugeworks/voteproofs/pkg/types"
)

// GetGaugeProof proves the gauge's point-weights storage for an epoch at a
// pinned block. The epoch is floored to the weekly boundary before the slot
// is derived.
func (e *Engine) GetGaugeProof(ctx context.Context, protocol types.Protocol, gauge common.Address, epoch, block uint64) (types.EncodedProof, error) {
	start := time.Now()
	layout, err := registry.LayoutFor(protocol)
	if err != nil {
		e.metrics.ObserveRequest("gauge_proof", string(protocol), "error", time.Since(start))
		return types.EncodedProof{}, err
	}
	if gauge == (common.Address{}) {
		e.metrics.ObserveRequest("gauge_proof", string(protocol), "error", time.Since(start))
		return types.EncodedProof{}, types.NewError("orchestrator", types.ErrCodeBadInput,
			"zero gauge address", nil).WithProtocol(protocol)
	}
	epoch = types.FloorEpoch(epoch)
	key := fmt.Sprintf("gauge|%s|%s|%d|%d", protocol, gauge.Hex(), epoch, block)

	proof, err := cached(e, key, func() (types.EncodedProof, error) {
		slot := slots.GaugeWeightSlot(layout.SlotRule, layout.PointWeightsSlot, gauge, epoch)
		return e.proveSlots(ctx, layout.Controller, []common.Hash{slot}, block)
	})
	e.metrics.ObserveRequest("gauge_proof", string(protocol), outcome(err), time.Since(start))
	if err != nil {
		return types.EncodedProof{}, decorate(err, protocol, gauge, epoch, block)
	}
	return proof, nil
}

// GetUserProof proves every storage slot of the user's vote accounting for a
// gauge: the last-vote timestamp plus the consecutive slope-struct slots, in
// that order.
func (e *Engine) GetUserProof(ctx context.Context, protocol types.Protocol, gauge, user common.Address, block uint64) (types.EncodedProof, error) {
	start := time.Now()
	layout, err := registry.LayoutFor(protocol)
	if err != nil {
		e.metrics.ObserveRequest("user_proof", string(protocol), "error", time.Since(start))
		return types.EncodedProof{}, err
	}
	if gauge == (common.Address{}) || user == (common.Address{}) {
		e.metrics.ObserveRequest("user_proof", string(protocol), "error", time.Since(start))
		return types.EncodedProof{}, types.NewError("orchestrator", types.ErrCodeBadInput,
			"zero gauge or user address", nil).WithProtocol(protocol)
	}
	key := fmt.Sprintf("user|%s|%s|%s|%d", protocol, gauge.Hex(), user.Hex(), block)

	proof, err := cached(e, key, func() (types.EncodedProof, error) {
		return e.proveSlots(ctx, layout.Controller, slots.UserSlots(layout, user, gauge), block)
	})
	e.metrics.ObserveRequest("user_proof", string(protocol), outcome(err), time.Since(start))
	if err != nil {
		err = decorate(err, protocol, gauge, 0, block)
		if de, ok := err.(*types.Error); ok {
			de.WithUser(user)
		}
		return types.EncodedProof{}, err
	}
	return proof, nil
}

// GetEligibleUsers computes the voters that still count for the gauge at the
// epoch, reading vote accounting pinned to block.
func (e *Engine) GetEligibleUsers(ctx context.Context, protocol types.Protocol, gauge common.Address, epoch, block uint64) (types.EligibilityResult, error) {
	start := time.Now()
	epoch = types.FloorEpoch(epoch)
	key := fmt.Sprintf("elig|%s|%s|%d|%d", protocol, gauge.Hex(), epoch, block)

	res, err := cached(e, key, func() (types.EligibilityResult, error) {
		r, err := e.elig.EligibleUsers(ctx, protocol, gauge, epoch, block)
		if err != nil {
			return types.EligibilityResult{}, err
		}
		return *r, nil
	})
	e.metrics.ObserveRequest("eligible_users", string(protocol), outcome(err), time.Since(start))
	if err != nil {
		return types.EligibilityResult{}, err
	}
	logging.Debug("eligibility computed", "protocol", string(protocol),
		"gauge", gauge.Hex(), "eligible", len(res.Users), "failed", len(res.Failures))
	return res, nil
}

// GetBlockInfo fetches a block header and its RLP encoding, the form oracle
// submissions carry alongside proofs.
func (e *Engine) GetBlockInfo(ctx context.Context, block uint64) (types.BlockInfo, error) {
	start := time.Now()
	key := fmt.Sprintf("block|%d", block)

	info, err := cached(e, key, func() (types.BlockInfo, error) {
		header, err := e.reader.HeaderByNumber(ctx, block)
		if err != nil {
			return types.BlockInfo{}, err
		}
		encoded, err := rlp.EncodeToBytes(header)
		if err != nil {
			return types.BlockInfo{}, types.NewError("orchestrator", types.ErrCodeRPCFailure,
				"encoding block header", err).WithBlock(block)
		}
		return types.BlockInfo{
			Number:    header.Number.Uint64(),
			Hash:      header.Hash(),
			Timestamp: header.Time,
			RLPHeader: encoded,
		}, nil
	})
	e.metrics.ObserveRequest("block_info", "", outcome(err), time.Since(start))
	return info, err
}

// proveSlots runs one eth_getProof for the account and re-frames the result.
func (e *Engine) proveSlots(ctx context.Context, account common.Address, slotKeys []common.Hash, block uint64) (types.EncodedProof, error) {
	raw, err := e.reader.GetProof(ctx, account, slotKeys, block)
	if err != nil {
		return types.EncodedProof{}, err
	}
	return proofenc.Encode(*raw)
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// decorate fills in request context on domain errors; foreign errors are
// wrapped so every public-surface failure carries the same shape.
func decorate(err error, protocol types.Protocol, gauge common.Address, epoch, block uint64) error {
	var de *types.Error
	if !errors.As(err, &de) {
		de = types.NewError("orchestrator", types.ErrCodeRPCFailure, "request failed", err)
	}
	de.WithProtocol(protocol).WithGauge(gauge).WithBlock(block)
	if epoch != 0 {
		de.WithEpoch(epoch)
	}
	return de
}
