package voteproofs

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/gaugeworks/voteproofs/internal/chain"
	"github.com/gaugeworks/voteproofs/internal/registry"
	"github.com/gaugeworks/voteproofs/pkg/types"
)

const validationJSON = `[
	{"name":"gauge_types","type":"function","stateMutability":"view",
	 "inputs":[{"name":"gauge","type":"address"}],"outputs":[{"name":"","type":"int128"}]},
	{"name":"getAllActivePools","type":"function","stateMutability":"view",
	 "inputs":[],"outputs":[{"name":"","type":"address[]"}]},
	{"name":"n_gauges","type":"function","stateMutability":"view",
	 "inputs":[],"outputs":[{"name":"","type":"int128"}]},
	{"name":"gauges","type":"function","stateMutability":"view",
	 "inputs":[{"name":"i","type":"uint256"}],"outputs":[{"name":"","type":"address"}]}
]`

var validationABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(validationJSON))
	if err != nil {
		panic(err)
	}
	return parsed
}()

// IsValidGauge reports whether the controller knows the gauge. Validation is
// fail-closed: a probe that cannot complete returns (false, err), never an
// assumed yes. Known-valid gauges are cached; validity is never revoked on
// chain, so positive answers stay cached.
func (e *Engine) IsValidGauge(ctx context.Context, protocol types.Protocol, gauge common.Address) (bool, error) {
	layout, err := registry.LayoutFor(protocol)
	if err != nil {
		return false, err
	}
	key := fmt.Sprintf("valid|%s|%s", protocol, gauge.Hex())
	if v, ok := e.cache.Get(key); ok {
		if valid, ok := v.(bool); ok && valid {
			e.metrics.CacheHit()
			return true, nil
		}
	}

	var valid bool
	switch layout.DecodeShape {
	case registry.ShapePendle:
		valid, err = e.gaugeInSet(ctx, layout, gauge, e.activePools)
	case registry.ShapeBias:
		valid, err = e.gaugeInSet(ctx, layout, gauge, e.enumeratedGauges)
	default:
		valid, err = e.probeGaugeType(ctx, layout, gauge)
	}
	if err != nil {
		return false, decorate(err, protocol, gauge, 0, 0)
	}
	if valid {
		e.cache.Add(key, true)
	}
	return valid, nil
}

// probeGaugeType asks gauge_types(gauge); the controller reverts for an
// address it has never registered.
func (e *Engine) probeGaugeType(ctx context.Context, layout registry.Layout, gauge common.Address) (bool, error) {
	data, err := validationABI.Pack("gauge_types", gauge)
	if err != nil {
		return false, err
	}
	if _, err := e.reader.CallAt(ctx, layout.Controller, data, 0); err != nil {
		if chain.IsRevert(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// gaugeInSet checks membership in a fetched gauge set. The set snapshot is
// cached; a miss refetches once before answering no, so a gauge added since
// the snapshot is not rejected on stale data.
func (e *Engine) gaugeInSet(ctx context.Context, layout registry.Layout, gauge common.Address, fetch func(context.Context, registry.Layout) (map[common.Address]struct{}, error)) (bool, error) {
	key := fmt.Sprintf("gaugeset|%s", layout.Protocol)
	if v, ok := e.cache.Get(key); ok {
		if set, ok := v.(map[common.Address]struct{}); ok {
			if _, member := set[gauge]; member {
				e.metrics.CacheHit()
				return true, nil
			}
		}
	}
	set, err := fetch(ctx, layout)
	if err != nil {
		return false, err
	}
	e.cache.Add(key, set)
	_, member := set[gauge]
	return member, nil
}

// activePools fetches Pendle's active pool list in one call.
func (e *Engine) activePools(ctx context.Context, layout registry.Layout) (map[common.Address]struct{}, error) {
	data, err := validationABI.Pack("getAllActivePools")
	if err != nil {
		return nil, err
	}
	ret, err := e.reader.CallAt(ctx, layout.Controller, data, 0)
	if err != nil {
		return nil, err
	}
	vals, err := validationABI.Unpack("getAllActivePools", ret)
	if err != nil {
		return nil, fmt.Errorf("decode pool list: %w", err)
	}
	pools, ok := vals[0].([]common.Address)
	if !ok {
		return nil, fmt.Errorf("pool list decoded to %T", vals[0])
	}
	set := make(map[common.Address]struct{}, len(pools))
	for _, p := range pools {
		set[p] = struct{}{}
	}
	return set, nil
}

// enumeratedGauges reads gauges(0..n_gauges-1). The controller exposes no
// list call, so every index is read, batched into one round trip.
func (e *Engine) enumeratedGauges(ctx context.Context, layout registry.Layout) (map[common.Address]struct{}, error) {
	countData, err := validationABI.Pack("n_gauges")
	if err != nil {
		return nil, err
	}
	ret, err := e.reader.CallAt(ctx, layout.Controller, countData, 0)
	if err != nil {
		return nil, err
	}
	if len(ret) < 32 {
		return nil, fmt.Errorf("n_gauges returned %d bytes", len(ret))
	}
	count := new(big.Int).SetBytes(ret[:32])
	if !count.IsUint64() {
		return nil, fmt.Errorf("implausible gauge count %s", count)
	}

	calls := make([]chain.Call, count.Uint64())
	for i := range calls {
		data, err := validationABI.Pack("gauges", new(big.Int).SetInt64(int64(i)))
		if err != nil {
			return nil, err
		}
		calls[i] = chain.Call{To: layout.Controller, Data: data}
	}
	results, err := e.reader.BatchCallAt(ctx, calls, 0)
	if err != nil {
		return nil, err
	}

	set := make(map[common.Address]struct{}, len(results))
	for i, res := range results {
		if res.Err != nil {
			return nil, fmt.Errorf("gauges(%d): %w", i, res.Err)
		}
		if len(res.Data) < 32 {
			return nil, fmt.Errorf("gauges(%d) returned %d bytes", i, len(res.Data))
		}
		set[common.BytesToAddress(res.Data[12:32])] = struct{}{}
	}
	return set, nil
}
