package eligibility

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gaugeworks/voteproofs/internal/chain"
	"github.com/gaugeworks/voteproofs/internal/logging"
	"github.com/gaugeworks/voteproofs/internal/registry"
	"github.com/gaugeworks/voteproofs/pkg/types"
)

const multicallJSON = `[
	{"name":"aggregate","type":"function","stateMutability":"payable",
	 "inputs":[{"name":"calls","type":"tuple[]","components":[
		{"name":"target","type":"address"},{"name":"callData","type":"bytes"}]}],
	 "outputs":[{"name":"blockNumber","type":"uint256"},{"name":"returnData","type":"bytes[]"}]}
]`

var multicallABI = mustABI(multicallJSON)

type mcCall struct {
	Target   common.Address
	CallData []byte
}

// Backend is the one chain read the engine needs.
type Backend interface {
	CallAt(ctx context.Context, to common.Address, data []byte, block uint64) ([]byte, error)
}

// aggregate runs the calls through Multicall3 at a pinned block. Multicall3's
// aggregate reverts the whole batch if any inner call reverts, which is what
// makes the halving search below converge on the offending user.
func aggregate(ctx context.Context, backend Backend, calls []chain.Call, block uint64) ([][]byte, error) {
	packed := make([]mcCall, len(calls))
	for i, c := range calls {
		packed[i] = mcCall{Target: c.To, CallData: c.Data}
	}
	data, err := multicallABI.Pack("aggregate", packed)
	if err != nil {
		return nil, err
	}
	ret, err := backend.CallAt(ctx, registry.Multicall3, data, block)
	if err != nil {
		return nil, err
	}
	vals, err := multicallABI.Unpack("aggregate", ret)
	if err != nil {
		return nil, fmt.Errorf("decode aggregate return: %w", err)
	}
	returns, ok := vals[1].([][]byte)
	if !ok || len(returns) != len(calls) {
		return nil, fmt.Errorf("aggregate returned %d blobs for %d calls", len(returns), len(calls))
	}
	return returns, nil
}

// batchResult carries what one halving branch produced.
type batchResult struct {
	records  []types.VoteRecord
	failures []types.UserFailure
}

// fetchRecords reads every user's vote accounting in one multicall, splitting
// the batch in half whenever it fails. A batch of one that still fails yields
// an all-zero record plus a recorded failure, so one broken user never sinks
// the rest of the gauge.
func (e *Engine) fetchRecords(ctx context.Context, layout registry.Layout, users []common.Address, gauge common.Address, block uint64) (batchResult, error) {
	if len(users) == 0 {
		return batchResult{}, nil
	}
	if err := ctx.Err(); err != nil {
		return batchResult{}, err
	}

	calls := make([]chain.Call, 0, len(users)*callsPerUser)
	for _, u := range users {
		uc, err := userCalls(layout, u, gauge)
		if err != nil {
			return batchResult{}, err
		}
		calls = append(calls, uc...)
	}

	returns, err := aggregate(ctx, e.backend, calls, block)
	if err != nil {
		if len(users) == 1 {
			e.metrics.PlaceholderUser()
			logging.Warn("vote read failed, zero placeholder recorded",
				"protocol", string(layout.Protocol), "user", users[0].Hex(), "err", err)
			if chain.IsRevert(err) {
				// a lone reverting read means the position holds nothing
				err = types.NewError("eligibility", types.ErrCodeAbsentRecord,
					"controller reverted the vote read", err).
					WithProtocol(layout.Protocol).WithUser(users[0]).WithBlock(block)
			}
			return batchResult{
				records:  []types.VoteRecord{types.ZeroVoteRecord(users[0])},
				failures: []types.UserFailure{{User: users[0], Err: err}},
			}, nil
		}
		if !chain.IsRevert(err) && ctx.Err() != nil {
			return batchResult{}, ctx.Err()
		}
		e.metrics.BatchSplit()
		mid := len(users) / 2
		left, err := e.fetchRecords(ctx, layout, users[:mid], gauge, block)
		if err != nil {
			return batchResult{}, err
		}
		right, err := e.fetchRecords(ctx, layout, users[mid:], gauge, block)
		if err != nil {
			return batchResult{}, err
		}
		return batchResult{
			records:  append(left.records, right.records...),
			failures: append(left.failures, right.failures...),
		}, nil
	}

	out := batchResult{records: make([]types.VoteRecord, 0, len(users))}
	for i, u := range users {
		rec, err := decodeRecord(layout, u, returns[i*callsPerUser:(i+1)*callsPerUser])
		if err != nil {
			e.metrics.PlaceholderUser()
			out.records = append(out.records, types.ZeroVoteRecord(u))
			out.failures = append(out.failures, types.UserFailure{User: u, Err: err})
			continue
		}
		out.records = append(out.records, rec)
	}
	return out, nil
}
