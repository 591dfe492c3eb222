package eligibility

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/gaugeworks/voteproofs/internal/chain"
	"github.com/gaugeworks/voteproofs/internal/registry"
	"github.com/gaugeworks/voteproofs/pkg/types"
)

// Call data is built from real ABIs so the selectors are derived, not pasted.
// Return data is decoded word-wise below: every controller read used here
// returns only statically encoded words, and decoding them positionally keeps
// the per-shape tuple layout confined to decodeRecord.
const (
	controllerJSON = `[
		{"name":"last_user_vote","type":"function","stateMutability":"view",
		 "inputs":[{"name":"user","type":"address"},{"name":"gauge","type":"address"}],"outputs":[]},
		{"name":"vote_user_slopes","type":"function","stateMutability":"view",
		 "inputs":[{"name":"user","type":"address"},{"name":"gauge","type":"address"}],"outputs":[]},
		{"name":"getUserPoolVote","type":"function","stateMutability":"view",
		 "inputs":[{"name":"user","type":"address"},{"name":"pool","type":"address"}],"outputs":[]}
	]`
	veTokenJSON = `[
		{"name":"positionData","type":"function","stateMutability":"view",
		 "inputs":[{"name":"user","type":"address"}],"outputs":[]}
	]`
)

var (
	controllerABI = mustABI(controllerJSON)
	veTokenABI    = mustABI(veTokenJSON)
)

func mustABI(src string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(src))
	if err != nil {
		panic(err)
	}
	return parsed
}

// callsPerUser is fixed at two reads for every shape: the accounting pair on
// the controller, or for pendle the pool vote plus the ve position.
const callsPerUser = 2

// userCalls builds the two reads that describe one user's vote on one gauge.
func userCalls(layout registry.Layout, user, gauge common.Address) ([]chain.Call, error) {
	if layout.DecodeShape == registry.ShapePendle {
		vote, err := controllerABI.Pack("getUserPoolVote", user, gauge)
		if err != nil {
			return nil, err
		}
		position, err := veTokenABI.Pack("positionData", user)
		if err != nil {
			return nil, err
		}
		return []chain.Call{
			{To: layout.Controller, Data: vote},
			{To: layout.VeToken, Data: position},
		}, nil
	}
	lastVote, err := controllerABI.Pack("last_user_vote", user, gauge)
	if err != nil {
		return nil, err
	}
	slopes, err := controllerABI.Pack("vote_user_slopes", user, gauge)
	if err != nil {
		return nil, err
	}
	return []chain.Call{
		{To: layout.Controller, Data: lastVote},
		{To: layout.Controller, Data: slopes},
	}, nil
}

// word extracts the i-th 32-byte return word as an unsigned integer.
func word(ret []byte, i int) (*big.Int, error) {
	end := (i + 1) * 32
	if len(ret) < end {
		return nil, fmt.Errorf("return data %d bytes, want word %d", len(ret), i)
	}
	return new(big.Int).SetBytes(ret[i*32 : end]), nil
}

var twoPow256 = new(big.Int).Lsh(big.NewInt(1), 256)

// signedWord extracts word i as a two's-complement value. The int128 slope
// and power fields arrive sign-extended; reading a negative slope unsigned
// would turn it into a huge positive that passes the slope check.
func signedWord(ret []byte, i int) (*big.Int, error) {
	v, err := word(ret, i)
	if err != nil {
		return nil, err
	}
	if v.Bit(255) == 1 {
		v.Sub(v, twoPow256)
	}
	return v, nil
}

func words(ret []byte, n int) ([]*big.Int, error) {
	out := make([]*big.Int, n)
	for i := 0; i < n; i++ {
		w, err := word(ret, i)
		if err != nil {
			return nil, err
		}
		out[i] = w
	}
	return out, nil
}

// decodeRecord turns a user's two raw return blobs into a uniform VoteRecord.
// Tuple positions mean different things per shape; nothing past this function
// is allowed to know that.
func decodeRecord(layout registry.Layout, user common.Address, returns [][]byte) (types.VoteRecord, error) {
	if len(returns) != callsPerUser {
		return types.VoteRecord{}, fmt.Errorf("%d return blobs, want %d", len(returns), callsPerUser)
	}
	switch layout.DecodeShape {
	case registry.ShapeStandard, registry.ShapeBias:
		lastVote, err := word(returns[0], 0)
		if err != nil {
			return types.VoteRecord{}, fmt.Errorf("last_user_vote: %w", err)
		}
		// slope and power are int128, end is uint256
		slope, err := signedWord(returns[1], 0)
		if err != nil {
			return types.VoteRecord{}, fmt.Errorf("vote_user_slopes: %w", err)
		}
		power, err := signedWord(returns[1], 1)
		if err != nil {
			return types.VoteRecord{}, fmt.Errorf("vote_user_slopes: %w", err)
		}
		end, err := word(returns[1], 2)
		if err != nil {
			return types.VoteRecord{}, fmt.Errorf("vote_user_slopes: %w", err)
		}
		rec := types.VoteRecord{
			User:     user,
			LastVote: lastVote,
			Slope:    slope,
			Power:    power,
			End:      end,
		}
		if layout.DecodeShape == registry.ShapeBias {
			bias, err := signedWord(returns[1], 3)
			if err != nil {
				return types.VoteRecord{}, fmt.Errorf("vote_user_slopes: %w", err)
			}
			rec.Bias = bias
		}
		return rec, nil

	case registry.ShapePendle:
		// getUserPoolVote returns (weight, (bias, slope)); positionData on the
		// ve token returns (amount, expiry). Pendle keeps no last-vote
		// timestamp, so LastVote is zero and never blocks the epoch check.
		pool, err := words(returns[0], 3)
		if err != nil {
			return types.VoteRecord{}, fmt.Errorf("getUserPoolVote: %w", err)
		}
		position, err := words(returns[1], 2)
		if err != nil {
			return types.VoteRecord{}, fmt.Errorf("positionData: %w", err)
		}
		return types.VoteRecord{
			User:     user,
			LastVote: new(big.Int),
			Slope:    pool[2],
			Power:    pool[0],
			End:      position[1],
			Bias:     pool[1],
		}, nil

	default:
		return types.VoteRecord{}, fmt.Errorf("unknown decode shape %q", layout.DecodeShape)
	}
}
