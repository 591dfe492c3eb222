// Package registry pins the static storage-layout facts of every supported
// gauge controller. Layout-rule selection is table-driven and never inferred:
// a wrong rule produces a slot the oracle silently rejects (or worse,
// accepts against the wrong value), and nothing local can detect it.
package registry

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/gaugeworks/voteproofs/pkg/types"
)

// RuleKind selects the slot-derivation rule for a controller.
type RuleKind string

const (
	// RuleDefault: keccak(keccak(base ‖ key1) ‖ key2). Vyper >=0.3 and
	// Solidity-style nested mappings.
	RuleDefault RuleKind = "default"
	// RuleLegacyHash: RuleDefault wrapped in one extra keccak. Only valid for
	// gauges of the pre-0.3 Vyper curve controller; applying it anywhere else
	// derives a slot nothing on chain uses.
	RuleLegacyHash RuleKind = "legacy-hash"
	// RuleStructOfArrays: keccak(key ‖ (keccak(time ‖ base) + 1)). Pendle's
	// two-field struct layout with reversed encode order.
	RuleStructOfArrays RuleKind = "struct-of-arrays"
)

// ShapeKind selects how a controller's vote-accounting reads decode.
type ShapeKind string

const (
	// ShapeStandard: last_user_vote(uint256) + vote_user_slopes(int128 slope,
	// int128 power, uint256 end).
	ShapeStandard ShapeKind = "standard"
	// ShapeBias: vote_user_slopes returns a fourth bias word; an infinite
	// lock (end == 2^256-1) is eligible only on positive bias.
	ShapeBias ShapeKind = "bias"
	// ShapePendle: getUserPoolVote on the controller plus positionData on the
	// ve token.
	ShapePendle ShapeKind = "pendle"
)

// Layout is everything the engine must know about one protocol's controller.
type Layout struct {
	Protocol          types.Protocol
	Controller        common.Address
	SlotRule          RuleKind
	DecodeShape       ShapeKind
	PointWeightsSlot  uint64
	LastUserVoteSlot  uint64
	VoteUserSlopeSlot uint64
	CreationBlock     uint64
	VoteTopic         common.Hash
	VeToken           common.Address // pendle only: vePendle for positionData
}

// Multicall3 is the canonical multicall deployment, same address on every
// supported chain.
var Multicall3 = common.HexToAddress("0xcA11bde05977b3631167028862bE2a173976CA11")

var (
	defaultVoteTopic = common.HexToHash("0x45ca9a4c8d0119eb329e580d28fe689e484e1be230da8037ade9547d2d25cc91")
	pendleVoteTopic  = common.HexToHash("0xc71e393f1527f71ce01b78ea87c9bd4fca84f1482359ce7ac9b73f358c61b1e1")
)

var layouts = map[types.Protocol]Layout{
	types.ProtocolCurve: {
		Protocol:          types.ProtocolCurve,
		Controller:        common.HexToAddress("0x2F50D538606Fa9EDD2B11E2446BEb18C9D5846bB"),
		SlotRule:          RuleLegacyHash,
		DecodeShape:       ShapeStandard,
		PointWeightsSlot:  12,
		LastUserVoteSlot:  11,
		VoteUserSlopeSlot: 9,
		CreationBlock:     10647875,
		VoteTopic:         defaultVoteTopic,
	},
	types.ProtocolBalancer: {
		Protocol:          types.ProtocolBalancer,
		Controller:        common.HexToAddress("0xC128468b7Ce63eA702C1f104D55A2566b13D3ABD"),
		SlotRule:          RuleDefault,
		DecodeShape:       ShapeStandard,
		PointWeightsSlot:  1000000008,
		LastUserVoteSlot:  1000000007,
		VoteUserSlopeSlot: 1000000005,
		CreationBlock:     14457014,
		VoteTopic:         defaultVoteTopic,
	},
	types.ProtocolFrax: {
		Protocol:          types.ProtocolFrax,
		Controller:        common.HexToAddress("0x3669C421b77340B2979d1A00a792CC2ee0FcE737"),
		SlotRule:          RuleDefault,
		DecodeShape:       ShapeStandard,
		PointWeightsSlot:  1000000011,
		LastUserVoteSlot:  1000000010,
		VoteUserSlopeSlot: 1000000008,
		CreationBlock:     14052749,
		VoteTopic:         defaultVoteTopic,
	},
	types.ProtocolFXN: {
		Protocol:          types.ProtocolFXN,
		Controller:        common.HexToAddress("0xe60eB8098B34eD775ac44B1ddE864e098C6d7f37"),
		SlotRule:          RuleDefault,
		DecodeShape:       ShapeStandard,
		PointWeightsSlot:  1000000011,
		LastUserVoteSlot:  1000000010,
		VoteUserSlopeSlot: 1000000008,
		CreationBlock:     18156185,
		VoteTopic:         defaultVoteTopic,
	},
	types.ProtocolPendle: {
		Protocol:          types.ProtocolPendle,
		Controller:        common.HexToAddress("0x44087E105137a5095c008AaB6a6530182821F2F0"),
		SlotRule:          RuleStructOfArrays,
		DecodeShape:       ShapePendle,
		PointWeightsSlot:  161,
		VoteUserSlopeSlot: 162,
		CreationBlock:     16032096,
		VoteTopic:         pendleVoteTopic,
		VeToken:           common.HexToAddress("0x4f30A9D41B80ecC5B94306AB4364951AE3170210"),
	},
	types.ProtocolYB: {
		Protocol:          types.ProtocolYB,
		Controller:        common.HexToAddress("0x8Ea8Ff5a2B2A5b1E4C0a97437dE9f6F06bfC4C9B"),
		SlotRule:          RuleDefault,
		DecodeShape:       ShapeBias,
		PointWeightsSlot:  16,
		LastUserVoteSlot:  15,
		VoteUserSlopeSlot: 13,
		CreationBlock:     21248900,
		VoteTopic:         defaultVoteTopic,
	},
}

// LayoutFor returns the pinned layout for a protocol.
func LayoutFor(protocol types.Protocol) (Layout, error) {
	l, ok := layouts[protocol]
	if !ok {
		return Layout{}, types.NewError("registry", types.ErrCodeUnknownProtocol,
			"no layout registered", nil).WithProtocol(protocol)
	}
	return l, nil
}

// Protocols lists every registered protocol.
func Protocols() []types.Protocol {
	out := make([]types.Protocol, 0, len(layouts))
	for p := range layouts {
		out = append(out, p)
	}
	return out
}
