// Package slots derives gauge-controller storage slots. Every function here
// is pure: (key material, time, base slot) in, 256-bit slot out. Nothing
// local can verify a derived slot; only the on-chain verifier's accept or
// reject is ground truth. Each rule is therefore pinned by golden vectors
// and selected from the registry table, never inferred from context.
package slots

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"

	"github.com/gaugeworks/voteproofs/internal/registry"
)

func keccak(data ...[]byte) common.Hash {
	h := sha3.NewLegacyKeccak256()
	for _, d := range data {
		h.Write(d)
	}
	var out common.Hash
	h.Sum(out[:0])
	return out
}

// uintWord is abi.encode(uint256 v): one 32-byte big-endian word.
func uintWord(v uint64) []byte {
	var w [32]byte
	new(big.Int).SetUint64(v).FillBytes(w[:])
	return w[:]
}

// addrWord is abi.encode(address a): the address left-padded to 32 bytes.
func addrWord(a common.Address) []byte {
	var w [32]byte
	copy(w[12:], a.Bytes())
	return w[:]
}

func hashPlus(h common.Hash, n uint64) common.Hash {
	v := new(big.Int).SetBytes(h[:])
	v.Add(v, new(big.Int).SetUint64(n))
	return common.BigToHash(v)
}

// mapSlot is the nested-mapping derivation shared by the default and
// legacy-hash rules: keccak(keccak(base ‖ key1) ‖ key2).
func mapSlot(base uint64, key1 common.Address, key2 []byte) common.Hash {
	inner := keccak(uintWord(base), addrWord(key1))
	return keccak(inner[:], key2)
}

// structOfArraysSlot is Pendle's layout: the epoch-keyed array slot is
// keccak(time ‖ base), the gauge key hashes against that slot plus one (the
// weight lives in the second field of a two-field struct).
func structOfArraysSlot(base uint64, key common.Address, first []byte) common.Hash {
	inner := keccak(first, uintWord(base))
	shifted := hashPlus(inner, 1)
	return keccak(addrWord(key), shifted[:])
}

// GaugeWeightSlot derives the storage slot of a gauge's total voted weight at
// an epoch under the given rule.
func GaugeWeightSlot(rule registry.RuleKind, baseSlot uint64, gauge common.Address, epoch uint64) common.Hash {
	switch rule {
	case registry.RuleLegacyHash:
		s := mapSlot(baseSlot, gauge, uintWord(epoch))
		return keccak(s[:])
	case registry.RuleStructOfArrays:
		return structOfArraysSlot(baseSlot, gauge, uintWord(epoch))
	default:
		return mapSlot(baseSlot, gauge, uintWord(epoch))
	}
}

// UserSlots derives every storage slot a user proof must cover for the
// (user, gauge) pair: the last-vote timestamp slot, the slope slot, and the
// lock-end slot two positions past it. The power field between slope and end
// is never proven. Pendle has no separate last-vote slot and a two-field
// struct; the bias shape additionally proves the bias field.
func UserSlots(l registry.Layout, user, gauge common.Address) []common.Hash {
	if l.SlotRule == registry.RuleStructOfArrays {
		inner := keccak(addrWord(user), uintWord(l.VoteUserSlopeSlot))
		shifted := hashPlus(inner, 1)
		first := keccak(addrWord(gauge), shifted[:])
		return []common.Hash{first, hashPlus(first, 1)}
	}

	// the pre-0.3 wrap applies to the slope struct only; last_user_vote uses
	// the standard derivation on every non-Pendle controller
	lastVote := mapSlot(l.LastUserVoteSlot, user, addrWord(gauge))
	slope := mapSlot(l.VoteUserSlopeSlot, user, addrWord(gauge))
	if l.SlotRule == registry.RuleLegacyHash {
		slope = keccak(slope[:])
	}

	out := []common.Hash{lastVote, slope, hashPlus(slope, 2)}
	if l.DecodeShape == registry.ShapeBias {
		out = append(out, hashPlus(slope, 3))
	}
	return out
}
