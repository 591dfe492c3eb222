package types

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Protocol identifies a supported gauge-controller deployment.
type Protocol string

const (
	ProtocolCurve    Protocol = "curve"
	ProtocolBalancer Protocol = "balancer"
	ProtocolFrax     Protocol = "frax"
	ProtocolFXN      Protocol = "fxn"
	ProtocolPendle   Protocol = "pendle"
	ProtocolYB       Protocol = "yb"
)

// MaxUint256 marks an infinite lock end in bias-accounting controllers.
var MaxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// VoteRecord is the uniform shape every protocol-specific controller read is
// decoded into. Tuple positions of the underlying calls never leave the decode
// step; past it only these named fields exist.
type VoteRecord struct {
	User     common.Address
	LastVote *big.Int // timestamp of the user's last vote for the gauge
	Slope    *big.Int // decay rate of the vote weight
	Power    *big.Int // allocated voting power
	End      *big.Int // lock expiry timestamp
	Bias     *big.Int // nil unless the controller accounts a bias field
}

// ZeroVoteRecord returns the placeholder for a user whose controller read
// persistently reverts. All fields zero, so the eligibility predicate drops it.
func ZeroVoteRecord(user common.Address) VoteRecord {
	return VoteRecord{
		User:     user,
		LastVote: new(big.Int),
		Slope:    new(big.Int),
		Power:    new(big.Int),
		End:      new(big.Int),
	}
}

// EligibleUser is a voter that passed the eligibility predicate for a
// (gauge, epoch) pair. EffectiveSlope is the slope the claim is paid on,
// which for bias-accounting controllers with an infinite lock is the bias.
type EligibleUser struct {
	User           common.Address `json:"user"`
	LastVote       *big.Int       `json:"last_vote"`
	EffectiveSlope *big.Int       `json:"slope"`
	Power          *big.Int       `json:"power"`
	End            *big.Int       `json:"end"`
}

// UserFailure records a per-user decode or read failure inside a batch.
// Failures accumulate alongside survivors instead of aborting the batch.
type UserFailure struct {
	User common.Address
	Err  error
}

// EligibilityResult is the full outcome of an eligibility query: the
// survivors and every per-user failure encountered while computing them.
type EligibilityResult struct {
	Users    []EligibleUser
	Failures []UserFailure
}
