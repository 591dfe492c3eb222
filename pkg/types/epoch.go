package types

import "time"

// Week is the protocol-wide voting period in seconds. Every timestamp that
// enters the system is floored to this boundary before use.
const Week uint64 = 604800

// FloorEpoch rounds a timestamp down to the weekly period boundary.
func FloorEpoch(ts uint64) uint64 {
	return ts / Week * Week
}

// CurrentPeriod returns the boundary of the period containing now.
func CurrentPeriod() uint64 {
	return FloorEpoch(uint64(time.Now().Unix()))
}
