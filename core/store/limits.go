package store

import (
	"time"

	"hubd/core/keyspace"
)

// limitCutover is when the per-unit store limits halved. Merges consult the
// schedule at their own wall time, so every peer applies the same defaults.
var limitCutover = time.Date(2024, time.August, 28, 0, 0, 0, 0, time.UTC)

type storeLimits struct {
	casts         uint64
	links         uint64
	reactions     uint64
	verifications uint64
	userData      uint64
	proofs        uint64
}

var (
	legacyLimits  = storeLimits{casts: 10000, links: 5000, reactions: 5000, verifications: 50, userData: 100, proofs: 10}
	currentLimits = storeLimits{casts: 5000, links: 2500, reactions: 2500, verifications: 25, userData: 50, proofs: 5}
)

// DefaultStoreLimit returns the per-unit message allowance for a primary set
// at a given time.
func DefaultStoreLimit(setPostfix byte, at time.Time) uint64 {
	limits := currentLimits
	if at.Before(limitCutover) {
		limits = legacyLimits
	}
	switch setPostfix {
	case keyspace.PostfixCastMessage:
		return limits.casts
	case keyspace.PostfixLinkMessage, keyspace.PostfixLinkCompactStateMessage:
		return limits.links
	case keyspace.PostfixReactionMessage:
		return limits.reactions
	case keyspace.PostfixVerificationMessage:
		return limits.verifications
	case keyspace.PostfixUserDataMessage:
		return limits.userData
	case keyspace.PostfixUsernameProofMessage:
		return limits.proofs
	default:
		return 0
	}
}

// SlotLimit scales the per-unit allowance by the units a fid has purchased.
// No storage means no allowance.
func SlotLimit(setPostfix byte, units uint32, at time.Time) uint64 {
	return DefaultStoreLimit(setPostfix, at) * uint64(units)
}
