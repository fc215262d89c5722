package model

import (
	"fmt"
	"strings"
)

// UserID is the numeric user identifier assigned by the messaging provider
type UserID int64

// Tier is an ordered access level. Higher tiers include everything the
// lower tiers grant.
type Tier uint8

const (
	TierNone Tier = iota
	TierBasic
	TierAdvanced
)

// GrantableTiers lists every tier an admin can grant, lowest first
var GrantableTiers = []Tier{TierBasic, TierAdvanced}

// String returns the canonical lowercase name used in commands and on disk
func (t Tier) String() string {
	switch t {
	case TierNone:
		return "none"
	case TierBasic:
		return "basic"
	case TierAdvanced:
		return "advanced"
	default:
		return fmt.Sprintf("tier(%d)", uint8(t))
	}
}

// DisplayName returns the label shown to end users
func (t Tier) DisplayName() string {
	switch t {
	case TierBasic:
		return "Premium"
	case TierAdvanced:
		return "Full Premium"
	default:
		return "Free"
	}
}

// Valid reports whether t is a known tier
func (t Tier) Valid() bool {
	return t <= TierAdvanced
}

// Allows reports whether a user holding t may view content gated at required
func (t Tier) Allows(required Tier) bool {
	return t >= required
}

// ParseTier maps a tier name to a Tier. The legacy names "premium" and
// "full_premium" are accepted as aliases for basic and advanced.
func ParseTier(name string) (Tier, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "none", "free":
		return TierNone, nil
	case "basic", "premium":
		return TierBasic, nil
	case "advanced", "full_premium", "fullpremium", "full-premium":
		return TierAdvanced, nil
	default:
		return TierNone, fmt.Errorf("unknown tier %q", name)
	}
}

// ParseGrantableTier is ParseTier restricted to tiers that can be granted
func ParseGrantableTier(name string) (Tier, error) {
	t, err := ParseTier(name)
	if err != nil {
		return TierNone, err
	}
	if t == TierNone {
		return TierNone, fmt.Errorf("tier %q cannot be granted", name)
	}
	return t, nil
}
