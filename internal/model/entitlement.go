package model

import "time"

// EntitlementRecord is the durable association of a user with a tier.
// A user without a record is treated as TierNone.
type EntitlementRecord struct {
	UserID    UserID
	Tier      Tier
	GrantedAt time.Time
}

// JournalOperation is the kind of mutation recorded in the audit journal
type JournalOperation string

const (
	JournalOperationGrant  JournalOperation = "grant"
	JournalOperationRevoke JournalOperation = "revoke"
)

// JournalEntry is one audited admin mutation
type JournalEntry struct {
	ID        string           `json:"id"`
	Operation JournalOperation `json:"operation"`
	UserID    UserID           `json:"user_id"`
	Tier      string           `json:"tier,omitempty"`
	Previous  string           `json:"previous,omitempty"`
	Actor     string           `json:"actor"`
	Timestamp time.Time        `json:"timestamp"`
	Checksum  uint32           `json:"checksum"`
}
