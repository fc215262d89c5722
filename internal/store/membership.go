package store

import (
	"github.com/devrev/tierbot/internal/model"
)

// membership is the in-memory entitlement state: one ordered member list
// per grantable tier plus a record index. A user id is in at most one list.
type membership struct {
	order   map[model.Tier][]model.UserID
	records map[model.UserID]model.EntitlementRecord
}

func newMembership() *membership {
	return &membership{
		order:   make(map[model.Tier][]model.UserID, len(model.GrantableTiers)),
		records: make(map[model.UserID]model.EntitlementRecord),
	}
}

// clone returns a deep copy that can be mutated without affecting m
func (m *membership) clone() *membership {
	c := newMembership()
	for tier, ids := range m.order {
		c.order[tier] = append([]model.UserID(nil), ids...)
	}
	for id, rec := range m.records {
		c.records[id] = rec
	}
	return c
}

// set places rec in its tier list, removing the user from any other list
func (m *membership) set(rec model.EntitlementRecord) {
	if prev, ok := m.records[rec.UserID]; ok {
		m.order[prev.Tier] = removeID(m.order[prev.Tier], rec.UserID)
	}
	m.order[rec.Tier] = append(m.order[rec.Tier], rec.UserID)
	m.records[rec.UserID] = rec
}

// remove deletes the user's record and reports whether one existed
func (m *membership) remove(id model.UserID) bool {
	prev, ok := m.records[id]
	if !ok {
		return false
	}
	m.order[prev.Tier] = removeID(m.order[prev.Tier], id)
	delete(m.records, id)
	return true
}

func (m *membership) members(tier model.Tier) []model.UserID {
	return append([]model.UserID(nil), m.order[tier]...)
}

func (m *membership) snapshot() map[model.UserID]model.EntitlementRecord {
	out := make(map[model.UserID]model.EntitlementRecord, len(m.records))
	for id, rec := range m.records {
		out[id] = rec
	}
	return out
}

func removeID(ids []model.UserID, id model.UserID) []model.UserID {
	for i, v := range ids {
		if v == id {
			return append(ids[:i:i], ids[i+1:]...)
		}
	}
	return ids
}
