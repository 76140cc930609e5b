package model

import "time"

// Manifest is a named trip checklist. At most one manifest is active across
// the whole store at any observable instant; activation is an
// exclusive-select over the collection, never a per-row toggle.
type Manifest struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	IsActive  bool      `db:"is_active" json:"is_active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

func (m Manifest) EntityID() string { return m.ID }
