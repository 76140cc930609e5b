package model

import "time"

// Pack is a physical container. It carries two independent binary status
// axes: LoadStatus tracks the loading-day floor/truck position, StoreStatus
// tracks the standing warehouse/out position. A screen works against one
// axis, never both.
type Pack struct {
	ID          string     `db:"id" json:"id"`
	Name        string     `db:"name" json:"name"`
	Description *string    `db:"description" json:"description"`
	LoadStatus  string     `db:"load_status" json:"load_status"`
	StoreStatus string     `db:"store_status" json:"store_status"`
	LastMovedAt *time.Time `db:"last_moved_at" json:"last_moved_at"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

func (p Pack) EntityID() string { return p.ID }

// ManifestPack is one row of the manifest↔pack membership relation, unique
// per (manifest, pack) pair. It is the single source of truth for
// membership; no denormalized flag mirrors it.
type ManifestPack struct {
	ManifestID string `db:"manifest_id" json:"manifest_id"`
	PackID     string `db:"pack_id" json:"pack_id"`
}
