package model

import "time"

// Item is an inventory entity, optionally contained in a Pack. A nil PackID
// means the item is unassigned ("on the floor").
type Item struct {
	ID            string    `db:"id" json:"id"`
	Name          string    `db:"name" json:"name"`
	Description   *string   `db:"description" json:"description"`
	Owner         string    `db:"owner" json:"owner"`
	TotalQuantity int       `db:"total_quantity" json:"total_quantity"`
	PackID        *string   `db:"pack_id" json:"pack_id"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

func (i Item) EntityID() string { return i.ID }
