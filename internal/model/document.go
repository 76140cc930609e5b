package model

import "time"

// Document is a shared link (route sheets, schedules). No status, no
// containment.
type Document struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	URL       string    `db:"url" json:"url"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

func (d Document) EntityID() string { return d.ID }
