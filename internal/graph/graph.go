// Package graph tracks the containment relations between entities: the
// optional item→pack parent and the many-to-many pack↔manifest membership.
// Derived views are recomputed from current store state on every call; there
// is no cached denormalization to go stale.
package graph

import (
	"fmt"

	"github.com/furgotrack/furgotrack-sync-service/internal/model"
	"github.com/furgotrack/furgotrack-sync-service/internal/store"
)

// Graph is not safe for concurrent use; like the stores it wraps, it is
// serialized by the sync engine.
type Graph struct {
	items     *store.Store[model.Item]
	packs     *store.Store[model.Pack]
	manifests *store.Store[model.Manifest]

	rows    []model.ManifestPack
	rowKeys map[string]struct{}
}

func New(items *store.Store[model.Item], packs *store.Store[model.Pack], manifests *store.Store[model.Manifest]) *Graph {
	return &Graph{
		items:     items,
		packs:     packs,
		manifests: manifests,
		rowKeys:   make(map[string]struct{}),
	}
}

func rowKey(manifestID, packID string) string {
	return manifestID + "\x00" + packID
}

// MoveItem sets the item's container. A nil packID unassigns it. Moving an
// item to the pack it is already in is a no-op, not an error.
func (g *Graph) MoveItem(itemID string, packID *string) error {
	item, ok := g.items.Get(itemID)
	if !ok {
		return fmt.Errorf("move item: unknown item %q", itemID)
	}
	if packID != nil {
		if _, ok := g.packs.Get(*packID); !ok {
			return fmt.Errorf("move item: unknown pack %q", *packID)
		}
	}
	item.PackID = packID
	g.items.Upsert(item)
	return nil
}

// Link inserts a membership row. Inserting an existing pair is idempotent;
// the returned bool reports whether the relation actually changed.
func (g *Graph) Link(manifestID, packID string) (bool, error) {
	if _, ok := g.manifests.Get(manifestID); !ok {
		return false, fmt.Errorf("link: unknown manifest %q", manifestID)
	}
	if _, ok := g.packs.Get(packID); !ok {
		return false, fmt.Errorf("link: unknown pack %q", packID)
	}
	key := rowKey(manifestID, packID)
	if _, exists := g.rowKeys[key]; exists {
		return false, nil
	}
	g.rowKeys[key] = struct{}{}
	g.rows = append(g.rows, model.ManifestPack{ManifestID: manifestID, PackID: packID})
	return true, nil
}

// Unlink deletes a membership row. Deleting a pair that is not there is
// idempotent.
func (g *Graph) Unlink(manifestID, packID string) bool {
	key := rowKey(manifestID, packID)
	if _, exists := g.rowKeys[key]; !exists {
		return false
	}
	delete(g.rowKeys, key)
	for i, row := range g.rows {
		if row.ManifestID == manifestID && row.PackID == packID {
			g.rows = append(g.rows[:i], g.rows[i+1:]...)
			break
		}
	}
	return true
}

func (g *Graph) Linked(manifestID, packID string) bool {
	_, ok := g.rowKeys[rowKey(manifestID, packID)]
	return ok
}

// ItemsIn lists the items currently contained in the pack.
func (g *Graph) ItemsIn(packID string) []model.Item {
	var out []model.Item
	for _, item := range g.items.List() {
		if item.PackID != nil && *item.PackID == packID {
			out = append(out, item)
		}
	}
	return out
}

// ItemsUnassigned lists the items with no container.
func (g *Graph) ItemsUnassigned() []model.Item {
	var out []model.Item
	for _, item := range g.items.List() {
		if item.PackID == nil {
			out = append(out, item)
		}
	}
	return out
}

// PacksIn lists the packs belonging to the manifest, in pack store order.
func (g *Graph) PacksIn(manifestID string) []model.Pack {
	var out []model.Pack
	for _, pack := range g.packs.List() {
		if g.Linked(manifestID, pack.ID) {
			out = append(out, pack)
		}
	}
	return out
}

// PacksNotIn lists the packs outside the manifest, in pack store order.
func (g *Graph) PacksNotIn(manifestID string) []model.Pack {
	var out []model.Pack
	for _, pack := range g.packs.List() {
		if !g.Linked(manifestID, pack.ID) {
			out = append(out, pack)
		}
	}
	return out
}

// RemovePack cascades a pack deletion: its membership rows go away and any
// contained item becomes unassigned, so no dangling reference survives.
func (g *Graph) RemovePack(packID string) {
	g.dropRows(func(row model.ManifestPack) bool { return row.PackID == packID })
	for _, item := range g.items.List() {
		if item.PackID != nil && *item.PackID == packID {
			item.PackID = nil
			g.items.Upsert(item)
		}
	}
	g.packs.Remove(packID)
}

// RemoveManifest cascades a manifest deletion to its membership rows.
func (g *Graph) RemoveManifest(manifestID string) {
	g.dropRows(func(row model.ManifestPack) bool { return row.ManifestID == manifestID })
	g.manifests.Remove(manifestID)
}

func (g *Graph) dropRows(match func(model.ManifestPack) bool) {
	kept := g.rows[:0]
	for _, row := range g.rows {
		if match(row) {
			delete(g.rowKeys, rowKey(row.ManifestID, row.PackID))
			continue
		}
		kept = append(kept, row)
	}
	g.rows = kept
}

// Rows returns a copy of the membership relation, for snapshots.
func (g *Graph) Rows() []model.ManifestPack {
	return append([]model.ManifestPack(nil), g.rows...)
}

// RestoreRows replaces the membership relation with a previously captured
// copy.
func (g *Graph) RestoreRows(rows []model.ManifestPack) {
	g.rows = append(g.rows[:0:0], rows...)
	g.rowKeys = make(map[string]struct{}, len(rows))
	for _, row := range rows {
		g.rowKeys[rowKey(row.ManifestID, row.PackID)] = struct{}{}
	}
}
