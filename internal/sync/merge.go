package sync

import (
	"encoding/json"
	"fmt"

	"github.com/furgotrack/furgotrack-sync-service/internal/feed"
	"github.com/furgotrack/furgotrack-sync-service/internal/metrics"
	"github.com/furgotrack/furgotrack-sync-service/internal/model"
)

// Merge folds one remote change event into the local stores. It is a merge,
// not a replace: only the fields present in the event are applied. Events
// for entities with an in-flight local mutation are skipped; the local
// issuance order decides the winner, and the mutation's own confirmation or
// rollback settles the entity.
func (e *Engine) Merge(ev feed.Event) error {
	if ev.Origin != "" && ev.Origin == e.origin {
		metrics.MergesTotal.WithLabelValues("skipped_origin").Inc()
		return nil
	}

	e.mu.Lock()

	key, err := e.mergeKey(ev)
	if err != nil {
		e.mu.Unlock()
		metrics.MergesTotal.WithLabelValues("failed").Inc()
		return err
	}
	if e.pending[key] > 0 {
		e.mu.Unlock()
		metrics.MergesTotal.WithLabelValues("skipped_pending").Inc()
		return nil
	}

	switch ev.Kind {
	case model.KindPack:
		err = e.mergePack(ev)
	case model.KindItem:
		err = e.mergeItem(ev)
	case model.KindManifest:
		err = e.mergeManifest(ev)
	case model.KindDocument:
		err = e.mergeDocument(ev)
	case model.KindManifestPack:
		err = e.mergeMembership(ev)
	default:
		err = fmt.Errorf("merge: unknown kind %q", ev.Kind)
	}
	e.mu.Unlock()

	if err != nil {
		metrics.MergesTotal.WithLabelValues("failed").Inc()
		return err
	}
	metrics.MergesTotal.WithLabelValues("merged").Inc()
	e.announce(ev)
	return nil
}

func (e *Engine) mergeKey(ev feed.Event) (string, error) {
	if ev.Kind != model.KindManifestPack {
		if ev.EntityID == "" {
			return "", fmt.Errorf("merge: event without entity id, kind %q", ev.Kind)
		}
		return entityKey(ev.Kind, ev.EntityID), nil
	}
	row, err := membershipRow(ev)
	if err != nil {
		return "", err
	}
	return relationKey(row.ManifestID, row.PackID), nil
}

func (e *Engine) mergePack(ev feed.Event) error {
	if ev.Type == feed.EventDelete {
		e.graph.RemovePack(ev.EntityID)
		return nil
	}
	pack, ok := e.packs.Get(ev.EntityID)
	if !ok {
		pack = model.Pack{ID: ev.EntityID}
	}
	if err := applyFields(ev.Fields, map[string]any{
		"name":          &pack.Name,
		"description":   &pack.Description,
		"load_status":   &pack.LoadStatus,
		"store_status":  &pack.StoreStatus,
		"last_moved_at": &pack.LastMovedAt,
		"created_at":    &pack.CreatedAt,
		"updated_at":    &pack.UpdatedAt,
	}); err != nil {
		return fmt.Errorf("merge pack %q: %w", ev.EntityID, err)
	}
	e.packs.Upsert(pack)
	return nil
}

func (e *Engine) mergeItem(ev feed.Event) error {
	if ev.Type == feed.EventDelete {
		e.items.Remove(ev.EntityID)
		return nil
	}
	item, ok := e.items.Get(ev.EntityID)
	if !ok {
		item = model.Item{ID: ev.EntityID}
	}
	if err := applyFields(ev.Fields, map[string]any{
		"name":           &item.Name,
		"description":    &item.Description,
		"owner":          &item.Owner,
		"total_quantity": &item.TotalQuantity,
		"pack_id":        &item.PackID,
		"created_at":     &item.CreatedAt,
		"updated_at":     &item.UpdatedAt,
	}); err != nil {
		return fmt.Errorf("merge item %q: %w", ev.EntityID, err)
	}
	e.items.Upsert(item)
	return nil
}

func (e *Engine) mergeManifest(ev feed.Event) error {
	if ev.Type == feed.EventDelete {
		e.graph.RemoveManifest(ev.EntityID)
		return nil
	}
	man, ok := e.manifests.Get(ev.EntityID)
	if !ok {
		man = model.Manifest{ID: ev.EntityID}
	}
	if err := applyFields(ev.Fields, map[string]any{
		"name":       &man.Name,
		"is_active":  &man.IsActive,
		"created_at": &man.CreatedAt,
		"updated_at": &man.UpdatedAt,
	}); err != nil {
		return fmt.Errorf("merge manifest %q: %w", ev.EntityID, err)
	}
	e.manifests.Upsert(man)

	// Mirror the exclusive-select semantics locally: a remotely activated
	// manifest deactivates the rest, except ones a pending local mutation
	// still owns.
	if man.IsActive {
		for _, other := range e.manifests.List() {
			if other.ID == man.ID || !other.IsActive {
				continue
			}
			if e.pending[entityKey(model.KindManifest, other.ID)] > 0 {
				continue
			}
			other.IsActive = false
			e.manifests.Upsert(other)
		}
	}
	return nil
}

func (e *Engine) mergeDocument(ev feed.Event) error {
	if ev.Type == feed.EventDelete {
		e.documents.Remove(ev.EntityID)
		return nil
	}
	doc, ok := e.documents.Get(ev.EntityID)
	if !ok {
		doc = model.Document{ID: ev.EntityID}
	}
	if err := applyFields(ev.Fields, map[string]any{
		"name":       &doc.Name,
		"url":        &doc.URL,
		"created_at": &doc.CreatedAt,
	}); err != nil {
		return fmt.Errorf("merge document %q: %w", ev.EntityID, err)
	}
	e.documents.Upsert(doc)
	return nil
}

func (e *Engine) mergeMembership(ev feed.Event) error {
	row, err := membershipRow(ev)
	if err != nil {
		return err
	}
	switch ev.Type {
	case feed.EventDelete:
		e.graph.Unlink(row.ManifestID, row.PackID)
		return nil
	default:
		// The feed does not order across entities; a membership insert can
		// outrun the pack it references. The link error surfaces to the
		// listener log and the next resync repairs the gap.
		_, err := e.graph.Link(row.ManifestID, row.PackID)
		return err
	}
}

func membershipRow(ev feed.Event) (model.ManifestPack, error) {
	var row model.ManifestPack
	if err := applyFields(ev.Fields, map[string]any{
		"manifest_id": &row.ManifestID,
		"pack_id":     &row.PackID,
	}); err != nil {
		return row, fmt.Errorf("merge membership: %w", err)
	}
	if row.ManifestID == "" || row.PackID == "" {
		return row, fmt.Errorf("merge membership: incomplete pair (%q, %q)", row.ManifestID, row.PackID)
	}
	return row, nil
}

// applyFields decodes only the keys present in the sparse payload into
// their targets; absent keys leave the target untouched.
func applyFields(fields map[string]json.RawMessage, targets map[string]any) error {
	for key, dst := range targets {
		raw, ok := fields[key]
		if !ok {
			continue
		}
		if err := json.Unmarshal(raw, dst); err != nil {
			return fmt.Errorf("field %q: %w", key, err)
		}
	}
	return nil
}
