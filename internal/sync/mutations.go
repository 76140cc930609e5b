package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/furgotrack/furgotrack-sync-service/internal/feed"
	"github.com/furgotrack/furgotrack-sync-service/internal/model"
	"github.com/furgotrack/furgotrack-sync-service/internal/remote"
	"github.com/furgotrack/furgotrack-sync-service/internal/status"
	"github.com/furgotrack/furgotrack-sync-service/internal/store"
)

type packAxis int

const (
	axisLoad packAxis = iota
	axisStore
)

// TogglePackLoad flips a pack between FLOOR and TRUCK and stamps the move
// time. The local change is visible immediately; the returned handle
// resolves when the remote store confirms or the change is rolled back.
func (e *Engine) TogglePackLoad(id string) (*Mutation, error) {
	return e.togglePack("toggle_pack_load", axisLoad, id)
}

// TogglePackStore flips a pack between WAREHOUSE and OUT.
func (e *Engine) TogglePackStore(id string) (*Mutation, error) {
	return e.togglePack("toggle_pack_store", axisStore, id)
}

func (e *Engine) togglePack(op string, axis packAxis, id string) (*Mutation, error) {
	e.mu.Lock()
	pack, ok := e.packs.Get(id)
	if !ok {
		e.mu.Unlock()
		return nil, fmt.Errorf("%s: unknown pack %q", op, id)
	}

	var (
		next string
		err  error
	)
	switch axis {
	case axisLoad:
		next, err = status.LoadDay.Toggle(pack.LoadStatus)
	case axisStore:
		next, err = status.Inventory.Toggle(pack.StoreStatus)
	}
	if err != nil {
		e.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	snap := e.packs.Snapshot(id)
	movedAt := e.now()
	if axis == axisLoad {
		pack.LoadStatus = next
	} else {
		pack.StoreStatus = next
	}
	pack.LastMovedAt = &movedAt
	e.packs.Upsert(pack)

	m := e.begin(op, entityKey(model.KindPack, id))
	m.rollback = func() { e.packs.Restore(snap) }
	announce := []feed.Event{e.event(model.KindPack, feed.EventUpdate, id, pack)}
	e.mu.Unlock()

	fields := remote.PackFields{LastMovedAt: &movedAt}
	if axis == axisLoad {
		fields.LoadStatus = &next
	} else {
		fields.StoreStatus = &next
	}
	e.schedule(m, announce, func(ctx context.Context) error {
		return e.remote.UpdatePack(ctx, id, fields)
	})
	return m, nil
}

// MoveItem reassigns an item's container; nil unassigns it. Moving an item
// where it already is stays a valid no-op and persists idempotently.
func (e *Engine) MoveItem(itemID string, packID *string) (*Mutation, error) {
	e.mu.Lock()
	snap := e.items.Snapshot(itemID)
	if err := e.graph.MoveItem(itemID, packID); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	item, _ := e.items.Get(itemID)

	m := e.begin("move_item", entityKey(model.KindItem, itemID))
	m.rollback = func() { e.items.Restore(snap) }
	announce := []feed.Event{e.event(model.KindItem, feed.EventUpdate, itemID, item)}
	e.mu.Unlock()

	e.schedule(m, announce, func(ctx context.Context) error {
		return e.remote.UpdateItem(ctx, itemID, remote.ItemFields{PackID: packID, SetPackID: true})
	})
	return m, nil
}

// LinkPack adds a pack to a manifest. Linking an already-linked pair is
// idempotent locally and remotely.
func (e *Engine) LinkPack(manifestID, packID string) (*Mutation, error) {
	e.mu.Lock()
	rows := e.graph.Rows()
	if _, err := e.graph.Link(manifestID, packID); err != nil {
		e.mu.Unlock()
		return nil, err
	}

	m := e.begin("link_pack", relationKey(manifestID, packID))
	m.rollback = func() { e.graph.RestoreRows(rows) }
	row := model.ManifestPack{ManifestID: manifestID, PackID: packID}
	announce := []feed.Event{e.event(model.KindManifestPack, feed.EventInsert, "", row)}
	e.mu.Unlock()

	e.schedule(m, announce, func(ctx context.Context) error {
		return e.remote.LinkManifestPack(ctx, manifestID, packID)
	})
	return m, nil
}

// UnlinkPack removes a pack from a manifest. Unlinking a pair that is not
// linked is idempotent.
func (e *Engine) UnlinkPack(manifestID, packID string) (*Mutation, error) {
	e.mu.Lock()
	rows := e.graph.Rows()
	e.graph.Unlink(manifestID, packID)

	m := e.begin("unlink_pack", relationKey(manifestID, packID))
	m.rollback = func() { e.graph.RestoreRows(rows) }
	row := model.ManifestPack{ManifestID: manifestID, PackID: packID}
	announce := []feed.Event{e.event(model.KindManifestPack, feed.EventDelete, "", row)}
	e.mu.Unlock()

	e.schedule(m, announce, func(ctx context.Context) error {
		return e.remote.UnlinkManifestPack(ctx, manifestID, packID)
	})
	return m, nil
}

// ActivateManifest makes the target the single active manifest. The whole
// collection's active flags are snapshotted, because a rollback must restore
// every flag the exclusive-select flipped. Persistence is serialized across
// instances by the activation lock; the local apply never waits for it.
func (e *Engine) ActivateManifest(id string) (*Mutation, error) {
	e.mu.Lock()
	if _, ok := e.manifests.Get(id); !ok {
		e.mu.Unlock()
		return nil, fmt.Errorf("activate manifest: unknown manifest %q", id)
	}

	snaps := e.manifests.SnapshotAll()
	keys := make([]string, 0, len(snaps))
	var announce []feed.Event
	for _, man := range e.manifests.List() {
		keys = append(keys, entityKey(model.KindManifest, man.ID))
		active := man.ID == id
		if man.IsActive == active {
			continue
		}
		man.IsActive = active
		e.manifests.Upsert(man)
		announce = append(announce, e.event(model.KindManifest, feed.EventUpdate, man.ID, man))
	}

	m := e.begin("activate_manifest", keys...)
	m.rollback = func() {
		for _, snap := range snaps {
			e.manifests.Restore(snap)
		}
	}
	e.mu.Unlock()

	e.schedule(m, announce, func(ctx context.Context) error {
		token := uuid.New().String()
		acquired := false
		for i := 0; i < 3; i++ {
			ok, err := e.locker.Acquire(ctx, activationLockKey, token, e.lockTTL)
			if err != nil {
				e.logger.Error("failed to acquire activation lock", zap.Error(err))
			}
			if ok {
				acquired = true
				break
			}
			time.Sleep(100 * time.Millisecond)
		}
		if !acquired {
			return &remote.TransientError{Err: fmt.Errorf("activation lock busy")}
		}
		defer e.locker.Release(ctx, activationLockKey, token)

		return e.remote.ActivateManifest(ctx, id)
	})
	return m, nil
}

// ResetPacksToWarehouse puts every pack back to WAREHOUSE in one bulk
// mutation, snapshotting the whole collection for rollback.
func (e *Engine) ResetPacksToWarehouse() (*Mutation, error) {
	e.mu.Lock()
	snaps := e.packs.SnapshotAll()
	if len(snaps) == 0 {
		e.mu.Unlock()
		return nil, fmt.Errorf("reset packs: no packs loaded")
	}

	movedAt := e.now()
	keys := make([]string, 0, len(snaps))
	var announce []feed.Event
	for _, pack := range e.packs.List() {
		keys = append(keys, entityKey(model.KindPack, pack.ID))
		if pack.StoreStatus == status.Inventory.A {
			continue
		}
		pack.StoreStatus = status.Inventory.A
		pack.LastMovedAt = &movedAt
		e.packs.Upsert(pack)
		announce = append(announce, e.event(model.KindPack, feed.EventUpdate, pack.ID, pack))
	}

	m := e.begin("reset_packs", keys...)
	m.rollback = func() {
		for _, snap := range snaps {
			e.packs.Restore(snap)
		}
	}
	e.mu.Unlock()

	e.schedule(m, announce, func(ctx context.Context) error {
		return e.remote.ResetPacksStoreStatus(ctx, status.Inventory.A)
	})
	return m, nil
}

// --- Detail edits (name/description style fields), optimistic like the
// toggles.

func (e *Engine) UpdatePackInfo(id, name string, description *string) (*Mutation, error) {
	e.mu.Lock()
	pack, ok := e.packs.Get(id)
	if !ok {
		e.mu.Unlock()
		return nil, fmt.Errorf("update pack: unknown pack %q", id)
	}
	snap := e.packs.Snapshot(id)
	pack.Name = name
	// A nil description means leave-untouched, matching the sparse update
	// sent to the remote store. Applying it locally would clear a field the
	// remote keeps, and the divergence would never be repaired.
	if description != nil {
		pack.Description = description
	}
	e.packs.Upsert(pack)

	m := e.begin("update_pack", entityKey(model.KindPack, id))
	m.rollback = func() { e.packs.Restore(snap) }
	announce := []feed.Event{e.event(model.KindPack, feed.EventUpdate, id, pack)}
	e.mu.Unlock()

	fields := remote.PackFields{Name: &name}
	if description != nil {
		fields.Description = description
	}
	e.schedule(m, announce, func(ctx context.Context) error {
		return e.remote.UpdatePack(ctx, id, fields)
	})
	return m, nil
}

func (e *Engine) UpdateItemInfo(id, name string, description *string, owner string, totalQuantity int) (*Mutation, error) {
	if totalQuantity < 0 {
		return nil, fmt.Errorf("update item: negative quantity %d", totalQuantity)
	}
	e.mu.Lock()
	item, ok := e.items.Get(id)
	if !ok {
		e.mu.Unlock()
		return nil, fmt.Errorf("update item: unknown item %q", id)
	}
	snap := e.items.Snapshot(id)
	item.Name = name
	// Nil means leave-untouched, same as the sparse remote update.
	if description != nil {
		item.Description = description
	}
	item.Owner = owner
	item.TotalQuantity = totalQuantity
	e.items.Upsert(item)

	m := e.begin("update_item", entityKey(model.KindItem, id))
	m.rollback = func() { e.items.Restore(snap) }
	announce := []feed.Event{e.event(model.KindItem, feed.EventUpdate, id, item)}
	e.mu.Unlock()

	fields := remote.ItemFields{Name: &name, Owner: &owner, TotalQuantity: &totalQuantity}
	if description != nil {
		fields.Description = description
	}
	e.schedule(m, announce, func(ctx context.Context) error {
		return e.remote.UpdateItem(ctx, id, fields)
	})
	return m, nil
}

func (e *Engine) RenameManifest(id, name string) (*Mutation, error) {
	e.mu.Lock()
	man, ok := e.manifests.Get(id)
	if !ok {
		e.mu.Unlock()
		return nil, fmt.Errorf("rename manifest: unknown manifest %q", id)
	}
	snap := e.manifests.Snapshot(id)
	man.Name = name
	e.manifests.Upsert(man)

	m := e.begin("rename_manifest", entityKey(model.KindManifest, id))
	m.rollback = func() { e.manifests.Restore(snap) }
	announce := []feed.Event{e.event(model.KindManifest, feed.EventUpdate, id, man)}
	e.mu.Unlock()

	e.schedule(m, announce, func(ctx context.Context) error {
		return e.remote.UpdateManifest(ctx, id, remote.ManifestFields{Name: &name})
	})
	return m, nil
}

// --- Creation is remote-first: the server assigns the id, so there is
// nothing to apply optimistically.

func (e *Engine) CreatePack(ctx context.Context, name string, description *string) (*model.Pack, error) {
	created, err := e.remote.CreatePack(ctx, &model.Pack{
		Name:        name,
		Description: description,
		LoadStatus:  status.LoadDay.A,
		StoreStatus: status.Inventory.A,
	})
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.packs.Upsert(*created)
	e.mu.Unlock()
	e.announce(e.event(model.KindPack, feed.EventInsert, created.ID, created))
	return created, nil
}

func (e *Engine) CreateItem(ctx context.Context, name string, description *string, owner string, totalQuantity int) (*model.Item, error) {
	if totalQuantity < 0 {
		return nil, fmt.Errorf("create item: negative quantity %d", totalQuantity)
	}
	created, err := e.remote.CreateItem(ctx, &model.Item{
		Name:          name,
		Description:   description,
		Owner:         owner,
		TotalQuantity: totalQuantity,
	})
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.items.Upsert(*created)
	e.mu.Unlock()
	e.announce(e.event(model.KindItem, feed.EventInsert, created.ID, created))
	return created, nil
}

func (e *Engine) CreateManifest(ctx context.Context, name string) (*model.Manifest, error) {
	created, err := e.remote.CreateManifest(ctx, &model.Manifest{Name: name})
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.manifests.Upsert(*created)
	e.mu.Unlock()
	e.announce(e.event(model.KindManifest, feed.EventInsert, created.ID, created))
	return created, nil
}

func (e *Engine) CreateDocument(ctx context.Context, name, url string) (*model.Document, error) {
	created, err := e.remote.CreateDocument(ctx, &model.Document{Name: name, URL: url})
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.documents.Upsert(*created)
	e.mu.Unlock()
	e.announce(e.event(model.KindDocument, feed.EventInsert, created.ID, created))
	return created, nil
}

// --- Deletion is optimistic; the cascade (membership rows, contained
// items) is part of the snapshot so rollback restores it all.

func (e *Engine) DeletePack(id string) (*Mutation, error) {
	e.mu.Lock()
	snap := e.packs.Snapshot(id)
	if !snap.Present {
		e.mu.Unlock()
		return nil, fmt.Errorf("delete pack: unknown pack %q", id)
	}
	rows := e.graph.Rows()
	var itemSnaps []store.Entry[model.Item]
	keys := []string{entityKey(model.KindPack, id)}
	for _, item := range e.graph.ItemsIn(id) {
		itemSnaps = append(itemSnaps, e.items.Snapshot(item.ID))
		keys = append(keys, entityKey(model.KindItem, item.ID))
	}
	e.graph.RemovePack(id)

	m := e.begin("delete_pack", keys...)
	m.rollback = func() {
		e.packs.Restore(snap)
		for _, itemSnap := range itemSnaps {
			e.items.Restore(itemSnap)
		}
		e.graph.RestoreRows(rows)
	}
	announce := []feed.Event{e.event(model.KindPack, feed.EventDelete, id, nil)}
	e.mu.Unlock()

	e.schedule(m, announce, func(ctx context.Context) error {
		return e.remote.DeletePack(ctx, id)
	})
	return m, nil
}

func (e *Engine) DeleteItem(id string) (*Mutation, error) {
	e.mu.Lock()
	snap := e.items.Snapshot(id)
	if !snap.Present {
		e.mu.Unlock()
		return nil, fmt.Errorf("delete item: unknown item %q", id)
	}
	e.items.Remove(id)

	m := e.begin("delete_item", entityKey(model.KindItem, id))
	m.rollback = func() { e.items.Restore(snap) }
	announce := []feed.Event{e.event(model.KindItem, feed.EventDelete, id, nil)}
	e.mu.Unlock()

	e.schedule(m, announce, func(ctx context.Context) error {
		return e.remote.DeleteItem(ctx, id)
	})
	return m, nil
}

func (e *Engine) DeleteManifest(id string) (*Mutation, error) {
	e.mu.Lock()
	snap := e.manifests.Snapshot(id)
	if !snap.Present {
		e.mu.Unlock()
		return nil, fmt.Errorf("delete manifest: unknown manifest %q", id)
	}
	rows := e.graph.Rows()
	e.graph.RemoveManifest(id)

	m := e.begin("delete_manifest", entityKey(model.KindManifest, id))
	m.rollback = func() {
		e.manifests.Restore(snap)
		e.graph.RestoreRows(rows)
	}
	announce := []feed.Event{e.event(model.KindManifest, feed.EventDelete, id, nil)}
	e.mu.Unlock()

	e.schedule(m, announce, func(ctx context.Context) error {
		return e.remote.DeleteManifest(ctx, id)
	})
	return m, nil
}

func (e *Engine) DeleteDocument(id string) (*Mutation, error) {
	e.mu.Lock()
	snap := e.documents.Snapshot(id)
	if !snap.Present {
		e.mu.Unlock()
		return nil, fmt.Errorf("delete document: unknown document %q", id)
	}
	e.documents.Remove(id)

	m := e.begin("delete_document", entityKey(model.KindDocument, id))
	m.rollback = func() { e.documents.Restore(snap) }
	announce := []feed.Event{e.event(model.KindDocument, feed.EventDelete, id, nil)}
	e.mu.Unlock()

	e.schedule(m, announce, func(ctx context.Context) error {
		return e.remote.DeleteDocument(ctx, id)
	})
	return m, nil
}
