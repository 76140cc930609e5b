package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/furgotrack/furgotrack-sync-service/internal/feed"
	"github.com/furgotrack/furgotrack-sync-service/internal/model"
	"github.com/furgotrack/furgotrack-sync-service/internal/remote"
	"github.com/furgotrack/furgotrack-sync-service/internal/status"
)

// fakeRemote serves the Service interface from in-memory fixtures. Per-call
// behavior is overridden through the hook funcs; a nil hook means success.
type fakeRemote struct {
	mu        sync.Mutex
	packs     []model.Pack
	items     []model.Item
	manifests []model.Manifest
	documents []model.Document
	rows      []model.ManifestPack

	packUpdates []remote.PackFields
	itemUpdates []remote.ItemFields

	onUpdatePack  func(id string, f remote.PackFields) error
	onUpdateItem  func(id string, f remote.ItemFields) error
	onDeletePack  func(id string) error
	onDeleteDoc   func(id string) error
	onActivate    func(id string) error
	onReset       func(storeStatus string) error
	onLink        func(manifestID, packID string) error
	onUnlink      func(manifestID, packID string) error
	activatedWith []string
}

func (r *fakeRemote) CreatePack(_ context.Context, p *model.Pack) (*model.Pack, error) {
	out := *p
	out.ID = fmt.Sprintf("pack-%d", time.Now().UnixNano())
	return &out, nil
}

func (r *fakeRemote) UpdatePack(_ context.Context, id string, f remote.PackFields) error {
	r.mu.Lock()
	r.packUpdates = append(r.packUpdates, f)
	hook := r.onUpdatePack
	r.mu.Unlock()
	if hook != nil {
		return hook(id, f)
	}
	return nil
}

func (r *fakeRemote) DeletePack(_ context.Context, id string) error {
	if r.onDeletePack != nil {
		return r.onDeletePack(id)
	}
	return nil
}

func (r *fakeRemote) ListPacks(context.Context) ([]model.Pack, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Pack(nil), r.packs...), nil
}

func (r *fakeRemote) CreateItem(_ context.Context, i *model.Item) (*model.Item, error) {
	out := *i
	out.ID = fmt.Sprintf("item-%d", time.Now().UnixNano())
	return &out, nil
}

func (r *fakeRemote) UpdateItem(_ context.Context, id string, f remote.ItemFields) error {
	r.mu.Lock()
	r.itemUpdates = append(r.itemUpdates, f)
	hook := r.onUpdateItem
	r.mu.Unlock()
	if hook != nil {
		return hook(id, f)
	}
	return nil
}

func (r *fakeRemote) DeleteItem(context.Context, string) error { return nil }

func (r *fakeRemote) ListItems(context.Context) ([]model.Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Item(nil), r.items...), nil
}

func (r *fakeRemote) CreateManifest(_ context.Context, m *model.Manifest) (*model.Manifest, error) {
	out := *m
	out.ID = fmt.Sprintf("man-%d", time.Now().UnixNano())
	return &out, nil
}

func (r *fakeRemote) UpdateManifest(context.Context, string, remote.ManifestFields) error {
	return nil
}

func (r *fakeRemote) DeleteManifest(context.Context, string) error { return nil }

func (r *fakeRemote) ListManifests(context.Context) ([]model.Manifest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Manifest(nil), r.manifests...), nil
}

func (r *fakeRemote) ActivateManifest(_ context.Context, id string) error {
	r.mu.Lock()
	r.activatedWith = append(r.activatedWith, id)
	hook := r.onActivate
	r.mu.Unlock()
	if hook != nil {
		return hook(id)
	}
	return nil
}

func (r *fakeRemote) CreateDocument(_ context.Context, d *model.Document) (*model.Document, error) {
	out := *d
	out.ID = fmt.Sprintf("doc-%d", time.Now().UnixNano())
	return &out, nil
}

func (r *fakeRemote) DeleteDocument(_ context.Context, id string) error {
	if r.onDeleteDoc != nil {
		return r.onDeleteDoc(id)
	}
	return nil
}

func (r *fakeRemote) ListDocuments(context.Context) ([]model.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Document(nil), r.documents...), nil
}

func (r *fakeRemote) LinkManifestPack(_ context.Context, manifestID, packID string) error {
	if r.onLink != nil {
		return r.onLink(manifestID, packID)
	}
	return nil
}

func (r *fakeRemote) UnlinkManifestPack(_ context.Context, manifestID, packID string) error {
	if r.onUnlink != nil {
		return r.onUnlink(manifestID, packID)
	}
	return nil
}

func (r *fakeRemote) ListManifestPacks(context.Context) ([]model.ManifestPack, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.ManifestPack(nil), r.rows...), nil
}

func (r *fakeRemote) ResetPacksStoreStatus(_ context.Context, storeStatus string) error {
	if r.onReset != nil {
		return r.onReset(storeStatus)
	}
	return nil
}

func strptr(s string) *string { return &s }

func seededEngine(t *testing.T, remoteSvc *fakeRemote) *Engine {
	t.Helper()
	e := New(remoteSvc, NopLocker{}, zap.NewNop())
	if err := e.Resync(context.Background()); err != nil {
		t.Fatalf("seed resync failed: %v", err)
	}
	return e
}

func waitResolved(t *testing.T, m *Mutation) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	select {
	case <-m.Done():
	case <-ctx.Done():
		t.Fatalf("mutation %q did not resolve in time", m.Op)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func rawJSON(v any) json.RawMessage {
	raw, _ := json.Marshal(v)
	return raw
}

func TestTogglePackLoadAppliesImmediatelyAndConfirms(t *testing.T) {
	rem := &fakeRemote{packs: []model.Pack{
		{ID: "p1", Name: "cables", LoadStatus: "FLOOR", StoreStatus: "WAREHOUSE"},
	}}
	e := seededEngine(t, rem)

	m, err := e.TogglePackLoad("p1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Visible before persistence resolves.
	packs := e.Packs()
	if packs[0].LoadStatus != "TRUCK" {
		t.Fatalf("expected TRUCK immediately, got %q", packs[0].LoadStatus)
	}
	if packs[0].LastMovedAt == nil {
		t.Fatalf("expected move timestamp to be stamped")
	}

	waitResolved(t, m)
	if m.State() != StateConfirmed {
		t.Fatalf("expected confirmed, got %v (%v)", m.State(), m.Err())
	}

	rem.mu.Lock()
	defer rem.mu.Unlock()
	if len(rem.packUpdates) != 1 {
		t.Fatalf("expected one persisted update, got %d", len(rem.packUpdates))
	}
	f := rem.packUpdates[0]
	if f.LoadStatus == nil || *f.LoadStatus != "TRUCK" {
		t.Fatalf("expected sparse update to carry load status TRUCK, got %+v", f)
	}
	if f.StoreStatus != nil || f.Name != nil {
		t.Fatalf("expected untouched fields to stay absent, got %+v", f)
	}
	if f.LastMovedAt == nil {
		t.Fatalf("expected move timestamp in the update")
	}
}

func TestToggleRollbackRestoresSnapshot(t *testing.T) {
	rem := &fakeRemote{packs: []model.Pack{
		{ID: "p1", Name: "cables", LoadStatus: "FLOOR", StoreStatus: "WAREHOUSE"},
		{ID: "p2", Name: "mics", LoadStatus: "FLOOR", StoreStatus: "WAREHOUSE"},
	}}
	rem.onUpdatePack = func(string, remote.PackFields) error {
		return &remote.TransientError{Err: errors.New("network down")}
	}
	e := seededEngine(t, rem)
	before := e.Packs()

	rolledBack := make(chan string, 1)
	e.OnRollback = func(op string, err error) { rolledBack <- op }

	m, err := e.TogglePackStore("p1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.Packs()[0].StoreStatus != "OUT" {
		t.Fatalf("expected optimistic OUT")
	}

	waitResolved(t, m)
	if m.State() != StateRolledBack {
		t.Fatalf("expected rolled back, got %v", m.State())
	}
	if !remote.IsTransient(m.Err()) {
		t.Fatalf("expected transient error, got %v", m.Err())
	}

	after := e.Packs()
	if len(after) != len(before) {
		t.Fatalf("expected pack count to survive rollback")
	}
	for i := range before {
		if after[i].ID != before[i].ID {
			t.Fatalf("expected iteration order to survive rollback: %q vs %q", after[i].ID, before[i].ID)
		}
	}
	if after[0].StoreStatus != "WAREHOUSE" || after[0].LastMovedAt != nil {
		t.Fatalf("expected pre-mutation record back, got %+v", after[0])
	}
	select {
	case op := <-rolledBack:
		if op != "toggle_pack_store" {
			t.Fatalf("expected rollback notification for the toggle, got %q", op)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected a rollback notification")
	}
}

func TestActivateManifestIsExclusive(t *testing.T) {
	rem := &fakeRemote{manifests: []model.Manifest{
		{ID: "m1", Name: "spring", IsActive: true},
		{ID: "m2", Name: "summer"},
		{ID: "m3", Name: "autumn"},
	}}
	e := seededEngine(t, rem)

	m, err := e.ActivateManifest("m2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	active, ok := e.ActiveManifest()
	if !ok || active.ID != "m2" {
		t.Fatalf("expected m2 active immediately, got %+v ok=%v", active, ok)
	}
	count := 0
	for _, man := range e.Manifests() {
		if man.IsActive {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly one active manifest, got %d", count)
	}

	waitResolved(t, m)
	if m.State() != StateConfirmed {
		t.Fatalf("expected confirmed, got %v (%v)", m.State(), m.Err())
	}
	rem.mu.Lock()
	defer rem.mu.Unlock()
	if len(rem.activatedWith) != 1 || rem.activatedWith[0] != "m2" {
		t.Fatalf("expected remote activation of m2, got %v", rem.activatedWith)
	}
}

func TestActivateManifestRollbackRestoresEveryFlag(t *testing.T) {
	rem := &fakeRemote{manifests: []model.Manifest{
		{ID: "m1", Name: "spring", IsActive: true},
		{ID: "m2", Name: "summer"},
	}}
	rem.onActivate = func(string) error {
		return &remote.TransientError{Err: errors.New("timeout")}
	}
	e := seededEngine(t, rem)

	m, err := e.ActivateManifest("m2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitResolved(t, m)
	if m.State() != StateRolledBack {
		t.Fatalf("expected rolled back, got %v", m.State())
	}

	active, ok := e.ActiveManifest()
	if !ok || active.ID != "m1" {
		t.Fatalf("expected m1 active again after rollback, got %+v ok=%v", active, ok)
	}
}

func TestSupersededRollbackLeavesLaterMutationIntact(t *testing.T) {
	release := make(chan struct{})
	rem := &fakeRemote{packs: []model.Pack{
		{ID: "p1", Name: "cables", LoadStatus: "FLOOR", StoreStatus: "WAREHOUSE"},
	}}
	rem.onUpdatePack = func(_ string, f remote.PackFields) error {
		if f.LoadStatus != nil {
			<-release
			return &remote.TransientError{Err: errors.New("slow failure")}
		}
		return nil
	}
	e := seededEngine(t, rem)

	first, err := e.TogglePackLoad("p1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := e.UpdatePackInfo("p1", "renamed", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitResolved(t, second)
	if second.State() != StateConfirmed {
		t.Fatalf("expected later mutation confirmed, got %v", second.State())
	}

	close(release)
	waitResolved(t, first)
	if first.State() != StateRolledBack {
		t.Fatalf("expected superseded mutation to resolve rolled back, got %v", first.State())
	}

	// The stale rollback must not clobber the later mutation's state.
	pack := e.Packs()[0]
	if pack.LoadStatus != "TRUCK" {
		t.Fatalf("expected TRUCK to survive superseded rollback, got %q", pack.LoadStatus)
	}
	if pack.Name != "renamed" {
		t.Fatalf("expected rename to survive superseded rollback, got %q", pack.Name)
	}
}

func TestNotFoundFailureForcesResync(t *testing.T) {
	rem := &fakeRemote{packs: []model.Pack{
		{ID: "p1", Name: "cables", LoadStatus: "FLOOR", StoreStatus: "WAREHOUSE"},
		{ID: "p2", Name: "mics", LoadStatus: "FLOOR", StoreStatus: "WAREHOUSE"},
	}}
	e := seededEngine(t, rem)

	// p1 vanishes remotely; the update fails not-found and the re-list no
	// longer carries it.
	rem.mu.Lock()
	rem.packs = rem.packs[1:]
	rem.onUpdatePack = func(string, remote.PackFields) error {
		return &remote.NotFoundError{Err: errors.New("no such pack")}
	}
	rem.mu.Unlock()

	m, err := e.TogglePackLoad("p1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitResolved(t, m)
	if m.State() != StateRolledBack || !remote.IsNotFound(m.Err()) {
		t.Fatalf("expected not-found rollback, got %v (%v)", m.State(), m.Err())
	}

	waitFor(t, "forced resync to drop p1", func() bool {
		packs := e.Packs()
		return len(packs) == 1 && packs[0].ID == "p2"
	})
}

func TestMergeAppliesOnlyPresentFields(t *testing.T) {
	desc := "flight case"
	rem := &fakeRemote{packs: []model.Pack{
		{ID: "p1", Name: "cables", Description: &desc, LoadStatus: "FLOOR", StoreStatus: "WAREHOUSE"},
	}}
	e := seededEngine(t, rem)

	err := e.Merge(feed.Event{
		Origin:   "other-client",
		Kind:     model.KindPack,
		Type:     feed.EventUpdate,
		EntityID: "p1",
		Fields: map[string]json.RawMessage{
			"load_status": rawJSON("TRUCK"),
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	pack := e.Packs()[0]
	if pack.LoadStatus != "TRUCK" {
		t.Fatalf("expected merged load status, got %q", pack.LoadStatus)
	}
	if pack.Name != "cables" || pack.Description == nil || *pack.Description != desc {
		t.Fatalf("expected absent fields untouched, got %+v", pack)
	}
}

func TestMergeSkipsOwnEvents(t *testing.T) {
	rem := &fakeRemote{packs: []model.Pack{
		{ID: "p1", Name: "cables", LoadStatus: "FLOOR", StoreStatus: "WAREHOUSE"},
	}}
	e := seededEngine(t, rem)

	err := e.Merge(feed.Event{
		Origin:   e.Origin(),
		Kind:     model.KindPack,
		Type:     feed.EventUpdate,
		EntityID: "p1",
		Fields:   map[string]json.RawMessage{"name": rawJSON("echoed")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.Packs()[0].Name != "cables" {
		t.Fatalf("expected own event to be ignored")
	}
}

func TestMergeSkipsEntitiesWithPendingMutation(t *testing.T) {
	release := make(chan struct{})
	rem := &fakeRemote{packs: []model.Pack{
		{ID: "p1", Name: "cables", LoadStatus: "FLOOR", StoreStatus: "WAREHOUSE"},
	}}
	rem.onUpdatePack = func(string, remote.PackFields) error {
		<-release
		return nil
	}
	e := seededEngine(t, rem)

	m, err := e.TogglePackLoad("p1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err = e.Merge(feed.Event{
		Origin:   "other-client",
		Kind:     model.KindPack,
		Type:     feed.EventUpdate,
		EntityID: "p1",
		Fields:   map[string]json.RawMessage{"name": rawJSON("remote rename")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.Packs()[0].Name != "cables" {
		t.Fatalf("expected merge to be skipped while a mutation is in flight")
	}

	close(release)
	waitResolved(t, m)
}

func TestStaleActivationEventDoesNotClobberPendingActivation(t *testing.T) {
	release := make(chan struct{})
	rem := &fakeRemote{manifests: []model.Manifest{
		{ID: "m1", Name: "spring", IsActive: true},
		{ID: "m2", Name: "summer"},
	}}
	rem.onActivate = func(string) error {
		<-release
		return nil
	}
	e := seededEngine(t, rem)

	m, err := e.ActivateManifest("m2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// A stale feed event still claims m1 is active. The whole manifest
	// collection is owned by the pending activation, so it is skipped.
	err = e.Merge(feed.Event{
		Origin:   "other-client",
		Kind:     model.KindManifest,
		Type:     feed.EventUpdate,
		EntityID: "m1",
		Fields:   map[string]json.RawMessage{"is_active": rawJSON(true)},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	active, ok := e.ActiveManifest()
	if !ok || active.ID != "m2" {
		t.Fatalf("expected pending activation to hold, got %+v ok=%v", active, ok)
	}

	close(release)
	waitResolved(t, m)
	if m.State() != StateConfirmed {
		t.Fatalf("expected confirmed, got %v (%v)", m.State(), m.Err())
	}
}

func TestMergedActivationDeactivatesOthers(t *testing.T) {
	rem := &fakeRemote{manifests: []model.Manifest{
		{ID: "m1", Name: "spring", IsActive: true},
		{ID: "m2", Name: "summer"},
	}}
	e := seededEngine(t, rem)

	err := e.Merge(feed.Event{
		Origin:   "other-client",
		Kind:     model.KindManifest,
		Type:     feed.EventUpdate,
		EntityID: "m2",
		Fields:   map[string]json.RawMessage{"is_active": rawJSON(true)},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	count := 0
	var activeID string
	for _, man := range e.Manifests() {
		if man.IsActive {
			count++
			activeID = man.ID
		}
	}
	if count != 1 || activeID != "m2" {
		t.Fatalf("expected m2 to be the single active manifest, got count=%d id=%q", count, activeID)
	}
}

func TestMoveItemUpdatesViewsAndPersistsExplicitNull(t *testing.T) {
	rem := &fakeRemote{
		packs: []model.Pack{{ID: "p1", Name: "cables", LoadStatus: "FLOOR", StoreStatus: "WAREHOUSE"}},
		items: []model.Item{{ID: "i1", Name: "XLR bundle", Owner: "band"}},
	}
	e := seededEngine(t, rem)

	m, err := e.MoveItem("i1", strptr("p1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if in := e.ItemsIn("p1"); len(in) != 1 || in[0].ID != "i1" {
		t.Fatalf("expected i1 inside p1, got %v", in)
	}
	if un := e.ItemsUnassigned(); len(un) != 0 {
		t.Fatalf("expected no unassigned items, got %v", un)
	}
	waitResolved(t, m)

	m, err = e.MoveItem("i1", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if un := e.ItemsUnassigned(); len(un) != 1 {
		t.Fatalf("expected i1 unassigned again, got %v", un)
	}
	waitResolved(t, m)

	rem.mu.Lock()
	defer rem.mu.Unlock()
	if len(rem.itemUpdates) != 2 {
		t.Fatalf("expected two persisted updates, got %d", len(rem.itemUpdates))
	}
	last := rem.itemUpdates[1]
	if !last.SetPackID || last.PackID != nil {
		t.Fatalf("expected explicit null container in the update, got %+v", last)
	}
}

func TestResetPacksRollbackRestoresStatuses(t *testing.T) {
	moved := time.Now().Add(-time.Hour)
	rem := &fakeRemote{packs: []model.Pack{
		{ID: "p1", Name: "cables", LoadStatus: "FLOOR", StoreStatus: "OUT", LastMovedAt: &moved},
		{ID: "p2", Name: "mics", LoadStatus: "TRUCK", StoreStatus: "OUT", LastMovedAt: &moved},
	}}
	rem.onReset = func(string) error {
		return &remote.TransientError{Err: errors.New("bulk update failed")}
	}
	e := seededEngine(t, rem)

	m, err := e.ResetPacksToWarehouse()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, p := range e.Packs() {
		if p.StoreStatus != status.Inventory.A {
			t.Fatalf("expected optimistic WAREHOUSE, got %q", p.StoreStatus)
		}
	}

	waitResolved(t, m)
	if m.State() != StateRolledBack {
		t.Fatalf("expected rolled back, got %v", m.State())
	}
	for _, p := range e.Packs() {
		if p.StoreStatus != "OUT" {
			t.Fatalf("expected OUT restored, got %q for %q", p.StoreStatus, p.ID)
		}
		if p.LastMovedAt == nil || !p.LastMovedAt.Equal(moved) {
			t.Fatalf("expected original move timestamp restored for %q", p.ID)
		}
	}
}

func TestDeletePackCascadeAndRollback(t *testing.T) {
	rem := &fakeRemote{
		packs:     []model.Pack{{ID: "p1", Name: "cables", LoadStatus: "FLOOR", StoreStatus: "WAREHOUSE"}},
		items:     []model.Item{{ID: "i1", Name: "XLR bundle", PackID: strptr("p1")}},
		manifests: []model.Manifest{{ID: "m1", Name: "spring"}},
		rows:      []model.ManifestPack{{ManifestID: "m1", PackID: "p1"}},
	}
	rem.onDeletePack = func(string) error {
		return &remote.TransientError{Err: errors.New("delete failed")}
	}
	e := seededEngine(t, rem)

	m, err := e.DeletePack("p1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Cascade is visible immediately.
	if len(e.Packs()) != 0 {
		t.Fatalf("expected pack gone")
	}
	if un := e.ItemsUnassigned(); len(un) != 1 {
		t.Fatalf("expected contained item unassigned, got %v", un)
	}
	if in := e.PacksIn("m1"); len(in) != 0 {
		t.Fatalf("expected membership row gone, got %v", in)
	}

	waitResolved(t, m)
	if m.State() != StateRolledBack {
		t.Fatalf("expected rolled back, got %v", m.State())
	}

	// The whole cascade rolls back as one unit.
	if len(e.Packs()) != 1 || e.Packs()[0].ID != "p1" {
		t.Fatalf("expected p1 restored, got %v", e.Packs())
	}
	if in := e.ItemsIn("p1"); len(in) != 1 || in[0].ID != "i1" {
		t.Fatalf("expected i1 back inside p1, got %v", in)
	}
	if in := e.PacksIn("m1"); len(in) != 1 || in[0].ID != "p1" {
		t.Fatalf("expected membership row restored, got %v", in)
	}
}

func TestCreatePackIsRemoteFirst(t *testing.T) {
	rem := &fakeRemote{}
	e := seededEngine(t, rem)

	var announced []feed.Event
	e.OnChange = func(ev feed.Event) { announced = append(announced, ev) }

	created, err := e.CreatePack(context.Background(), "new pack", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created.ID == "" {
		t.Fatalf("expected server-assigned id")
	}
	if created.LoadStatus != status.LoadDay.A || created.StoreStatus != status.Inventory.A {
		t.Fatalf("expected initial statuses, got %+v", created)
	}
	if len(e.Packs()) != 1 {
		t.Fatalf("expected created pack cached locally")
	}
	if len(announced) != 1 || announced[0].Type != feed.EventInsert {
		t.Fatalf("expected one insert announcement, got %v", announced)
	}
}

func TestLoadProgress(t *testing.T) {
	rem := &fakeRemote{packs: []model.Pack{
		{ID: "p1", LoadStatus: "TRUCK", StoreStatus: "WAREHOUSE"},
		{ID: "p2", LoadStatus: "FLOOR", StoreStatus: "WAREHOUSE"},
		{ID: "p3", LoadStatus: "TRUCK", StoreStatus: "WAREHOUSE"},
		{ID: "p4", LoadStatus: "FLOOR", StoreStatus: "WAREHOUSE"},
	}}
	e := seededEngine(t, rem)

	if got := e.LoadProgress(); got != 0.5 {
		t.Fatalf("expected progress 0.5, got %v", got)
	}

	empty := New(&fakeRemote{}, NopLocker{}, zap.NewNop())
	if got := empty.LoadProgress(); got != 0 {
		t.Fatalf("expected 0 with no packs, got %v", got)
	}
}

func TestUpdateInfoNilDescriptionLeavesItUntouched(t *testing.T) {
	keep := "keep me"
	rem := &fakeRemote{
		packs: []model.Pack{{ID: "p1", Name: "cables", Description: &keep, LoadStatus: "FLOOR", StoreStatus: "WAREHOUSE"}},
		items: []model.Item{{ID: "i1", Name: "XLR bundle", Description: &keep, Owner: "band"}},
	}
	e := seededEngine(t, rem)

	m, err := e.UpdatePackInfo("p1", "renamed", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitResolved(t, m)
	if m.State() != StateConfirmed {
		t.Fatalf("expected confirmed, got %v (%v)", m.State(), m.Err())
	}

	// Nil is leave-untouched in the sparse update; the local record must
	// agree or the two stores diverge permanently.
	pack := e.Packs()[0]
	if pack.Name != "renamed" {
		t.Fatalf("expected rename applied, got %q", pack.Name)
	}
	if pack.Description == nil || *pack.Description != keep {
		t.Fatalf("expected description untouched, got %v", pack.Description)
	}
	rem.mu.Lock()
	if f := rem.packUpdates[0]; f.Description != nil {
		t.Fatalf("expected no description in the sparse update, got %q", *f.Description)
	}
	rem.mu.Unlock()

	m, err = e.UpdateItemInfo("i1", "renamed", nil, "crew", 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitResolved(t, m)
	item := e.Items()[0]
	if item.Description == nil || *item.Description != keep {
		t.Fatalf("expected item description untouched, got %v", item.Description)
	}

	newDesc := "replaced"
	m, err = e.UpdatePackInfo("p1", "renamed", &newDesc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitResolved(t, m)
	pack = e.Packs()[0]
	if pack.Description == nil || *pack.Description != newDesc {
		t.Fatalf("expected description replaced, got %v", pack.Description)
	}
}

func TestResyncKeepsPendingLink(t *testing.T) {
	release := make(chan struct{})
	rem := &fakeRemote{
		packs:     []model.Pack{{ID: "p1", Name: "cables", LoadStatus: "FLOOR", StoreStatus: "WAREHOUSE"}},
		manifests: []model.Manifest{{ID: "m1", Name: "spring"}},
	}
	rem.onLink = func(string, string) error {
		<-release
		return nil
	}
	e := seededEngine(t, rem)

	m, err := e.LinkPack("m1", "p1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The remote listing does not carry the row yet; the pending link must
	// survive the re-list anyway.
	if err := e.Resync(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if in := e.PacksIn("m1"); len(in) != 1 || in[0].ID != "p1" {
		t.Fatalf("expected pending link to survive resync, got %v", in)
	}

	close(release)
	waitResolved(t, m)
	if m.State() != StateConfirmed {
		t.Fatalf("expected confirmed, got %v (%v)", m.State(), m.Err())
	}
}

func TestResyncKeepsPendingUnlink(t *testing.T) {
	release := make(chan struct{})
	rem := &fakeRemote{
		packs:     []model.Pack{{ID: "p1", Name: "cables", LoadStatus: "FLOOR", StoreStatus: "WAREHOUSE"}},
		manifests: []model.Manifest{{ID: "m1", Name: "spring"}},
		rows:      []model.ManifestPack{{ManifestID: "m1", PackID: "p1"}},
	}
	rem.onUnlink = func(string, string) error {
		<-release
		return nil
	}
	e := seededEngine(t, rem)

	m, err := e.UnlinkPack("m1", "p1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The stale remote listing still carries the row.
	if err := e.Resync(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if in := e.PacksIn("m1"); len(in) != 0 {
		t.Fatalf("expected pending unlink to survive resync, got %v", in)
	}

	close(release)
	waitResolved(t, m)
}

func TestResyncKeepsPendingDeletion(t *testing.T) {
	release := make(chan struct{})
	rem := &fakeRemote{packs: []model.Pack{
		{ID: "p1", Name: "cables", LoadStatus: "FLOOR", StoreStatus: "WAREHOUSE"},
		{ID: "p2", Name: "mics", LoadStatus: "FLOOR", StoreStatus: "WAREHOUSE"},
	}}
	rem.onDeletePack = func(string) error {
		<-release
		return nil
	}
	e := seededEngine(t, rem)

	m, err := e.DeletePack("p1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The stale remote listing would resurrect p1 without the pending
	// deletion marker.
	if err := e.Resync(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	packs := e.Packs()
	if len(packs) != 1 || packs[0].ID != "p2" {
		t.Fatalf("expected pending deletion to survive resync, got %v", packs)
	}

	close(release)
	waitResolved(t, m)
	if m.State() != StateConfirmed {
		t.Fatalf("expected confirmed, got %v (%v)", m.State(), m.Err())
	}
	if len(e.Packs()) != 1 {
		t.Fatalf("expected p1 to stay deleted after confirmation")
	}
}

func TestResyncKeepsPendingDocumentDeletion(t *testing.T) {
	release := make(chan struct{})
	rem := &fakeRemote{documents: []model.Document{
		{ID: "d1", Name: "route sheet", URL: "https://example.com/route"},
	}}
	rem.onDeleteDoc = func(string) error {
		<-release
		return nil
	}
	e := seededEngine(t, rem)

	m, err := e.DeleteDocument("d1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := e.Resync(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if docs := e.Documents(); len(docs) != 0 {
		t.Fatalf("expected pending document deletion to survive resync, got %v", docs)
	}

	close(release)
	waitResolved(t, m)
}

type recordingLocker struct {
	mu   sync.Mutex
	ttls []time.Duration
}

func (l *recordingLocker) Acquire(_ context.Context, _, _ string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	l.ttls = append(l.ttls, ttl)
	l.mu.Unlock()
	return true, nil
}

func (l *recordingLocker) Release(context.Context, string, string) error { return nil }

func TestSetLockTTLReachesTheLocker(t *testing.T) {
	rem := &fakeRemote{manifests: []model.Manifest{{ID: "m1", Name: "spring"}}}
	locker := &recordingLocker{}
	e := New(rem, locker, zap.NewNop())
	e.SetLockTTL(42 * time.Second)
	if err := e.Resync(context.Background()); err != nil {
		t.Fatalf("seed resync failed: %v", err)
	}

	m, err := e.ActivateManifest("m1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitResolved(t, m)

	locker.mu.Lock()
	defer locker.mu.Unlock()
	if len(locker.ttls) != 1 || locker.ttls[0] != 42*time.Second {
		t.Fatalf("expected configured lock TTL 42s, got %v", locker.ttls)
	}
}

func TestResyncKeepsPendingLocalVersions(t *testing.T) {
	release := make(chan struct{})
	rem := &fakeRemote{packs: []model.Pack{
		{ID: "p1", Name: "cables", LoadStatus: "FLOOR", StoreStatus: "WAREHOUSE"},
	}}
	rem.onUpdatePack = func(string, remote.PackFields) error {
		<-release
		return nil
	}
	e := seededEngine(t, rem)

	m, err := e.TogglePackLoad("p1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// A resync while the toggle is in flight must not revert p1 to the
	// remote listing's stale FLOOR.
	if err := e.Resync(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.Packs()[0].LoadStatus != "TRUCK" {
		t.Fatalf("expected pending local version to survive resync")
	}

	close(release)
	waitResolved(t, m)
}
