// Package sync implements the optimistic containment and status-transition
// engine: every mutation is applied to the in-memory stores synchronously,
// persisted to the remote store of record in the background, and rolled back
// to its pre-mutation snapshot if persistence fails.
package sync

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/furgotrack/furgotrack-sync-service/internal/feed"
	"github.com/furgotrack/furgotrack-sync-service/internal/graph"
	"github.com/furgotrack/furgotrack-sync-service/internal/metrics"
	"github.com/furgotrack/furgotrack-sync-service/internal/model"
	"github.com/furgotrack/furgotrack-sync-service/internal/remote"
	"github.com/furgotrack/furgotrack-sync-service/internal/status"
	"github.com/furgotrack/furgotrack-sync-service/internal/store"
)

const activationLockKey = "lock:manifest:active"

// Engine owns the in-memory entity stores and the containment graph, and is
// the single serialization point for local state. Mutations on the same
// entity are not mutually excluded; ordering is by issuance sequence
// instead, and a completion that has been superseded by a later local
// mutation never touches the stores.
type Engine struct {
	mu        sync.Mutex
	packs     *store.Store[model.Pack]
	items     *store.Store[model.Item]
	manifests *store.Store[model.Manifest]
	documents *store.Store[model.Document]
	graph     *graph.Graph

	remote remote.Service
	locker Locker
	logger *zap.Logger
	origin string

	issued  map[string]uint64
	pending map[string]int

	now            func() time.Time
	persistTimeout time.Duration
	lockTTL        time.Duration

	// OnChange, if set, observes every confirmed mutation and merged remote
	// event, for re-broadcast to connected UI clients.
	OnChange func(ev feed.Event)
	// OnRollback, if set, surfaces rolled-back mutations as user-visible,
	// non-fatal notifications.
	OnRollback func(op string, err error)
}

func New(remoteSvc remote.Service, locker Locker, logger *zap.Logger) *Engine {
	packs := store.New[model.Pack]()
	items := store.New[model.Item]()
	manifests := store.New[model.Manifest]()
	return &Engine{
		packs:          packs,
		items:          items,
		manifests:      manifests,
		documents:      store.New[model.Document](),
		graph:          graph.New(items, packs, manifests),
		remote:         remoteSvc,
		locker:         locker,
		logger:         logger,
		origin:         uuid.New().String(),
		issued:         make(map[string]uint64),
		pending:        make(map[string]int),
		now:            time.Now,
		persistTimeout: 10 * time.Second,
		lockTTL:        5 * time.Second,
	}
}

// Origin identifies this client on the change feed; its own events are not
// re-merged.
func (e *Engine) Origin() string { return e.origin }

// SetLockTTL overrides the manifest-activation lock TTL. Call before the
// engine starts taking mutations.
func (e *Engine) SetLockTTL(ttl time.Duration) {
	if ttl > 0 {
		e.lockTTL = ttl
	}
}

func entityKey(kind model.Kind, id string) string {
	return string(kind) + "/" + id
}

func relationKey(manifestID, packID string) string {
	return string(model.KindManifestPack) + "/" + manifestID + "/" + packID
}

// --- Read API. Views are recomputed from current store state on each call.

func (e *Engine) Packs() []model.Pack {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.packs.List()
}

func (e *Engine) Items() []model.Item {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.items.List()
}

func (e *Engine) Manifests() []model.Manifest {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.manifests.List()
}

func (e *Engine) Documents() []model.Document {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.documents.List()
}

func (e *Engine) ItemsIn(packID string) []model.Item {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.graph.ItemsIn(packID)
}

func (e *Engine) ItemsUnassigned() []model.Item {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.graph.ItemsUnassigned()
}

func (e *Engine) PacksIn(manifestID string) []model.Pack {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.graph.PacksIn(manifestID)
}

func (e *Engine) PacksNotIn(manifestID string) []model.Pack {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.graph.PacksNotIn(manifestID)
}

// ActiveManifest returns the currently active manifest, if any.
func (e *Engine) ActiveManifest() (model.Manifest, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, m := range e.manifests.List() {
		if m.IsActive {
			return m, true
		}
	}
	return model.Manifest{}, false
}

// LoadProgress is the fraction of packs already on the truck, 0 when there
// are no packs.
func (e *Engine) LoadProgress() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	packs := e.packs.List()
	if len(packs) == 0 {
		return 0
	}
	loaded := 0
	for _, p := range packs {
		if p.LoadStatus == status.LoadDay.B {
			loaded++
		}
	}
	return float64(loaded) / float64(len(packs))
}

// --- Mutation bookkeeping.

// begin registers a pending mutation over the given entity keys and assigns
// its issuance sequence. Caller holds e.mu.
func (e *Engine) begin(op string, keys ...string) *Mutation {
	m := newMutation(op)
	for _, key := range keys {
		e.issued[key]++
		m.seqs[key] = e.issued[key]
		e.pending[key]++
	}
	return m
}

// schedule runs the persistence request in the background and resolves the
// mutation when it returns. The caller's goroutine never blocks on it.
func (e *Engine) schedule(m *Mutation, announce []feed.Event, persist func(ctx context.Context) error) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), e.persistTimeout)
		defer cancel()
		e.complete(m, announce, persist(ctx))
	}()
}

func (e *Engine) complete(m *Mutation, announce []feed.Event, err error) {
	e.mu.Lock()
	superseded := false
	for key, seq := range m.seqs {
		e.pending[key]--
		if e.pending[key] <= 0 {
			delete(e.pending, key)
		}
		if e.issued[key] > seq {
			superseded = true
		}
	}

	if err == nil {
		e.mu.Unlock()
		m.resolve(StateConfirmed, nil)
		metrics.MutationsTotal.WithLabelValues(m.Op, "confirmed").Inc()
		if superseded {
			// A later local mutation owns the entity now; confirm quietly
			// without re-announcing stale state.
			metrics.SupersededTotal.Inc()
			return
		}
		e.announce(announce...)
		return
	}

	if remote.IsNotFound(err) {
		// The referenced entity vanished remotely; a blind rollback would
		// resurrect it locally. Re-list instead.
		e.mu.Unlock()
		m.resolve(StateRolledBack, err)
		metrics.MutationsTotal.WithLabelValues(m.Op, "resync").Inc()
		e.notifyRollback(m.Op, err)
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), e.persistTimeout)
			defer cancel()
			if rerr := e.Resync(ctx); rerr != nil {
				e.logger.Error("forced resync failed", zap.String("op", m.Op), zap.Error(rerr))
			}
		}()
		return
	}

	if !superseded && m.rollback != nil {
		m.rollback()
	}
	if superseded {
		metrics.SupersededTotal.Inc()
	}
	e.mu.Unlock()
	m.resolve(StateRolledBack, err)
	metrics.MutationsTotal.WithLabelValues(m.Op, "rolled_back").Inc()
	e.notifyRollback(m.Op, err)
}

func (e *Engine) notifyRollback(op string, err error) {
	e.logger.Warn("mutation rolled back", zap.String("op", op), zap.Error(err))
	if e.OnRollback != nil {
		e.OnRollback(op, err)
	}
}

func (e *Engine) announce(events ...feed.Event) {
	if e.OnChange == nil {
		return
	}
	for _, ev := range events {
		e.OnChange(ev)
	}
}

func (e *Engine) event(kind model.Kind, typ feed.EventType, entityID string, entity any) feed.Event {
	ev := feed.Event{
		EventID:   uuid.New().String(),
		Origin:    e.origin,
		Kind:      kind,
		Type:      typ,
		EntityID:  entityID,
		Timestamp: e.now(),
	}
	if entity != nil {
		ev.Fields = feed.FieldsOf(entity)
	}
	return ev
}

// --- Resync.

// Resync replaces local state with a fresh listing of the remote store.
// Entities and membership rows with in-flight local mutations keep their
// local state, including locally deleted ones staying deleted; their own
// confirmation or rollback will settle them.
func (e *Engine) Resync(ctx context.Context) error {
	packs, err := e.remote.ListPacks(ctx)
	if err != nil {
		return fmt.Errorf("resync packs: %w", err)
	}
	items, err := e.remote.ListItems(ctx)
	if err != nil {
		return fmt.Errorf("resync items: %w", err)
	}
	manifests, err := e.remote.ListManifests(ctx)
	if err != nil {
		return fmt.Errorf("resync manifests: %w", err)
	}
	documents, err := e.remote.ListDocuments(ctx)
	if err != nil {
		return fmt.Errorf("resync documents: %w", err)
	}
	rows, err := e.remote.ListManifestPacks(ctx)
	if err != nil {
		return fmt.Errorf("resync manifest packs: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	keepPacks := pendingEntries(e.packs, e.pending, model.KindPack)
	keepItems := pendingEntries(e.items, e.pending, model.KindItem)
	keepManifests := pendingEntries(e.manifests, e.pending, model.KindManifest)
	keepDocuments := pendingEntries(e.documents, e.pending, model.KindDocument)
	keepRelations := e.pendingRelations()

	e.packs.Replace(packs)
	e.items.Replace(items)
	e.manifests.Replace(manifests)
	e.documents.Replace(documents)
	e.graph.RestoreRows(rows)

	applyPendingEntries(e.packs, keepPacks)
	applyPendingEntries(e.items, keepItems)
	applyPendingEntries(e.manifests, keepManifests)
	applyPendingEntries(e.documents, keepDocuments)
	e.applyPendingRelations(keepRelations)

	metrics.ResyncsTotal.Inc()
	e.logger.Info("resynced from remote store",
		zap.Int("packs", len(packs)),
		zap.Int("items", len(items)),
		zap.Int("manifests", len(manifests)),
		zap.Int("documents", len(documents)),
		zap.Int("memberships", len(rows)),
	)
	return nil
}

// pendingEntries snapshots the slot of every entity of the kind that has an
// in-flight mutation. A non-Present entry records a pending local deletion,
// which a resync must not resurrect. Caller holds e.mu.
func pendingEntries[T model.Entity](s *store.Store[T], pending map[string]int, kind model.Kind) []store.Entry[T] {
	prefix := string(kind) + "/"
	var out []store.Entry[T]
	for key, n := range pending {
		if n <= 0 || !strings.HasPrefix(key, prefix) {
			continue
		}
		out = append(out, s.Snapshot(strings.TrimPrefix(key, prefix)))
	}
	return out
}

func applyPendingEntries[T model.Entity](s *store.Store[T], entries []store.Entry[T]) {
	for _, entry := range entries {
		if entry.Present {
			s.Upsert(entry.Value)
		} else {
			s.Remove(entry.ID)
		}
	}
}

type pendingRelation struct {
	manifestID string
	packID     string
	linked     bool
}

// pendingRelations records the local linked/unlinked state of every
// membership pair with an in-flight mutation. Caller holds e.mu.
func (e *Engine) pendingRelations() []pendingRelation {
	prefix := string(model.KindManifestPack) + "/"
	var out []pendingRelation
	for key, n := range e.pending {
		if n <= 0 || !strings.HasPrefix(key, prefix) {
			continue
		}
		pair := strings.SplitN(strings.TrimPrefix(key, prefix), "/", 2)
		if len(pair) != 2 {
			continue
		}
		out = append(out, pendingRelation{
			manifestID: pair[0],
			packID:     pair[1],
			linked:     e.graph.Linked(pair[0], pair[1]),
		})
	}
	return out
}

// applyPendingRelations re-imposes the local state of pending membership
// pairs after the row set has been replaced from the remote listing. Runs
// after applyPendingEntries so both endpoints are back in their stores.
func (e *Engine) applyPendingRelations(relations []pendingRelation) {
	for _, rel := range relations {
		if !rel.linked {
			e.graph.Unlink(rel.manifestID, rel.packID)
			continue
		}
		if e.graph.Linked(rel.manifestID, rel.packID) {
			continue
		}
		if _, err := e.graph.Link(rel.manifestID, rel.packID); err != nil {
			e.logger.Warn("could not preserve pending link across resync",
				zap.String("manifest_id", rel.manifestID),
				zap.String("pack_id", rel.packID),
				zap.Error(err),
			)
		}
	}
}
