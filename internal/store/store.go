// Package store holds the in-memory entity cache for one entity kind. It is
// a read/write cache over the remote store of record; it never talks to the
// network itself.
//
// A Store is not safe for concurrent use. The sync engine is the single
// writer and serializes access with its own mutex.
package store

import "github.com/furgotrack/furgotrack-sync-service/internal/model"

// Store maps entity id → record while preserving a stable iteration order:
// load order for resynced entities, insertion order for entities created
// afterwards. Upserting a known id replaces the record in place without
// moving it.
type Store[T model.Entity] struct {
	order   []string
	entries map[string]T
}

func New[T model.Entity]() *Store[T] {
	return &Store[T]{entries: make(map[string]T)}
}

func (s *Store[T]) Get(id string) (T, bool) {
	v, ok := s.entries[id]
	return v, ok
}

// List returns the entities in stable order. The slice is a copy; the
// records are values, so callers cannot alias store state.
func (s *Store[T]) List() []T {
	out := make([]T, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.entries[id])
	}
	return out
}

func (s *Store[T]) Len() int { return len(s.order) }

func (s *Store[T]) Upsert(v T) {
	id := v.EntityID()
	if _, ok := s.entries[id]; !ok {
		s.order = append(s.order, id)
	}
	s.entries[id] = v
}

func (s *Store[T]) Remove(id string) bool {
	if _, ok := s.entries[id]; !ok {
		return false
	}
	delete(s.entries, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

// Replace swaps the full contents for a freshly listed set, in load order.
// Used by the resync path after a feed reconnect.
func (s *Store[T]) Replace(all []T) {
	s.order = s.order[:0]
	s.entries = make(map[string]T, len(all))
	for _, v := range all {
		s.Upsert(v)
	}
}

// Entry is a point-in-time snapshot of one id's slot: the record, its
// position, and whether it existed at all. Restoring an Entry puts the slot
// back exactly as captured, which is what mutation rollback requires.
type Entry[T model.Entity] struct {
	ID      string
	Present bool
	Index   int
	Value   T
}

func (s *Store[T]) Snapshot(id string) Entry[T] {
	v, ok := s.entries[id]
	e := Entry[T]{ID: id, Present: ok, Value: v}
	if ok {
		for i, existing := range s.order {
			if existing == id {
				e.Index = i
				break
			}
		}
	}
	return e
}

// SnapshotAll captures every current entry, for mutations whose blast radius
// is the whole collection (exclusive-select, bulk reset).
func (s *Store[T]) SnapshotAll() []Entry[T] {
	out := make([]Entry[T], 0, len(s.order))
	for i, id := range s.order {
		out = append(out, Entry[T]{ID: id, Present: true, Index: i, Value: s.entries[id]})
	}
	return out
}

func (s *Store[T]) Restore(e Entry[T]) {
	if !e.Present {
		s.Remove(e.ID)
		return
	}
	if _, ok := s.entries[e.ID]; ok {
		s.entries[e.ID] = e.Value
		return
	}
	s.entries[e.ID] = e.Value
	at := e.Index
	if at > len(s.order) {
		at = len(s.order)
	}
	s.order = append(s.order[:at], append([]string{e.ID}, s.order[at:]...)...)
}
