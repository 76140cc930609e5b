package sync

import (
	"context"
	"sync"
)

// State is a mutation's lifecycle position. Every mutation starts Pending
// with the local store already updated, and resolves to exactly one of the
// two terminal states once the persistence request returns.
type State int

const (
	StatePending State = iota
	StateConfirmed
	StateRolledBack
)

func (s State) String() string {
	switch s {
	case StateConfirmed:
		return "confirmed"
	case StateRolledBack:
		return "rolled_back"
	default:
		return "pending"
	}
}

// Mutation is the handle returned by every optimistic operation. The local
// change is already visible when the handle is returned; Done is closed when
// the remote store has confirmed or the change has been rolled back.
type Mutation struct {
	Op string

	mu    sync.Mutex
	state State
	err   error
	done  chan struct{}

	// seqs records this mutation's issuance sequence per entity key, used
	// to detect when a later local mutation has superseded it.
	seqs     map[string]uint64
	rollback func()
}

func newMutation(op string) *Mutation {
	return &Mutation{
		Op:   op,
		done: make(chan struct{}),
		seqs: make(map[string]uint64),
	}
}

// Done is closed when the mutation reaches a terminal state.
func (m *Mutation) Done() <-chan struct{} { return m.done }

func (m *Mutation) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Err returns the persistence error for a rolled-back mutation, nil
// otherwise.
func (m *Mutation) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// Wait blocks until the mutation resolves or the context ends.
func (m *Mutation) Wait(ctx context.Context) error {
	select {
	case <-m.done:
		return m.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Mutation) resolve(state State, err error) {
	m.mu.Lock()
	m.state = state
	m.err = err
	m.mu.Unlock()
	close(m.done)
}
