package feed

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ConnState is the two-value connection signal exposed for display. It never
// gates mutations; those keep hitting the persistence service directly and
// roll back on their own failures.
type ConnState int32

const (
	Disconnected ConnState = iota
	Connected
)

func (s ConnState) String() string {
	if s == Connected {
		return "CONNECTED"
	}
	return "DISCONNECTED"
}

// Merger is the sink the listener folds remote events into.
type Merger interface {
	// Origin returns this client's id; events it originated are skipped.
	Origin() string
	Merge(ev Event) error
	// Resync re-lists every kind from the store of record. Called after a
	// reconnect, because the feed guarantees no buffering of missed events.
	Resync(ctx context.Context) error
}

type Listener struct {
	source  Source
	merger  Merger
	logger  *zap.Logger
	state   atomic.Int32
	backoff time.Duration

	// resyncEvery bounds reads while a drop is unrepaired. A source that
	// reconnects but delivers nothing would otherwise block the read loop
	// forever with the missed updates never re-listed.
	resyncEvery time.Duration

	// OnStateChange, if set, observes CONNECTED/DISCONNECTED transitions.
	OnStateChange func(state ConnState)
}

func NewListener(source Source, merger Merger, logger *zap.Logger) *Listener {
	return &Listener{
		source:      source,
		merger:      merger,
		logger:      logger,
		backoff:     time.Second,
		resyncEvery: 30 * time.Second,
	}
}

func (l *Listener) State() ConnState {
	return ConnState(l.state.Load())
}

// Start consumes the feed until the context is canceled. Read failures drop
// the state to DISCONNECTED and retry after a pause. While a drop is
// unrepaired, reads are bounded by resyncEvery and each elapsed window
// triggers a full resync, so a reconnected but quiet feed still gets the
// missed updates re-listed; the first successful read resyncs once more and
// clears the drop.
func (l *Listener) Start(ctx context.Context) {
	l.logger.Info("starting change feed listener")
	sawDrop := false
	for {
		select {
		case <-ctx.Done():
			l.logger.Info("stopping change feed listener")
			l.setState(Disconnected)
			return
		default:
			readCtx := ctx
			var cancelRead context.CancelFunc
			if sawDrop {
				readCtx, cancelRead = context.WithTimeout(ctx, l.resyncEvery)
			}
			ev, err := l.source.Read(readCtx)
			if cancelRead != nil {
				cancelRead()
			}
			if err != nil {
				if ctx.Err() != nil {
					l.setState(Disconnected)
					return
				}
				if readCtx.Err() != nil {
					// The repair window elapsed without an event. Re-list
					// now; the drop stays set until a read proves the
					// stream live again.
					if rerr := l.merger.Resync(ctx); rerr != nil {
						l.logger.Error("resync after reconnect failed", zap.Error(rerr))
					}
					continue
				}
				sawDrop = true
				l.setState(Disconnected)
				l.logger.Error("failed to read change event", zap.Error(err))
				time.Sleep(l.backoff)
				continue
			}

			l.setState(Connected)
			if sawDrop {
				sawDrop = false
				if err := l.merger.Resync(ctx); err != nil {
					l.logger.Error("resync after reconnect failed", zap.Error(err))
					// Keep merging; the next read retries the resync.
					sawDrop = true
				}
			}

			if ev.Origin != "" && ev.Origin == l.merger.Origin() {
				continue
			}
			if err := l.merger.Merge(ev); err != nil {
				l.logger.Error("failed to merge change event",
					zap.String("kind", string(ev.Kind)),
					zap.String("entity_id", ev.EntityID),
					zap.Error(err),
				)
			}
		}
	}
}

func (l *Listener) setState(s ConnState) {
	if ConnState(l.state.Swap(int32(s))) != s && l.OnStateChange != nil {
		l.OnStateChange(s)
	}
}
