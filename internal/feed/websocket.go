package feed

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketSource subscribes to a change-feed endpoint speaking JSON frames.
// The connection is dialed lazily on the first Read and re-dialed after any
// read failure, so the listener's retry loop doubles as reconnection.
type WebSocketSource struct {
	url  string
	conn *websocket.Conn
}

func NewWebSocketSource(url string) *WebSocketSource {
	return &WebSocketSource{url: url}
}

func (s *WebSocketSource) Read(ctx context.Context) (Event, error) {
	if s.conn == nil {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
		if err != nil {
			return Event{}, fmt.Errorf("dial change feed: %w", err)
		}
		s.conn = conn
	}

	// Honor the context's deadline; a timed-out read poisons the gorilla
	// connection, so it is dropped and re-dialed like any other failure.
	if deadline, ok := ctx.Deadline(); ok {
		s.conn.SetReadDeadline(deadline)
	} else {
		s.conn.SetReadDeadline(time.Time{})
	}

	var ev Event
	if err := s.conn.ReadJSON(&ev); err != nil {
		s.conn.Close()
		s.conn = nil
		if ctx.Err() != nil {
			return Event{}, fmt.Errorf("read change feed: %w", ctx.Err())
		}
		return Event{}, fmt.Errorf("read change feed: %w", err)
	}
	return ev, nil
}

func (s *WebSocketSource) Close() error {
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}
