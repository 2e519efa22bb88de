package app

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jaypiddy/POWER-SHIFTER-Active-Strategy-Tracker-sub000/internal/entitystore"
	"github.com/jaypiddy/POWER-SHIFTER-Active-Strategy-Tracker-sub000/internal/store"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = streamPongWait * 9 / 10
)

// streamEvent tells a client that a collection moved to a new version; the
// client refetches what it shows.
type streamEvent struct {
	Type       string           `json:"type"`
	Collection store.Collection `json:"collection,omitempty"`
	Version    uint64           `json:"version,omitempty"`
	Source     string           `json:"source,omitempty"`
	Status     Status           `json:"status,omitempty"`
	Error      string           `json:"error,omitempty"`
}

func (s *HTTPServer) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.corsOrigin == "*" || origin == s.corsOrigin
		},
	}
}

// handleStream pushes entity store changes over a websocket. Changes are
// coalesced per collection so a slow client only ever sees the latest
// version.
func (s *HTTPServer) handleStream(w http.ResponseWriter, r *http.Request, svc *Service) {
	upgrader := s.upgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	pending := make(chan entitystore.Change, len(store.AllCollections()))
	cancel, err := svc.Watch(func(change entitystore.Change) {
		select {
		case pending <- change:
		default:
		}
	})
	if err != nil {
		status, blockErr := svc.Status()
		event := streamEvent{Type: "status", Status: status}
		if blockErr != nil {
			event.Error = blockErr.Error()
		}
		_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
		_ = conn.WriteJSON(event)
		return
	}
	defer cancel()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(streamPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	status, _ := svc.Status()
	if err := s.writeEvent(conn, streamEvent{Type: "status", Status: status}); err != nil {
		return
	}

	ticker := time.NewTicker(streamPingPeriod)
	defer ticker.Stop()
	latest := make(map[store.Collection]uint64)
	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case change := <-pending:
			if change.Version <= latest[change.Collection] && change.Source == entitystore.SourceFeed {
				continue
			}
			latest[change.Collection] = change.Version
			event := streamEvent{
				Type:       "change",
				Collection: change.Collection,
				Version:    change.Version,
				Source:     string(change.Source),
			}
			if err := s.writeEvent(conn, event); err != nil {
				return
			}
		case <-ticker.C:
			if current, blockErr := svc.Status(); current != status {
				status = current
				event := streamEvent{Type: "status", Status: status}
				if blockErr != nil {
					event.Error = blockErr.Error()
				}
				if err := s.writeEvent(conn, event); err != nil {
					return
				}
			}
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *HTTPServer) writeEvent(conn *websocket.Conn, event streamEvent) error {
	_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
	if err := conn.WriteJSON(event); err != nil {
		s.logger.Debug("websocket write failed", "error", err)
		return err
	}
	return nil
}
