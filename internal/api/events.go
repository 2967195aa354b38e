package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chaz8081/presenced/internal/advertise"
	"github.com/chaz8081/presenced/internal/peerid"
	"github.com/chaz8081/presenced/internal/presence"
)

const (
	eventBuffer  = 64
	writeTimeout = 5 * time.Second
	pingInterval = 30 * time.Second
)

// Event types on the /events stream.
const (
	EventPeerDiscovered = "peer_discovered"
	EventPeerLost       = "peer_lost"
	EventAdvertising    = "advertising"
)

// StreamEvent is one message on the /events stream.
type StreamEvent struct {
	Type        string           `json:"type"`
	Time        time.Time        `json:"time"`
	Peer        *presence.Entry  `json:"peer,omitempty"`
	PeerID      peerid.ID        `json:"peer_id,omitempty"`
	Advertising *advertise.Event `json:"advertising,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Events upgrades to a websocket and streams presence and advertising
// events until the client goes away. Slow clients lose events rather than
// stall the engine.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	out := make(chan StreamEvent, eventBuffer)
	send := func(ev StreamEvent) {
		ev.Time = time.Now()
		select {
		case out <- ev:
		default:
			slog.Warn("[API] event stream full, dropping event", "type", ev.Type, "remote", r.RemoteAddr)
		}
	}

	cancelPresence := h.engine.Subscribe(
		func(e presence.Entry) { send(StreamEvent{Type: EventPeerDiscovered, Peer: &e}) },
		func(id peerid.ID) { send(StreamEvent{Type: EventPeerLost, PeerID: id}) },
	)
	defer cancelPresence()
	cancelAdv := h.engine.SubscribeAdvertising(func(ev advertise.Event) {
		send(StreamEvent{Type: EventAdvertising, Advertising: &ev})
	})
	defer cancelAdv()

	// Subscribed before the upgrade so a client sees everything after its
	// handshake completes.
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("[API] websocket upgrade", "error", err)
		return
	}
	defer ws.Close()

	// Reads only detect the client closing.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	slog.Info("[API] event stream opened", "remote", r.RemoteAddr)
	defer slog.Info("[API] event stream closed", "remote", r.RemoteAddr)

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case ev := <-out:
			ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := ws.WriteJSON(ev); err != nil {
				slog.Debug("[API] event write", "error", err)
				return
			}
		case <-ping.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}
