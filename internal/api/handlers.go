// Package api serves the engine over a local HTTP API: the visible peers,
// advertising control, a websocket event stream and push endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/chaz8081/presenced/internal/advertise"
	"github.com/chaz8081/presenced/internal/ble"
	"github.com/chaz8081/presenced/internal/peerid"
	"github.com/chaz8081/presenced/internal/presence"
	"github.com/chaz8081/presenced/internal/push"
)

// Presence is the engine surface the API needs.
type Presence interface {
	Start(ctx context.Context, cfg ble.AdvertisingConfig, id peerid.ID) (advertise.State, error)
	Stop(ctx context.Context) (advertise.State, error)
	State() advertise.State
	Session() (advertise.Session, bool)
	Snapshot() []presence.Entry
	Subscribe(onDiscovered func(presence.Entry), onLost func(peerid.ID)) (cancel func())
	SubscribeAdvertising(fn func(advertise.Event)) (cancel func())
}

// Handler serves the API.
type Handler struct {
	engine      Presence
	distributor push.Distributor
	defaults    ble.AdvertisingConfig
	newID       func() (peerid.ID, error)
	started     time.Time
}

// NewHandler creates a Handler. Start requests that omit settings use
// defaults; those that omit a peer id get one from newID.
func NewHandler(engine Presence, distributor push.Distributor, defaults ble.AdvertisingConfig, newID func() (peerid.ID, error)) *Handler {
	return &Handler{
		engine:      engine,
		distributor: distributor,
		defaults:    defaults,
		newID:       newID,
		started:     time.Now(),
	}
}

// Response helpers
func jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Debug("[API] write response", "error", err)
	}
}

func errorResponse(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, map[string]interface{}{
		"error": message,
		"code":  status,
	})
}

// HealthCheck reports liveness and the advertising state.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"advertising": h.engine.State(),
		"peers":       len(h.engine.Snapshot()),
		"uptime":      time.Since(h.started).Round(time.Second).String(),
	})
}

// GetPeers lists visible peers, most recently seen first.
func (h *Handler) GetPeers(w http.ResponseWriter, r *http.Request) {
	peers := h.engine.Snapshot()
	if peers == nil {
		peers = []presence.Entry{}
	}
	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"peers": peers,
		"count": len(peers),
	})
}

// AdvertisingStatus is the body returned by the advertising routes.
type AdvertisingStatus struct {
	State   advertise.State `json:"state"`
	Session *SessionInfo    `json:"session,omitempty"`
}

// SessionInfo describes the advertising session on air.
type SessionInfo struct {
	PeerID      peerid.ID `json:"peer_id"`
	Name        string    `json:"name"`
	Mode        string    `json:"mode"`
	TxPower     string    `json:"tx_power"`
	Connectable bool      `json:"connectable"`
	StartedAt   time.Time `json:"started_at"`
	Attempts    int       `json:"attempts"`
}

func (h *Handler) status(state advertise.State) AdvertisingStatus {
	st := AdvertisingStatus{State: state}
	if s, ok := h.engine.Session(); ok {
		st.Session = &SessionInfo{
			PeerID:      s.PeerID,
			Name:        s.Name,
			Mode:        s.Config.Mode.String(),
			TxPower:     s.Config.TxPower.String(),
			Connectable: s.Config.Connectable,
			StartedAt:   s.StartedAt,
			Attempts:    s.Attempts,
		}
	}
	return st
}

// GetAdvertising reports the advertising state and session.
func (h *Handler) GetAdvertising(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, h.status(h.engine.State()))
}

// StartRequest is the optional body of POST /advertising/start.
type StartRequest struct {
	PeerID      string `json:"peer_id"`
	Mode        string `json:"mode"`
	TxPower     string `json:"tx_power"`
	Connectable *bool  `json:"connectable"`
}

func (h *Handler) parseStart(r *http.Request) (ble.AdvertisingConfig, peerid.ID, error) {
	var req StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		return ble.AdvertisingConfig{}, "", err
	}

	cfg := h.defaults
	if req.Mode != "" {
		m, err := ble.ParseMode(req.Mode)
		if err != nil {
			return cfg, "", err
		}
		cfg.Mode = m
	}
	if req.TxPower != "" {
		p, err := ble.ParseTxPower(req.TxPower)
		if err != nil {
			return cfg, "", err
		}
		cfg.TxPower = p
	}
	if req.Connectable != nil {
		cfg.Connectable = *req.Connectable
	}

	if req.PeerID != "" {
		// Validated by the state machine before any radio call.
		return cfg, peerid.ID(req.PeerID), nil
	}
	id, err := h.newID()
	return cfg, id, err
}

// StartAdvertising starts advertising and waits for the outcome.
func (h *Handler) StartAdvertising(w http.ResponseWriter, r *http.Request) {
	cfg, id, err := h.parseStart(r)
	if err != nil {
		errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	state, err := h.engine.Start(r.Context(), cfg, id)
	if err != nil {
		slog.Warn("[API] start advertising", "peer", id, "error", err)
		errorResponse(w, statusFor(err), err.Error())
		return
	}
	jsonResponse(w, http.StatusOK, h.status(state))
}

// StopAdvertising stops advertising and waits until the radio is idle.
func (h *Handler) StopAdvertising(w http.ResponseWriter, r *http.Request) {
	state, err := h.engine.Stop(r.Context())
	if err != nil {
		errorResponse(w, statusFor(err), err.Error())
		return
	}
	jsonResponse(w, http.StatusOK, h.status(state))
}

// GetPushEndpoint returns the embedded distributor endpoint for a token.
func (h *Handler) GetPushEndpoint(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	endpoint, err := h.distributor.Endpoint(q.Get("token"), q.Get("instance"))
	if err != nil {
		errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"endpoint":       endpoint,
		"project_number": h.distributor.ProjectNumber,
	})
}

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	var fe *advertise.FailureError
	switch {
	case errors.Is(err, peerid.ErrInvalidIdentifier), errors.Is(err, ble.ErrInvalidConfig):
		return http.StatusBadRequest
	case errors.Is(err, advertise.ErrStartAborted):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout
	case errors.As(err, &fe):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
