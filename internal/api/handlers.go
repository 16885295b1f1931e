package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"coderoom/internal/auth"
	"coderoom/internal/metrics"
	"coderoom/internal/models"
	"coderoom/internal/session"
	"coderoom/internal/store"
	"coderoom/internal/utils"
)

type Handlers struct {
	log        *utils.Logger
	gate       *auth.Gate
	hub        *session.Hub
	sendBuffer int
	upgrader   websocket.Upgrader
}

func NewHandlers(log *utils.Logger, gate *auth.Gate, hub *session.Hub, sendBuffer int) *Handlers {
	return &Handlers{
		log:        log,
		gate:       gate,
		hub:        hub,
		sendBuffer: sendBuffer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// browsers that cannot set headers pass the token as "bearer, <token>"
			Subprotocols: []string{"bearer"},
			CheckOrigin:  func(r *http.Request) bool { return true },
		},
	}
}

func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	_, _ = w.Write([]byte("ok"))
}

func (h *Handlers) Ping(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.IdentityFrom(r.Context())
	utils.JSON(w, http.StatusOK, models.PingResponse{Message: "pong - hello " + string(user)})
}

func (h *Handlers) ListRooms(w http.ResponseWriter, _ *http.Request) {
	utils.JSON(w, http.StatusOK, h.hub.List())
}

func (h *Handlers) GetDocument(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")
	doc, err := h.hub.Document(r.Context(), roomID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		utils.JSONErrorCode(w, http.StatusNotFound, utils.CodeNotFound, "document not found")
	case err != nil:
		h.log.Error("document lookup failed", "room", roomID, "error", err.Error())
		utils.JSONErrorCode(w, http.StatusInternalServerError, utils.CodeStoreError, "failed to load document")
	default:
		utils.JSON(w, http.StatusOK, doc)
	}
}

/*** Collaboration WebSocket ***/

// CollabWS authenticates the handshake, upgrades, and runs the connection's
// read loop until the peer goes away or the hub shuts down.
func (h *Handlers) CollabWS(w http.ResponseWriter, r *http.Request) {
	user, err := h.gate.Authenticate(r)
	if err != nil {
		metrics.RefusedConnections.Inc()
		h.gate.Refuse(w, r, err)
		return
	}
	if h.hub.Closed() {
		utils.JSONErrorCode(w, http.StatusServiceUnavailable, utils.CodeShuttingDown, "server is shutting down")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "user", user, "error", err.Error())
		return
	}

	client := session.NewClient(conn, user, h.sendBuffer)
	sess := session.NewSession(h.hub, client, h.log)
	metrics.ActiveConnections.Inc()
	defer metrics.ActiveConnections.Dec()
	h.log.Info("connection opened", "conn", client.ID, "user", user)

	go client.WritePump()
	defer func() {
		sess.Close()
		h.log.Info("connection closed", "conn", client.ID, "user", user)
	}()

	// keeps request values, drops any middleware deadline
	ctx := context.WithoutCancel(r.Context())
	client.PrepareRead()
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Warn("websocket read failed", "conn", client.ID, "error", err.Error())
			}
			return
		}
		var frame models.InboundFrame
		if err := json.Unmarshal(msg, &frame); err != nil {
			client.Send(errFrame("invalid_frame"))
			continue
		}
		sess.Handle(ctx, frame)
	}
}

func errFrame(msg string) models.WSFrame { return models.WSFrame{Type: models.EventError, Data: msg} }
