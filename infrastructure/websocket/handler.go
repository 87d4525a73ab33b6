// Package websocket is the socket transport of the chat: it turns frames into
// dispatcher calls and delivers outbound payloads back to sockets.
package websocket

import (
	"context"
	"log/slog"
	"net/http"

	"polyglot-chat/contract"

	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"
)

const DefaultOutboxSize = 64

type Handler struct {
	hub        *Hub
	dispatcher contract.IDispatcher
	log        *slog.Logger
	upgrader   ws.Upgrader
	outboxSize int
}

func NewHandler(hub *Hub, dispatcher contract.IDispatcher, log *slog.Logger, outboxSize int) *Handler {
	if outboxSize <= 0 {
		outboxSize = DefaultOutboxSize
	}
	return &Handler{
		hub:        hub,
		dispatcher: dispatcher,
		log:        log,
		upgrader: ws.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		outboxSize: outboxSize,
	}
}

// ServeHTTP upgrades the request and gives the socket a fresh connection id.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("Websocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}
	c := newConnection(uuid.NewString(), conn, h.hub, h.dispatcher, h.log, h.outboxSize)
	h.hub.register(c)
	h.log.Debug("Socket opened", "connection_id", c.id, "remote_addr", r.RemoteAddr)

	go c.writePump()
	go c.readPump(context.WithoutCancel(r.Context()))
}

// Routes mounts the socket endpoint next to a health check.
func Routes(handler *Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("GET /ws", handler)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}
