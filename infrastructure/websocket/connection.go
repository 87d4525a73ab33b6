package websocket

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"sync"
	"time"

	"polyglot-chat/contract"
	"polyglot-chat/domain"
	"polyglot-chat/domain/event"
	"polyglot-chat/errors"

	ws "github.com/gorilla/websocket"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = (pongWait * 9) / 10
	maxFrameSize = 16 * 1024
)

// Connection pumps frames between one socket and the dispatcher.
// Reads are handled one at a time, so events of one connection keep their order.
type Connection struct {
	id         string
	conn       *ws.Conn
	outbox     chan []byte
	done       chan struct{}
	closeOnce  sync.Once
	hub        *Hub
	dispatcher contract.IDispatcher
	log        *slog.Logger
}

func newConnection(id string, conn *ws.Conn, hub *Hub, dispatcher contract.IDispatcher, log *slog.Logger, outboxSize int) *Connection {
	return &Connection{
		id:         id,
		conn:       conn,
		outbox:     make(chan []byte, outboxSize),
		done:       make(chan struct{}),
		hub:        hub,
		dispatcher: dispatcher,
		log:        log.With("connection_id", id),
	}
}

func (c *Connection) enqueue(ctx context.Context, payload []byte) error {
	select {
	case <-c.done:
		return errors.ErrConnectionClosed
	default:
	}
	select {
	case c.outbox <- payload:
		return nil
	case <-c.done:
		return errors.ErrConnectionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Connection) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// readPump owns the socket reads. Leaving it, for whatever reason, disconnects the participant.
func (c *Connection) readPump(ctx context.Context) {
	defer func() {
		if err := c.dispatcher.Disconnect(ctx, c.id); err != nil {
			c.log.Warn("Disconnect failed", "error", err)
		}
		c.hub.unregister(c)
		c.close()
		c.log.Debug("Socket closed")
	}()

	c.conn.SetReadLimit(maxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if ws.IsUnexpectedCloseError(err, ws.CloseNormalClosure, ws.CloseGoingAway) {
				c.log.Warn("Unexpected socket close", "error", err)
			}
			return
		}
		c.handle(ctx, raw)
	}
}

func (c *Connection) handle(ctx context.Context, raw []byte) {
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		c.reply(ctx, errors.ErrMalformedFrame)
		return
	}
	data := frame.Data
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}

	var err error
	switch frame.Type {
	case JoinChat:
		var req domain.JoinRequest
		if err = json.Unmarshal(data, &req); err == nil {
			err = c.dispatcher.Join(ctx, c.id, req)
		}
	case SendMessage:
		var req domain.SendRequest
		if err = json.Unmarshal(data, &req); err == nil {
			err = c.dispatcher.Send(ctx, c.id, req)
		}
	case ChangeLanguage:
		var req domain.ChangeLanguageRequest
		if err = json.Unmarshal(data, &req); err == nil {
			err = c.dispatcher.ChangeLanguage(ctx, c.id, req)
		}
	case LoadHistory:
		var req domain.HistoryRequest
		if err = json.Unmarshal(data, &req); err == nil {
			err = c.dispatcher.History(ctx, c.id, req)
		}
	default:
		c.reply(ctx, errors.ErrUnknownFrame)
		return
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case err == nil:
	case stderrors.As(err, &syntaxErr), stderrors.As(err, &typeErr):
		c.reply(ctx, errors.ErrMalformedFrame)
	case !errors.IsUserFacing(err):
		c.log.Warn("Event not handled", "type", frame.Type, "error", err)
	}
}

// reply reports transport level errors. Dispatcher errors are already delivered by the dispatcher.
func (c *Connection) reply(ctx context.Context, err error) {
	payload, encodeErr := encode(event.Error{Message: err.Error()})
	if encodeErr != nil {
		return
	}
	if err := c.enqueue(ctx, payload); err != nil {
		c.log.Debug("Error reply dropped", "error", err)
	}
}

// writePump owns the socket writes and keeps the peer alive with pings.
func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case payload := <-c.outbox:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(ws.TextMessage, payload); err != nil {
				c.log.Debug("Write failed", "error", err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(ws.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.conn.WriteControl(ws.CloseMessage,
				ws.FormatCloseMessage(ws.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		}
	}
}
