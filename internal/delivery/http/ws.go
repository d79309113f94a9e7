package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/vogiaan1904/runbattle/internal/relay"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

const (
	wsActionSubscribe   = "subscribe"
	wsActionUnsubscribe = "unsubscribe"
)

// wsFrame is what clients send to change their subscriptions.
type wsFrame struct {
	Action      string `json:"action"`
	Destination string `json:"destination"`
}

type wsAck struct {
	Action string `json:"action"`
}

// ServeWS upgrades the request and relays hub events for every
// ?destination= the client names, plus any it subscribes to later.
func (h *HTTPHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.l.Warnf(r.Context(), "delivery.http.HTTPHandler.ServeWS: %v", err)
		return
	}

	c := h.hub.Register(uuid.NewString(), r.URL.Query()["destination"]...)
	h.l.Debugf(r.Context(), "ws client %s connected", c.ID)

	go h.writePump(conn, c)
	h.readPump(conn, c)
}

func (h *HTTPHandler) readPump(conn *websocket.Conn, c *relay.Client) {
	defer func() {
		h.hub.Unregister(c)
		_ = conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var f wsFrame
		if err := conn.ReadJSON(&f); err != nil {
			return
		}
		if f.Destination == "" {
			continue
		}

		switch f.Action {
		case wsActionSubscribe:
			h.hub.Subscribe(c, f.Destination)
		case wsActionUnsubscribe:
			h.hub.Unsubscribe(c, f.Destination)
		default:
			continue
		}

		ack, _ := json.Marshal(wsAck{Action: f.Action})
		select {
		case c.Send <- relay.Event{Destination: f.Destination, Payload: ack}:
		default:
		}
	}
}

func (h *HTTPHandler) writePump(conn *websocket.Conn, c *relay.Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.Send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
