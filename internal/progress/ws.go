package progress

import (
	"encoding/json"
	"net/http"
	"time"

	gorillaWS "github.com/gorilla/websocket"
	"github.com/jmehdipour/dm-dispatcher/internal/util"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
)

// WSHandler streams hub events to websocket observers as JSON text frames.
// ?identity=<account> limits the stream to one account's events.
type WSHandler struct {
	hub      *Hub
	upgrader gorillaWS.Upgrader
	buffer   int
	log      *zap.Logger
}

func NewWSHandler(hub *Hub, buffer int, log *zap.Logger) *WSHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &WSHandler{
		hub:    hub,
		buffer: buffer,
		log:    log.With(zap.String("component", "progress-ws")),
		upgrader: gorillaWS.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// the browser UI may be served from another origin during development
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	o := &observer{
		conn:     conn,
		sub:      h.hub.Subscribe(h.buffer),
		identity: util.NormalizeHandle(r.URL.Query().Get("identity")),
		done:     make(chan struct{}),
		log:      h.log,
	}
	h.log.Info("progress observer connected", zap.String("remote", r.RemoteAddr), zap.String("identity", o.identity))

	go o.readPump()
	o.writePump()

	h.hub.Unsubscribe(o.sub)
	h.log.Info("progress observer disconnected",
		zap.String("remote", r.RemoteAddr),
		zap.Uint64("dropped", o.sub.Dropped()),
	)
}

type observer struct {
	conn     *gorillaWS.Conn
	sub      *Subscription
	identity string
	done     chan struct{}
	log      *zap.Logger
}

// readPump only services control frames; it closes done when the peer goes away.
func (o *observer) readPump() {
	defer close(o.done)

	o.conn.SetReadLimit(maxMessageSize)
	_ = o.conn.SetReadDeadline(time.Now().Add(pongWait))
	o.conn.SetPongHandler(func(string) error {
		return o.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := o.conn.ReadMessage(); err != nil {
			if gorillaWS.IsUnexpectedCloseError(err, gorillaWS.CloseGoingAway, gorillaWS.CloseAbnormalClosure) {
				o.log.Warn("websocket read error", zap.Error(err))
			}
			return
		}
	}
}

func (o *observer) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = o.conn.Close()
	}()

	for {
		select {
		case <-o.done:
			return

		case e, ok := <-o.sub.C():
			_ = o.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = o.conn.WriteMessage(gorillaWS.CloseMessage, []byte{})
				return
			}
			if o.identity != "" && e.Identity != "" && util.NormalizeHandle(e.Identity) != o.identity {
				continue
			}
			b, err := json.Marshal(e)
			if err != nil {
				o.log.Warn("marshal progress event", zap.Error(err))
				continue
			}
			if err := o.conn.WriteMessage(gorillaWS.TextMessage, b); err != nil {
				return
			}

		case <-ticker.C:
			_ = o.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := o.conn.WriteMessage(gorillaWS.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
