package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// eventsHandler streams optimizer events to websocket clients as JSON text
// frames. An optional datacenter_id query parameter filters the stream.
type eventsHandler struct {
	source   EventSource
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

func newEventsHandler(source EventSource, logger *zap.Logger) *eventsHandler {
	return &eventsHandler{
		source: source,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 16 * 1024,
			// Origins are enforced by the CORS layer and bearer tokens.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger.Named("events"),
	}
}

func (h *eventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	filter := r.URL.Query().Get("datacenter_id")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	h.logger.Info("Event subscriber connected",
		zap.String("remote_addr", r.RemoteAddr),
		zap.String("datacenter_id", filter),
	)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// The read loop only handles control frames; it ends the stream when the
	// client goes away.
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	events := h.source.Subscribe(ctx)
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "event stream closed"),
					time.Now().Add(writeWait))
				return
			}
			if filter != "" && event.DatacenterID != filter {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(event); err != nil {
				h.logger.Debug("Event subscriber write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
