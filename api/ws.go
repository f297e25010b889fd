package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/xiaoyuanzhu-com/claude-monitor/log"
	"github.com/xiaoyuanzhu-com/claude-monitor/notifications"
)

// StateWebSocket handles GET /api/ws: a push stream of notification events
// for companion UIs that prefer WebSocket over SSE
func (s *Server) StateWebSocket(c *gin.Context) {
	// Mark hijacked BEFORE Accept so the logging middleware stays away from
	// the upgraded connection
	log.MarkHijacked(c)

	var w http.ResponseWriter = c.Writer
	if unwrapper, ok := c.Writer.(interface{ Unwrap() http.ResponseWriter }); ok {
		w = unwrapper.Unwrap()
	}

	conn, err := websocket.Accept(w, c.Request, &websocket.AcceptOptions{
		// Loopback-only server; the origin check buys nothing here
		InsecureSkipVerify: true,
		CompressionMode:    websocket.CompressionContextTakeover,
	})
	if err != nil {
		logger.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	c.Abort()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	events, unsubscribe := s.notifier.Subscribe()
	defer unsubscribe()

	// Initial event mirrors the SSE stream: connected + current snapshot
	if err := writeEvent(ctx, conn, notifications.Event{
		Type:      notifications.EventConnected,
		Timestamp: time.Now().UnixMilli(),
		Data:      s.reconciler.Snapshot(),
	}); err != nil {
		return
	}

	// Periodic pings keep the connection alive through idle stretches
	pingTicker := time.NewTicker(30 * time.Second)
	defer pingTicker.Stop()

	// Reads are only used to detect the client going away
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := writeEvent(ctx, conn, event); err != nil {
				if ctx.Err() == nil {
					logger.Debug().Err(err).Msg("WebSocket write failed")
				}
				return
			}

		case <-pingTicker.C:
			if err := conn.Ping(ctx); err != nil {
				logger.Debug().Err(err).Msg("WebSocket ping failed")
				return
			}

		case <-readDone:
			return

		case <-ctx.Done():
			return
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, event notifications.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}
