package handler

import (
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/examguard-backend/internal/hub"
	"github.com/stemsi/examguard-backend/internal/middleware"
	ws "github.com/stemsi/examguard-backend/internal/websocket"
)

// sinkBuffer bounds each monitor connection's delivery queue. A monitor that
// cannot drain this many envelopes starts missing messages instead of
// stalling publishers.
const sinkBuffer = 64

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler handles the live monitoring WebSocket.
type WSHandler struct {
	hub      *hub.Hub
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(h *hub.Hub, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		hub:      h,
		log:      log.With().Str("component", "ws_handler").Logger(),
		upgrader: buildUpgrader(allowedOrigins),
	}
}

// MonitorStream godoc
// WS /ws/v1/monitor
// Upgrades to WebSocket for live attempt-event monitoring. The client joins
// channels with control messages; an unauthorized join is acknowledged but
// never delivers anything.
func (h *WSHandler) MonitorStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	identity := hub.Identity{UserID: claims.UserID, Role: claims.Role}
	sink := make(chan hub.Envelope, sinkBuffer)
	defer h.hub.LeaveAll(sink)

	wsLog := h.log.With().
		Int("user_id", claims.UserID).
		Str("role", string(claims.Role)).
		Logger()

	wsLog.Info().Msg("Monitor connected")

	// Acks come from the read loop and envelopes from the drain goroutine;
	// gorilla allows one writer at a time, so every write takes writeMu.
	var writeMu sync.Mutex
	send := func(v interface{}) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := ws.WriteTyped(conn, v); err != nil {
			wsLog.Debug().Err(err).Msg("Write to monitor failed")
			return err
		}
		return nil
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case env := <-sink:
				if err := send(env); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()

	for {
		var msg ws.RequestPayload
		if err := ws.ReadJSON(conn, &msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}

		switch msg.Action {
		case ws.ActionJoinAttempt:
			attemptID, err := uuid.Parse(msg.AttemptID)
			if err != nil {
				send(ws.ErrorResponse{Event: ws.EventError, Error: "invalid attempt_id"})
				continue
			}
			h.hub.Join(c.Request.Context(), identity, hub.AttemptChannel(attemptID), sink)
			send(ws.AckResponse{Event: ws.EventJoined, Status: "ok", AttemptID: msg.AttemptID})
		case ws.ActionJoinAll:
			h.hub.Join(c.Request.Context(), identity, hub.GlobalChannel, sink)
			send(ws.AckResponse{Event: ws.EventJoinedAll, Status: "ok"})
		case ws.ActionLeaveAttempt:
			attemptID, err := uuid.Parse(msg.AttemptID)
			if err != nil {
				send(ws.ErrorResponse{Event: ws.EventError, Error: "invalid attempt_id"})
				continue
			}
			h.hub.Leave(hub.AttemptChannel(attemptID), sink)
			send(ws.AckResponse{Event: ws.EventLeft, Status: "ok", AttemptID: msg.AttemptID})
		case ws.ActionPing:
			send(ws.PongResponse{Event: ws.EventPong})
		default:
			wsLog.Warn().Str("action", string(msg.Action)).Msg("Unknown action")
			send(ws.ErrorResponse{Event: ws.EventError, Error: "unknown action: " + string(msg.Action)})
		}
	}
}
