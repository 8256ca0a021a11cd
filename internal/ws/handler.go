// Package ws owns the websocket endpoint: it upgrades the HTTP request,
// wraps the connection in a relay session and pumps inbound frames until the
// peer goes away.
package ws

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Ihnore-Ihor/PI-CMS/internal/observability"
	"github.com/Ihnore-Ihor/PI-CMS/internal/protocol"
	"github.com/Ihnore-Ihor/PI-CMS/internal/relay"
)

const (
	// Inbound frames are operation requests, never bulk payloads.
	maxMessageSize = 64 * 1024
	pongWait       = 60 * time.Second
	pingPeriod     = 45 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Browser clients connect from a separate origin than the relay.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler serves the single websocket endpoint.
type Handler struct {
	deps relay.Deps
}

// NewHandler constructs the endpoint around the session collaborators.
func NewHandler(deps relay.Deps) *Handler {
	return &Handler{deps: deps}
}

// Serve upgrades the request and runs the connection to completion.
func (h *Handler) Serve(c *gin.Context) {
	ctx, span := otel.Tracer("ws").Start(c.Request.Context(), "ws.handshake")
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		span.RecordError(err)
		span.End()
		h.deps.Log.Warn().Err(err).Str("remote", c.Request.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	sessionID := uuid.NewString()
	span.SetAttributes(attribute.String("session.id", sessionID))
	traceID := ""
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		traceID = sc.TraceID().String()
	}
	span.End()

	session := relay.NewSession(sessionID, conn, h.deps)
	h.deps.Hub.Register(session)
	observability.IncSessionsActive()
	h.deps.Log.Info().
		Str("session_id", sessionID).
		Str("remote", observability.IPFromRequest(c.Request)).
		Msg("websocket connected")

	_ = observability.PublishEvent(c.Request.Context(), "chat_relay.session.connected",
		observability.SessionEvent("session_connected", sessionID, observability.IPFromRequest(c.Request)),
		observability.BuildHeaders(observability.RequestIDFromRequest(c.Request), traceID))

	h.readLoop(c, session, conn, traceID)
}

// readLoop pumps frames into the session until the connection drops. It runs
// on the request goroutine; session writes are serialized by the session.
func (h *Handler) readLoop(c *gin.Context, session *relay.Session, conn *websocket.Conn, traceID string) {
	defer func() {
		// Disconnect finalizes presence before the hub forgets the session.
		session.Disconnect(c.Request.Context())
		_ = conn.Close()
		observability.DecSessionsActive()
		h.deps.Log.Info().Str("session_id", session.ID()).Msg("websocket disconnected")

		_ = observability.PublishEvent(c.Request.Context(), "chat_relay.session.disconnected",
			observability.SessionEvent("session_disconnected", session.ID(), observability.IPFromRequest(c.Request)),
			observability.BuildHeaders(observability.RequestIDFromRequest(c.Request), traceID))
	}()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	stopPing := make(chan struct{})
	defer close(stopPing)
	go h.pingLoop(conn, stopPing)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.deps.Log.Warn().Err(err).Str("session_id", session.ID()).Msg("websocket read error")
			}
			return
		}

		env, err := protocol.Decode(raw)
		if err != nil {
			h.deps.Log.Warn().Err(err).Str("session_id", session.ID()).Msg("malformed frame")
			continue
		}

		ctx, span := otel.Tracer("ws").Start(c.Request.Context(), "ws.event",
			trace.WithAttributes(
				attribute.String("session.id", session.ID()),
				attribute.String("event", env.Event),
			))
		session.HandleEvent(ctx, env)
		span.End()
	}
}

func (h *Handler) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		case <-stop:
			return
		}
	}
}
