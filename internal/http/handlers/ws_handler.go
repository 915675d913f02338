package handlers

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/skill-market/backend/internal/events"
	"github.com/skill-market/backend/internal/gateway"
	"github.com/skill-market/backend/internal/middleware"
	"github.com/skill-market/backend/internal/ratelimit"
)

// WSHub pushes an agent's own events (claim, purchases) to its open sockets.
type WSHub struct {
	subscriber  events.Subscriber
	log         *zap.Logger
	mu          sync.RWMutex
	connections map[uuid.UUID][]*websocket.Conn
}

func NewWSHub(subscriber events.Subscriber, log *zap.Logger) *WSHub {
	return &WSHub{
		subscriber:  subscriber,
		log:         log,
		connections: make(map[uuid.UUID][]*websocket.Conn),
	}
}

func (h *WSHub) Start(ctx context.Context) error {
	return h.subscriber.Subscribe(ctx, events.StreamAgent, h.dispatch)
}

func (h *WSHub) dispatch(event events.Event) {
	agentID, err := uuid.Parse(event.AgentID())
	if err != nil {
		return
	}
	h.SendToAgent(agentID, event)
}

func (h *WSHub) SendToAgent(agentID uuid.UUID, event events.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, conn := range h.connections[agentID] {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.log.Debug("ws write failed", zap.String("agent_id", agentID.String()), zap.Error(err))
		}
	}
}

// Connections reports how many sockets an agent has open.
func (h *WSHub) Connections(agentID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections[agentID])
}

// WSUpgradeMiddleware authenticates the agent before the upgrade. Clients
// that cannot set headers may pass the key as ?api_key=.
func WSUpgradeMiddleware(gw *gateway.Gateway) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}

		header := c.Get("X-API-Key")
		if header == "" {
			header = c.Query("api_key")
		}
		identity, _, err := gw.Authenticate(c.UserContext(), gateway.Request{
			APIKey: gateway.ExtractAPIKey(header, c.Get(fiber.HeaderAuthorization)),
			Action: ratelimit.ActionDefault,
		})
		if err != nil {
			return err
		}

		c.Locals(middleware.CtxIdentity, identity)
		return c.Next()
	}
}

func (h *WSHub) HandleWS(conn *websocket.Conn) {
	identity, ok := conn.Locals(middleware.CtxIdentity).(*gateway.Identity)
	if !ok || identity == nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"unauthenticated"}`))
		conn.Close()
		return
	}
	agentID := identity.AgentID

	h.mu.Lock()
	h.connections[agentID] = append(h.connections[agentID], conn)
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		conns := h.connections[agentID]
		for i, c := range conns {
			if c == conn {
				h.connections[agentID] = append(conns[:i], conns[i+1:]...)
				break
			}
		}
		if len(h.connections[agentID]) == 0 {
			delete(h.connections, agentID)
		}
		h.mu.Unlock()
		conn.Close()
	}()

	// Read loop (keep alive / pings)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}
