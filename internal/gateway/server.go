package gateway

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"

	"feastline/internal/domain"
	"feastline/internal/lifecycle"
	"feastline/pkg/logger"
)

// Server upgrades client connections and resolves which rooms the
// authenticated actor is entitled to before any join is honored.
type Server struct {
	reg       *Registry
	directory lifecycle.Directory
	upgrader  websocket.Upgrader
	log       *logger.Logger
}

func NewServer(reg *Registry, directory lifecycle.Directory, log *logger.Logger) *Server {
	return &Server{
		reg:       reg,
		directory: directory,
		log:       log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Origin checking is the fronting proxy's job in this deployment.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Handle upgrades the request for the given authenticated user. The user's
// directory records define the set of joinable rooms; join frames for any
// other scope are refused.
func (s *Server) Handle(w http.ResponseWriter, r *http.Request, userID string) {
	allowed := s.allowedRooms(r.Context(), userID)

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Action("ws_upgrade_failed").Error("websocket upgrade failed", err)
		return
	}

	c := newConn(ws, allowed, s.reg, s.log)
	s.log.Action("client_connected").Debug("websocket client connected", "user_id", userID)
	go c.writePump()
	c.readPump()
	s.log.Action("client_disconnected").Debug("websocket client disconnected", "user_id", userID)
}

func (s *Server) allowedRooms(ctx context.Context, userID string) map[string]struct{} {
	allowed := make(map[string]struct{}, 2)
	if restaurant, err := s.directory.RestaurantByUser(ctx, userID); err == nil {
		allowed[RestaurantRoom(restaurant.ID)] = struct{}{}
	}
	if customer, err := s.directory.CustomerByUser(ctx, userID); err == nil {
		allowed[CustomerRoom(customer.ID)] = struct{}{}
	}
	return allowed
}

// serverMessage is the frame delivered to room members: the event name plus
// the full order snapshot, verbatim from the engine.
type serverMessage struct {
	Event string        `json:"event"`
	Data  *domain.Order `json:"data"`
}

// Dispatcher routes lifecycle events to the interested rooms.
type Dispatcher struct {
	reg *Registry
	log *logger.Logger
}

func NewDispatcher(reg *Registry, log *logger.Logger) *Dispatcher {
	return &Dispatcher{reg: reg, log: log}
}

// Dispatch delivers one event to its room. Unroutable events are dropped with
// a log line; nothing here can fail the transition that produced the event.
func (d *Dispatcher) Dispatch(ev domain.Event) {
	var room string
	switch ev.Kind {
	case domain.EventOrderNew:
		room = RestaurantRoom(ev.RestaurantID)
	case domain.EventOrderUpdate, domain.EventOrderAccepted:
		room = CustomerRoom(ev.CustomerID)
	case domain.EventOrderReady:
		if ev.DriverID == "" {
			// No driver assigned yet; the driver room is reserved for
			// dispatch integration.
			return
		}
		room = DriverRoom(ev.DriverID)
	default:
		d.log.Action("unknown_event").Warn("dropping event of unknown kind", "kind", string(ev.Kind))
		return
	}

	payload, err := encodeServerMessage(ev)
	if err != nil {
		d.log.Action("event_encode_failed").Error("dropping undeliverable event", err, "order_id", ev.OrderID)
		return
	}
	n := d.reg.Broadcast(room, payload)
	d.log.Action("event_dispatched").Debug("event delivered to room",
		"kind", string(ev.Kind), "room", room, "members", n)
}
