// Package gateway pushes lifecycle events to connected clients over
// websockets. Clients join logical rooms scoped to an actor (restaurant,
// customer or driver id); events are delivered to whoever is in the room at
// publish time and never replayed.
package gateway

import (
	"sync"

	"feastline/pkg/logger"
)

// Room name helpers. Rooms are a capability: the caller validates that the
// actor owns the scope before a join reaches the registry.
func RestaurantRoom(id string) string { return "restaurant-" + id }
func CustomerRoom(id string) string   { return "customer-" + id }
func DriverRoom(id string) string     { return "driver-" + id }

// member is anything that can receive a raw frame without blocking.
type member interface {
	Send(payload []byte) bool
}

// Registry maps room names to their current members. It is built for many
// concurrent readers (every publish) and infrequent writers (joins/leaves),
// and is constructed at service start rather than living as a package global
// so tests can use their own instance.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]map[member]struct{}
	log   *logger.Logger
}

func NewRegistry(log *logger.Logger) *Registry {
	return &Registry{
		rooms: make(map[string]map[member]struct{}),
		log:   log,
	}
}

func (r *Registry) Join(room string, m member) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.rooms[room]
	if !ok {
		set = make(map[member]struct{})
		r.rooms[room] = set
	}
	set[m] = struct{}{}
}

// Leave removes the member from every room it joined.
func (r *Registry) Leave(m member) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for room, set := range r.rooms {
		delete(set, m)
		if len(set) == 0 {
			delete(r.rooms, room)
		}
	}
}

// Broadcast delivers the payload to every current member of the room.
// Members whose send buffer is full are skipped; the order store remains the
// source of truth and clients reconcile by re-fetching.
func (r *Registry) Broadcast(room string, payload []byte) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	delivered := 0
	for m := range r.rooms[room] {
		if m.Send(payload) {
			delivered++
		} else {
			r.log.Action("member_send_skipped").Warn("slow room member skipped", "room", room)
		}
	}
	return delivered
}

// Size reports current membership of a room.
func (r *Registry) Size(room string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[room])
}
