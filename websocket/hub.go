package websocket

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/sakani/sakani_backend/logger"
	"github.com/sakani/sakani_backend/metrics"
	"github.com/sakani/sakani_backend/models"
	"go.uber.org/zap"
)

var ErrRegistryClosed = errors.New("registry is shut down")

type room struct {
	// mu serializes fan-out so every member sees the room's events in one order.
	mu      sync.Mutex
	members map[string]*Connection
}

// Registry tracks live connections and the rooms they joined. It is created by
// main and shut down on exit.
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]*Connection
	rooms  map[string]*room
	joined map[string]map[string]struct{}
	closed bool
}

func NewRegistry() *Registry {
	return &Registry{
		conns:  make(map[string]*Connection),
		rooms:  make(map[string]*room),
		joined: make(map[string]map[string]struct{}),
	}
}

func (r *Registry) Register(conn *Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRegistryClosed
	}
	if _, ok := r.conns[conn.ID]; ok {
		return nil
	}
	r.conns[conn.ID] = conn
	r.joined[conn.ID] = make(map[string]struct{})
	metrics.LiveConnections.Inc()
	logger.Log.Debug("ws_registered", zap.String("conn", conn.ID), zap.String("user", conn.UserID))
	return nil
}

// Join subscribes conn to roomID. It reports false when conn was already a
// member or is no longer registered.
func (r *Registry) Join(conn *Connection, roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rooms, ok := r.joined[conn.ID]
	if !ok {
		return false
	}
	if _, ok := rooms[roomID]; ok {
		return false
	}

	rm := r.rooms[roomID]
	if rm == nil {
		rm = &room{members: make(map[string]*Connection)}
		r.rooms[roomID] = rm
		metrics.ActiveRooms.Inc()
	}
	rm.members[conn.ID] = conn
	rooms[roomID] = struct{}{}
	return true
}

func (r *Registry) Leave(conn *Connection, roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rooms, ok := r.joined[conn.ID]
	if !ok {
		return false
	}
	if _, ok := rooms[roomID]; !ok {
		return false
	}
	delete(rooms, roomID)
	r.removeMemberLocked(roomID, conn.ID)
	return true
}

// Disconnect drops conn from every room and closes it. Calling it more than once is safe.
func (r *Registry) Disconnect(conn *Connection) {
	r.mu.Lock()
	rooms, ok := r.joined[conn.ID]
	if ok {
		for roomID := range rooms {
			r.removeMemberLocked(roomID, conn.ID)
		}
		delete(r.joined, conn.ID)
		delete(r.conns, conn.ID)
		metrics.LiveConnections.Dec()
	}
	r.mu.Unlock()

	conn.Close()
	if ok {
		logger.Log.Debug("ws_disconnected", zap.String("conn", conn.ID), zap.String("user", conn.UserID))
	}
}

func (r *Registry) removeMemberLocked(roomID, connID string) {
	rm := r.rooms[roomID]
	if rm == nil {
		return
	}
	delete(rm.members, connID)
	if len(rm.members) == 0 {
		delete(r.rooms, roomID)
		metrics.ActiveRooms.Dec()
	}
}

// Broadcast queues ev to every member of roomID and returns how many accepted it.
// Members whose queue is full are disconnected; they recover through history.
func (r *Registry) Broadcast(roomID string, ev models.Event) int {
	r.mu.RLock()
	rm := r.rooms[roomID]
	r.mu.RUnlock()
	if rm == nil {
		return 0
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		logger.Log.Error("ws_event_encode_failed", zap.String("event", ev.Event), zap.Error(err))
		return 0
	}

	rm.mu.Lock()
	r.mu.RLock()
	members := make([]*Connection, 0, len(rm.members))
	for _, c := range rm.members {
		members = append(members, c)
	}
	r.mu.RUnlock()

	delivered := 0
	var slow []*Connection
	for _, c := range members {
		if c.Send(payload) {
			delivered++
			continue
		}
		slow = append(slow, c)
	}
	rm.mu.Unlock()

	for _, c := range slow {
		metrics.SlowConsumers.Inc()
		logger.Log.Warn("ws_slow_consumer_closed",
			zap.String("conn", c.ID),
			zap.String("user", c.UserID),
			zap.String("room", roomID))
		r.Disconnect(c)
	}

	metrics.EventsDelivered.WithLabelValues(ev.Event).Add(float64(delivered))
	return delivered
}

// Members lists the user ids subscribed to roomID.
func (r *Registry) Members(roomID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rm := r.rooms[roomID]
	if rm == nil {
		return nil
	}
	users := make([]string, 0, len(rm.members))
	for _, c := range rm.members {
		users = append(users, c.UserID)
	}
	return users
}

func (r *Registry) Stats() (connections, rooms int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns), len(r.rooms)
}

// Shutdown closes every connection and refuses new registrations.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	r.closed = true
	conns := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.Unlock()

	for _, c := range conns {
		r.Disconnect(c)
	}
	logger.Log.Info("ws_registry_shutdown", zap.Int("closed", len(conns)))
}
