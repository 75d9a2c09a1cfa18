package app

import (
	"sync"

	"github.com/nestwork/liveroom/internal/domain"
	"github.com/nestwork/liveroom/internal/roster"
)

// RoomManager hands out one roster engine per room address. Engines
// are created on demand and stopped explicitly.
type RoomManager struct {
	mu     sync.RWMutex
	rooms  map[string]*roster.Engine
	newFor func(domain.RoomAddress) *roster.Engine
}

func NewRoomManager(newFor func(domain.RoomAddress) *roster.Engine) *RoomManager {
	return &RoomManager{
		rooms:  make(map[string]*roster.Engine),
		newFor: newFor,
	}
}

func (m *RoomManager) GetOrCreate(addr domain.RoomAddress) *roster.Engine {
	key := addr.String()
	m.mu.RLock()
	e, ok := m.rooms[key]
	m.mu.RUnlock()
	if ok {
		return e
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok = m.rooms[key]; ok {
		return e
	}
	e = m.newFor(addr)
	m.rooms[key] = e
	return e
}

func (m *RoomManager) Get(addr domain.RoomAddress) (*roster.Engine, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.rooms[addr.String()]
	return e, ok
}

func (m *RoomManager) List() []*roster.Engine {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*roster.Engine, 0, len(m.rooms))
	for _, e := range m.rooms {
		out = append(out, e)
	}
	return out
}

func (m *RoomManager) Stop(addr domain.RoomAddress) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := addr.String()
	if e, ok := m.rooms[key]; ok {
		e.Stop()
		delete(m.rooms, key)
	}
}

func (m *RoomManager) StopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, e := range m.rooms {
		e.Stop()
		delete(m.rooms, key)
	}
}
