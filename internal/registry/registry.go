// Package registry catalogs rooms: the predefined persistent tables
// restored from storage at boot, ephemeral player-created tables torn
// down when they empty, lobby snapshots, and the disconnect grace that
// holds a dropped player's seat until they return.
package registry

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"

	"github.com/goldenflop/goldenflop/internal/engine"
	"github.com/goldenflop/goldenflop/internal/ids"
	"github.com/goldenflop/goldenflop/internal/room"
	"github.com/goldenflop/goldenflop/internal/store"
)

// Grace windows.
const (
	DisconnectGrace = 60 * time.Second
	EmptyRoomGrace  = 30 * time.Second
)

// ErrRoomNotFound is returned for unknown room ids.
var ErrRoomNotFound = errors.New("room not found")

// Registry holds every live room.
type Registry struct {
	mu          sync.Mutex
	rooms       map[string]*room.Room
	graceTimers map[string]*quartz.Timer // playerID -> seat removal
	emptyTimers map[string]*quartz.Timer // roomID -> teardown

	sender    room.Sender
	baseHooks room.Hooks
	logger    *log.Logger
	clock     quartz.Clock
}

// New builds an empty registry. baseHooks are attached to every room;
// the registry layers its own OnEmpty handling on top.
func New(sender room.Sender, baseHooks room.Hooks, logger *log.Logger, clock quartz.Clock) *Registry {
	if clock == nil {
		clock = quartz.NewReal()
	}
	return &Registry{
		rooms:       make(map[string]*room.Room),
		graceTimers: make(map[string]*quartz.Timer),
		emptyTimers: make(map[string]*quartz.Timer),
		sender:      sender,
		baseHooks:   baseHooks,
		logger:      logger.WithPrefix("registry"),
		clock:       clock,
	}
}

func (r *Registry) hooksFor(roomID string, persistent bool) room.Hooks {
	hooks := r.baseHooks
	base := hooks.OnEmpty
	hooks.OnEmpty = func(id string) {
		if base != nil {
			base(id)
		}
		if !persistent {
			r.scheduleTeardown(id)
		}
	}
	return hooks
}

// AddPersistent registers a predefined table and restores its persisted
// seats with every occupant disconnected.
func (r *Registry) AddPersistent(id, name string, cfg engine.Config, seats []store.SeatRecord) *room.Room {
	rm := room.New(id, name, "", cfg, true, r.sender, r.hooksFor(id, true), r.logger, r.clock)
	for _, rec := range seats {
		rm.RestoreSeat(rec)
	}

	r.mu.Lock()
	r.rooms[id] = rm
	r.mu.Unlock()

	r.logger.Info("persistent room registered", "id", id, "name", name, "restoredSeats", len(seats))
	return rm
}

// CreateEphemeral registers a player-created table. It is destroyed a
// grace period after it empties.
func (r *Registry) CreateEphemeral(name, creatorID string, cfg engine.Config) *room.Room {
	id := ids.NewRoomID()
	rm := room.New(id, name, creatorID, cfg, false, r.sender, r.hooksFor(id, false), r.logger, r.clock)

	r.mu.Lock()
	r.rooms[id] = rm
	r.mu.Unlock()

	r.logger.Info("ephemeral room created", "id", id, "name", name, "creator", creatorID)
	return rm
}

// Get returns a room by id.
func (r *Registry) Get(id string) (*room.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok := r.rooms[id]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return rm, nil
}

// Lobby returns the lobby snapshot of every room, stably ordered.
func (r *Registry) Lobby() []room.LobbyInfo {
	r.mu.Lock()
	rooms := make([]*room.Room, 0, len(r.rooms))
	for _, rm := range r.rooms {
		rooms = append(rooms, rm)
	}
	r.mu.Unlock()

	infos := make([]room.LobbyInfo, 0, len(rooms))
	for _, rm := range rooms {
		infos = append(infos, rm.Lobby())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// RoomsFor returns every room the player occupies a seat in.
func (r *Registry) RoomsFor(playerID string) []*room.Room {
	r.mu.Lock()
	rooms := make([]*room.Room, 0, len(r.rooms))
	for _, rm := range r.rooms {
		rooms = append(rooms, rm)
	}
	r.mu.Unlock()

	var out []*room.Room
	for _, rm := range rooms {
		if rm.HasPlayer(playerID) {
			out = append(out, rm)
		}
	}
	return out
}

// OnDisconnect marks the player disconnected everywhere and arms the
// grace timer that removes their seats if they stay away.
func (r *Registry) OnDisconnect(playerID string) {
	occupied := r.RoomsFor(playerID)
	for _, rm := range occupied {
		rm.MarkDisconnected(playerID)
	}
	if len(occupied) == 0 {
		return
	}

	r.mu.Lock()
	if existing, ok := r.graceTimers[playerID]; ok {
		existing.Stop()
	}
	r.graceTimers[playerID] = r.clock.AfterFunc(DisconnectGrace, func() {
		r.expireGrace(playerID)
	})
	r.mu.Unlock()

	r.logger.Info("disconnect grace started", "player", playerID, "rooms", len(occupied))
}

func (r *Registry) expireGrace(playerID string) {
	r.mu.Lock()
	delete(r.graceTimers, playerID)
	r.mu.Unlock()

	for _, rm := range r.RoomsFor(playerID) {
		r.logger.Info("disconnect grace expired, removing seat", "player", playerID, "room", rm.ID)
		_ = rm.Leave(playerID)
	}
}

// OnReconnect cancels the grace timer and re-attaches the player to
// every room they occupy. Returns the rooms restored.
func (r *Registry) OnReconnect(playerID, sessionID string) []*room.Room {
	r.mu.Lock()
	if timer, ok := r.graceTimers[playerID]; ok {
		timer.Stop()
		delete(r.graceTimers, playerID)
	}
	r.mu.Unlock()

	restored := r.RoomsFor(playerID)
	for _, rm := range restored {
		rm.Reconnect(playerID, sessionID)
	}
	return restored
}

// scheduleTeardown arms (or re-arms) the destruction timer for an
// emptied ephemeral room.
func (r *Registry) scheduleTeardown(roomID string) {
	r.mu.Lock()
	if existing, ok := r.emptyTimers[roomID]; ok {
		existing.Stop()
	}
	r.emptyTimers[roomID] = r.clock.AfterFunc(EmptyRoomGrace, func() {
		r.teardown(roomID)
	})
	r.mu.Unlock()
	r.logger.Info("empty room teardown scheduled", "room", roomID)
}

func (r *Registry) teardown(roomID string) {
	r.mu.Lock()
	delete(r.emptyTimers, roomID)
	rm, ok := r.rooms[roomID]
	if !ok {
		r.mu.Unlock()
		return
	}
	if rm.Persistent || !rm.Empty() {
		// Someone sat back down during the grace window.
		r.mu.Unlock()
		return
	}
	delete(r.rooms, roomID)
	r.mu.Unlock()

	r.logger.Info("ephemeral room destroyed", "room", roomID)
	if r.baseHooks.OnLobbyChanged != nil {
		r.baseHooks.OnLobbyChanged()
	}
}
