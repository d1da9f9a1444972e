package registry

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goldenflop/goldenflop/internal/engine"
	"github.com/goldenflop/goldenflop/internal/room"
	"github.com/goldenflop/goldenflop/internal/store"
)

type nullSender struct{}

func (nullSender) Send(string, string, any) {}

func testConfig() engine.Config {
	return engine.Config{
		SmallBlind:  10,
		BigBlind:    20,
		MinBuyIn:    400,
		MaxBuyIn:    4000,
		MaxSeats:    6,
		TurnTimeout: 30 * time.Second,
	}
}

func newTestRegistry(t *testing.T) (*Registry, *quartz.Mock) {
	t.Helper()
	clock := quartz.NewMock(t)
	reg := New(nullSender{}, room.Hooks{}, log.New(io.Discard), clock)
	return reg, clock
}

func advance(t *testing.T, clock *quartz.Mock, d time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	clock.Advance(d).MustWait(ctx)
}

func TestPersistentRoomRestoresSeats(t *testing.T) {
	reg, _ := newTestRegistry(t)

	seats := []store.SeatRecord{
		{PlayerID: "p1", Name: "Alice", Chips: 5000, SeatIndex: 1},
		{PlayerID: "p2", Name: "Bob", Chips: 3000, SeatIndex: 4},
	}
	rm := reg.AddPersistent("table-low-1", "Low Stakes", testConfig(), seats)

	assert.True(t, rm.HasPlayer("p1"))
	assert.True(t, rm.HasPlayer("p2"))

	got, err := reg.Get("table-low-1")
	require.NoError(t, err)
	assert.Equal(t, rm, got)

	_, err = reg.Get("nope")
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestLobbySnapshotSorted(t *testing.T) {
	reg, _ := newTestRegistry(t)
	reg.AddPersistent("table-b", "B", testConfig(), nil)
	reg.AddPersistent("table-a", "A", testConfig(), nil)

	lobby := reg.Lobby()
	require.Len(t, lobby, 2)
	assert.Equal(t, "table-a", lobby[0].ID)
	assert.Equal(t, "table-b", lobby[1].ID)
	assert.Equal(t, engine.PhaseWaiting, lobby[0].Phase)
}

func TestDisconnectGraceRemovesSeat(t *testing.T) {
	reg, clock := newTestRegistry(t)
	rm := reg.AddPersistent("table-1", "T", testConfig(), nil)

	p := &room.RoomPlayer{ID: "p1", Name: "Alice", SessionID: "s1"}
	_, err := rm.Join(p, 1000, -1)
	require.NoError(t, err)

	reg.OnDisconnect("p1")
	require.True(t, rm.HasPlayer("p1"), "seat survives the grace window")

	advance(t, clock, DisconnectGrace)
	assert.False(t, rm.HasPlayer("p1"), "seat removed after grace expiry")
}

func TestReconnectCancelsGrace(t *testing.T) {
	reg, clock := newTestRegistry(t)
	rm := reg.AddPersistent("table-1", "T", testConfig(), nil)

	p := &room.RoomPlayer{ID: "p1", Name: "Alice", SessionID: "s1"}
	_, err := rm.Join(p, 1000, -1)
	require.NoError(t, err)

	reg.OnDisconnect("p1")
	restored := reg.OnReconnect("p1", "s2")
	require.Len(t, restored, 1)

	advance(t, clock, DisconnectGrace+time.Second)
	assert.True(t, rm.HasPlayer("p1"), "reconnect cancelled the removal")
}

func TestEphemeralRoomDestroyedWhenEmpty(t *testing.T) {
	reg, clock := newTestRegistry(t)
	rm := reg.CreateEphemeral("My Table", "creator-1", testConfig())

	p := &room.RoomPlayer{ID: "p1", Name: "Alice", SessionID: "s1"}
	_, err := rm.Join(p, 1000, -1)
	require.NoError(t, err)
	require.NoError(t, rm.Leave("p1"))

	advance(t, clock, EmptyRoomGrace)
	_, err = reg.Get(rm.ID)
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestEphemeralRoomSurvivesIfReoccupied(t *testing.T) {
	reg, clock := newTestRegistry(t)
	rm := reg.CreateEphemeral("My Table", "creator-1", testConfig())

	p := &room.RoomPlayer{ID: "p1", Name: "Alice", SessionID: "s1"}
	_, err := rm.Join(p, 1000, -1)
	require.NoError(t, err)
	require.NoError(t, rm.Leave("p1"))

	// Someone sits back down before the grace runs out.
	p2 := &room.RoomPlayer{ID: "p2", Name: "Bob", SessionID: "s2"}
	_, err = rm.Join(p2, 1000, -1)
	require.NoError(t, err)

	advance(t, clock, EmptyRoomGrace)
	_, err = reg.Get(rm.ID)
	assert.NoError(t, err, "occupied room survives teardown")
}

func TestPersistentRoomNeverDestroyed(t *testing.T) {
	reg, clock := newTestRegistry(t)
	rm := reg.AddPersistent("table-1", "T", testConfig(), nil)

	p := &room.RoomPlayer{ID: "p1", Name: "Alice", SessionID: "s1"}
	_, err := rm.Join(p, 1000, -1)
	require.NoError(t, err)
	require.NoError(t, rm.Leave("p1"))

	advance(t, clock, EmptyRoomGrace*4)
	_, err = reg.Get("table-1")
	assert.NoError(t, err)
}

func TestRoomsFor(t *testing.T) {
	reg, _ := newTestRegistry(t)
	a := reg.AddPersistent("table-a", "A", testConfig(), nil)
	reg.AddPersistent("table-b", "B", testConfig(), nil)

	p := &room.RoomPlayer{ID: "p1", Name: "Alice", SessionID: "s1"}
	_, err := a.Join(p, 1000, -1)
	require.NoError(t, err)

	rooms := reg.RoomsFor("p1")
	require.Len(t, rooms, 1)
	assert.Equal(t, "table-a", rooms[0].ID)
}
