package room

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goldenflop/goldenflop/internal/engine"
	"github.com/goldenflop/goldenflop/internal/store"
)

// recordingSender captures every event pushed to every player.
type recordingSender struct {
	mu     sync.Mutex
	events []sentEvent
}

type sentEvent struct {
	PlayerID string
	Event    string
	Payload  any
}

func (s *recordingSender) Send(playerID, event string, payload any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, sentEvent{PlayerID: playerID, Event: event, Payload: payload})
}

func (s *recordingSender) byEvent(event string) []sentEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []sentEvent
	for _, e := range s.events {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

func (s *recordingSender) lastStateFor(playerID string) *TableState {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.events) - 1; i >= 0; i-- {
		e := s.events[i]
		if e.PlayerID == playerID && (e.Event == EventTableState || e.Event == EventReconnectState) {
			return e.Payload.(*TableState)
		}
	}
	return nil
}

func testRoomConfig() engine.Config {
	return engine.Config{
		SmallBlind:  10,
		BigBlind:    20,
		MinBuyIn:    400,
		MaxBuyIn:    4000,
		MaxSeats:    6,
		TurnTimeout: 30 * time.Second,
		TokenType:   "SOL",
	}
}

func newTestRoom(t *testing.T, hooks Hooks) (*Room, *recordingSender, *quartz.Mock) {
	t.Helper()
	sender := &recordingSender{}
	clock := quartz.NewMock(t)
	r := New("table-test-1", "Test Table", "", testRoomConfig(), true, sender, hooks, log.New(io.Discard), clock)
	return r, sender, clock
}

func player(id string) *RoomPlayer {
	return &RoomPlayer{ID: id, Name: "name-" + id, SessionID: "sess-" + id}
}

func advance(t *testing.T, clock *quartz.Mock, d time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	clock.Advance(d).MustWait(ctx)
}

// startHandForTest seats two players and burns through the countdown.
func startHandForTest(t *testing.T, r *Room, clock *quartz.Mock) (*RoomPlayer, *RoomPlayer) {
	t.Helper()
	p1, p2 := player("p1"), player("p2")
	_, err := r.Join(p1, 1000, -1)
	require.NoError(t, err)
	_, err = r.Join(p2, 1000, -1)
	require.NoError(t, err)

	for i := 0; i < CountdownSeconds; i++ {
		advance(t, clock, time.Second)
	}
	require.NotNil(t, r.handForTest(), "hand should have started")
	return p1, p2
}

// handForTest exposes the current hand to tests.
func (r *Room) handForTest() *engine.HandState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hand
}

func TestReserveSeatConflicts(t *testing.T) {
	r, sender, _ := newTestRoom(t, Hooks{})

	require.NoError(t, r.ReserveSeat("p1", "Alice", "", 2))
	assert.ErrorIs(t, r.ReserveSeat("p2", "Bob", "", 2), ErrSeatReserved)

	// Same player re-reserving the same seat is fine.
	require.NoError(t, r.ReserveSeat("p1", "Alice", "", 2))

	reserved := sender.byEvent(EventSeatReserved)
	assert.NotEmpty(t, reserved)
}

func TestReserveSecondSeatReleasesFirst(t *testing.T) {
	r, _, _ := newTestRoom(t, Hooks{})

	require.NoError(t, r.ReserveSeat("p1", "Alice", "", 2))
	require.NoError(t, r.ReserveSeat("p1", "Alice", "", 4))

	// Seat 2 is free again for someone else.
	require.NoError(t, r.ReserveSeat("p2", "Bob", "", 2))
}

func TestReReserveSameSeatRestartsTimer(t *testing.T) {
	r, _, clock := newTestRoom(t, Hooks{})

	require.NoError(t, r.ReserveSeat("p1", "Alice", "", 2))
	advance(t, clock, ReservationTTL*2/3)

	// Renewing the hold must replace the original release timer.
	require.NoError(t, r.ReserveSeat("p1", "Alice", "", 2))
	advance(t, clock, ReservationTTL/2)

	// Past the first hold's deadline, within the renewal's.
	assert.True(t, r.HasReservation(2, "p1"), "renewed hold must survive the original deadline")
	assert.ErrorIs(t, r.ReserveSeat("p2", "Bob", "", 2), ErrSeatReserved)

	advance(t, clock, ReservationTTL)
	assert.False(t, r.HasReservation(2, "p1"))
	require.NoError(t, r.ReserveSeat("p2", "Bob", "", 2))
}

func TestReservationExpires(t *testing.T) {
	r, sender, clock := newTestRoom(t, Hooks{})

	require.NoError(t, r.ReserveSeat("p1", "Alice", "", 2))
	advance(t, clock, ReservationTTL)

	released := sender.byEvent(EventSeatReleased)
	require.NotEmpty(t, released)
	assert.Equal(t, 2, released[0].Payload.(SeatReleasedPayload).Seat)

	// The seat can now be reserved by another player.
	require.NoError(t, r.ReserveSeat("p2", "Bob", "", 2))
}

func TestReleaseReservationIdempotentAndOwnerChecked(t *testing.T) {
	r, _, _ := newTestRoom(t, Hooks{})

	require.NoError(t, r.ReserveSeat("p1", "Alice", "", 2))

	// Mismatched owner leaves the hold in place.
	r.ReleaseReservation(2, "p2")
	assert.ErrorIs(t, r.ReserveSeat("p2", "Bob", "", 2), ErrSeatReserved)

	r.ReleaseReservation(2, "p1")
	r.ReleaseReservation(2, "p1") // idempotent
	require.NoError(t, r.ReserveSeat("p2", "Bob", "", 2))
}

func TestJoinValidations(t *testing.T) {
	r, _, _ := newTestRoom(t, Hooks{})

	_, err := r.Join(player("p1"), 399, -1)
	assert.ErrorIs(t, err, ErrBuyInOutOfRange, "one unit below min fails")

	_, err = r.Join(player("p1"), 4001, -1)
	assert.ErrorIs(t, err, ErrBuyInOutOfRange)

	seat, err := r.Join(player("p1"), 400, -1)
	require.NoError(t, err, "exactly min buy-in succeeds")
	assert.Equal(t, 0, seat, "lowest free seat")

	_, err = r.Join(player("p1"), 400, -1)
	assert.ErrorIs(t, err, ErrAlreadySeated)

	_, err = r.Join(player("p2"), 400, 0)
	assert.ErrorIs(t, err, ErrSeatTaken)
}

func TestJoinSkipsSeatsReservedByOthers(t *testing.T) {
	r, _, _ := newTestRoom(t, Hooks{})

	require.NoError(t, r.ReserveSeat("p9", "Holder", "", 0))

	seat, err := r.Join(player("p1"), 1000, -1)
	require.NoError(t, err)
	assert.Equal(t, 1, seat, "seat 0 is held by someone else")

	_, err = r.Join(player("p2"), 1000, 0)
	assert.ErrorIs(t, err, ErrSeatReserved)
}

func TestJoinClearsOwnReservation(t *testing.T) {
	r, _, _ := newTestRoom(t, Hooks{})

	require.NoError(t, r.ReserveSeat("p1", "Alice", "", 3))
	seat, err := r.Join(player("p1"), 1000, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, seat)

	// Reservation is gone; another player may hold seat 3's neighbors.
	lobby := r.Lobby()
	assert.Empty(t, lobby.ReservedSeats)
}

func TestJoinGuardRejectsConcurrentAttempts(t *testing.T) {
	r, _, _ := newTestRoom(t, Hooks{})

	require.NoError(t, r.BeginJoin("p1"))
	assert.ErrorIs(t, r.BeginJoin("p1"), ErrJoinInProgress)
	r.EndJoin("p1")
	require.NoError(t, r.BeginJoin("p1"))
}

func TestCountdownStartsHand(t *testing.T) {
	r, sender, clock := newTestRoom(t, Hooks{})
	startHandForTest(t, r, clock)

	started := sender.byEvent(EventGameStarted)
	require.NotEmpty(t, started)

	hand := r.handForTest()
	assert.Equal(t, engine.PhasePreflop, hand.Phase)
	assert.Equal(t, int64(30), hand.Pot, "blinds posted")
}

func TestCountdownCancelledWhenPlayerLeaves(t *testing.T) {
	r, _, clock := newTestRoom(t, Hooks{})

	_, err := r.Join(player("p1"), 1000, -1)
	require.NoError(t, err)
	_, err = r.Join(player("p2"), 1000, -1)
	require.NoError(t, err)

	require.NoError(t, r.Leave("p2"))
	for i := 0; i < CountdownSeconds+1; i++ {
		advance(t, clock, time.Second)
	}
	assert.Nil(t, r.handForTest(), "hand must not start with one player")
}

func TestTurnTimeoutAutoFolds(t *testing.T) {
	r, sender, clock := newTestRoom(t, Hooks{})
	startHandForTest(t, r, clock)

	hand := r.handForTest()
	actor := hand.ActivePlayer()
	require.NotNil(t, actor)

	advance(t, clock, testRoomConfig().TurnTimeout)

	next := r.handForTest()
	if next != nil {
		for _, ep := range next.Players {
			if ep.ID == actor.ID {
				assert.True(t, ep.Folded, "timed-out actor must be folded")
			}
		}
	} else {
		// The hand has already been settled and cleared.
		require.NotNil(t, r)
	}
	_ = sender
}

func TestActionFromWrongPlayerIgnored(t *testing.T) {
	r, sender, clock := newTestRoom(t, Hooks{})
	startHandForTest(t, r, clock)

	hand := r.handForTest()
	actor := hand.ActivePlayer()
	other := "p1"
	if actor.ID == "p1" {
		other = "p2"
	}

	r.HandleAction(other, engine.ActionFold, 0)
	assert.Equal(t, hand.ActionSeq, r.handForTest().ActionSeq, "no transition happened")
	assert.Empty(t, sender.byEvent(EventError), "wrong actor is ignored silently")
}

func TestInvalidActionSurfacesErrorToActorOnly(t *testing.T) {
	r, sender, clock := newTestRoom(t, Hooks{})
	startHandForTest(t, r, clock)

	actor := r.handForTest().ActivePlayer()
	r.HandleAction(actor.ID, engine.ActionRaise, 1) // below min raise

	errs := sender.byEvent(EventError)
	require.Len(t, errs, 1)
	assert.Equal(t, actor.ID, errs[0].PlayerID)
	assert.Equal(t, "invalid_action", errs[0].Payload.(ErrorPayload).Code)
}

func TestActionAcknowledged(t *testing.T) {
	r, sender, clock := newTestRoom(t, Hooks{})
	startHandForTest(t, r, clock)

	actor := r.handForTest().ActivePlayer()
	r.HandleAction(actor.ID, engine.ActionCall, 0)

	acks := sender.byEvent(EventActionAck)
	require.Len(t, acks, 1)
	assert.Equal(t, actor.ID, acks[0].PlayerID)
}

func TestSnapshotFiltersHoleCards(t *testing.T) {
	r, sender, clock := newTestRoom(t, Hooks{})
	p1, p2 := startHandForTest(t, r, clock)

	s1 := sender.lastStateFor(p1.ID)
	require.NotNil(t, s1)
	require.GreaterOrEqual(t, s1.MySeatIndex, 0)
	assert.NotEmpty(t, s1.MyHand, "recipient sees own cards")

	// p1's snapshot must not contain p2's cards.
	for _, seat := range s1.Seats {
		if seat == nil || seat.PlayerID == p1.ID {
			continue
		}
		assert.Empty(t, seat.HoleCards, "opponent cards must be hidden")
	}

	s2 := sender.lastStateFor(p2.ID)
	require.NotNil(t, s2)
	assert.NotEqual(t, s1.MyHand, s2.MyHand)
}

func TestTurnDeadlineOnlyForActor(t *testing.T) {
	r, sender, clock := newTestRoom(t, Hooks{})
	p1, p2 := startHandForTest(t, r, clock)

	actor := r.handForTest().ActivePlayer()
	nonActor := p1.ID
	if actor.ID == p1.ID {
		nonActor = p2.ID
	}

	actorState := sender.lastStateFor(actor.ID)
	otherState := sender.lastStateFor(nonActor)
	require.NotNil(t, actorState)
	require.NotNil(t, otherState)

	assert.True(t, actorState.IsMyTurn)
	assert.NotZero(t, actorState.TurnTimeoutAt)
	assert.False(t, otherState.IsMyTurn)
	assert.Zero(t, otherState.TurnTimeoutAt)

	turnStarts := sender.byEvent(EventTurnStart)
	require.NotEmpty(t, turnStarts)
	for _, e := range turnStarts {
		assert.Equal(t, actor.ID, e.PlayerID, "deadline goes only to the actor")
	}
}

func TestLeaveMidHandCancelsAndRefunds(t *testing.T) {
	var persisted [][]store.SeatRecord
	var mu sync.Mutex
	hooks := Hooks{
		PersistSeats: func(roomID string, seats []store.SeatRecord) {
			mu.Lock()
			defer mu.Unlock()
			persisted = append(persisted, seats)
		},
	}
	r, sender, clock := newTestRoom(t, hooks)
	p1, p2 := startHandForTest(t, r, clock)

	require.NoError(t, r.Leave(p2.ID))

	assert.Nil(t, r.handForTest(), "hand cancelled below two players")

	// The remaining player's committed blind came back.
	state := sender.lastStateFor(p1.ID)
	require.NotNil(t, state)
	assert.Equal(t, int64(1000), state.MyChips)

	mu.Lock()
	defer mu.Unlock()
	assert.NotEmpty(t, persisted)
}

func TestLeaveTriggersCashOutHook(t *testing.T) {
	type cashOut struct {
		player RoomPlayer
		chips  int64
	}
	var cashOuts []cashOut
	var mu sync.Mutex
	hooks := Hooks{
		OnCashOut: func(roomID string, p RoomPlayer, chips int64) {
			mu.Lock()
			defer mu.Unlock()
			cashOuts = append(cashOuts, cashOut{player: p, chips: chips})
		},
	}
	r, _, _ := newTestRoom(t, hooks)

	p := player("p1")
	p.VaultPlayer = true
	_, err := r.Join(p, 1000, -1)
	require.NoError(t, err)
	require.NoError(t, r.Leave("p1"))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, cashOuts, 1)
	assert.Equal(t, int64(1000), cashOuts[0].chips)
	assert.True(t, cashOuts[0].player.VaultPlayer)
}

func TestLeaveNotSeated(t *testing.T) {
	r, _, _ := newTestRoom(t, Hooks{})
	assert.ErrorIs(t, r.Leave("ghost"), ErrNotSeated)
}

func TestReconnectSwapsSessionAndPushesSnapshot(t *testing.T) {
	r, sender, clock := newTestRoom(t, Hooks{})
	p1, _ := startHandForTest(t, r, clock)

	require.True(t, r.MarkDisconnected(p1.ID))
	require.True(t, r.Reconnect(p1.ID, "sess-new"))

	reconnects := sender.byEvent(EventReconnectState)
	require.NotEmpty(t, reconnects)
	last := reconnects[len(reconnects)-1]
	assert.Equal(t, p1.ID, last.PlayerID)
	state := last.Payload.(*TableState)
	assert.NotEmpty(t, state.MyHand, "reconnect snapshot is personalized")

	assert.False(t, r.Reconnect("ghost", "s"))
}

func TestHandPlaysThroughShowdownAndSchedulesNext(t *testing.T) {
	var results []*engine.Result
	var mu sync.Mutex
	hooks := Hooks{
		RecordHandResult: func(roomID, handID string, result *engine.Result) {
			mu.Lock()
			defer mu.Unlock()
			results = append(results, result)
		},
	}
	r, sender, clock := newTestRoom(t, hooks)
	startHandForTest(t, r, clock)

	// Play the hand to completion: fold whoever is due to act.
	actor := r.handForTest().ActivePlayer()
	r.HandleAction(actor.ID, engine.ActionFold, 0)

	require.True(t, r.handForTest().Complete)
	advance(t, clock, ShowdownPause)

	assert.Nil(t, r.handForTest(), "hand cleared after settlement")
	handResults := sender.byEvent(EventHandResult)
	require.NotEmpty(t, handResults)

	result := handResults[0].Payload.(*engine.Result)
	require.Len(t, result.Winners, 1)
	assert.Equal(t, engine.LastPlayerStanding, result.Winners[0].HandName)
	assert.NotEmpty(t, result.Seed, "seed revealed at hand end")
	assert.NotEmpty(t, result.Algorithm)

	mu.Lock()
	assert.Len(t, results, 1)
	mu.Unlock()

	// Both seats still funded: the next hand starts after the delay.
	advance(t, clock, InterHandDelay)
	require.NotNil(t, r.handForTest())
}

func TestWatcherReceivesPublicSnapshots(t *testing.T) {
	r, sender, clock := newTestRoom(t, Hooks{})
	startHandForTest(t, r, clock)

	r.Watch("spectator")
	state := sender.lastStateFor("spectator")
	require.NotNil(t, state)
	assert.Equal(t, -1, state.MySeatIndex)
	for _, seat := range state.Seats {
		if seat == nil {
			continue
		}
		assert.Empty(t, seat.HoleCards, "watchers never see hole cards pre-showdown")
	}
}

func TestRestoreSeatRevivesOnReconnect(t *testing.T) {
	r, _, _ := newTestRoom(t, Hooks{})

	r.RestoreSeat(store.SeatRecord{PlayerID: "p1", Name: "Alice", Chips: 5000, SeatIndex: 2})
	require.True(t, r.HasPlayer("p1"))

	require.True(t, r.Reconnect("p1", "sess-1"))
	lobby := r.Lobby()
	assert.Equal(t, []int{2}, lobby.OccupiedSeats)
}
