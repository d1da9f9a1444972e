// Package room is the per-table runtime: seat and reservation lifecycle,
// the pre-hand countdown, turn timers, hand orchestration over the pure
// engine, per-recipient state filtering, and the settlement hooks fired
// on leave. Every mutation of a room happens under its single mutex;
// on-chain work is never performed while holding it.
package room

import (
	"errors"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"

	"github.com/goldenflop/goldenflop/internal/engine"
	"github.com/goldenflop/goldenflop/internal/store"
)

// Timing defaults; the turn timeout comes from the table config.
const (
	ReservationTTL   = 30 * time.Second
	CountdownSeconds = 3
	InterHandDelay   = 5 * time.Second
	RunoutPause      = 1 * time.Second
	ShowdownPause    = 2 * time.Second
)

// Seat and command errors reported in acknowledgements.
var (
	ErrRoomFull        = errors.New("table is full")
	ErrSeatTaken       = errors.New("seat is taken")
	ErrSeatReserved    = errors.New("seat is reserved by another player")
	ErrAlreadySeated   = errors.New("player already seated")
	ErrBuyInOutOfRange = errors.New("buy-in out of range")
	ErrNotSeated       = errors.New("player not seated")
	ErrJoinInProgress  = errors.New("join already in progress")
	ErrNoVault         = errors.New("table has no vault")
	ErrSeatUnavailable = errors.New("seat unavailable")
)

// RoomPlayer is a seat occupant; it outlives individual hands.
type RoomPlayer struct {
	ID          string
	SessionID   string
	Name        string
	AvatarSeed  string
	Chips       int64
	Seat        int
	Connected   bool
	UserID      int64
	Wallet      string
	VaultPlayer bool
}

// Reservation is a short-lived hold on an empty seat.
type Reservation struct {
	Seat       int
	PlayerID   string
	Name       string
	AvatarSeed string
	ReservedAt time.Time
	timer      *quartz.Timer
}

// Hooks are the runtime's outward edges. All of them are invoked
// outside the room lock.
type Hooks struct {
	// PersistSeats saves the seat map after joins, leaves, and
	// settlement.
	PersistSeats func(roomID string, seats []store.SeatRecord)
	// OnCashOut settles a departed player's remaining chips.
	OnCashOut func(roomID string, player RoomPlayer, chips int64)
	// RecordHandResult stores a finished hand for auditing.
	RecordHandResult func(roomID, handID string, result *engine.Result)
	// CollectRake forwards rake to the vault engine.
	CollectRake func(roomID string, amount int64)
	// OnEmpty fires when the last seat empties (for ephemeral teardown).
	OnEmpty func(roomID string)
	// OnLobbyChanged fires on any membership or reservation change.
	OnLobbyChanged func()
}

// Room owns one table's mutable state.
type Room struct {
	ID         string
	Name       string
	CreatorID  string
	Config     engine.Config
	Persistent bool

	mu           sync.Mutex
	seats        map[int]*RoomPlayer // seat index -> player
	reservations map[int]*Reservation
	hand         *engine.HandState
	dealerSeat   int // seat of the previous hand's dealer
	turnDeadline time.Time
	turnTimer    *quartz.Timer

	countdownRemaining int
	countdownTimer     *quartz.Timer
	interHandTimer     *quartz.Timer
	runoutTimer        *quartz.Timer
	showdownTimer      *quartz.Timer

	watchers map[string]bool
	joining  map[string]bool

	sender Sender
	hooks  Hooks
	logger *log.Logger
	clock  quartz.Clock
}

// New builds an idle room.
func New(id, name, creatorID string, cfg engine.Config, persistent bool, sender Sender, hooks Hooks, logger *log.Logger, clock quartz.Clock) *Room {
	if clock == nil {
		clock = quartz.NewReal()
	}
	return &Room{
		ID:           id,
		Name:         name,
		CreatorID:    creatorID,
		Config:       cfg,
		Persistent:   persistent,
		seats:        make(map[int]*RoomPlayer),
		reservations: make(map[int]*Reservation),
		watchers:     make(map[string]bool),
		joining:      make(map[string]bool),
		dealerSeat:   -1,
		sender:       sender,
		hooks:        hooks,
		logger:       logger.WithPrefix("room").With("id", id),
		clock:        clock,
	}
}

// RestoreSeat revives a persisted seat with the player disconnected;
// the seat becomes live again when its owner reconnects.
func (r *Room) RestoreSeat(rec store.SeatRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seats[rec.SeatIndex] = &RoomPlayer{
		ID:        rec.PlayerID,
		Name:      rec.Name,
		Chips:     rec.Chips,
		Seat:      rec.SeatIndex,
		Connected: false,
	}
}

// ReserveSeat installs a hold on a free seat for the player. Any prior
// reservation the player held in this room is released first.
func (r *Room) ReserveSeat(playerID, name, avatarSeed string, seat int) error {
	r.mu.Lock()

	if seat < 0 || seat >= r.Config.MaxSeats {
		r.mu.Unlock()
		return ErrSeatTaken
	}
	if _, occupied := r.seats[seat]; occupied {
		r.mu.Unlock()
		return ErrSeatTaken
	}
	if held, ok := r.reservations[seat]; ok && held.PlayerID != playerID {
		r.mu.Unlock()
		return ErrSeatReserved
	}

	// One reservation per player per room. Dropping the target seat too
	// stops a prior hold's release timer before the renewal replaces it.
	for s, held := range r.reservations {
		if held.PlayerID == playerID {
			r.dropReservationLocked(s)
		}
	}

	res := &Reservation{
		Seat:       seat,
		PlayerID:   playerID,
		Name:       name,
		AvatarSeed: avatarSeed,
		ReservedAt: r.clock.Now(),
	}
	res.timer = r.clock.AfterFunc(ReservationTTL, func() {
		r.expireReservation(seat, playerID)
	})
	r.reservations[seat] = res
	r.mu.Unlock()

	r.logger.Info("seat reserved", "seat", seat, "player", playerID)
	r.broadcast(EventSeatReserved, SeatReservedPayload{TableID: r.ID, Seat: seat, PlayerID: playerID})
	r.broadcastState()
	r.lobbyChanged()
	return nil
}

// ReleaseReservation frees a held seat. Idempotent; when playerID is
// non-empty the release only applies if it matches the holder.
func (r *Room) ReleaseReservation(seat int, playerID string) {
	r.mu.Lock()
	held, ok := r.reservations[seat]
	if !ok || (playerID != "" && held.PlayerID != playerID) {
		r.mu.Unlock()
		return
	}
	r.dropReservationLocked(seat)
	r.mu.Unlock()

	r.broadcast(EventSeatReleased, SeatReleasedPayload{TableID: r.ID, Seat: seat})
	r.broadcastState()
	r.lobbyChanged()
}

// expireReservation is the release timer callback.
func (r *Room) expireReservation(seat int, playerID string) {
	r.mu.Lock()
	held, ok := r.reservations[seat]
	if !ok || held.PlayerID != playerID {
		r.mu.Unlock()
		return
	}
	delete(r.reservations, seat)
	r.mu.Unlock()

	r.logger.Info("reservation expired", "seat", seat, "player", playerID)
	r.broadcast(EventSeatReleased, SeatReleasedPayload{TableID: r.ID, Seat: seat})
	r.broadcastState()
	r.lobbyChanged()
}

func (r *Room) dropReservationLocked(seat int) {
	if held, ok := r.reservations[seat]; ok {
		if held.timer != nil {
			held.timer.Stop()
		}
		delete(r.reservations, seat)
	}
}

// HasReservation reports whether the player holds a live reservation on
// the seat.
func (r *Room) HasReservation(seat int, playerID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	held, ok := r.reservations[seat]
	return ok && held.PlayerID == playerID
}

// ReservationFor returns the seat the player currently holds, if any.
func (r *Room) ReservationFor(playerID string) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for seat, held := range r.reservations {
		if held.PlayerID == playerID {
			return seat, true
		}
	}
	return -1, false
}

// BeginJoin guards against concurrent sit attempts by the same player;
// EndJoin must be called when the attempt resolves either way.
func (r *Room) BeginJoin(playerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.joining[playerID] {
		return ErrJoinInProgress
	}
	r.joining[playerID] = true
	return nil
}

// EndJoin clears the join guard.
func (r *Room) EndJoin(playerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.joining, playerID)
}

// Join seats a player. preferredSeat < 0 picks the lowest free seat.
// The player's own reservation (on any seat) is cleared on success.
func (r *Room) Join(p *RoomPlayer, buyIn int64, preferredSeat int) (int, error) {
	r.mu.Lock()

	if buyIn < r.Config.MinBuyIn || buyIn > r.Config.MaxBuyIn {
		r.mu.Unlock()
		return 0, ErrBuyInOutOfRange
	}
	for _, seated := range r.seats {
		if seated.ID == p.ID {
			r.mu.Unlock()
			return 0, ErrAlreadySeated
		}
	}
	if len(r.seats) >= r.Config.MaxSeats {
		r.mu.Unlock()
		return 0, ErrRoomFull
	}

	seat := preferredSeat
	if seat >= 0 {
		if seat >= r.Config.MaxSeats {
			r.mu.Unlock()
			return 0, ErrSeatTaken
		}
		if _, occupied := r.seats[seat]; occupied {
			r.mu.Unlock()
			return 0, ErrSeatTaken
		}
		if held, ok := r.reservations[seat]; ok && held.PlayerID != p.ID {
			r.mu.Unlock()
			return 0, ErrSeatReserved
		}
	} else {
		seat = -1
		for s := 0; s < r.Config.MaxSeats; s++ {
			_, occupied := r.seats[s]
			held, reserved := r.reservations[s]
			if !occupied && (!reserved || held.PlayerID == p.ID) {
				seat = s
				break
			}
		}
		if seat < 0 {
			r.mu.Unlock()
			return 0, ErrRoomFull
		}
	}

	// Clear any reservation the player held, on this seat or another.
	for s, held := range r.reservations {
		if held.PlayerID == p.ID {
			r.dropReservationLocked(s)
		}
	}

	p.Seat = seat
	p.Chips = buyIn
	p.Connected = true
	r.seats[seat] = p

	startCountdown := len(r.seats) >= 2 && r.hand == nil && r.countdownTimer == nil
	r.mu.Unlock()

	r.logger.Info("player joined", "player", p.ID, "seat", seat, "buyIn", buyIn, "vault", p.VaultPlayer)
	r.broadcast(EventPlayerJoined, PlayerJoinedPayload{
		TableID: r.ID, Seat: seat, PlayerID: p.ID, Name: p.Name, Chips: buyIn,
	})
	r.broadcastState()
	r.persistSeats()
	r.lobbyChanged()

	if startCountdown {
		r.startCountdown()
	}
	return seat, nil
}

// Leave removes a player's seat. Mid-hand the player is folded first
// (auto-fold when they are the actor), and the hand is cancelled when
// fewer than two seats remain in it. The player's remaining chips are
// handed to the cash-out hook.
func (r *Room) Leave(playerID string) error {
	r.mu.Lock()

	// A leave while settlement is pending settles the hand first, so a
	// winner leaving during the showdown pause still collects the pot.
	if r.hand != nil && r.hand.Complete && r.showdownTimer != nil {
		r.showdownTimer.Stop()
		r.showdownTimer = nil
		r.mu.Unlock()
		r.finishHand()
		r.mu.Lock()
	}

	var leaving *RoomPlayer
	for _, p := range r.seats {
		if p.ID == playerID {
			leaving = p
			break
		}
	}
	if leaving == nil {
		r.mu.Unlock()
		return ErrNotSeated
	}

	chips := leaving.Chips
	handWasLive := r.hand != nil && !r.hand.Complete
	inHand := false
	if handWasLive {
		for _, ep := range r.hand.Players {
			if ep.ID == playerID {
				inHand = true
				break
			}
		}
	}

	delete(r.seats, leaving.Seat)
	departed := *leaving

	handCancelled := false
	if handWasLive && r.seatedInHandLocked() < 2 {
		// The leave leaves too few participants: dissolve the pot back
		// into stacks, the departed player's share included.
		refunded := r.hand.Refund()
		for _, ep := range refunded.Players {
			if ep.ID == playerID {
				chips = ep.Chips
			}
		}
		r.hand = refunded
		r.cancelHandLocked()
		handCancelled = true
	} else if handWasLive && inHand {
		// The hand continues without them: fold them out (auto-fold when
		// they were the actor) and cash out the stack the engine shows.
		if next, err := r.hand.ForceFold(playerID); err == nil {
			r.hand = next
			for _, ep := range next.Players {
				if ep.ID == playerID {
					chips = ep.Chips
					break
				}
			}
		}
	}
	empty := len(r.seats) == 0
	r.mu.Unlock()

	r.logger.Info("player left", "player", playerID, "seat", departed.Seat, "chips", chips)
	r.broadcast(EventPlayerLeft, PlayerLeftPayload{TableID: r.ID, Seat: departed.Seat, PlayerID: playerID})
	r.broadcastState()
	r.persistSeats()
	r.lobbyChanged()

	if handCancelled {
		r.resumeAfterCancel()
	} else if handWasLive {
		// The fold may have changed the actor or completed the hand.
		r.afterTransition()
	}
	if r.hooks.OnCashOut != nil {
		r.hooks.OnCashOut(r.ID, departed, chips)
	}
	if empty && r.hooks.OnEmpty != nil {
		r.hooks.OnEmpty(r.ID)
	}
	return nil
}

// seatedInHandLocked counts hand participants who still occupy a seat.
func (r *Room) seatedInHandLocked() int {
	if r.hand == nil {
		return 0
	}
	n := 0
	for _, ep := range r.hand.Players {
		for _, p := range r.seats {
			if p.ID == ep.ID {
				n++
				break
			}
		}
	}
	return n
}

// Reconnect swaps in a new session for an existing player and pushes a
// personalized snapshot.
func (r *Room) Reconnect(playerID, sessionID string) bool {
	r.mu.Lock()
	var found *RoomPlayer
	for _, p := range r.seats {
		if p.ID == playerID {
			found = p
			break
		}
	}
	if found == nil {
		r.mu.Unlock()
		return false
	}
	found.SessionID = sessionID
	found.Connected = true
	snapshot := r.snapshotLocked(playerID)
	r.mu.Unlock()

	r.logger.Info("player reconnected", "player", playerID)
	r.sender.Send(playerID, EventReconnectState, snapshot)
	r.broadcastState()
	return true
}

// MarkDisconnected flags a player's seat as disconnected; the registry
// owns the grace timer that eventually removes it.
func (r *Room) MarkDisconnected(playerID string) bool {
	r.mu.Lock()
	var found *RoomPlayer
	for _, p := range r.seats {
		if p.ID == playerID {
			found = p
			break
		}
	}
	if found == nil {
		r.mu.Unlock()
		return false
	}
	found.Connected = false
	found.SessionID = ""
	r.mu.Unlock()

	r.broadcastState()
	return true
}

// Watch subscribes a non-seated player to public snapshots.
func (r *Room) Watch(playerID string) {
	r.mu.Lock()
	r.watchers[playerID] = true
	snapshot := r.snapshotLocked(playerID)
	r.mu.Unlock()
	r.sender.Send(playerID, EventTableState, snapshot)
}

// Unwatch removes a watcher.
func (r *Room) Unwatch(playerID string) {
	r.mu.Lock()
	delete(r.watchers, playerID)
	r.mu.Unlock()
}

// HasPlayer reports whether the player occupies a seat.
func (r *Room) HasPlayer(playerID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.seats {
		if p.ID == playerID {
			return true
		}
	}
	return false
}

// SeatedCount returns the number of occupied seats.
func (r *Room) SeatedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.seats)
}

// Empty reports whether the room has no seats and no reservations.
func (r *Room) Empty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.seats) == 0 && len(r.reservations) == 0
}

// persistSeats snapshots the seat map through the persistence hook.
func (r *Room) persistSeats() {
	if r.hooks.PersistSeats == nil {
		return
	}
	r.mu.Lock()
	records := make([]store.SeatRecord, 0, len(r.seats))
	for _, p := range r.seats {
		records = append(records, store.SeatRecord{
			PlayerID:  p.ID,
			Name:      p.Name,
			Chips:     p.Chips,
			SeatIndex: p.Seat,
		})
	}
	r.mu.Unlock()
	r.hooks.PersistSeats(r.ID, records)
}

func (r *Room) lobbyChanged() {
	if r.hooks.OnLobbyChanged != nil {
		r.hooks.OnLobbyChanged()
	}
}
