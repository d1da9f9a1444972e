package room

import (
	"crypto/rand"
	"encoding/hex"
	"sort"

	"github.com/goldenflop/goldenflop/internal/engine"
	"github.com/goldenflop/goldenflop/internal/ids"
)

// newHandSeed draws a fresh seed for the shuffle; it is revealed in the
// hand result.
func newHandSeed() string {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		panic("failed to read entropy: " + err.Error())
	}
	return hex.EncodeToString(raw)
}

// startCountdown begins the pre-hand countdown, ticking once per second.
func (r *Room) startCountdown() {
	r.mu.Lock()
	if r.hand != nil || r.countdownTimer != nil || len(r.seats) < 2 {
		r.mu.Unlock()
		return
	}
	r.countdownRemaining = CountdownSeconds
	r.countdownTimer = r.clock.AfterFunc(oneSecond, r.countdownTick)
	r.mu.Unlock()

	r.logger.Info("countdown started", "seconds", CountdownSeconds)
	r.broadcastState()
}

func (r *Room) countdownTick() {
	r.mu.Lock()
	if r.countdownTimer == nil {
		r.mu.Unlock()
		return
	}
	if len(r.seats) < 2 {
		// A leave during countdown cancels it.
		r.countdownTimer = nil
		r.countdownRemaining = 0
		r.mu.Unlock()
		r.logger.Info("countdown cancelled, not enough players")
		r.broadcastState()
		return
	}

	r.countdownRemaining--
	if r.countdownRemaining > 0 {
		r.countdownTimer = r.clock.AfterFunc(oneSecond, r.countdownTick)
		r.mu.Unlock()
		r.broadcastState()
		return
	}

	r.countdownTimer = nil
	r.countdownRemaining = 0
	r.mu.Unlock()
	r.startHand()
}

// startHand rotates the dealer, builds a fresh hand from the seed, and
// opens the first turn.
func (r *Room) startHand() {
	r.mu.Lock()
	if r.hand != nil {
		r.mu.Unlock()
		return
	}

	// Hands are dealt to seats holding chips, in seat order.
	type seatEntry struct {
		seat   int
		player *RoomPlayer
	}
	var entries []seatEntry
	for s, p := range r.seats {
		if p.Chips > 0 {
			entries = append(entries, seatEntry{seat: s, player: p})
		}
	}
	if len(entries) < 2 {
		r.mu.Unlock()
		r.logger.Info("not enough funded seats to start a hand")
		return
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seat < entries[j].seat })

	// Rotate the dealer to the next funded seat.
	dealerIndex := 0
	for i, e := range entries {
		if e.seat > r.dealerSeat {
			dealerIndex = i
			break
		}
	}
	r.dealerSeat = entries[dealerIndex].seat

	players := make([]*engine.Player, len(entries))
	for i, e := range entries {
		players[i] = &engine.Player{
			ID:        e.player.ID,
			Seat:      e.seat,
			Name:      e.player.Name,
			Chips:     e.player.Chips,
			Connected: e.player.Connected,
		}
	}

	handID := ids.NewHandID()
	hand, err := engine.NewHand(handID, newHandSeed(), players, r.Config, dealerIndex)
	if err != nil {
		r.mu.Unlock()
		r.logger.Error("failed to start hand", "error", err)
		return
	}
	r.hand = hand
	r.mu.Unlock()

	r.logger.Info("hand started", "hand", handID, "players", len(players), "dealerSeat", r.dealerSeat)
	r.broadcast(EventGameStarted, GameStartedPayload{TableID: r.ID, HandID: handID})

	if hand.ActiveIndex == -1 {
		// Blinds put everyone all-in.
		r.broadcastState()
		r.scheduleRunout()
		return
	}
	// Arm the timer first so the actor's snapshot carries the deadline.
	r.startTurnTimer()
	r.broadcastState()
}

// startTurnTimer sets the acting player's deadline and tells only them.
func (r *Room) startTurnTimer() {
	r.mu.Lock()
	if r.hand == nil || r.hand.Complete {
		r.mu.Unlock()
		return
	}
	active := r.hand.ActivePlayer()
	if active == nil {
		r.mu.Unlock()
		return
	}

	handID := r.hand.HandID
	actorID := active.ID
	deadline := r.clock.Now().Add(r.Config.TurnTimeout)
	r.turnDeadline = deadline
	if r.turnTimer != nil {
		r.turnTimer.Stop()
	}
	r.turnTimer = r.clock.AfterFunc(r.Config.TurnTimeout, func() {
		r.onTurnTimeout(handID, actorID)
	})
	payload := TurnStartPayload{
		TableID:       r.ID,
		HandID:        handID,
		Seat:          active.Seat,
		TurnTimeoutAt: deadline.UnixMilli(),
	}
	r.mu.Unlock()

	r.sender.Send(actorID, EventTurnStart, payload)
}

// onTurnTimeout auto-folds the actor whose deadline expired. The hand
// and actor are re-checked under the lock: a timer that lost the race
// with a real action is a no-op.
func (r *Room) onTurnTimeout(handID, actorID string) {
	r.mu.Lock()
	if r.hand == nil || r.hand.HandID != handID || r.hand.Complete {
		r.mu.Unlock()
		return
	}
	active := r.hand.ActivePlayer()
	if active == nil || active.ID != actorID {
		r.mu.Unlock()
		return
	}

	next, err := r.hand.AutoFold()
	if err != nil {
		r.mu.Unlock()
		r.logger.Error("auto-fold failed", "hand", handID, "actor", actorID, "error", err)
		return
	}
	r.hand = next
	r.clearTurnTimerLocked()
	r.mu.Unlock()

	r.logger.Info("turn timed out, auto-folded", "hand", handID, "player", actorID)
	r.afterTransition()
}

func (r *Room) clearTurnTimerLocked() {
	if r.turnTimer != nil {
		r.turnTimer.Stop()
		r.turnTimer = nil
	}
	r.turnDeadline = zeroTime
}

// HandleAction validates and applies one player action. Actions from
// anyone but the actor are silently ignored; engine rejections are
// surfaced to the author only.
func (r *Room) HandleAction(playerID string, action engine.ActionKind, amount int64) {
	r.mu.Lock()
	if r.hand == nil || r.hand.Complete {
		r.mu.Unlock()
		return
	}
	active := r.hand.ActivePlayer()
	if active == nil || active.ID != playerID {
		// Wrong actor: ignore rather than leak turn information.
		r.mu.Unlock()
		return
	}

	next, err := r.hand.Apply(playerID, action, amount)
	if err != nil {
		r.mu.Unlock()
		r.sender.Send(playerID, EventError, ErrorPayload{Code: "invalid_action", Message: err.Error()})
		return
	}

	r.hand = next
	r.clearTurnTimerLocked()
	ack := ActionAckPayload{
		TableID: r.ID,
		HandID:  next.HandID,
		Action:  string(action),
		Amount:  amount,
		Seq:     next.ActionSeq,
	}
	r.mu.Unlock()

	r.sender.Send(playerID, EventActionAck, ack)
	r.afterTransition()
}

// afterTransition routes the hand to its next stage: showdown, all-in
// runout, or the next turn.
func (r *Room) afterTransition() {
	r.mu.Lock()
	hand := r.hand
	r.mu.Unlock()
	if hand == nil {
		return
	}

	switch {
	case hand.Complete:
		r.broadcastState()
		r.scheduleShowdown()
	case hand.NeedsRunout():
		r.broadcastState()
		r.scheduleRunout()
	default:
		r.startTurnTimer()
		r.broadcastState()
	}
}

// scheduleRunout deals the remaining streets with a pause between
// broadcasts so clients can follow the board.
func (r *Room) scheduleRunout() {
	r.mu.Lock()
	if r.hand == nil {
		r.mu.Unlock()
		return
	}
	r.runoutTimer = r.clock.AfterFunc(RunoutPause, r.runoutStep)
	r.mu.Unlock()
}

func (r *Room) runoutStep() {
	r.mu.Lock()
	r.runoutTimer = nil
	if r.hand == nil || r.hand.Complete {
		r.mu.Unlock()
		return
	}
	if !r.hand.NeedsRunout() {
		r.mu.Unlock()
		return
	}
	next := r.hand.Clone()
	if err := next.AdvancePhase(); err != nil {
		r.mu.Unlock()
		r.logger.Error("runout advance failed", "error", err)
		r.cancelHand()
		return
	}
	r.hand = next
	complete := next.Complete
	r.mu.Unlock()

	r.broadcastState()
	if complete {
		r.scheduleShowdown()
		return
	}
	r.scheduleRunout()
}

// scheduleShowdown pauses briefly before resolving so the final street
// is visible, then settles the hand.
func (r *Room) scheduleShowdown() {
	r.mu.Lock()
	if r.hand == nil {
		r.mu.Unlock()
		return
	}
	r.showdownTimer = r.clock.AfterFunc(ShowdownPause, r.finishHand)
	r.mu.Unlock()
}
