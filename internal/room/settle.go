package room

import (
	"time"

	"github.com/goldenflop/goldenflop/internal/engine"
)

const oneSecond = time.Second

var zeroTime time.Time

// finishHand resolves the completed hand: rake is deducted
// proportionally from winner payouts, chip changes land on the seats,
// busted players are kicked, and the next hand is scheduled.
func (r *Room) finishHand() {
	r.mu.Lock()
	r.showdownTimer = nil
	hand := r.hand
	if hand == nil || !hand.Complete {
		r.mu.Unlock()
		return
	}

	settled, result, err := hand.Resolve()
	if err != nil {
		r.mu.Unlock()
		r.logger.Error("hand resolution failed, cancelling", "hand", hand.HandID, "error", err)
		r.cancelHand()
		return
	}

	rakeAmount := r.applyRakeLocked(settled, result)

	// Fold engine stacks back into the seats.
	for _, ep := range settled.Players {
		for _, p := range r.seats {
			if p.ID == ep.ID {
				p.Chips = ep.Chips
				break
			}
		}
	}

	// Busted players lose their seats.
	type kicked struct {
		playerID string
		seat     int
	}
	var kickedPlayers []kicked
	for s, p := range r.seats {
		if p.Chips <= 0 {
			kickedPlayers = append(kickedPlayers, kicked{playerID: p.ID, seat: s})
			delete(r.seats, s)
		}
	}

	r.hand = nil
	r.turnDeadline = zeroTime
	handID := result.HandID

	// Count funded seats for the next hand.
	funded := 0
	for _, p := range r.seats {
		if p.Chips > 0 {
			funded++
		}
	}
	if funded >= 2 {
		r.interHandTimer = r.clock.AfterFunc(InterHandDelay, r.nextHand)
	}
	r.mu.Unlock()

	r.logger.Info("hand finished", "hand", handID, "pot", result.Pot, "rake", rakeAmount, "winners", len(result.Winners))
	r.broadcast(EventHandResult, result)
	r.broadcastState()
	r.persistSeats()
	r.lobbyChanged()

	for _, k := range kickedPlayers {
		r.sender.Send(k.playerID, EventPlayerKicked, PlayerKickedPayload{
			TableID: r.ID, Seat: k.seat, Reason: "out of chips",
		})
	}

	if r.hooks.RecordHandResult != nil {
		r.hooks.RecordHandResult(r.ID, handID, result)
	}
	if rakeAmount > 0 && r.hooks.CollectRake != nil {
		r.hooks.CollectRake(r.ID, rakeAmount)
	}
}

// applyRakeLocked deducts the configured rake proportionally from the
// winner payouts, adjusting both the result and the settled stacks.
// Returns the rake taken.
func (r *Room) applyRakeLocked(settled *engine.HandState, result *engine.Result) int64 {
	if r.Config.RakePercent <= 0 || result.Pot <= 0 || len(result.Winners) == 0 {
		return 0
	}
	_, rake := engine.Rake(result.Pot, r.Config.RakePercent, r.Config.RakeCap)
	if rake == 0 {
		return 0
	}

	var deducted int64
	for i := range result.Winners {
		w := &result.Winners[i]
		cut := w.Amount * rake / result.Pot
		if i == len(result.Winners)-1 {
			cut = rake - deducted // remainder lands on the last winner
		}
		w.Amount -= cut
		deducted += cut
		for _, ep := range settled.Players {
			if ep.ID == w.PlayerID {
				ep.Chips -= cut
				break
			}
		}
	}
	return rake
}

// nextHand is the inter-hand delay callback.
func (r *Room) nextHand() {
	r.mu.Lock()
	r.interHandTimer = nil
	r.mu.Unlock()
	r.startHand()
}

// cancelHand aborts the in-flight hand and refunds committed chips.
func (r *Room) cancelHand() {
	r.mu.Lock()
	cancelled := r.hand != nil
	if cancelled {
		r.cancelHandLocked()
	}
	r.mu.Unlock()
	if cancelled {
		r.resumeAfterCancel()
	}
}

// cancelHandLocked dissolves the pot back into stacks and stops every
// hand-scoped timer. Callers hold the room lock.
func (r *Room) cancelHandLocked() {
	if r.hand == nil {
		return
	}
	refunded := r.hand.Refund()
	for _, ep := range refunded.Players {
		for _, p := range r.seats {
			if p.ID == ep.ID {
				p.Chips = ep.Chips
				break
			}
		}
	}
	r.hand = nil
	r.clearTurnTimerLocked()
	if r.runoutTimer != nil {
		r.runoutTimer.Stop()
		r.runoutTimer = nil
	}
	if r.showdownTimer != nil {
		r.showdownTimer.Stop()
		r.showdownTimer = nil
	}
	if r.interHandTimer != nil {
		r.interHandTimer.Stop()
		r.interHandTimer = nil
	}
	r.logger.Warn("hand cancelled, committed chips refunded")
}

// resumeAfterCancel rebroadcasts and restarts the countdown when the
// table can still play.
func (r *Room) resumeAfterCancel() {
	r.broadcastState()
	r.persistSeats()

	r.mu.Lock()
	canPlay := len(r.seats) >= 2 && r.hand == nil && r.countdownTimer == nil
	r.mu.Unlock()
	if canPlay {
		r.startCountdown()
	}
}
