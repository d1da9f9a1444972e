package engine

import (
	"fmt"

	"github.com/goldenflop/goldenflop/internal/deck"
)

// NewHand builds a fresh hand: deck from seed, blinds posted, hole cards
// dealt, first preflop actor selected. The players slice is cloned; the
// caller's copy is untouched. Player order is seat order; dealerIndex
// indexes into that slice.
func NewHand(handID, seed string, players []*Player, cfg Config, dealerIndex int) (*HandState, error) {
	if len(players) < 2 {
		return nil, fmt.Errorf("hand requires at least 2 players, got %d", len(players))
	}
	if dealerIndex < 0 || dealerIndex >= len(players) {
		return nil, fmt.Errorf("dealer index %d out of range", dealerIndex)
	}
	for _, p := range players {
		if p.Chips <= 0 {
			return nil, fmt.Errorf("player %s has no chips", p.ID)
		}
	}

	h := &HandState{
		HandID:        handID,
		Seed:          seed,
		Phase:         PhasePreflop,
		Deck:          deck.BuildShuffled(seed),
		Players:       make([]*Player, len(players)),
		Pot:           0,
		CurrentBet:    0,
		LastRaiseSize: cfg.BigBlind,
		DealerIndex:   dealerIndex,
		Config:        cfg,
	}
	for i, p := range players {
		cp := p.clone()
		cp.HoleCards = nil
		cp.CurrentBet = 0
		cp.TotalContributed = 0
		cp.Folded = false
		cp.AllIn = false
		cp.HasActed = false
		h.Players[i] = cp
	}

	h.assignBlindPositions()
	if err := h.postBlinds(); err != nil {
		return nil, err
	}
	if err := h.dealHoleCards(); err != nil {
		return nil, err
	}

	// First to act preflop is the seat after the big blind. -1 means the
	// blinds put everyone all-in and the runout starts immediately.
	h.ActiveIndex = h.nextActor(h.BBIndex + 1)

	return h, nil
}

// assignBlindPositions applies the heads-up rule: with two players the
// dealer posts the small blind.
func (h *HandState) assignBlindPositions() {
	n := len(h.Players)
	if n == 2 {
		h.SBIndex = h.DealerIndex
		h.BBIndex = (h.DealerIndex + 1) % n
	} else {
		h.SBIndex = (h.DealerIndex + 1) % n
		h.BBIndex = (h.DealerIndex + 2) % n
	}
}

func (h *HandState) postBlinds() error {
	h.postBlind(h.Players[h.SBIndex], h.Config.SmallBlind)
	h.postBlind(h.Players[h.BBIndex], h.Config.BigBlind)
	h.CurrentBet = h.Config.BigBlind
	h.LastRaiseSize = h.Config.BigBlind
	return nil
}

// postBlind commits up to the blind amount; a short stack goes all-in.
func (h *HandState) postBlind(p *Player, blind int64) {
	amount := min64(blind, p.Chips)
	p.Chips -= amount
	p.CurrentBet += amount
	p.TotalContributed += amount
	h.Pot += amount
	if p.Chips == 0 {
		p.AllIn = true
	}
}

func (h *HandState) dealHoleCards() error {
	for _, p := range h.Players {
		cards, err := h.Deck.PopN(2)
		if err != nil {
			return err
		}
		p.HoleCards = cards
	}
	return nil
}

// nextActor returns the index of the next player who can act, scanning
// from the given index, or -1 when nobody can.
func (h *HandState) nextActor(from int) int {
	n := len(h.Players)
	for i := 0; i < n; i++ {
		idx := ((from + i) % n + n) % n
		if h.Players[idx].canAct() {
			return idx
		}
	}
	return -1
}

// roundComplete reports whether the current betting round is finished:
// either a single player remains, or every player who can still act has
// acted and matched the current bet.
func (h *HandState) roundComplete() bool {
	if h.playersInHand() <= 1 {
		return true
	}
	for _, p := range h.Players {
		if !p.canAct() {
			continue
		}
		if !p.HasActed || p.CurrentBet != h.CurrentBet {
			return false
		}
	}
	return true
}

// AdvancePhase moves to the next street, dealing community cards and
// resetting per-round betting state. Called by Apply on round completion
// and by the runtime during an all-in runout.
func (h *HandState) AdvancePhase() error {
	for _, p := range h.Players {
		p.CurrentBet = 0
		if p.canAct() {
			p.HasActed = false
		}
	}
	h.CurrentBet = 0
	h.LastRaiseSize = h.Config.BigBlind

	switch h.Phase {
	case PhasePreflop:
		if err := h.Deck.Burn(); err != nil {
			return err
		}
		cards, err := h.Deck.PopN(3)
		if err != nil {
			return err
		}
		h.Community = append(h.Community, cards...)
		h.Phase = PhaseFlop
	case PhaseFlop, PhaseTurn:
		if err := h.Deck.Burn(); err != nil {
			return err
		}
		card, err := h.Deck.Pop()
		if err != nil {
			return err
		}
		h.Community = append(h.Community, card)
		if h.Phase == PhaseFlop {
			h.Phase = PhaseTurn
		} else {
			h.Phase = PhaseRiver
		}
	case PhaseRiver:
		h.Phase = PhaseShowdown
		h.Complete = true
		h.ActiveIndex = -1
		return nil
	default:
		return fmt.Errorf("cannot advance from phase %s", h.Phase)
	}

	// Post-flop the first actor is the seat left of the dealer.
	h.ActiveIndex = h.nextActor(h.DealerIndex + 1)
	return nil
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
