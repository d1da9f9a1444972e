package engine

// Apply processes one action from the identified player and returns the
// resulting state. The receiver is never mutated: on success the clone is
// returned, on error the original state stands.
func (h *HandState) Apply(playerID string, kind ActionKind, amount int64) (*HandState, error) {
	if h.Complete {
		return nil, invalid("hand is complete")
	}

	active := h.ActivePlayer()
	if active == nil {
		return nil, invalid("no player to act")
	}
	if active.ID != playerID {
		return nil, invalid("not %s's turn", playerID)
	}

	next := h.Clone()
	p := next.Players[next.ActiveIndex]

	if p.Chips == 0 {
		return nil, invalid("no chips remaining")
	}

	var paid int64
	switch kind {
	case ActionFold:
		p.Folded = true

	case ActionCheck:
		if next.CurrentBet != p.CurrentBet {
			return nil, invalid("cannot check facing a bet of %d", next.CurrentBet-p.CurrentBet)
		}

	case ActionCall:
		toCall := next.CurrentBet - p.CurrentBet
		if toCall <= 0 {
			return nil, invalid("nothing to call")
		}
		paid = next.commit(p, min64(toCall, p.Chips))

	case ActionRaise:
		var err error
		paid, err = next.applyRaise(p, amount)
		if err != nil {
			return nil, err
		}

	case ActionAllIn:
		if p.Chips == 0 {
			return nil, invalid("no chips remaining")
		}
		target := p.CurrentBet + p.Chips
		if target > next.CurrentBet {
			var err error
			paid, err = next.applyRaise(p, target)
			if err != nil {
				return nil, err
			}
		} else {
			paid = next.commit(p, p.Chips)
		}

	default:
		return nil, invalid("unknown action %q", kind)
	}

	p.HasActed = true
	next.appendLog(p.Seat, kind, paid)
	next.recomputeSidePots()

	if next.playersInHand() == 1 {
		// Everyone else folded; the hand ends without a showdown.
		next.Complete = true
		next.ActiveIndex = -1
		return next, nil
	}

	if next.roundComplete() {
		if next.Phase == PhaseRiver {
			next.Phase = PhaseShowdown
			next.Complete = true
			next.ActiveIndex = -1
			return next, nil
		}
		if err := next.AdvancePhase(); err != nil {
			return nil, err
		}
		return next, nil
	}

	next.ActiveIndex = next.nextActor(next.ActiveIndex + 1)
	return next, nil
}

// AutoFold folds on behalf of the active player; the post-state is
// identical to that player submitting a fold. Used on turn timeout and
// mid-hand leave.
func (h *HandState) AutoFold() (*HandState, error) {
	active := h.ActivePlayer()
	if active == nil {
		return nil, invalid("no player to act")
	}
	return h.Apply(active.ID, ActionFold, 0)
}

// ForceFold folds the identified player regardless of turn order. Used
// when a seated player leaves mid-hand. For the active player this is
// exactly AutoFold; otherwise the fold is applied out of turn and the
// round is re-examined, since the folder may have been the one holding
// it open.
func (h *HandState) ForceFold(playerID string) (*HandState, error) {
	if h.Complete {
		return nil, invalid("hand is complete")
	}

	if active := h.ActivePlayer(); active != nil && active.ID == playerID {
		return h.AutoFold()
	}

	next := h.Clone()
	var p *Player
	for _, candidate := range next.Players {
		if candidate.ID == playerID {
			p = candidate
			break
		}
	}
	if p == nil {
		return nil, invalid("unknown player %s", playerID)
	}
	if p.Folded {
		return next, nil
	}

	p.Folded = true
	next.appendLog(p.Seat, ActionFold, 0)
	next.recomputeSidePots()

	if next.playersInHand() == 1 {
		next.Complete = true
		next.ActiveIndex = -1
		return next, nil
	}

	if next.roundComplete() {
		if next.Phase == PhaseRiver {
			next.Phase = PhaseShowdown
			next.Complete = true
			next.ActiveIndex = -1
			return next, nil
		}
		if err := next.AdvancePhase(); err != nil {
			return nil, err
		}
	}
	return next, nil
}

// commit moves chips from the player's stack into the pot and returns
// the amount moved.
func (h *HandState) commit(p *Player, amount int64) int64 {
	p.Chips -= amount
	p.CurrentBet += amount
	p.TotalContributed += amount
	h.Pot += amount
	if p.Chips == 0 {
		p.AllIn = true
	}
	return amount
}

// applyRaise raises the player's bet to the given total amount for this
// round. A raise below the legal minimum is only allowed as an all-in,
// and such a short all-in does not reopen action for players who have
// already acted at the current level.
func (h *HandState) applyRaise(p *Player, amount int64) (int64, error) {
	stackTotal := p.CurrentBet + p.Chips
	if amount > stackTotal {
		return 0, invalid("raise to %d exceeds stack of %d", amount, stackTotal)
	}
	if amount <= h.CurrentBet {
		return 0, invalid("raise to %d does not exceed current bet %d", amount, h.CurrentBet)
	}

	minRaiseTo := h.CurrentBet + h.LastRaiseSize
	isAllIn := amount == stackTotal
	if amount < minRaiseTo && !isAllIn {
		return 0, invalid("raise to %d below minimum %d", amount, minRaiseTo)
	}

	reopens := amount >= minRaiseTo
	if reopens {
		h.LastRaiseSize = amount - h.CurrentBet
		for _, other := range h.Players {
			if other != p && other.canAct() {
				other.HasActed = false
			}
		}
	}
	h.CurrentBet = amount

	return h.commit(p, amount-p.CurrentBet), nil
}

func (h *HandState) appendLog(seat int, kind ActionKind, amount int64) {
	h.ActionSeq++
	h.Log = append(h.Log, LogEntry{
		Seq:    h.ActionSeq,
		Seat:   seat,
		Action: kind,
		Amount: amount,
		Phase:  h.Phase,
	})
}
