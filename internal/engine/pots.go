package engine

import "sort"

// recomputeSidePots rebuilds the side-pot partition from scratch after
// every action. Caps are the distinct total contributions of all-in
// players, ascending; each cap takes min(contribution, cap) minus what
// lower caps already took, and anything above the highest cap forms the
// main pot. The partition always sums to exactly the pot.
func (h *HandState) recomputeSidePots() {
	capSet := make(map[int64]bool)
	for _, p := range h.Players {
		if p.AllIn && p.TotalContributed > 0 {
			capSet[p.TotalContributed] = true
		}
	}

	if len(capSet) == 0 {
		h.SidePots = []SidePot{{Amount: h.Pot, Eligible: h.eligibleAbove(0)}}
		return
	}

	caps := make([]int64, 0, len(capSet))
	for c := range capSet {
		caps = append(caps, c)
	}
	sort.Slice(caps, func(i, j int) bool { return caps[i] < caps[j] })

	pots := make([]SidePot, 0, len(caps)+1)
	var prev int64
	for _, capLevel := range caps {
		pot := SidePot{Eligible: h.eligibleAtLeast(capLevel)}
		for _, p := range h.Players {
			contribution := min64(p.TotalContributed, capLevel) - prev
			if contribution > 0 {
				pot.Amount += contribution
			}
		}
		if pot.Amount > 0 && len(pot.Eligible) > 0 {
			pots = append(pots, pot)
		}
		prev = capLevel
	}

	// Remaining contributions above the highest all-in cap.
	main := SidePot{Eligible: h.eligibleAbove(prev)}
	for _, p := range h.Players {
		if p.TotalContributed > prev {
			main.Amount += p.TotalContributed - prev
		}
	}
	if main.Amount > 0 && len(main.Eligible) > 0 {
		pots = append(pots, main)
	}

	h.SidePots = pots
}

// eligibleAtLeast returns seats of non-folded players who contributed at
// least the cap.
func (h *HandState) eligibleAtLeast(cap int64) []int {
	var seats []int
	for _, p := range h.Players {
		if !p.Folded && p.TotalContributed >= cap {
			seats = append(seats, p.Seat)
		}
	}
	return seats
}

// eligibleAbove returns seats of non-folded players who contributed more
// than the floor.
func (h *HandState) eligibleAbove(floor int64) []int {
	var seats []int
	for _, p := range h.Players {
		if !p.Folded && p.TotalContributed > floor {
			seats = append(seats, p.Seat)
		}
	}
	return seats
}

// dealerDistance orders seats by distance to the dealer's left, used to
// assign odd chips from uneven splits.
func (h *HandState) dealerDistance(seat int) int {
	// Seats may be sparse; order players by vector position instead.
	idx := -1
	for i, p := range h.Players {
		if p.Seat == seat {
			idx = i
			break
		}
	}
	if idx == -1 {
		return len(h.Players)
	}
	n := len(h.Players)
	return ((idx - h.DealerIndex - 1) % n + n) % n
}
