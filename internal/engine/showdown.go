package engine

import (
	"fmt"
	"sort"

	"github.com/goldenflop/goldenflop/internal/deck"
	"github.com/goldenflop/goldenflop/internal/evaluator"
)

// LastPlayerStanding is the hand-name label used when everyone else
// folded; hole cards stay hidden in that case.
const LastPlayerStanding = "Last Player Standing"

// Winner is one player's share of the resolved pot.
type Winner struct {
	Seat     int    `json:"seat"`
	PlayerID string `json:"playerId"`
	Name     string `json:"name"`
	Amount   int64  `json:"amount"`
	HandName string `json:"handName"`
}

// ShownHand is an evaluated hand revealed at showdown.
type ShownHand struct {
	Seat      int         `json:"seat"`
	PlayerID  string      `json:"playerId"`
	Name      string      `json:"name"`
	HandName  string      `json:"handName"`
	BestCards []deck.Card `json:"bestCards"`
	HoleCards []deck.Card `json:"holeCards"`
}

// Result is the published outcome of a completed hand.
type Result struct {
	HandID    string      `json:"handId"`
	Winners   []Winner    `json:"winners"`
	Shown     []ShownHand `json:"shown,omitempty"`
	Pot       int64       `json:"pot"`
	SidePots  []SidePot   `json:"sidePots"`
	Seed      string      `json:"seed"`
	Algorithm string      `json:"algorithm"`
	Log       []LogEntry  `json:"log"`
}

// Resolve settles a complete hand: evaluates live players, awards each
// side pot to its best eligible hand (splitting ties, odd chips to the
// tied seat closest to the dealer's left), and returns the result. Chip
// changes are applied to the returned state's players; the caller folds
// them back into the seats.
func (h *HandState) Resolve() (*HandState, *Result, error) {
	if !h.Complete {
		return nil, nil, fmt.Errorf("cannot resolve incomplete hand")
	}

	next := h.Clone()
	next.recomputeSidePots()

	result := &Result{
		HandID:    next.HandID,
		Pot:       next.Pot,
		SidePots:  next.SidePots,
		Seed:      next.Seed,
		Algorithm: deck.ShuffleAlgorithm,
		Log:       next.Log,
	}

	// Last player standing: no evaluation, no reveal.
	if next.playersInHand() == 1 {
		for _, p := range next.Players {
			if !p.Folded {
				p.Chips += next.Pot
				result.Winners = []Winner{{
					Seat:     p.Seat,
					PlayerID: p.ID,
					Name:     p.Name,
					Amount:   next.Pot,
					HandName: LastPlayerStanding,
				}}
				break
			}
		}
		return next, result, nil
	}

	// Evaluate every live player's best five of seven.
	hands := make(map[int]evaluator.Hand) // seat -> hand
	for _, p := range next.Players {
		if p.Folded {
			continue
		}
		all := make([]deck.Card, 0, 7)
		all = append(all, p.HoleCards...)
		all = append(all, next.Community...)
		hand, err := evaluator.Evaluate(all)
		if err != nil {
			return nil, nil, fmt.Errorf("evaluating seat %d: %w", p.Seat, err)
		}
		hands[p.Seat] = hand
		result.Shown = append(result.Shown, ShownHand{
			Seat:      p.Seat,
			PlayerID:  p.ID,
			Name:      p.Name,
			HandName:  hand.Rank.String(),
			BestCards: hand.Cards,
			HoleCards: p.HoleCards,
		})
	}

	winnings := make(map[int]int64) // seat -> amount
	for _, pot := range next.SidePots {
		winners := bestSeats(hands, pot.Eligible)
		if len(winners) == 0 {
			continue
		}
		share := pot.Amount / int64(len(winners))
		remainder := pot.Amount % int64(len(winners))

		// Odd chip to the tied winner closest to the dealer's left.
		sort.Slice(winners, func(i, j int) bool {
			return next.dealerDistance(winners[i]) < next.dealerDistance(winners[j])
		})
		for i, seat := range winners {
			amount := share
			if int64(i) < remainder {
				amount++
			}
			winnings[seat] += amount
		}
	}

	for _, p := range next.Players {
		amount, ok := winnings[p.Seat]
		if !ok {
			continue
		}
		p.Chips += amount
		result.Winners = append(result.Winners, Winner{
			Seat:     p.Seat,
			PlayerID: p.ID,
			Name:     p.Name,
			Amount:   amount,
			HandName: hands[p.Seat].Rank.String(),
		})
	}
	sort.Slice(result.Winners, func(i, j int) bool {
		return result.Winners[i].Seat < result.Winners[j].Seat
	})

	return next, result, nil
}

// bestSeats returns the eligible seats holding the strongest hand.
func bestSeats(hands map[int]evaluator.Hand, eligible []int) []int {
	var best []int
	var bestHand evaluator.Hand
	for _, seat := range eligible {
		hand, ok := hands[seat]
		if !ok {
			continue
		}
		if len(best) == 0 {
			best = []int{seat}
			bestHand = hand
			continue
		}
		switch hand.Compare(bestHand) {
		case 1:
			best = []int{seat}
			bestHand = hand
		case 0:
			best = append(best, seat)
		}
	}
	return best
}

// Refund dissolves the pot back into stacks, undoing every contribution.
// Used when a hand is cancelled mid-flight.
func (h *HandState) Refund() *HandState {
	next := h.Clone()
	for _, p := range next.Players {
		p.Chips += p.TotalContributed
		p.TotalContributed = 0
		p.CurrentBet = 0
	}
	next.Pot = 0
	next.SidePots = nil
	next.Complete = true
	next.ActiveIndex = -1
	return next
}

// Rake splits a pot into the players' share and the house share.
// rakePercent is a whole percentage; a cap of 0 means uncapped.
func Rake(pot, rakePercent, rakeCap int64) (playerPot, rake int64) {
	if rakePercent <= 0 || pot <= 0 {
		return pot, 0
	}
	rake = pot * rakePercent / 100
	if rakeCap > 0 && rake > rakeCap {
		rake = rakeCap
	}
	return pot - rake, rake
}
