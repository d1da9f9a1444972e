// Package evaluator ranks Texas Hold'em hands by exhaustive enumeration:
// every five-card subset of the five to seven input cards is categorized,
// and the strongest subset wins. At most C(7,5)=21 subsets are examined,
// so the simple approach is plenty fast for table play while keeping the
// concrete five cards and ranked kickers available for hand results.
package evaluator

import (
	"fmt"
	"sort"

	"github.com/goldenflop/goldenflop/internal/deck"
)

// Evaluate returns the best five-card hand from 5-7 cards.
func Evaluate(cards []deck.Card) (Hand, error) {
	if len(cards) < 5 || len(cards) > 7 {
		return Hand{}, fmt.Errorf("evaluate requires 5-7 cards, got %d", len(cards))
	}

	best := Hand{Rank: -1}
	forEachFive(cards, func(five []deck.Card) {
		h := evaluateFive(five)
		if best.Rank < 0 || h.Compare(best) > 0 {
			// keep an independent copy of the winning five cards
			kept := make([]deck.Card, 5)
			copy(kept, h.Cards)
			h.Cards = kept
			best = h
		}
	})
	return best, nil
}

// forEachFive calls fn with every 5-card subset of cards. The slice passed
// to fn is reused between calls.
func forEachFive(cards []deck.Card, fn func([]deck.Card)) {
	n := len(cards)
	var five [5]deck.Card
	var recurse func(start, depth int)
	recurse = func(start, depth int) {
		if depth == 5 {
			fn(five[:])
			return
		}
		for i := start; i <= n-(5-depth); i++ {
			five[depth] = cards[i]
			recurse(i+1, depth+1)
		}
	}
	recurse(0, 0)
}

// evaluateFive categorizes exactly five cards.
func evaluateFive(five []deck.Card) Hand {
	sorted := make([]deck.Card, 5)
	copy(sorted, five)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Rank > sorted[j].Rank })

	flush := true
	for _, c := range sorted[1:] {
		if c.Suit != sorted[0].Suit {
			flush = false
			break
		}
	}

	straightHigh := straightHighCard(sorted)

	switch {
	case flush && straightHigh == deck.Ace:
		return Hand{Rank: RoyalFlush, Cards: sorted, Tiebreak: []deck.Rank{deck.Ace}}
	case flush && straightHigh > 0:
		return Hand{Rank: StraightFlush, Cards: sorted, Tiebreak: []deck.Rank{straightHigh}}
	}

	// Group ranks by multiplicity, groups ordered by (count desc, rank desc).
	groups := groupRanks(sorted)

	switch {
	case groups[0].count == 4:
		return Hand{Rank: FourOfAKind, Cards: sorted, Tiebreak: []deck.Rank{groups[0].rank, groups[1].rank}}
	case groups[0].count == 3 && groups[1].count == 2:
		return Hand{Rank: FullHouse, Cards: sorted, Tiebreak: []deck.Rank{groups[0].rank, groups[1].rank}}
	case flush:
		return Hand{Rank: Flush, Cards: sorted, Tiebreak: ranksOf(sorted)}
	case straightHigh > 0:
		return Hand{Rank: Straight, Cards: sorted, Tiebreak: []deck.Rank{straightHigh}}
	case groups[0].count == 3:
		return Hand{Rank: ThreeOfAKind, Cards: sorted, Tiebreak: []deck.Rank{groups[0].rank, groups[1].rank, groups[2].rank}}
	case groups[0].count == 2 && groups[1].count == 2:
		return Hand{Rank: TwoPair, Cards: sorted, Tiebreak: []deck.Rank{groups[0].rank, groups[1].rank, groups[2].rank}}
	case groups[0].count == 2:
		return Hand{Rank: OnePair, Cards: sorted, Tiebreak: []deck.Rank{groups[0].rank, groups[1].rank, groups[2].rank, groups[3].rank}}
	default:
		return Hand{Rank: HighCard, Cards: sorted, Tiebreak: ranksOf(sorted)}
	}
}

// straightHighCard returns the high card of a straight formed by the five
// cards (sorted rank-descending), or 0. The wheel A-2-3-4-5 is a straight
// with high card 5.
func straightHighCard(sorted []deck.Card) deck.Rank {
	// Wheel: A,5,4,3,2 after descending sort
	if sorted[0].Rank == deck.Ace &&
		sorted[1].Rank == deck.Five &&
		sorted[2].Rank == deck.Four &&
		sorted[3].Rank == deck.Three &&
		sorted[4].Rank == deck.Two {
		return deck.Five
	}

	for i := 1; i < 5; i++ {
		if sorted[i].Rank != sorted[i-1].Rank-1 {
			return 0
		}
	}
	return sorted[0].Rank
}

type rankGroup struct {
	rank  deck.Rank
	count int
}

func groupRanks(sorted []deck.Card) []rankGroup {
	var counts [15]int
	for _, c := range sorted {
		counts[c.Rank]++
	}

	groups := make([]rankGroup, 0, 5)
	for r := deck.Ace; r >= deck.Two; r-- {
		if counts[r] > 0 {
			groups = append(groups, rankGroup{rank: r, count: counts[r]})
		}
	}
	sort.SliceStable(groups, func(i, j int) bool { return groups[i].count > groups[j].count })
	return groups
}

func ranksOf(cards []deck.Card) []deck.Rank {
	ranks := make([]deck.Rank, len(cards))
	for i, c := range cards {
		ranks[i] = c.Rank
	}
	return ranks
}

// Compare returns the sign of a-b: 1 if a beats b, -1 if b beats a, 0 on
// an exact tie.
func Compare(a, b Hand) int {
	return a.Compare(b)
}
