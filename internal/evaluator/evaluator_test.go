package evaluator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goldenflop/goldenflop/internal/deck"
)

func cards(t *testing.T, s string) []deck.Card {
	t.Helper()
	parts := strings.Fields(s)
	out := make([]deck.Card, len(parts))
	for i, p := range parts {
		c, err := deck.Parse(p)
		require.NoError(t, err)
		out[i] = c
	}
	return out
}

func eval(t *testing.T, s string) Hand {
	t.Helper()
	h, err := Evaluate(cards(t, s))
	require.NoError(t, err)
	return h
}

func TestEvaluateRanks(t *testing.T) {
	tests := []struct {
		name  string
		cards string
		rank  HandRank
	}{
		{"royal flush", "As Ks Qs Js Ts 2h 3d", RoyalFlush},
		{"straight flush", "9s 8s 7s 6s 5s Ah Kd", StraightFlush},
		{"four of a kind", "As Ah Ad Ac Ks 2h 3d", FourOfAKind},
		{"full house", "As Ah Ad Ks Kh 2c 3d", FullHouse},
		{"flush", "As Qs 9s 6s 3s Kh 2d", Flush},
		{"straight", "9s 8h 7d 6c 5s Ah 2d", Straight},
		{"wheel straight", "As 2h 3d 4c 5s Kh Qd", Straight},
		{"three of a kind", "As Ah Ad Ks Qh 4c 2d", ThreeOfAKind},
		{"two pair", "As Ah Ks Kh Qd 4c 2d", TwoPair},
		{"one pair", "As Ah Ks Qh Jd 4c 2d", OnePair},
		{"high card", "As Ks Qh Jd 9c 4c 2d", HighCard},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := eval(t, tt.cards)
			assert.Equal(t, tt.rank, h.Rank, "got %s", h)
			assert.Len(t, h.Cards, 5)
		})
	}
}

func TestWheelStraightHighCardIsFive(t *testing.T) {
	h := eval(t, "As 2h 3d 4c 5s")
	require.Equal(t, Straight, h.Rank)
	assert.Equal(t, deck.Five, h.Tiebreak[0])

	// A six-high straight beats the wheel
	six := eval(t, "2h 3d 4c 5s 6h")
	assert.Equal(t, 1, six.Compare(h))
}

func TestStrongerRankAlwaysWins(t *testing.T) {
	order := []string{
		"As Ks Qh Jd 9c", // high card
		"As Ah Ks Qh Jd", // pair
		"As Ah Ks Kh Qd", // two pair
		"As Ah Ad Ks Qh", // trips
		"9s 8h 7d 6c 5s", // straight
		"As Qs 9s 6s 3s", // flush
		"As Ah Ad Ks Kh", // full house
		"As Ah Ad Ac Ks", // quads
		"9s 8s 7s 6s 5s", // straight flush
		"As Ks Qs Js Ts", // royal flush
	}

	for i := 1; i < len(order); i++ {
		weaker := eval(t, order[i-1])
		stronger := eval(t, order[i])
		assert.Equal(t, 1, stronger.Compare(weaker), "%s should beat %s", stronger, weaker)
		assert.Equal(t, -1, weaker.Compare(stronger))
	}
}

func TestKickerTiebreaks(t *testing.T) {
	tests := []struct {
		name   string
		winner string
		loser  string
	}{
		{"higher pair", "As Ah Ks Qh Jd", "Ks Kh As Qh Jd"},
		{"pair kicker", "As Ah Ks Qh Jd", "Ad Ac Ks Qh Td"},
		{"two pair high", "As Ah Ks Kh 2d", "Ks Kd Qs Qh Ad"},
		{"two pair kicker", "As Ah Ks Kh Qd", "Ad Ac Kd Kc Jd"},
		{"trips kicker", "As Ah Ad Kh Qd", "Ac Ad Ah Kh Jd"},
		{"full house trips", "As Ah Ad Ks Kh", "Ks Kd Kc As Ah"},
		{"flush high card", "As Qs 9s 6s 3s", "Ks Qs 9s 6s 3s"},
		{"quads kicker", "As Ah Ad Ac Ks", "As Ah Ad Ac Qs"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := eval(t, tt.winner)
			l := eval(t, tt.loser)
			assert.Equal(t, 1, w.Compare(l), "%s should beat %s", w, l)
		})
	}
}

func TestExactTie(t *testing.T) {
	a := eval(t, "As Kh Qd Js 9c")
	b := eval(t, "Ah Ks Qc Jd 9s")
	assert.Equal(t, 0, a.Compare(b))
}

func TestBestFiveOfSeven(t *testing.T) {
	// Board gives a flush; hole cards irrelevant
	h := eval(t, "2h 3h As Ks 9s 6s 3s")
	require.Equal(t, Flush, h.Rank)
	assert.Equal(t, deck.Ace, h.Tiebreak[0])
}

func TestRoyalFlushOverPocketAces(t *testing.T) {
	// Scenario 6 from the table: board Kh Qh Jh Th 9h
	board := "Kh Qh Jh Th 9h"
	p1 := eval(t, board+" Ah 2c")
	p2 := eval(t, board+" Ac Ad")

	assert.Equal(t, RoyalFlush, p1.Rank)
	assert.Equal(t, StraightFlush, p2.Rank) // K-high straight flush on board beats a bare straight
	assert.Equal(t, 1, p1.Compare(p2))
}

func TestEvaluateRejectsBadInput(t *testing.T) {
	_, err := Evaluate(cards(t, "As Ks Qh Jd"))
	assert.Error(t, err)

	_, err = Evaluate(cards(t, "As Ks Qh Jd 9c 4c 2d 3d"))
	assert.Error(t, err)
}
