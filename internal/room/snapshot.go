package room

import (
	"sort"

	"github.com/goldenflop/goldenflop/internal/deck"
	"github.com/goldenflop/goldenflop/internal/engine"
)

// SeatState is one seat in a table snapshot.
type SeatState struct {
	SeatIndex  int          `json:"seatIndex"`
	PlayerID   string       `json:"playerId"`
	Name       string       `json:"name"`
	AvatarSeed string       `json:"avatarSeed,omitempty"`
	Chips      int64        `json:"chips"`
	Dealer     bool         `json:"dealer"`
	SmallBlind bool         `json:"smallBlind"`
	BigBlind   bool         `json:"bigBlind"`
	Folded     bool         `json:"folded"`
	AllIn      bool         `json:"allIn"`
	Connected  bool         `json:"connected"`
	CurrentBet int64        `json:"currentBet"`
	HoleCards  []*deck.Card `json:"holeCards,omitempty"`
}

// TableState is the whole-state snapshot pushed on every transition.
// Snapshots carry no deltas so reconnect reconciliation is trivial.
type TableState struct {
	TableID          string            `json:"tableId"`
	Phase            engine.Phase      `json:"phase"`
	CountdownSeconds int               `json:"countdownSeconds"`
	Seats            []*SeatState      `json:"seats"`
	CommunityCards   []*deck.Card      `json:"communityCards"`
	Pot              int64             `json:"pot"`
	SidePots         []engine.SidePot  `json:"sidePots"`
	CurrentBet       int64             `json:"currentBet"`
	ReservedSeats    []int             `json:"reservedSeats"`
	MinRaise         int64             `json:"minRaise"`
	MaxRaise         int64             `json:"maxRaise"`
	ActiveSeatIndex  int               `json:"activePlayerSeatIndex"`
	DealerSeatIndex  int               `json:"dealerSeatIndex"`
	SBSeatIndex      int               `json:"smallBlindSeatIndex"`
	BBSeatIndex      int               `json:"bigBlindSeatIndex"`
	TurnTimeoutAt    int64             `json:"turnTimeoutAt,omitempty"`
	MySeatIndex      int               `json:"mySeatIndex"`
	MyHand           []*deck.Card      `json:"myHand,omitempty"`
	IsMyTurn         bool              `json:"isMyTurn"`
	MyChips          int64             `json:"myChips"`
	SmallBlind       int64             `json:"smallBlind"`
	BigBlind         int64             `json:"bigBlind"`
	MinBuyIn         int64             `json:"minBuyIn"`
	MaxBuyIn         int64             `json:"maxBuyIn"`
}

// snapshotLocked builds the state as seen by one recipient. Hole cards
// appear only for the recipient's own seat, or for every live seat at
// showdown. The turn deadline appears only in the actor's snapshot.
// Callers hold the room lock.
func (r *Room) snapshotLocked(recipientID string) *TableState {
	ts := &TableState{
		TableID:          r.ID,
		Phase:            engine.PhaseWaiting,
		CountdownSeconds: r.countdownRemaining,
		Seats:            make([]*SeatState, r.Config.MaxSeats),
		CommunityCards:   make([]*deck.Card, 5),
		ActiveSeatIndex:  -1,
		DealerSeatIndex:  -1,
		SBSeatIndex:      -1,
		BBSeatIndex:      -1,
		MySeatIndex:      -1,
		SmallBlind:       r.Config.SmallBlind,
		BigBlind:         r.Config.BigBlind,
		MinBuyIn:         r.Config.MinBuyIn,
		MaxBuyIn:         r.Config.MaxBuyIn,
	}
	if r.countdownTimer != nil {
		ts.Phase = engine.PhaseCountdown
	}

	for seat := range r.reservations {
		ts.ReservedSeats = append(ts.ReservedSeats, seat)
	}
	sort.Ints(ts.ReservedSeats)

	for s, p := range r.seats {
		ts.Seats[s] = &SeatState{
			SeatIndex:  s,
			PlayerID:   p.ID,
			Name:       p.Name,
			AvatarSeed: p.AvatarSeed,
			Chips:      p.Chips,
			Connected:  p.Connected,
		}
		if p.ID == recipientID {
			ts.MySeatIndex = s
			ts.MyChips = p.Chips
		}
	}

	hand := r.hand
	if hand == nil {
		return ts
	}

	ts.Phase = hand.Phase
	ts.Pot = hand.Pot
	ts.SidePots = hand.SidePots
	ts.CurrentBet = hand.CurrentBet
	ts.MinRaise = hand.CurrentBet + hand.LastRaiseSize
	for i, c := range hand.Community {
		if i < 5 {
			card := c
			ts.CommunityCards[i] = &card
		}
	}

	showdown := hand.Phase == engine.PhaseShowdown
	for idx, ep := range hand.Players {
		seatState := ts.Seats[ep.Seat]
		if seatState == nil {
			// Seat vacated mid-hand; skip its engine shadow.
			continue
		}
		seatState.Folded = ep.Folded
		seatState.AllIn = ep.AllIn
		seatState.CurrentBet = ep.CurrentBet
		seatState.Chips = ep.Chips
		seatState.Dealer = idx == hand.DealerIndex
		seatState.SmallBlind = idx == hand.SBIndex
		seatState.BigBlind = idx == hand.BBIndex

		if idx == hand.DealerIndex {
			ts.DealerSeatIndex = ep.Seat
		}
		if idx == hand.SBIndex {
			ts.SBSeatIndex = ep.Seat
		}
		if idx == hand.BBIndex {
			ts.BBSeatIndex = ep.Seat
		}

		reveal := ep.ID == recipientID || (showdown && !ep.Folded)
		if reveal {
			cards := make([]*deck.Card, len(ep.HoleCards))
			for i := range ep.HoleCards {
				card := ep.HoleCards[i]
				cards[i] = &card
			}
			seatState.HoleCards = cards
			if ep.ID == recipientID {
				ts.MyHand = cards
				ts.MyChips = ep.Chips
			}
		}
	}

	if active := hand.ActivePlayer(); active != nil {
		ts.ActiveSeatIndex = active.Seat
		if active.ID == recipientID {
			ts.IsMyTurn = true
			ts.MaxRaise = active.CurrentBet + active.Chips
			if !r.turnDeadline.IsZero() {
				ts.TurnTimeoutAt = r.turnDeadline.UnixMilli()
			}
		}
	}

	return ts
}

// broadcastState pushes a fresh personalized snapshot to every seated
// player and a public one to every watcher.
func (r *Room) broadcastState() {
	r.mu.Lock()
	type delivery struct {
		playerID string
		state    *TableState
	}
	deliveries := make([]delivery, 0, len(r.seats)+len(r.watchers))
	for _, p := range r.seats {
		deliveries = append(deliveries, delivery{playerID: p.ID, state: r.snapshotLocked(p.ID)})
	}
	for w := range r.watchers {
		if _, seated := r.findSeatLocked(w); !seated {
			deliveries = append(deliveries, delivery{playerID: w, state: r.snapshotLocked(w)})
		}
	}
	r.mu.Unlock()

	for _, d := range deliveries {
		r.sender.Send(d.playerID, EventTableState, d.state)
	}
}

// broadcast sends one event to everyone in or watching the room.
func (r *Room) broadcast(event string, payload any) {
	r.mu.Lock()
	recipients := make([]string, 0, len(r.seats)+len(r.watchers))
	for _, p := range r.seats {
		recipients = append(recipients, p.ID)
	}
	for w := range r.watchers {
		if _, seated := r.findSeatLocked(w); !seated {
			recipients = append(recipients, w)
		}
	}
	r.mu.Unlock()

	for _, id := range recipients {
		r.sender.Send(id, event, payload)
	}
}

func (r *Room) findSeatLocked(playerID string) (*RoomPlayer, bool) {
	for _, p := range r.seats {
		if p.ID == playerID {
			return p, true
		}
	}
	return nil, false
}

// LobbyInfo is the per-room lobby summary.
type LobbyInfo struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	CreatorID     string       `json:"creatorId,omitempty"`
	SmallBlind    int64        `json:"smallBlind"`
	BigBlind      int64        `json:"bigBlind"`
	MinBuyIn      int64        `json:"minBuyIn"`
	MaxBuyIn      int64        `json:"maxBuyIn"`
	SeatedCount   int          `json:"seatedCount"`
	MaxSeats      int          `json:"maxSeats"`
	Phase         engine.Phase `json:"phase"`
	OccupiedSeats []int        `json:"occupiedSeats"`
	ReservedSeats []int        `json:"reservedSeats"`
	TokenType     string       `json:"tokenType"`
	Premium       bool         `json:"premium"`
}

// Lobby returns the room's lobby summary.
func (r *Room) Lobby() LobbyInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	info := LobbyInfo{
		ID:          r.ID,
		Name:        r.Name,
		CreatorID:   r.CreatorID,
		SmallBlind:  r.Config.SmallBlind,
		BigBlind:    r.Config.BigBlind,
		MinBuyIn:    r.Config.MinBuyIn,
		MaxBuyIn:    r.Config.MaxBuyIn,
		SeatedCount: len(r.seats),
		MaxSeats:    r.Config.MaxSeats,
		Phase:       engine.PhaseWaiting,
		TokenType:   r.Config.TokenType,
		Premium:     r.Config.Premium,
	}
	if r.countdownTimer != nil {
		info.Phase = engine.PhaseCountdown
	}
	if r.hand != nil {
		info.Phase = r.hand.Phase
	}
	for s := range r.seats {
		info.OccupiedSeats = append(info.OccupiedSeats, s)
	}
	sort.Ints(info.OccupiedSeats)
	for s := range r.reservations {
		info.ReservedSeats = append(info.ReservedSeats, s)
	}
	sort.Ints(info.ReservedSeats)
	return info
}
