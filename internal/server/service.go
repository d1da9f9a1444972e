package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/goldenflop/goldenflop/internal/chain"
	"github.com/goldenflop/goldenflop/internal/economy"
	"github.com/goldenflop/goldenflop/internal/engine"
	"github.com/goldenflop/goldenflop/internal/registry"
	"github.com/goldenflop/goldenflop/internal/room"
	"github.com/goldenflop/goldenflop/internal/store"
	"github.com/goldenflop/goldenflop/internal/vault"
)

// Limits for player-created tables.
const (
	defaultTurnTimeout   = 30 * time.Second
	defaultMaxSeats      = 6
	maxEphemeralSeats    = 9
	chainCallTimeout     = 30 * time.Second
	settlementJobTimeout = 2 * time.Minute
)

// ErrDoubleClaim is returned when a sit presents a deposit already
// consumed by a different user.
var ErrDoubleClaim = errors.New("deposit already claimed by another user")

// Service implements the game commands on top of the registry, the
// durable store, the vault engine, and the off-chain ledger. It holds
// no game state of its own.
type Service struct {
	registry         *registry.Registry
	store            *store.Store
	vaults           *vault.Manager
	ledger           *economy.Ledger
	chain            chain.Client
	sender           room.Sender
	sweepDestination chain.Address
	logger           *log.Logger
}

// NewService wires the command layer. sweepDestination is where rake
// transfers land.
func NewService(reg *registry.Registry, s *store.Store, vaults *vault.Manager, ledger *economy.Ledger, chainClient chain.Client, sender room.Sender, sweepDestination chain.Address, logger *log.Logger) *Service {
	return &Service{
		registry:         reg,
		store:            s,
		vaults:           vaults,
		ledger:           ledger,
		chain:            chainClient,
		sender:           sender,
		sweepDestination: sweepDestination,
		logger:           logger.WithPrefix("service"),
	}
}

// Tables returns the lobby snapshot.
func (s *Service) Tables() []room.LobbyInfo {
	return s.registry.Lobby()
}

// CreateTable registers an ephemeral player-created room.
func (s *Service) CreateTable(creatorID string, data CreateTableData) (string, error) {
	if data.Name == "" {
		return "", fmt.Errorf("table name required")
	}
	if data.SmallBlind <= 0 || data.BigBlind <= data.SmallBlind {
		return "", fmt.Errorf("invalid blinds")
	}
	if data.MinBuyIn <= 0 || data.MaxBuyIn <= data.MinBuyIn {
		return "", fmt.Errorf("invalid buy-in range")
	}
	maxPlayers := data.MaxPlayers
	if maxPlayers == 0 {
		maxPlayers = defaultMaxSeats
	}
	if maxPlayers < 2 || maxPlayers > maxEphemeralSeats {
		return "", fmt.Errorf("max players must be between 2 and %d", maxEphemeralSeats)
	}

	cfg := engine.Config{
		SmallBlind:  data.SmallBlind,
		BigBlind:    data.BigBlind,
		MinBuyIn:    data.MinBuyIn,
		MaxBuyIn:    data.MaxBuyIn,
		MaxSeats:    maxPlayers,
		TurnTimeout: defaultTurnTimeout,
		TokenType:   "SOL",
	}
	rm := s.registry.CreateEphemeral(data.Name, creatorID, cfg)
	return rm.ID, nil
}

// ReserveSeat holds a seat for the player.
func (s *Service) ReserveSeat(playerID, playerName, avatarSeed string, data ReserveSeatData) error {
	rm, err := s.registry.Get(data.TableID)
	if err != nil {
		return err
	}
	return rm.ReserveSeat(playerID, playerName, avatarSeed, data.Seat)
}

// ReleaseSeat frees the player's hold on a seat.
func (s *Service) ReleaseSeat(playerID string, data ReleaseSeatData) error {
	rm, err := s.registry.Get(data.TableID)
	if err != nil {
		return err
	}
	rm.ReleaseReservation(data.Seat, playerID)
	return nil
}

// Sit executes the vault sit protocol: resolve the user, consume the
// deposit transaction idempotently, verify it on-chain, and seat the
// player. On failure the reservation is deliberately left to its
// release timer so the seat cannot be raced from another device.
func (s *Service) Sit(ctx context.Context, playerID string, data SitAtSeatData) (int, error) {
	rm, err := s.registry.Get(data.TableID)
	if err != nil {
		return 0, err
	}

	v, hasVault := s.vaults.Get(data.TableID)
	if !hasVault {
		return 0, room.ErrNoVault
	}
	if data.TxID == "" || data.WalletAddress == "" {
		return 0, fmt.Errorf("txId and walletAddress required for a vault table")
	}

	if err := rm.BeginJoin(playerID); err != nil {
		return 0, err
	}
	defer rm.EndJoin(playerID)

	// Vault sits require the reservation taken in phase one to still be
	// live; an expired hold means the seat must be re-reserved first.
	seat := -1
	if data.Seat != nil {
		seat = *data.Seat
		if !rm.HasReservation(seat, playerID) {
			return 0, room.ErrSeatUnavailable
		}
	} else {
		held, ok := rm.ReservationFor(playerID)
		if !ok {
			return 0, room.ErrSeatUnavailable
		}
		seat = held
	}

	user, err := s.store.GetOrCreateUserByWallet(data.WalletAddress, data.PlayerName)
	if err != nil {
		return 0, fmt.Errorf("resolving user: %w", err)
	}

	// Idempotency by txId: the same user may re-seat on a CONFIRMED
	// deposit; anyone else presenting it is rejected. A record in any
	// other status (a FAILED earlier attempt) never seats anyone — the
	// transaction must pass verification now.
	existing, err := s.store.GetDepositByTx(data.TxID)
	switch {
	case err == nil:
		if existing.UserID != user.ID {
			return 0, ErrDoubleClaim
		}
		if existing.Status != store.DepositConfirmed {
			if verr := s.verifyDeposit(ctx, v, data); verr != nil {
				return 0, verr
			}
			if uerr := s.store.UpdateDepositStatus(data.TxID, store.DepositConfirmed); uerr != nil {
				return 0, fmt.Errorf("recording deposit: %w", uerr)
			}
		}
	case errors.Is(err, store.ErrNotFound):
		if verr := s.verifyDeposit(ctx, v, data); verr != nil {
			if _, recordErr := s.store.CreateDeposit(user.ID, "SOL", data.BuyIn, data.TxID, store.DepositFailed); recordErr != nil {
				s.logger.Error("failed to record failed deposit", "tx", data.TxID, "error", recordErr)
			}
			return 0, verr
		}
		if _, cerr := s.store.CreateDeposit(user.ID, "SOL", data.BuyIn, data.TxID, store.DepositConfirmed); cerr != nil {
			return 0, fmt.Errorf("recording deposit: %w", cerr)
		}
	default:
		return 0, fmt.Errorf("checking deposit: %w", err)
	}

	player := &room.RoomPlayer{
		ID:          playerID,
		Name:        data.PlayerName,
		AvatarSeed:  data.AvatarSeed,
		UserID:      user.ID,
		Wallet:      data.WalletAddress,
		VaultPlayer: true,
	}
	seatIndex, err := rm.Join(player, data.BuyIn, seat)
	if err != nil {
		// The release timer will expire the reservation; releasing it here
		// would let another player race a seat the depositor may still be
		// claiming from a second device.
		return 0, err
	}
	return seatIndex, nil
}

// verifyDeposit checks the declared transaction on-chain. Suspends on
// chain I/O; no room lock is held. Recording the outcome is the
// caller's job.
func (s *Service) verifyDeposit(ctx context.Context, v *vault.Vault, data SitAtSeatData) error {
	ctx, cancel := context.WithTimeout(ctx, chainCallTimeout)
	defer cancel()

	tx, err := s.chain.GetTransaction(ctx, data.TxID)
	if err != nil {
		return fmt.Errorf("looking up deposit: %w", err)
	}
	if err := chain.VerifyDeposit(tx, chain.Address(data.WalletAddress), v.Address(), data.BuyIn); err != nil {
		return fmt.Errorf("deposit verification failed: %w", err)
	}
	return nil
}

// JoinLedger is the legacy off-chain join: an atomic ledger debit, with
// a refund if seating fails.
func (s *Service) JoinLedger(playerID string, userID int64, data JoinTableData) error {
	rm, err := s.registry.Get(data.TableID)
	if err != nil {
		return err
	}
	if userID == 0 {
		return fmt.Errorf("authenticated account required")
	}

	if err := rm.BeginJoin(playerID); err != nil {
		return err
	}
	defer rm.EndJoin(playerID)

	tokenType := rm.Config.TokenType
	if err := s.ledger.BuyIn(userID, tokenType, data.BuyIn); err != nil {
		return err
	}

	player := &room.RoomPlayer{
		ID:     playerID,
		Name:   data.PlayerName,
		UserID: userID,
	}
	if _, err := rm.Join(player, data.BuyIn, -1); err != nil {
		if refundErr := s.ledger.Refund(userID, tokenType, data.BuyIn); refundErr != nil {
			s.logger.Error("failed to refund buy-in after join failure",
				"user", userID, "amount", data.BuyIn, "error", refundErr)
		}
		return err
	}
	return nil
}

// Leave removes the player from the table; settlement runs through the
// room's cash-out hook.
func (s *Service) Leave(playerID string, data LeaveTableData) error {
	rm, err := s.registry.Get(data.TableID)
	if err != nil {
		return err
	}
	return rm.Leave(playerID)
}

// Watch subscribes the player to a table's public snapshots.
func (s *Service) Watch(playerID string, data WatchTableData) error {
	rm, err := s.registry.Get(data.TableID)
	if err != nil {
		return err
	}
	rm.Watch(playerID)
	return nil
}

// Action forwards a player action to the room.
func (s *Service) Action(playerID string, data PlayerActionData) error {
	rm, err := s.registry.Get(data.TableID)
	if err != nil {
		return err
	}
	kind, err := parseAction(data.Action)
	if err != nil {
		return err
	}
	rm.HandleAction(playerID, kind, data.Amount)
	return nil
}

func parseAction(action string) (engine.ActionKind, error) {
	switch action {
	case "fold":
		return engine.ActionFold, nil
	case "check":
		return engine.ActionCheck, nil
	case "call":
		return engine.ActionCall, nil
	case "raise", "bet":
		return engine.ActionRaise, nil
	case "allin", "all-in", "all_in":
		return engine.ActionAllIn, nil
	default:
		return "", fmt.Errorf("unknown action %q", action)
	}
}

// SettleCashOut is the room cash-out hook: vault players get an
// on-chain payout, ledger players a balance credit. Runs in its own
// goroutine; the room lock is long released.
func (s *Service) SettleCashOut(roomID string, player room.RoomPlayer, chips int64) {
	if chips <= 0 && !player.VaultPlayer {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), settlementJobTimeout)
		defer cancel()

		payload := room.CashOutCompletePayload{TableID: roomID, Amount: chips}

		if player.VaultPlayer {
			v, ok := s.vaults.Get(roomID)
			if !ok {
				s.logger.Error("vault player left a room with no vault", "room", roomID, "player", player.ID)
				return
			}
			if chips <= 0 {
				return
			}
			res, err := v.CashOut(ctx, player.UserID, chain.Address(player.Wallet), chips)
			if err != nil {
				s.logger.Error("cash-out failed", "room", roomID, "player", player.ID, "error", err)
				// Absent txId tells the client the payout needs attention.
				s.sender.Send(player.ID, room.EventCashOutComplete, payload)
				return
			}
			payload.Amount = res.Amount
			payload.TxID = res.TxID
			payload.Capped = res.Capped
			s.sender.Send(player.ID, room.EventCashOutComplete, payload)
			return
		}

		if player.UserID == 0 {
			s.logger.Warn("departing player has no account, chips dropped", "room", roomID, "player", player.ID, "chips", chips)
			return
		}
		rm, err := s.registry.Get(roomID)
		tokenType := "SOL"
		if err == nil {
			tokenType = rm.Config.TokenType
		}
		if err := s.ledger.CashOut(player.UserID, tokenType, chips); err != nil {
			s.logger.Error("ledger cash-out failed", "room", roomID, "player", player.ID, "error", err)
			return
		}
		s.sender.Send(player.ID, room.EventCashOutComplete, payload)
	}()
}

// CollectRake is the room rake hook: forwarded to the vault engine on
// its own goroutine.
func (s *Service) CollectRake(roomID string, amount int64) {
	v, ok := s.vaults.Get(roomID)
	if !ok {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), settlementJobTimeout)
		defer cancel()
		if _, err := v.TransferRake(ctx, s.houseAddress(), amount); err != nil {
			s.logger.Error("rake transfer failed", "room", roomID, "amount", amount, "error", err)
		}
	}()
}

// houseAddress is where rake accumulates off-vault.
func (s *Service) houseAddress() chain.Address {
	return s.sweepDestination
}
