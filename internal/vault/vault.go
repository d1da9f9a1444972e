// Package vault owns each room's on-chain escrow: the deposit address,
// serialized signed payouts with durable PENDING→SENT→CONFIRMED/FAILED
// records, the rent-exempt reserve policy, and the rake sweep path.
package vault

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"

	"github.com/goldenflop/goldenflop/internal/chain"
	"github.com/goldenflop/goldenflop/internal/store"
)

// Policy is the reserve rule applied to every outbound transfer: the
// vault never pays below the rent-exempt minimum plus a fee buffer.
type Policy struct {
	RentExemptMin int64
	FeeBuffer     int64
}

// Reserve is the untouchable portion of the vault balance.
func (p Policy) Reserve() int64 {
	return p.RentExemptMin + p.FeeBuffer
}

// Retry tuning for transient chain failures.
const (
	maxSendAttempts = 3
	baseBackoff     = 500 * time.Millisecond
)

// ErrNothingPayable is returned when the reserve leaves no balance to
// pay out.
var ErrNothingPayable = errors.New("vault balance at or below reserve")

// CashOutResult reports what a cash-out actually did.
type CashOutResult struct {
	TxID   string
	Amount int64
	Capped bool
}

// Vault is one room's escrow account. All outbound transfers are
// serialized by the vault's mutex; callers queue in arrival order.
type Vault struct {
	roomID  string
	keypair *chain.Keypair
	client  chain.Client
	store   *store.Store
	policy  Policy
	logger  *log.Logger
	clock   quartz.Clock

	mu sync.Mutex

	// rake below the rent-exempt minimum accumulates here until the
	// sweep path collects it with the rest of the balance
	pendingRake int64
}

// New builds a vault for a room.
func New(roomID string, keypair *chain.Keypair, client chain.Client, s *store.Store, policy Policy, logger *log.Logger, clock quartz.Clock) *Vault {
	if clock == nil {
		clock = quartz.NewReal()
	}
	return &Vault{
		roomID:  roomID,
		keypair: keypair,
		client:  client,
		store:   s,
		policy:  policy,
		logger:  logger.WithPrefix("vault").With("room", roomID),
		clock:   clock,
	}
}

// Address is the deposit destination for this room.
func (v *Vault) Address() chain.Address {
	return v.keypair.Address()
}

// Balance reads the current on-chain balance.
func (v *Vault) Balance(ctx context.Context) (int64, error) {
	return v.client.GetBalance(ctx, v.Address())
}

// CashOut transfers a leaving player's chips back to their wallet.
// Idempotent per (room, user): while a non-terminal cash-out exists, a
// second call short-circuits and returns its txId. The payout record is
// written before anything is signed; if the record cannot be written
// the operation aborts.
func (v *Vault) CashOut(ctx context.Context, userID int64, wallet chain.Address, amount int64) (*CashOutResult, error) {
	if existing, err := v.store.FindNonTerminalPayout(v.roomID, userID, store.PayoutCashOut); err == nil {
		v.logger.Info("cash-out already in flight, returning existing payout",
			"user", userID, "payout", existing.ID, "tx", existing.TxID.String)
		return &CashOutResult{TxID: existing.TxID.String, Amount: existing.Amount}, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("checking open payouts: %w", err)
	}

	payout, err := v.store.CreatePayout(v.roomID, userID, store.PayoutCashOut, amount)
	if err != nil {
		return nil, fmt.Errorf("recording payout: %w", err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	balance, err := v.client.GetBalance(ctx, v.Address())
	if err != nil {
		_ = v.store.UpdatePayout(payout.ID, store.PayoutFailed, "")
		return nil, fmt.Errorf("reading vault balance: %w", err)
	}

	payable := balance - v.policy.Reserve()
	if payable <= 0 {
		_ = v.store.UpdatePayout(payout.ID, store.PayoutFailed, "")
		return nil, ErrNothingPayable
	}

	result := &CashOutResult{Amount: amount}
	if amount > payable {
		result.Amount = payable
		result.Capped = true
		v.logger.Warn("cash-out capped by reserve policy",
			"user", userID, "requested", amount, "paid", payable, "reserve", v.policy.Reserve())
		if err := v.store.UpdatePayoutAmount(payout.ID, payable); err != nil {
			_ = v.store.UpdatePayout(payout.ID, store.PayoutFailed, "")
			return nil, fmt.Errorf("recording capped amount: %w", err)
		}
	}

	txID, err := v.sendWithRetry(ctx, payout.ID, wallet, result.Amount)
	if err != nil {
		return nil, err
	}
	result.TxID = txID

	v.logger.Info("cash-out confirmed", "user", userID, "amount", result.Amount, "tx", txID)
	return result, nil
}

// TransferRake moves collected rake to the house account. Amounts below
// the rent-exempt minimum are not worth an on-chain transfer; they
// accumulate in the vault for the sweep path. Returns the txId, or ""
// when the rake was left to accumulate.
func (v *Vault) TransferRake(ctx context.Context, destination chain.Address, amount int64) (string, error) {
	if amount <= 0 {
		return "", nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if amount+v.pendingRake < v.policy.RentExemptMin {
		v.pendingRake += amount
		v.logger.Debug("rake below transfer threshold, accumulating",
			"amount", amount, "accumulated", v.pendingRake)
		return "", nil
	}

	total := amount + v.pendingRake
	payout, err := v.store.CreatePayout(v.roomID, 0, store.PayoutRake, total)
	if err != nil {
		return "", fmt.Errorf("recording rake payout: %w", err)
	}

	txID, err := v.sendWithRetry(ctx, payout.ID, destination, total)
	if err != nil {
		return "", err
	}
	v.pendingRake = 0

	v.logger.Info("rake transferred", "amount", total, "tx", txID)
	return txID, nil
}

// Sweep transfers everything above the reserve to the destination.
// Returns the swept amount (zero when nothing is payable).
func (v *Vault) Sweep(ctx context.Context, destination chain.Address) (int64, string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	balance, err := v.client.GetBalance(ctx, v.Address())
	if err != nil {
		return 0, "", err
	}
	payable := balance - v.policy.Reserve()
	if payable <= 0 {
		return 0, "", nil
	}

	payout, err := v.store.CreatePayout(v.roomID, 0, store.PayoutRake, payable)
	if err != nil {
		return 0, "", fmt.Errorf("recording sweep payout: %w", err)
	}

	txID, err := v.sendWithRetry(ctx, payout.ID, destination, payable)
	if err != nil {
		return 0, "", err
	}
	v.pendingRake = 0
	return payable, txID, nil
}

// sendWithRetry signs and submits a transfer with bounded exponential
// backoff, keeping the payout record in step with reality. Callers hold
// the vault mutex.
func (v *Vault) sendWithRetry(ctx context.Context, payoutID int64, destination chain.Address, amount int64) (string, error) {
	var lastErr error
	for attempt := 0; attempt < maxSendAttempts; attempt++ {
		if attempt > 0 {
			backoff := baseBackoff << (attempt - 1)
			timer := v.clock.NewTimer(backoff)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				_ = v.store.UpdatePayout(payoutID, store.PayoutFailed, "")
				return "", ctx.Err()
			}
		}

		txID, err := v.client.Transfer(ctx, v.keypair, destination, amount)
		if err != nil {
			lastErr = err
			v.logger.Warn("transfer attempt failed", "attempt", attempt+1, "error", err)
			continue
		}

		if err := v.store.UpdatePayout(payoutID, store.PayoutSent, txID); err != nil {
			v.logger.Error("failed to record sent payout", "payout", payoutID, "tx", txID, "error", err)
		}
		if err := v.store.UpdatePayout(payoutID, store.PayoutConfirmed, txID); err != nil {
			v.logger.Error("failed to record confirmed payout", "payout", payoutID, "tx", txID, "error", err)
		}
		return txID, nil
	}

	_ = v.store.UpdatePayout(payoutID, store.PayoutFailed, "")
	return "", fmt.Errorf("transfer failed after %d attempts: %w", maxSendAttempts, lastErr)
}
