package chain

import (
	"context"
	"errors"
	"fmt"
)

// ErrTxNotFound is returned when the node has no record of a signature.
var ErrTxNotFound = errors.New("transaction not found")

// Transfer is one decoded system transfer inside a transaction.
type Transfer struct {
	Source      Address
	Destination Address
	Amount      int64
}

// Transaction is the verification-relevant view of an on-chain
// transaction.
type Transaction struct {
	TxID      string
	Confirmed bool
	Err       string // non-empty when the transaction failed on-chain
	Transfers []Transfer
}

// Client is the chain surface the vault and deposit verifier consume.
// The RPC implementation suspends on network I/O; tests substitute a
// stub.
type Client interface {
	// GetBalance returns the balance of an account in smallest units.
	GetBalance(ctx context.Context, addr Address) (int64, error)
	// GetTransaction looks up a confirmed transaction by signature.
	GetTransaction(ctx context.Context, txID string) (*Transaction, error)
	// Transfer signs and submits a system transfer, returning the
	// transaction signature.
	Transfer(ctx context.Context, from *Keypair, to Address, amount int64) (string, error)
}

// VerifyDeposit checks a looked-up transaction against the declared
// deposit: confirmed, not errored, and carrying a system transfer from
// the declared wallet to the vault of at least the declared amount.
func VerifyDeposit(tx *Transaction, source, destination Address, minAmount int64) error {
	if tx == nil {
		return ErrTxNotFound
	}
	if !tx.Confirmed {
		return fmt.Errorf("transaction %s is not confirmed", tx.TxID)
	}
	if tx.Err != "" {
		return fmt.Errorf("transaction %s failed on-chain: %s", tx.TxID, tx.Err)
	}
	for _, t := range tx.Transfers {
		if t.Source != source {
			continue
		}
		if t.Destination != destination {
			continue
		}
		if t.Amount < minAmount {
			return fmt.Errorf("transfer of %d below declared amount %d", t.Amount, minAmount)
		}
		return nil
	}
	return fmt.Errorf("no transfer from %s to %s in transaction %s", source, destination, tx.TxID)
}
