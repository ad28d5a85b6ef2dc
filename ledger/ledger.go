// Package ledger describes the base ledger as seen by the client: deposits
// that register a public key under a new account id, and the lookup of that
// id by address. It also holds an in-memory account book used by the
// development operator.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/holiman/uint256"
	"github.com/mezonai/mmn-plasma/errors"
	"github.com/mezonai/mmn-plasma/keys"
	"github.com/mezonai/mmn-plasma/logx"
)

var (
	ErrNotRegistered       = errors.New("address not registered")
	ErrAccountNotFound     = errors.New("account not found")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidNonce        = errors.New("invalid nonce")
)

const DefaultPollInterval = 500 * time.Millisecond

type Deposit struct {
	Address   Address
	PublicKey keys.PublicKey
	Amount    *uint256.Int
}

// DepositReceipt reports a deposit. AccountID is only meaningful once Confirmed.
type DepositReceipt struct {
	AccountID uint32 `json:"account_id"`
	Confirmed bool   `json:"confirmed"`
	Reference string `json:"reference"`
}

// Ledger accepts deposits that register a public key
type Ledger interface {
	Deposit(ctx context.Context, d Deposit) (DepositReceipt, error)
}

// Registry resolves the account id of a registered address. Unknown
// addresses return ErrNotRegistered.
type Registry interface {
	AccountID(ctx context.Context, addr Address) (uint32, error)
}

// Register deposits value for kp under addr and waits until the account id
// is confirmed. Transfers signed before that would carry no valid sender.
func Register(ctx context.Context, l Ledger, reg Registry, kp *keys.KeyPair, addr Address, value *uint256.Int, poll time.Duration) (uint32, error) {
	if kp == nil {
		return 0, errors.New("nil key pair")
	}
	if value == nil {
		value = new(uint256.Int)
	}
	if poll <= 0 {
		poll = DefaultPollInterval
	}

	receipt, err := l.Deposit(ctx, Deposit{Address: addr, PublicKey: kp.PublicKey, Amount: value})
	if err != nil {
		return 0, errors.Wrap(err, "deposit")
	}
	if receipt.Confirmed {
		logx.Info("LEDGER", fmt.Sprintf("address %s registered as account %d", addr, receipt.AccountID))
		return receipt.AccountID, nil
	}

	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		id, err := reg.AccountID(ctx, addr)
		if err == nil {
			logx.Info("LEDGER", fmt.Sprintf("address %s registered as account %d", addr, id))
			return id, nil
		}
		if !errors.Is(err, ErrNotRegistered) {
			return 0, errors.Wrap(err, "lookup account id")
		}
		select {
		case <-ctx.Done():
			return 0, errors.Wrap(ctx.Err(), "waiting for deposit confirmation")
		case <-ticker.C:
		}
	}
}
