package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/mezonai/mmn-plasma/errors"
	"github.com/mezonai/mmn-plasma/keys"
	"github.com/mezonai/mmn-plasma/logx"
	"github.com/mezonai/mmn-plasma/transaction"
)

// Account is the operator side state of one registered key.
// Nonce is the next nonce the account must use.
type Account struct {
	ID        uint32
	Address   Address
	PublicKey keys.PublicKey
	Balance   *uint256.Int
	Nonce     uint32
}

func (a *Account) clone() *Account {
	cp := *a
	cp.Balance = a.Balance.Clone()
	return &cp
}

// Book is an in-memory account book. It implements Ledger and Registry and
// applies transfers with strict nonce ordering.
type Book struct {
	mu          sync.RWMutex
	accounts    map[uint32]*Account
	byAddress   map[Address]uint32
	pending     []Deposit
	nextID      uint32
	autoConfirm bool
	fees        *uint256.Int
}

// NewBook returns an empty book whose first account id is firstID (at least 1).
// With autoConfirm unset deposits wait for ConfirmPending.
func NewBook(firstID uint32, autoConfirm bool) *Book {
	if firstID == 0 {
		firstID = 1
	}
	return &Book{
		accounts:    make(map[uint32]*Account),
		byAddress:   make(map[Address]uint32),
		nextID:      firstID,
		autoConfirm: autoConfirm,
		fees:        new(uint256.Int),
	}
}

// CreateAccount registers pub under addr with an initial balance. Depositing
// again to a known address tops up its balance.
func (b *Book) CreateAccount(addr Address, pub keys.PublicKey, balance *uint256.Int) (*Account, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.createAccountWithoutLocking(addr, pub, balance)
}

// createAccountWithoutLocking expects b.mu to be held
func (b *Book) createAccountWithoutLocking(addr Address, pub keys.PublicKey, balance *uint256.Int) (*Account, error) {
	if !pub.IsValid() {
		return nil, errors.New("public key is not a curve point")
	}
	if balance == nil {
		balance = new(uint256.Int)
	}
	if id, ok := b.byAddress[addr]; ok {
		acc := b.accounts[id]
		if !acc.PublicKey.Equal(pub) {
			return nil, errors.Errorf("address %s is registered with another key", addr)
		}
		acc.Balance.Add(acc.Balance, balance)
		return acc.clone(), nil
	}
	acc := &Account{
		ID:        b.nextID,
		Address:   addr,
		PublicKey: pub,
		Balance:   balance.Clone(),
	}
	b.accounts[acc.ID] = acc
	b.byAddress[addr] = acc.ID
	b.nextID++
	logx.Info("LEDGER", fmt.Sprintf("created account %d for %s", acc.ID, addr))
	return acc.clone(), nil
}

// Deposit implements Ledger
func (b *Book) Deposit(ctx context.Context, d Deposit) (DepositReceipt, error) {
	if err := ctx.Err(); err != nil {
		return DepositReceipt{}, err
	}
	ref := uuid.NewString()
	if !b.autoConfirm {
		if !d.PublicKey.IsValid() {
			return DepositReceipt{}, errors.New("public key is not a curve point")
		}
		b.mu.Lock()
		b.pending = append(b.pending, d)
		b.mu.Unlock()
		return DepositReceipt{Reference: ref}, nil
	}
	acc, err := b.CreateAccount(d.Address, d.PublicKey, d.Amount)
	if err != nil {
		return DepositReceipt{}, err
	}
	return DepositReceipt{AccountID: acc.ID, Confirmed: true, Reference: ref}, nil
}

// ConfirmPending applies every queued deposit and returns how many succeeded
func (b *Book) ConfirmPending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, d := range b.pending {
		if _, err := b.createAccountWithoutLocking(d.Address, d.PublicKey, d.Amount); err != nil {
			logx.Warn("LEDGER", fmt.Sprintf("dropping deposit for %s: %v", d.Address, err))
			continue
		}
		n++
	}
	b.pending = nil
	return n
}

// AccountID implements Registry
func (b *Book) AccountID(ctx context.Context, addr Address) (uint32, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	id, ok := b.byAddress[addr]
	if !ok {
		return 0, ErrNotRegistered
	}
	return id, nil
}

// GetAccount returns a copy of the account, or ErrAccountNotFound
func (b *Book) GetAccount(id uint32) (*Account, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	acc, ok := b.accounts[id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return acc.clone(), nil
}

func (b *Book) AccountCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.accounts)
}

func (b *Book) FeesCollected() *uint256.Int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.fees.Clone()
}

// ApplyTransfer moves value between accounts. The signature must have been
// checked by the caller.
func (b *Book) ApplyTransfer(tx *transaction.Transfer) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	sender, ok := b.accounts[tx.From]
	if !ok {
		return errors.Wrapf(ErrAccountNotFound, "sender %d", tx.From)
	}
	recipient, ok := b.accounts[tx.To]
	if !ok {
		return errors.Wrapf(ErrAccountNotFound, "recipient %d", tx.To)
	}
	if tx.Nonce != sender.Nonce {
		return errors.Wrapf(ErrInvalidNonce, "expected %d, got %d", sender.Nonce, tx.Nonce)
	}
	total, overflow := new(uint256.Int).AddOverflow(valueOrZero(tx.Amount), valueOrZero(tx.Fee))
	if overflow || sender.Balance.Lt(total) {
		return ErrInsufficientBalance
	}

	sender.Balance.Sub(sender.Balance, total)
	recipient.Balance.Add(recipient.Balance, valueOrZero(tx.Amount))
	b.fees.Add(b.fees, valueOrZero(tx.Fee))
	sender.Nonce++
	return nil
}

func valueOrZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v
}
