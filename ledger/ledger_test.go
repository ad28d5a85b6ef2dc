package ledger

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/mezonai/mmn-plasma/keys"
	"github.com/mezonai/mmn-plasma/transaction"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustAddress(t *testing.T, s string) Address {
	t.Helper()
	a, err := ParseAddress(s)
	require.NoError(t, err)
	return a
}

func mustKey(t *testing.T, seed string) *keys.KeyPair {
	t.Helper()
	kp, err := keys.DeriveFromSeed([]byte(seed))
	require.NoError(t, err)
	return kp
}

func TestParseAddress(t *testing.T) {
	a := mustAddress(t, "0x00000000000000000000000000000000000000Ab")
	assert.Equal(t, "0x00000000000000000000000000000000000000ab", a.Hex())
	assert.False(t, a.IsZero())

	var b Address
	require.NoError(t, b.UnmarshalText([]byte("00000000000000000000000000000000000000ab")))
	assert.Equal(t, a, b)

	for _, bad := range []string{"", "0x1234", "0xzz000000000000000000000000000000000000ab"} {
		_, err := ParseAddress(bad)
		assert.Error(t, err, bad)
	}
}

func TestBook_DepositAutoConfirm(t *testing.T) {
	book := NewBook(2, true)
	kp := mustKey(t, "alice")
	addr := mustAddress(t, "0x1111111111111111111111111111111111111111")

	receipt, err := book.Deposit(context.Background(), Deposit{Address: addr, PublicKey: kp.PublicKey, Amount: uint256.NewInt(1000)})
	require.NoError(t, err)
	assert.True(t, receipt.Confirmed)
	assert.Equal(t, uint32(2), receipt.AccountID)
	assert.NotEmpty(t, receipt.Reference)

	// a second deposit tops up
	_, err = book.Deposit(context.Background(), Deposit{Address: addr, PublicKey: kp.PublicKey, Amount: uint256.NewInt(500)})
	require.NoError(t, err)
	acc, err := book.GetAccount(2)
	require.NoError(t, err)
	assert.Equal(t, uint64(1500), acc.Balance.Uint64())
	assert.Equal(t, 1, book.AccountCount())

	// same address, other key
	_, err = book.Deposit(context.Background(), Deposit{Address: addr, PublicKey: mustKey(t, "mallory").PublicKey})
	assert.Error(t, err)
}

func TestRegister_WaitsForConfirmation(t *testing.T) {
	book := NewBook(1, false)
	kp := mustKey(t, "alice")
	addr := mustAddress(t, "0x2222222222222222222222222222222222222222")

	go func() {
		time.Sleep(30 * time.Millisecond)
		book.ConfirmPending()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	id, err := Register(ctx, book, book, kp, addr, uint256.NewInt(10), 5*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), id)
}

func TestRegister_ContextExpires(t *testing.T) {
	book := NewBook(1, false)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := Register(ctx, book, book, mustKey(t, "alice"), Address{1}, nil, 5*time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

type countingRegistry struct {
	calls atomic.Int32
	next  Registry
}

func (c *countingRegistry) AccountID(ctx context.Context, addr Address) (uint32, error) {
	c.calls.Add(1)
	time.Sleep(5 * time.Millisecond)
	return c.next.AccountID(ctx, addr)
}

func TestCachedRegistry_OneQueryPerIdentity(t *testing.T) {
	book := NewBook(7, true)
	addr := mustAddress(t, "0x3333333333333333333333333333333333333333")
	_, err := book.CreateAccount(addr, mustKey(t, "alice").PublicKey, nil)
	require.NoError(t, err)

	counter := &countingRegistry{next: book}
	reg := NewCachedRegistry(counter, 0)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := reg.AccountID(context.Background(), addr)
			assert.NoError(t, err)
			assert.Equal(t, uint32(7), id)
		}()
	}
	wg.Wait()
	id, err := reg.AccountID(context.Background(), addr)
	require.NoError(t, err)
	assert.Equal(t, uint32(7), id)
	assert.Equal(t, int32(1), counter.calls.Load())
	assert.Equal(t, 1, reg.Len())

	// misses are not cached
	_, err = reg.AccountID(context.Background(), Address{9})
	assert.ErrorIs(t, err, ErrNotRegistered)
	_, err = reg.AccountID(context.Background(), Address{9})
	assert.ErrorIs(t, err, ErrNotRegistered)
	assert.Equal(t, int32(3), counter.calls.Load())

	reg.Forget(addr)
	assert.Equal(t, 0, reg.Len())
}

func TestBook_ApplyTransfer(t *testing.T) {
	book := NewBook(2, true)
	_, err := book.CreateAccount(Address{2}, mustKey(t, "alice").PublicKey, uint256.NewInt(100))
	require.NoError(t, err)
	_, err = book.CreateAccount(Address{3}, mustKey(t, "bob").PublicKey, nil)
	require.NoError(t, err)

	tests := []struct {
		name string
		tx   *transaction.Transfer
		err  error
	}{
		{"ok", transaction.NewTransfer(2, 3, uint256.NewInt(11), uint256.NewInt(1), 0, 100), nil},
		{"replayed nonce", transaction.NewTransfer(2, 3, uint256.NewInt(11), nil, 0, 100), ErrInvalidNonce},
		{"future nonce", transaction.NewTransfer(2, 3, uint256.NewInt(11), nil, 5, 100), ErrInvalidNonce},
		{"unknown recipient", transaction.NewTransfer(2, 9, uint256.NewInt(1), nil, 1, 100), ErrAccountNotFound},
		{"unknown sender", transaction.NewTransfer(9, 3, uint256.NewInt(1), nil, 0, 100), ErrAccountNotFound},
		{"too much", transaction.NewTransfer(2, 3, uint256.NewInt(89), nil, 1, 100), ErrInsufficientBalance},
		{"second", transaction.NewTransfer(2, 3, uint256.NewInt(88), nil, 1, 100), nil},
	}
	for _, tt := range tests {
		err := book.ApplyTransfer(tt.tx)
		if tt.err == nil {
			assert.NoError(t, err, tt.name)
		} else {
			assert.ErrorIs(t, err, tt.err, tt.name)
		}
	}

	alice, err := book.GetAccount(2)
	require.NoError(t, err)
	bob, err := book.GetAccount(3)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), alice.Balance.Uint64())
	assert.Equal(t, uint32(2), alice.Nonce)
	assert.Equal(t, uint64(99), bob.Balance.Uint64())
	assert.Equal(t, uint64(1), book.FeesCollected().Uint64())
}
