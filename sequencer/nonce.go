package sequencer

import (
	"context"
	"strconv"
	"sync"

	"github.com/mezonai/mmn-plasma/client"
	"github.com/mezonai/mmn-plasma/errors"
)

// NonceAllocator hands out consecutive nonces starting at a given value.
// Every nonce is returned exactly once, even under concurrent callers.
type NonceAllocator struct {
	mu        sync.Mutex
	next      uint64
	max       uint64
	allocated int
}

// NewNonceAllocator starts at start; max is the largest nonce the encoding can carry
func NewNonceAllocator(start, max uint32) *NonceAllocator {
	return &NonceAllocator{next: uint64(start), max: uint64(max)}
}

func (a *NonceAllocator) Next() (uint32, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.next > a.max {
		return 0, errors.NonceExhausted("no nonce left after " + strconv.FormatUint(a.max, 10))
	}
	n := uint32(a.next)
	a.next++
	a.allocated++
	return n, nil
}

// Peek returns the nonce the next call to Next would return.
// ok is false once the width is used up and Next would fail.
func (a *NonceAllocator) Peek() (nonce uint32, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.next > a.max {
		return 0, false
	}
	return uint32(a.next), true
}

func (a *NonceAllocator) Allocated() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.allocated
}

// Remaining is how many nonces are left before the width is exhausted
func (a *NonceAllocator) Remaining() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.next > a.max {
		return 0
	}
	return a.max - a.next + 1
}

// NextNonceFrom asks the operator for the next nonce of account id. Use it
// as StartNonce when the local count is not trusted.
func NextNonceFrom(ctx context.Context, accounts client.AccountReader, id uint32) (uint32, error) {
	acc, err := accounts.GetAccount(ctx, id)
	if err != nil {
		return 0, err
	}
	return acc.Nonce, nil
}
