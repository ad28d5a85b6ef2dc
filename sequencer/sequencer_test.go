package sequencer

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/mezonai/mmn-plasma/client"
	"github.com/mezonai/mmn-plasma/config"
	"github.com/mezonai/mmn-plasma/errors"
	"github.com/mezonai/mmn-plasma/keys"
	"github.com/mezonai/mmn-plasma/transaction"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSubmitter struct {
	layout    transaction.Layout
	pub       keys.PublicKey
	failNonce map[uint32]bool
	block     chan struct{}

	mu          sync.Mutex
	nonces      []uint32
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func newFakeSubmitter(kp *keys.KeyPair) *fakeSubmitter {
	return &fakeSubmitter{layout: transaction.DefaultLayout(), pub: kp.PublicKey, failNonce: map[uint32]bool{}}
}

func (f *fakeSubmitter) Submit(ctx context.Context, tx *transaction.Transfer) (client.Receipt, error) {
	cur := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		prev := f.maxInFlight.Load()
		if cur <= prev || f.maxInFlight.CompareAndSwap(prev, cur) {
			break
		}
	}
	if f.block != nil {
		<-f.block
	}

	f.mu.Lock()
	f.nonces = append(f.nonces, tx.Nonce)
	f.mu.Unlock()

	if err := tx.Verify(f.layout, f.pub); err != nil {
		return client.Receipt{}, err
	}
	if f.failNonce[tx.Nonce] {
		return client.Receipt{}, errors.Transport("Rate limit exceeded", nil)
	}
	return client.Receipt{Confirmation: fmt.Sprint("ok-", tx.Nonce), Nonce: tx.Nonce}, nil
}

func (f *fakeSubmitter) submitted() []uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]uint32(nil), f.nonces...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func testKey(t *testing.T) *keys.KeyPair {
	t.Helper()
	kp, err := keys.DeriveFromSeed([]byte("sequencer test key"))
	require.NoError(t, err)
	return kp
}

func testConfig(maxInFlight int) config.BatchConfig {
	cfg := config.DefaultBatchConfig()
	cfg.MaxInFlight = maxInFlight
	cfg.SubmitTimeout = time.Second
	return cfg
}

func items(n int) []Item {
	out := make([]Item, n)
	for i := range out {
		out[i] = Item{To: 3, Amount: uint256.NewInt(11), Fee: uint256.NewInt(0)}
	}
	return out
}

func newSequencer(t *testing.T, sub client.Submitter, cfg config.BatchConfig) *Sequencer {
	t.Helper()
	seq, err := New(sub, cfg, transaction.DefaultLayout())
	require.NoError(t, err)
	return seq
}

func TestRun_ContiguousNonces(t *testing.T) {
	kp := testKey(t)
	sub := newFakeSubmitter(kp)
	seq := newSequencer(t, sub, testConfig(8))

	res, err := seq.Run(context.Background(), Request{From: 2, Key: kp, StartNonce: 10, Items: items(50)})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Len(t, res.Acks, 50)
	assert.Empty(t, res.Failures)
	assert.Equal(t, uint32(60), res.NextNonce)
	assert.NotEmpty(t, res.BatchID)

	got := sub.submitted()
	require.Len(t, got, 50)
	for i, n := range got {
		assert.Equal(t, uint32(10+i), n)
	}
	// nonces follow request order
	for _, r := range res.Items {
		assert.Equal(t, uint32(10+r.Index), r.Nonce)
		assert.True(t, r.OK())
	}
	assert.LessOrEqual(t, sub.maxInFlight.Load(), int32(8))
}

func TestRun_TransportFailureAtIndex3(t *testing.T) {
	kp := testKey(t)
	sub := newFakeSubmitter(kp)
	sub.failNonce[3] = true
	seq := newSequencer(t, sub, testConfig(4))

	res, err := seq.Run(context.Background(), Request{From: 2, Key: kp, Items: items(6)})
	require.NoError(t, err)
	assert.Equal(t, StatusPartiallyFailed, res.Status)
	require.Len(t, res.Failures, 1)
	f := res.Failures[0]
	assert.Equal(t, 3, f.Index)
	assert.Equal(t, uint32(3), f.Nonce)
	assert.True(t, errors.Is(f.Err, errors.ErrTransport))
	assert.Equal(t, 3, errors.IndexOf(f.Err))

	acked := []int{}
	for _, a := range res.Acks {
		acked = append(acked, a.Index)
		assert.Equal(t, uint32(a.Index), a.Nonce)
	}
	sort.Ints(acked)
	assert.Equal(t, []int{0, 1, 2, 4, 5}, acked)
	// no resubmission
	assert.Equal(t, []uint32{0, 1, 2, 3, 4, 5}, sub.submitted())
	assert.Equal(t, uint32(6), res.NextNonce)
}

func TestRun_EncodeFailureConsumesNonce(t *testing.T) {
	kp := testKey(t)
	sub := newFakeSubmitter(kp)
	seq := newSequencer(t, sub, testConfig(2))

	batch := items(6)
	tooLarge := transaction.DefaultLayout().Amount.MaxValue()
	tooLarge.AddUint64(tooLarge, 1)
	batch[3].Amount = tooLarge

	res, err := seq.Run(context.Background(), Request{From: 2, Key: kp, StartNonce: 100, Items: batch})
	require.NoError(t, err)
	assert.Equal(t, StatusPartiallyFailed, res.Status)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, 3, res.Failures[0].Index)
	assert.True(t, res.Failures[0].NonceAssigned)
	assert.Equal(t, uint32(103), res.Failures[0].Nonce)
	assert.Equal(t, errors.CodeAmountTooLarge, errors.CodeOf(res.Failures[0].Err))
	assert.Equal(t, 3, errors.IndexOf(res.Failures[0].Err))

	assert.Equal(t, []uint32{100, 101, 102, 104, 105}, sub.submitted())
	assert.Equal(t, uint32(106), res.NextNonce)
}

func TestStart_NonceExhausted(t *testing.T) {
	kp := testKey(t)
	sub := newFakeSubmitter(kp)
	cfg := testConfig(2)
	cfg.MaxNonces = 4
	seq := newSequencer(t, sub, cfg)

	_, err := seq.Start(context.Background(), Request{From: 2, Key: kp, Items: items(5)})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNonceExhausted))

	_, err = seq.Start(context.Background(), Request{From: 2, Key: kp, StartNonce: math.MaxUint32 - 1, Items: items(3)})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNonceExhausted))
	assert.Empty(t, sub.submitted())

	res, err := seq.Run(context.Background(), Request{From: 2, Key: kp, StartNonce: math.MaxUint32 - 1, Items: items(2)})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, []uint32{math.MaxUint32 - 1, math.MaxUint32}, sub.submitted())
	assert.True(t, res.NonceExhausted)
	_, err = res.Resume()
	assert.True(t, errors.Is(err, errors.ErrNonceExhausted))
}

func TestRun_LastNonceDoesNotWrap(t *testing.T) {
	kp := testKey(t)
	sub := newFakeSubmitter(kp)
	seq := newSequencer(t, sub, testConfig(1))

	res, err := seq.Run(context.Background(), Request{From: 2, Key: kp, StartNonce: math.MaxUint32, Items: items(1)})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, []uint32{math.MaxUint32}, sub.submitted())
	assert.True(t, res.NonceExhausted)

	_, err = res.Resume()
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNonceExhausted))

	// one short of the top still resumes normally
	res, err = seq.Run(context.Background(), Request{From: 2, Key: kp, StartNonce: math.MaxUint32 - 2, Items: items(1)})
	require.NoError(t, err)
	assert.False(t, res.NonceExhausted)
	next, err := res.Resume()
	require.NoError(t, err)
	assert.Equal(t, uint32(math.MaxUint32-1), next)
}

func TestBatch_Abort(t *testing.T) {
	kp := testKey(t)
	sub := newFakeSubmitter(kp)
	sub.block = make(chan struct{})
	seq := newSequencer(t, sub, testConfig(2))

	b, err := seq.Start(context.Background(), Request{From: 2, Key: kp, StartNonce: 7, Items: items(10)})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return sub.inFlight.Load() == 2 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, StatusDispatching, b.State())

	b.Abort()
	close(sub.block)

	res, err := b.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusAborted, res.Status)
	assert.Equal(t, StatusAborted, b.State())
	assert.Len(t, res.Acks, 2)
	require.Len(t, res.Failures, 8)
	for _, f := range res.Failures {
		assert.True(t, errors.Is(f.Err, errors.ErrBatchAborted))
		assert.False(t, f.NonceAssigned)
	}
	assert.Equal(t, uint32(9), res.NextNonce)
	assert.Equal(t, []uint32{7, 8}, sub.submitted())
}

func TestRun_CanceledContext(t *testing.T) {
	kp := testKey(t)
	sub := newFakeSubmitter(kp)
	seq := newSequencer(t, sub, testConfig(2))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := seq.Run(ctx, Request{From: 2, Key: kp, StartNonce: 4, Items: items(3)})
	require.NoError(t, err)
	assert.Equal(t, StatusAborted, res.Status)
	assert.Len(t, res.Failures, 3)
	assert.Equal(t, uint32(4), res.NextNonce)
	assert.Empty(t, sub.submitted())
}

func TestRun_EmptyBatch(t *testing.T) {
	kp := testKey(t)
	seq := newSequencer(t, newFakeSubmitter(kp), testConfig(1))
	res, err := seq.Run(context.Background(), Request{ID: "empty", From: 2, Key: kp, StartNonce: 5})
	require.NoError(t, err)
	assert.Equal(t, "empty", res.BatchID)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, uint32(5), res.NextNonce)
	assert.False(t, res.NonceExhausted)
}

func TestRun_ConcurrentBatches(t *testing.T) {
	kp := testKey(t)
	subs := make([]*fakeSubmitter, 4)
	var wg sync.WaitGroup
	for i := range subs {
		subs[i] = newFakeSubmitter(kp)
		seq := newSequencer(t, subs[i], testConfig(3))
		wg.Add(1)
		go func(from uint32) {
			defer wg.Done()
			res, err := seq.Run(context.Background(), Request{From: from, Key: kp, Items: items(20)})
			assert.NoError(t, err)
			assert.Equal(t, StatusCompleted, res.Status)
		}(uint32(i + 1))
	}
	wg.Wait()
	for _, sub := range subs {
		got := sub.submitted()
		require.Len(t, got, 20)
		for i, n := range got {
			assert.Equal(t, uint32(i), n)
		}
	}
}

func TestRun_Paced(t *testing.T) {
	kp := testKey(t)
	cfg := testConfig(4)
	cfg.SubmitRate = 100
	cfg.SubmitBurst = 1
	seq := newSequencer(t, newFakeSubmitter(kp), cfg)

	start := time.Now()
	res, err := seq.Run(context.Background(), Request{From: 2, Key: kp, Items: items(5)})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.GreaterOrEqual(t, time.Since(start), 35*time.Millisecond)
}

func TestNew_InvalidConfig(t *testing.T) {
	kp := testKey(t)
	_, err := New(newFakeSubmitter(kp), config.BatchConfig{}, transaction.DefaultLayout())
	assert.True(t, errors.Is(err, errors.ErrInvalidConfig))

	_, err = New(nil, testConfig(1), transaction.DefaultLayout())
	assert.True(t, errors.Is(err, errors.ErrInvalidConfig))

	_, err = New(newFakeSubmitter(kp), testConfig(1), transaction.Layout{})
	assert.True(t, errors.Is(err, errors.ErrInvalidConfig))
}

func TestStatus_String(t *testing.T) {
	assert.Equal(t, "partially_failed", StatusPartiallyFailed.String())
	assert.True(t, StatusAborted.Final())
	assert.False(t, StatusDispatching.Final())
	assert.Equal(t, "status(42)", Status(42).String())
}
