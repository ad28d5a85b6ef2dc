// Package sequencer signs and submits batches of transfers from one account.
// Nonces are assigned at a single point in request order, so they are
// contiguous and unique, while submissions run concurrently.
package sequencer

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/mezonai/mmn-plasma/client"
	"github.com/mezonai/mmn-plasma/config"
	"github.com/mezonai/mmn-plasma/errors"
	"github.com/mezonai/mmn-plasma/exception"
	"github.com/mezonai/mmn-plasma/keys"
	"github.com/mezonai/mmn-plasma/logx"
	"github.com/mezonai/mmn-plasma/monitoring"
	"github.com/mezonai/mmn-plasma/transaction"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

type Status int

const (
	StatusPending Status = iota
	StatusDispatching
	StatusCompleted
	StatusPartiallyFailed
	StatusAborted
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusDispatching:
		return "dispatching"
	case StatusCompleted:
		return "completed"
	case StatusPartiallyFailed:
		return "partially_failed"
	case StatusAborted:
		return "aborted"
	default:
		return "status(" + strconv.Itoa(int(s)) + ")"
	}
}

// Final reports whether the batch can no longer change
func (s Status) Final() bool {
	return s == StatusCompleted || s == StatusPartiallyFailed || s == StatusAborted
}

// Item is one transfer of a batch. A zero ValidUntilBlock takes the
// configured default.
type Item struct {
	To              uint32
	Amount          *uint256.Int
	Fee             *uint256.Int
	ValidUntilBlock uint32
}

// Request is a batch of transfers from From signed with Key. StartNonce must
// be the account's next nonce.
type Request struct {
	ID         string
	From       uint32
	Key        *keys.KeyPair
	StartNonce uint32
	Items      []Item
}

type ItemResult struct {
	Index         int
	Nonce         uint32
	NonceAssigned bool
	Transfer      *transaction.Transfer
	Receipt       *client.Receipt
	Err           error
}

func (r ItemResult) OK() bool {
	return r.Err == nil && r.Receipt != nil
}

type Ack struct {
	Index   int
	Nonce   uint32
	Receipt client.Receipt
}

type Failure struct {
	Index int
	// Nonce is only meaningful when the failure happened after assignment
	Nonce         uint32
	NonceAssigned bool
	Err           error
}

type Result struct {
	BatchID  string
	Status   Status
	Items    []ItemResult
	Acks     []Ack
	Failures []Failure
	// NextNonce is only valid when NonceExhausted is false
	NextNonce      uint32
	NonceExhausted bool
}

// Resume returns the StartNonce a follow-up batch should use
func (r *Result) Resume() (uint32, error) {
	if r.NonceExhausted {
		return 0, errors.NonceExhausted("batch " + r.BatchID + " used the last nonce")
	}
	return r.NextNonce, nil
}

type Sequencer struct {
	submitter client.Submitter
	cfg       config.BatchConfig
	layout    transaction.Layout
	inFlight  *semaphore.Weighted
	limiter   *rate.Limiter
}

func New(submitter client.Submitter, cfg config.BatchConfig, layout transaction.Layout) (*Sequencer, error) {
	if submitter == nil {
		return nil, errors.InvalidConfig("submitter", "must not be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := layout.Validate(); err != nil {
		return nil, err
	}
	limit := rate.Inf
	if cfg.SubmitRate > 0 {
		limit = rate.Limit(cfg.SubmitRate)
	}
	burst := cfg.SubmitBurst
	if burst <= 0 {
		burst = 1
	}
	return &Sequencer{
		submitter: submitter,
		cfg:       cfg,
		layout:    layout,
		inFlight:  semaphore.NewWeighted(int64(cfg.MaxInFlight)),
		limiter:   rate.NewLimiter(limit, burst),
	}, nil
}

// Batch is a running batch
type Batch struct {
	seq    *Sequencer
	id     string
	req    Request
	ctx    context.Context
	cancel context.CancelFunc
	alloc  *NonceAllocator

	mu      sync.Mutex
	status  Status
	results []ItemResult
	aborted bool

	dispatches sync.WaitGroup
	done       chan struct{}
	result     *Result
}

// Start validates req and begins processing it in the background.
// NonceExhausted is returned before any nonce is assigned when the batch
// cannot be numbered.
func (s *Sequencer) Start(ctx context.Context, req Request) (*Batch, error) {
	if req.Key == nil {
		return nil, errors.New("batch has no signing key")
	}
	n := len(req.Items)
	if n > s.cfg.MaxNonces {
		return nil, errors.NonceExhausted(fmt.Sprintf("batch of %d items exceeds the limit of %d nonces", n, s.cfg.MaxNonces))
	}
	if n > 0 && uint64(req.StartNonce)+uint64(n)-1 > uint64(s.layout.MaxNonce()) {
		return nil, errors.NonceExhausted(fmt.Sprintf("nonces %d..%d exceed the %d bit nonce field",
			req.StartNonce, uint64(req.StartNonce)+uint64(n)-1, s.layout.NonceBits))
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	batchCtx, cancel := context.WithCancel(ctx)
	b := &Batch{
		seq:     s,
		id:      req.ID,
		req:     req,
		ctx:     batchCtx,
		cancel:  cancel,
		alloc:   NewNonceAllocator(req.StartNonce, s.layout.MaxNonce()),
		status:  StatusPending,
		results: make([]ItemResult, n),
		done:    make(chan struct{}),
	}
	for i := range b.results {
		b.results[i].Index = i
	}

	exception.SafeGoWithRecover("batch-"+b.id, b.run, func(r interface{}) {
		// run died half way: report what is left and finish the batch
		b.abortRemaining(0, errors.New(fmt.Sprint("panic: ", r)))
		b.dispatches.Wait()
		b.finish()
	})
	return b, nil
}

// Run processes req and waits for the outcome
func (s *Sequencer) Run(ctx context.Context, req Request) (*Result, error) {
	b, err := s.Start(ctx, req)
	if err != nil {
		return nil, err
	}
	// the batch itself stops on ctx; wait for its report regardless
	return b.Wait(context.Background())
}

func (b *Batch) ID() string {
	return b.id
}

// Abort stops assigning nonces. Items already handed to the operator finish.
func (b *Batch) Abort() {
	b.cancel()
}

func (b *Batch) State() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

func (b *Batch) Done() <-chan struct{} {
	return b.done
}

// Wait blocks until the batch is final or ctx is done
func (b *Batch) Wait(ctx context.Context) (*Result, error) {
	select {
	case <-b.done:
		return b.result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (b *Batch) setStatus(s Status) {
	b.mu.Lock()
	b.status = s
	b.mu.Unlock()
}

func (b *Batch) run() {
	b.setStatus(StatusDispatching)
	logx.Info("SEQUENCER", fmt.Sprintf("batch %s: %d transfers from %d starting at nonce %d",
		b.id, len(b.req.Items), b.req.From, b.req.StartNonce))

	for i, item := range b.req.Items {
		if err := b.acquire(); err != nil {
			b.abortRemaining(i, err)
			break
		}
		if !b.prepareAndDispatch(i, item) {
			b.seq.inFlight.Release(1)
		}
	}
	b.dispatches.Wait()
	b.finish()
}

// acquire takes an in-flight slot and a rate token, failing once the batch is aborted
func (b *Batch) acquire() error {
	if err := b.ctx.Err(); err != nil {
		return err
	}
	if err := b.seq.inFlight.Acquire(b.ctx, 1); err != nil {
		return err
	}
	if err := b.seq.limiter.Wait(b.ctx); err != nil {
		b.seq.inFlight.Release(1)
		return err
	}
	if err := b.ctx.Err(); err != nil {
		b.seq.inFlight.Release(1)
		return err
	}
	return nil
}

// prepareAndDispatch assigns the next nonce to item, signs it and hands it to
// a dispatch goroutine. It returns false when nothing was dispatched.
func (b *Batch) prepareAndDispatch(i int, item Item) bool {
	nonce, err := b.alloc.Next()
	if err != nil {
		b.fail(i, 0, false, err)
		return false
	}
	monitoring.IncreaseAllocatedNonces(1)

	validUntil := item.ValidUntilBlock
	if validUntil == 0 {
		validUntil = b.seq.cfg.ValidUntilBlock
	}
	tx := transaction.NewTransfer(b.req.From, item.To, item.Amount, item.Fee, nonce, validUntil)
	b.mu.Lock()
	b.results[i].Nonce = nonce
	b.results[i].NonceAssigned = true
	b.results[i].Transfer = tx
	b.mu.Unlock()

	// a record that cannot be encoded keeps its nonce: the operator will see a gap
	if err := tx.Sign(b.seq.layout, b.req.Key); err != nil {
		monitoring.RecordEncodeFailure(string(errors.CodeOf(err)))
		logx.Warn("SEQUENCER", fmt.Sprintf("batch %s item %d nonce %d: %v", b.id, i, nonce, err))
		b.fail(i, nonce, true, err)
		return false
	}
	monitoring.IncreaseSignedTxCount()

	b.dispatches.Add(1)
	exception.SafeGoWithRecover(fmt.Sprintf("batch-%s-dispatch-%d", b.id, i), func() {
		defer b.dispatches.Done()
		defer b.seq.inFlight.Release(1)
		b.dispatch(i, tx)
	}, func(r interface{}) {
		b.fail(i, nonce, true, errors.Transport(fmt.Sprint("submit panicked: ", r), nil))
	})
	return true
}

func (b *Batch) dispatch(i int, tx *transaction.Transfer) {
	// a started submission is never cancelled by an abort
	ctx := context.WithoutCancel(b.ctx)
	if b.seq.cfg.SubmitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.seq.cfg.SubmitTimeout)
		defer cancel()
	}

	monitoring.AddInFlight(1)
	start := time.Now()
	receipt, err := b.seq.submitter.Submit(ctx, tx)
	monitoring.AddInFlight(-1)
	if err != nil {
		monitoring.RecordRejectedTx(monitoring.TxTransportFailure)
		logx.Warn("SEQUENCER", fmt.Sprintf("batch %s item %d nonce %d failed: %v", b.id, i, tx.Nonce, err))
		b.fail(i, tx.Nonce, true, err)
		return
	}
	monitoring.IncreaseSubmittedTxCount()
	logx.Debug("SEQUENCER", fmt.Sprintf("batch %s item %d nonce %d accepted in %s", b.id, i, tx.Nonce, time.Since(start)))
	b.mu.Lock()
	b.results[i].Receipt = &receipt
	b.mu.Unlock()
}

func (b *Batch) fail(i int, nonce uint32, assigned bool, err error) {
	if errors.CodeOf(err) == "" {
		err = errors.Transport(err.Error(), err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.results[i].Err = errors.WithIndex(err, i)
	if assigned {
		b.results[i].Nonce = nonce
		b.results[i].NonceAssigned = true
	}
}

// abortRemaining marks every item from index from on that never got a nonce
func (b *Batch) abortRemaining(from int, cause error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := from; i < len(b.results); i++ {
		r := &b.results[i]
		if r.NonceAssigned || r.Err != nil {
			continue
		}
		r.Err = errors.WithIndex(errors.BatchAborted("batch aborted before dispatch", cause), i)
		b.aborted = true
	}
}

func (b *Batch) finish() {
	b.mu.Lock()
	if b.result != nil {
		b.mu.Unlock()
		return
	}
	next, ok := b.alloc.Peek()
	res := &Result{
		BatchID:        b.id,
		Items:          append([]ItemResult(nil), b.results...),
		NextNonce:      next,
		NonceExhausted: !ok,
	}
	for _, r := range res.Items {
		switch {
		case r.Err != nil:
			res.Failures = append(res.Failures, Failure{Index: r.Index, Nonce: r.Nonce, NonceAssigned: r.NonceAssigned, Err: r.Err})
		case r.Receipt != nil:
			res.Acks = append(res.Acks, Ack{Index: r.Index, Nonce: r.Nonce, Receipt: *r.Receipt})
		}
	}
	sort.Slice(res.Failures, func(i, j int) bool { return res.Failures[i].Index < res.Failures[j].Index })
	switch {
	case b.aborted:
		res.Status = StatusAborted
	case len(res.Failures) > 0:
		res.Status = StatusPartiallyFailed
	default:
		res.Status = StatusCompleted
	}
	b.status = res.Status
	b.result = res
	b.mu.Unlock()

	b.cancel()
	monitoring.RecordBatch(res.Status.String())
	if res.NonceExhausted {
		logx.Warn("SEQUENCER", fmt.Sprintf("batch %s %s: %d acked, %d failed, nonce space exhausted",
			b.id, res.Status, len(res.Acks), len(res.Failures)))
	} else {
		logx.Info("SEQUENCER", fmt.Sprintf("batch %s %s: %d acked, %d failed, next nonce %d",
			b.id, res.Status, len(res.Acks), len(res.Failures), res.NextNonce))
	}
	close(b.done)
}
