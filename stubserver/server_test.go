package stubserver_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/mezonai/mmn-plasma/client"
	"github.com/mezonai/mmn-plasma/config"
	"github.com/mezonai/mmn-plasma/errors"
	"github.com/mezonai/mmn-plasma/keys"
	"github.com/mezonai/mmn-plasma/ledger"
	"github.com/mezonai/mmn-plasma/sequencer"
	"github.com/mezonai/mmn-plasma/stubserver"
	"github.com/mezonai/mmn-plasma/transaction"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const senderScalar = "0x3a096bf1e1c006c7f7622015d78d9212e0aff5ca36a9c951afed2d449729d1c"

type env struct {
	srv    *stubserver.Server
	ts     *httptest.Server
	client *client.OperatorClient
	sender *keys.KeyPair
}

// newEnv starts an operator with account 2 (the sender, balance 1000) and
// account 3 (empty)
func newEnv(t *testing.T, cfg stubserver.Config) *env {
	t.Helper()
	book := ledger.NewBook(2, true)
	srv := stubserver.New(cfg, book)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	cl, err := client.NewClient(client.Config{Endpoint: ts.URL, Timeout: 5 * time.Second})
	require.NoError(t, err)

	sender, err := keys.ParsePrivateKey(senderScalar)
	require.NoError(t, err)
	recipient, err := keys.DeriveFromSeed([]byte("recipient"))
	require.NoError(t, err)

	acc, err := book.CreateAccount(ledger.Address{0x02}, sender.PublicKey, uint256.NewInt(1000))
	require.NoError(t, err)
	require.Equal(t, uint32(2), acc.ID)
	acc, err = book.CreateAccount(ledger.Address{0x03}, recipient.PublicKey, nil)
	require.NoError(t, err)
	require.Equal(t, uint32(3), acc.ID)

	return &env{srv: srv, ts: ts, client: cl, sender: sender}
}

func (e *env) transfer(t *testing.T, kp *keys.KeyPair, from, to uint32, value, fee uint64, nonce uint32) *transaction.Transfer {
	t.Helper()
	tx := transaction.NewTransfer(from, to, uint256.NewInt(value), uint256.NewInt(fee), nonce, 100)
	require.NoError(t, tx.Sign(transaction.DefaultLayout(), kp))
	return tx
}

func rejection(t *testing.T, err error) string {
	t.Helper()
	require.Error(t, err)
	var e *errors.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, errors.CodeTransport, e.Code)
	return e.Message
}

func TestBatchAgainstOperator(t *testing.T) {
	e := newEnv(t, stubserver.Config{})
	cfg := config.DefaultBatchConfig()
	cfg.MaxInFlight = 8
	seq, err := sequencer.New(e.client, cfg, transaction.DefaultLayout())
	require.NoError(t, err)

	ctx := context.Background()
	start, err := sequencer.NextNonceFrom(ctx, e.client, 2)
	require.NoError(t, err)
	require.Equal(t, uint32(0), start)

	items := make([]sequencer.Item, 8)
	for i := range items {
		items[i] = sequencer.Item{To: 3, Amount: uint256.NewInt(11), Fee: uint256.NewInt(0), ValidUntilBlock: 100}
	}
	res, err := seq.Run(ctx, sequencer.Request{From: 2, Key: e.sender, StartNonce: start, Items: items})
	require.NoError(t, err)
	require.Empty(t, res.Failures)
	assert.Equal(t, sequencer.StatusCompleted, res.Status)
	assert.Equal(t, uint32(8), res.NextNonce)

	sender, err := e.client.GetAccount(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, uint32(8), sender.Nonce)
	assert.Equal(t, "912", sender.Balance)
	recipient, err := e.client.GetAccount(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, "88", recipient.Balance)

	st, err := e.client.GetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(8), st.Processed)
	assert.Equal(t, 2, st.Accounts)
}

func TestSubmitTx_Rejections(t *testing.T) {
	e := newEnv(t, stubserver.Config{NonceOrderTimeout: 50 * time.Millisecond})
	ctx := context.Background()
	other, err := keys.DeriveFromSeed([]byte("intruder"))
	require.NoError(t, err)

	_, err = e.client.Submit(ctx, e.transfer(t, e.sender, 2, 2, 11, 0, 0))
	assert.Equal(t, "sender and recipient must differ", rejection(t, err))

	_, err = e.client.Submit(ctx, e.transfer(t, e.sender, 2, 3, 0, 0, 0))
	assert.Equal(t, "amount must not be zero", rejection(t, err))

	_, err = e.client.Submit(ctx, e.transfer(t, e.sender, 9, 3, 11, 0, 0))
	assert.Contains(t, rejection(t, err), "does not exist")

	_, err = e.client.Submit(ctx, e.transfer(t, other, 2, 3, 11, 0, 0))
	assert.Equal(t, "invalid signature", rejection(t, err))

	_, err = e.client.Submit(ctx, e.transfer(t, e.sender, 2, 3, 5000, 0, 0))
	assert.Equal(t, "insufficient balance", rejection(t, err))

	_, err = e.client.Submit(ctx, e.transfer(t, e.sender, 2, 3, 11, 0, 3))
	assert.Contains(t, rejection(t, err), "out of order")

	_, err = e.client.Submit(ctx, e.transfer(t, e.sender, 2, 3, 11, 1, 0))
	require.NoError(t, err)
	_, err = e.client.Submit(ctx, e.transfer(t, e.sender, 2, 3, 11, 1, 0))
	assert.Contains(t, rejection(t, err), "already used")

	st, err := e.client.GetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), st.Processed)
	assert.Equal(t, uint64(7), st.Rejected)
	assert.Equal(t, "1", st.Fees)
}

func TestSubmitTx_OutOfOrderArrival(t *testing.T) {
	e := newEnv(t, stubserver.Config{NonceOrderTimeout: 2 * time.Second})
	ctx := context.Background()

	second := e.transfer(t, e.sender, 2, 3, 11, 0, 1)
	later := make(chan error, 1)
	go func() {
		_, err := e.client.Submit(ctx, second)
		later <- err
	}()
	require.Eventually(t, func() bool {
		st, err := e.client.GetStatus(ctx)
		return err == nil && st.Outstanding == 1
	}, 2*time.Second, 5*time.Millisecond)

	_, err := e.client.Submit(ctx, e.transfer(t, e.sender, 2, 3, 11, 0, 0))
	require.NoError(t, err)
	require.NoError(t, <-later)

	acc, err := e.client.GetAccount(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), acc.Nonce)
}

func TestSubmitTx_RateLimit(t *testing.T) {
	e := newEnv(t, stubserver.Config{MaxOutstanding: 1, NonceOrderTimeout: time.Second})
	ctx := context.Background()

	future := e.transfer(t, e.sender, 2, 3, 11, 0, 1)
	waiting := make(chan error, 1)
	go func() {
		_, err := e.client.Submit(ctx, future)
		waiting <- err
	}()
	require.Eventually(t, func() bool {
		st, err := e.client.GetStatus(ctx)
		return err == nil && st.Outstanding == 1
	}, 2*time.Second, 5*time.Millisecond)

	_, err := e.client.Submit(ctx, e.transfer(t, e.sender, 2, 3, 11, 0, 0))
	assert.Equal(t, stubserver.RateLimitExceeded, rejection(t, err))

	assert.Contains(t, rejection(t, <-waiting), "out of order")
}

func TestSubmitTx_MalformedBody(t *testing.T) {
	e := newEnv(t, stubserver.Config{})
	resp, err := http.Post(e.ts.URL+client.PathSubmitTx, "application/json", bytes.NewBufferString(`{"from":"x"`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRegisterThroughOperator(t *testing.T) {
	e := newEnv(t, stubserver.Config{})
	ctx := context.Background()
	kp, err := keys.DeriveFromSeed([]byte("newcomer"))
	require.NoError(t, err)
	addr := ledger.Address{0x44}

	_, err = e.client.AccountID(ctx, addr)
	assert.True(t, errors.Is(err, ledger.ErrNotRegistered))

	id, err := ledger.Register(ctx, e.client, e.client, kp, addr, uint256.NewInt(500), 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, uint32(4), id)

	got, err := e.client.AccountID(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, id, got)

	acc, err := e.client.GetAccount(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "500", acc.Balance)
	x, y := kp.PublicKey.Hex()
	assert.Equal(t, x, acc.PublicKeyX)
	assert.Equal(t, y, acc.PublicKeyY)
	assert.Equal(t, addr.Hex(), acc.Address)

	_, err = e.client.GetAccount(ctx, 99)
	assert.True(t, errors.Is(err, ledger.ErrAccountNotFound))
}

func TestRegister_WaitsForConfirmation(t *testing.T) {
	book := ledger.NewBook(1, false)
	srv := stubserver.New(stubserver.Config{}, book)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	cl, err := client.NewClient(client.Config{Endpoint: ts.URL, Timeout: time.Second})
	require.NoError(t, err)

	kp, err := keys.DeriveFromSeed([]byte("slow deposit"))
	require.NoError(t, err)

	go func() {
		time.Sleep(50 * time.Millisecond)
		book.ConfirmPending()
	}()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	id, err := ledger.Register(ctx, cl, cl, kp, ledger.Address{0x07}, uint256.NewInt(1), 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), id)
	assert.Same(t, book, srv.Book())
}
