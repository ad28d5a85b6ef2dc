package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/mezonai/mmn-plasma/errors"
	"github.com/mezonai/mmn-plasma/ledger"
	"github.com/mezonai/mmn-plasma/logx"
	"github.com/mezonai/mmn-plasma/monitoring"
	"github.com/mezonai/mmn-plasma/transaction"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type Config struct {
	Endpoint string
	Timeout  time.Duration
	Layout   transaction.Layout
	// HTTPClient overrides the default client, mostly for tests
	HTTPClient *http.Client
}

// OperatorClient talks to the operator REST API. It implements Submitter,
// AccountReader, ledger.Ledger and ledger.Registry.
type OperatorClient struct {
	cfg  Config
	base string
	http *http.Client
}

func NewClient(cfg Config) (*OperatorClient, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if base == "" {
		return nil, errors.InvalidConfig("endpoint", "operator endpoint must be set")
	}
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	if cfg.Layout == (transaction.Layout{}) {
		cfg.Layout = transaction.DefaultLayout()
	}
	if err := cfg.Layout.Validate(); err != nil {
		return nil, err
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &OperatorClient{cfg: cfg, base: base, http: httpClient}, nil
}

func (c *OperatorClient) Endpoint() string {
	return c.base
}

func (c *OperatorClient) Layout() transaction.Layout {
	return c.cfg.Layout
}

// Submit posts a signed transfer to submit_tx
func (c *OperatorClient) Submit(ctx context.Context, tx *transaction.Transfer) (Receipt, error) {
	req, err := ToSubmitRequest(tx, c.cfg.Layout)
	if err != nil {
		return Receipt{}, err
	}

	start := time.Now()
	var res SubmitResponse
	status, err := c.do(ctx, http.MethodPost, PathSubmitTx, req, &res)
	latency := time.Since(start)
	monitoring.RecordSubmitLatency(latency)
	if err != nil {
		return Receipt{}, errors.Transport("submit_tx request failed", err)
	}
	if !res.Accepted {
		reason := res.Error
		if reason == "" {
			reason = "rejected with HTTP " + strconv.Itoa(status)
		}
		logx.Debug("CLIENT", fmt.Sprintf("transfer from %d nonce %d rejected: %s", tx.From, tx.Nonce, reason))
		return Receipt{}, errors.Transport(reason, nil)
	}
	return Receipt{Confirmation: res.Confirmation, Nonce: tx.Nonce, Latency: latency}, nil
}

func (c *OperatorClient) GetAccount(ctx context.Context, id uint32) (*Account, error) {
	var acc Account
	status, err := c.do(ctx, http.MethodGet, PathAccount+strconv.FormatUint(uint64(id), 10), nil, &acc)
	if err != nil {
		if status == http.StatusNotFound {
			return nil, errors.Wrapf(ledger.ErrAccountNotFound, "account %d", id)
		}
		return nil, errors.Transport("account request failed", err)
	}
	return &acc, nil
}

func (c *OperatorClient) GetStatus(ctx context.Context) (*Status, error) {
	var st Status
	if _, err := c.do(ctx, http.MethodGet, PathStatus, nil, &st); err != nil {
		return nil, errors.Transport("status request failed", err)
	}
	return &st, nil
}

// Deposit implements ledger.Ledger through the operator's deposit request
func (c *OperatorClient) Deposit(ctx context.Context, d ledger.Deposit) (ledger.DepositReceipt, error) {
	x, y := d.PublicKey.Hex()
	value := "0"
	if d.Amount != nil {
		value = d.Amount.Dec()
	}
	req := DepositRequest{
		Account:       d.Address.Hex(),
		PublicKey:     [2]string{x, y},
		DepositAmount: value,
	}
	var res DepositResponse
	if _, err := c.do(ctx, http.MethodPost, PathDepositReq, req, &res); err != nil {
		return ledger.DepositReceipt{}, errors.Transport("deposit request failed", err)
	}
	if res.Error != "" {
		return ledger.DepositReceipt{}, errors.Transport(res.Error, nil)
	}
	return ledger.DepositReceipt{AccountID: res.AccountID, Confirmed: res.Confirmed, Reference: res.Reference}, nil
}

// AccountID implements ledger.Registry
func (c *OperatorClient) AccountID(ctx context.Context, addr ledger.Address) (uint32, error) {
	var res AddressResponse
	status, err := c.do(ctx, http.MethodGet, PathAddress+addr.Hex(), nil, &res)
	if err != nil {
		if status == http.StatusNotFound {
			return 0, ledger.ErrNotRegistered
		}
		return 0, errors.Transport("address request failed", err)
	}
	return res.AccountID, nil
}

// do sends body as JSON and decodes the answer into out. Non-2xx answers
// are errors, except for submit_tx whose body carries the verdict.
func (c *OperatorClient) do(ctx context.Context, method, path string, body, out interface{}) (int, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, errors.Wrap(err, "encode request")
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return 0, errors.Wrap(err, "build request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return resp.StatusCode, errors.Wrap(err, "read response")
	}
	if resp.StatusCode/100 != 2 && path != PathSubmitTx {
		var e ErrorResponse
		if json.Unmarshal(raw, &e) == nil && e.Error != "" {
			return resp.StatusCode, errors.Errorf("HTTP %d: %s", resp.StatusCode, e.Error)
		}
		return resp.StatusCode, errors.Errorf("HTTP %d", resp.StatusCode)
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp.StatusCode, errors.Wrap(err, "decode response")
		}
	}
	return resp.StatusCode, nil
}

var (
	_ Submitter       = (*OperatorClient)(nil)
	_ AccountReader   = (*OperatorClient)(nil)
	_ ledger.Ledger   = (*OperatorClient)(nil)
	_ ledger.Registry = (*OperatorClient)(nil)
)
