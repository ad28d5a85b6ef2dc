package client

import (
	"time"

	"github.com/holiman/uint256"
	"github.com/mezonai/mmn-plasma/errors"
)

const (
	APIPrefix       = "/api/v0.1"
	PathSubmitTx    = APIPrefix + "/submit_tx"
	PathAccount     = APIPrefix + "/account/"
	PathStatus      = APIPrefix + "/status"
	PathDepositReq  = APIPrefix + "/depositreq"
	PathAddress     = APIPrefix + "/address/"
	maxResponseSize = 1 << 20
)

// WireSignature is the signature as the operator API carries it
type WireSignature struct {
	RX string `json:"r_x"`
	RY string `json:"r_y"`
	S  string `json:"s"`
}

// SubmitRequest is the body of submit_tx. Amount and fee are decimal
// strings; the packed forms are the integers the encoding carries.
type SubmitRequest struct {
	From           uint32        `json:"from"`
	To             uint32        `json:"to"`
	Amount         string        `json:"amount"`
	Fee            string        `json:"fee"`
	PackedAmount   string        `json:"packed_amount,omitempty"`
	PackedFee      string        `json:"packed_fee,omitempty"`
	Nonce          uint32        `json:"nonce"`
	GoodUntilBlock uint32        `json:"good_until_block"`
	Signature      WireSignature `json:"signature"`
}

type SubmitResponse struct {
	Accepted     bool   `json:"accepted"`
	Error        string `json:"error,omitempty"`
	Confirmation string `json:"confirmation,omitempty"`
}

// Receipt is the operator's acknowledgement of one transfer
type Receipt struct {
	Confirmation string
	Nonce        uint32
	Latency      time.Duration
}

type Account struct {
	ID         uint32 `json:"id"`
	Address    string `json:"address,omitempty"`
	Nonce      uint32 `json:"nonce"`
	Balance    string `json:"balance"`
	PublicKeyX string `json:"public_key_x"`
	PublicKeyY string `json:"public_key_y"`
}

func (a *Account) BalanceInt() (*uint256.Int, error) {
	if a.Balance == "" {
		return new(uint256.Int), nil
	}
	v, err := uint256.FromDecimal(a.Balance)
	if err != nil {
		return nil, errors.Wrap(err, "invalid balance")
	}
	return v, nil
}

type Status struct {
	Accounts    int    `json:"accounts"`
	Outstanding int    `json:"outstanding"`
	Processed   uint64 `json:"processed"`
	Rejected    uint64 `json:"rejected"`
	Fees        string `json:"fees"`
}

// DepositRequest registers PublicKey ([x, y] as hex) for the base ledger
// address Account with an initial deposit
type DepositRequest struct {
	Account       string    `json:"account"`
	PublicKey     [2]string `json:"public_key"`
	DepositAmount string    `json:"deposit_amount"`
}

type DepositResponse struct {
	AccountID uint32 `json:"account_id"`
	Confirmed bool   `json:"confirmed"`
	Reference string `json:"reference,omitempty"`
	Error     string `json:"error,omitempty"`
}

type AddressResponse struct {
	AccountID uint32 `json:"account_id"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
