package client

import (
	"context"

	"github.com/mezonai/mmn-plasma/transaction"
)

// Submitter hands one signed transfer to the operator. A transfer that was
// not accepted returns a transport error carrying the operator's reason.
type Submitter interface {
	Submit(ctx context.Context, tx *transaction.Transfer) (Receipt, error)
}

// AccountReader reads the operator's view of an account, the authoritative
// source of the next nonce
type AccountReader interface {
	GetAccount(ctx context.Context, id uint32) (*Account, error)
}
