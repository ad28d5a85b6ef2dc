package transaction

import (
	"bytes"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/mezonai/mmn-plasma/errors"
	"github.com/mezonai/mmn-plasma/keys"
	"github.com/mezonai/mmn-plasma/logx"
	"github.com/mezonai/mmn-plasma/signer"
)

// Transfer moves Amount from account From to account To, paying Fee to the
// operator. It is only accepted with Nonce equal to the sender's next nonce
// and up to block ValidUntilBlock.
type Transfer struct {
	From            uint32       `json:"from"`
	To              uint32       `json:"to"`
	Amount          *uint256.Int `json:"amount"`
	Fee             *uint256.Int `json:"fee"`
	Nonce           uint32       `json:"nonce"`
	ValidUntilBlock uint32       `json:"good_until_block"`

	// set by Sign, cleared as soon as the fields no longer match signedMsg
	sig       *signer.Signature
	signedMsg []byte
	layout    Layout
}

func NewTransfer(from, to uint32, value, fee *uint256.Int, nonce, validUntilBlock uint32) *Transfer {
	return &Transfer{
		From:            from,
		To:              to,
		Amount:          cloneValue(value),
		Fee:             cloneValue(fee),
		Nonce:           nonce,
		ValidUntilBlock: validUntilBlock,
	}
}

func cloneValue(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v.Clone()
}

// Sign encodes the record with layout and attaches the signature of kp
func (tx *Transfer) Sign(layout Layout, kp *keys.KeyPair) error {
	msg, err := layout.Encode(tx)
	if err != nil {
		return err
	}
	sig, err := signer.Sign(kp, msg)
	if err != nil {
		return err
	}
	tx.sig = sig
	tx.signedMsg = msg
	tx.layout = layout
	return nil
}

// Signature returns the attached signature, or nil when the record was never
// signed or has been modified since
func (tx *Transfer) Signature() *signer.Signature {
	if tx.sig == nil {
		return nil
	}
	msg, err := tx.layout.Encode(tx)
	if err != nil || !bytes.Equal(msg, tx.signedMsg) {
		tx.clearSignature()
		return nil
	}
	return tx.sig
}

// AttachSignature sets a signature received from elsewhere, for instance from
// the operator API. It is bound to the current encoding and checked by Verify.
func (tx *Transfer) AttachSignature(layout Layout, sig *signer.Signature) error {
	msg, err := layout.Encode(tx)
	if err != nil {
		return err
	}
	tx.sig = sig
	tx.signedMsg = msg
	tx.layout = layout
	return nil
}

// Verify checks the attached signature against pub
func (tx *Transfer) Verify(layout Layout, pub keys.PublicKey) error {
	sig := tx.Signature()
	if sig == nil {
		return errors.SignatureMismatch("transfer is not signed")
	}
	msg, err := layout.Encode(tx)
	if err != nil {
		return err
	}
	if !signer.Verify(pub, msg, sig) {
		logx.Debug("TRANSFER", fmt.Sprintf("signature mismatch for %s", tx))
		return errors.SignatureMismatch("signature does not match sender key")
	}
	return nil
}

func (tx *Transfer) IsSigned() bool {
	return tx.Signature() != nil
}

func (tx *Transfer) SetAmount(v *uint256.Int) {
	tx.Amount = cloneValue(v)
	tx.clearSignature()
}

func (tx *Transfer) SetFee(v *uint256.Int) {
	tx.Fee = cloneValue(v)
	tx.clearSignature()
}

func (tx *Transfer) SetNonce(n uint32) {
	tx.Nonce = n
	tx.clearSignature()
}

func (tx *Transfer) clearSignature() {
	tx.sig = nil
	tx.signedMsg = nil
}

// Clone copies the record together with its signature
func (tx *Transfer) Clone() *Transfer {
	cp := *tx
	cp.Amount = cloneValue(tx.Amount)
	cp.Fee = cloneValue(tx.Fee)
	cp.signedMsg = append([]byte(nil), tx.signedMsg...)
	return &cp
}

func (tx *Transfer) String() string {
	return fmt.Sprintf("transfer{from: %d, to: %d, amount: %s, fee: %s, nonce: %d, valid_until: %d}",
		tx.From, tx.To, valueString(tx.Amount), valueString(tx.Fee), tx.Nonce, tx.ValidUntilBlock)
}

func valueString(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}
