package client

import (
	"github.com/holiman/uint256"
	"github.com/mezonai/mmn-plasma/amount"
	"github.com/mezonai/mmn-plasma/errors"
	"github.com/mezonai/mmn-plasma/signer"
	"github.com/mezonai/mmn-plasma/transaction"
)

// ToSubmitRequest converts a signed transfer into its wire form. Amount and
// fee travel as given; the operator moves their packed values.
func ToSubmitRequest(tx *transaction.Transfer, layout transaction.Layout) (*SubmitRequest, error) {
	sig := tx.Signature()
	if sig == nil {
		return nil, errors.SignatureMismatch("transfer is not signed")
	}
	amt, fee, err := layout.Pack(tx)
	if err != nil {
		return nil, err
	}
	rx, ry, s := sig.Hex()
	return &SubmitRequest{
		From:           tx.From,
		To:             tx.To,
		Amount:         valueDec(tx.Amount),
		Fee:            valueDec(tx.Fee),
		PackedAmount:   amt.BitsInt().Dec(),
		PackedFee:      fee.BitsInt().Dec(),
		Nonce:          tx.Nonce,
		GoodUntilBlock: tx.ValidUntilBlock,
		Signature:      WireSignature{RX: rx, RY: ry, S: s},
	}, nil
}

// FromSubmitRequest rebuilds the transfer and its signature. Packed fields,
// when present, must agree with the packing of the decimal values.
func FromSubmitRequest(req *SubmitRequest, layout transaction.Layout) (*transaction.Transfer, error) {
	amt, err := parseValue("amount", req.Amount)
	if err != nil {
		return nil, err
	}
	fee, err := parseValue("fee", req.Fee)
	if err != nil {
		return nil, err
	}
	tx := transaction.NewTransfer(req.From, req.To, amt, fee, req.Nonce, req.GoodUntilBlock)

	packedAmt, packedFee, err := layout.Pack(tx)
	if err != nil {
		return nil, err
	}
	if err := checkPacked("packed_amount", req.PackedAmount, layout.Amount, packedAmt); err != nil {
		return nil, err
	}
	if err := checkPacked("packed_fee", req.PackedFee, layout.Fee, packedFee); err != nil {
		return nil, err
	}

	sig, err := signer.ParseHex(req.Signature.RX, req.Signature.RY, req.Signature.S)
	if err != nil {
		return nil, err
	}
	if err := tx.AttachSignature(layout, sig); err != nil {
		return nil, err
	}
	return tx, nil
}

// checkPacked unpacks a wire packed field and compares it with the packing
// of the decimal value. An empty field is not checked.
func checkPacked(field, raw string, f amount.Format, want amount.Packed) error {
	if raw == "" {
		return nil
	}
	bits, err := parseValue(field, raw)
	if err != nil {
		return err
	}
	got, err := f.UnpackInt(bits)
	if err != nil {
		return errors.WithField(err, field)
	}
	if got != want {
		return errors.Errorf("%s %s does not match %s", field, got, want)
	}
	return nil
}

func valueDec(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

func parseValue(field, s string) (*uint256.Int, error) {
	if s == "" {
		return new(uint256.Int), nil
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid %s", field)
	}
	return v, nil
}
