package transaction

import (
	"math/big"
	"strconv"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/holiman/uint256"
	"github.com/mezonai/mmn-plasma/amount"
	"github.com/mezonai/mmn-plasma/errors"
	"github.com/mezonai/mmn-plasma/signer"
)

const (
	FieldFrom            = "from"
	FieldTo              = "to"
	FieldAmount          = "amount"
	FieldFee             = "fee"
	FieldNonce           = "nonce"
	FieldValidUntilBlock = "valid_until_block"
)

// MaxValueBits bounds amount and fee before packing
const MaxValueBits = 128

// Layout fixes the bit width of every encoded field. Sender and operator
// must agree on it, the encoding carries no field tags.
type Layout struct {
	AccountIDBits uint8         `yaml:"account_id_bits" ini:"account_id_bits"`
	NonceBits     uint8         `yaml:"nonce_bits" ini:"nonce_bits"`
	BlockBits     uint8         `yaml:"block_bits" ini:"block_bits"`
	Amount        amount.Format `yaml:"amount" ini:"-"`
	Fee           amount.Format `yaml:"fee" ini:"-"`
}

// DefaultLayout is the operator's layout: 24 bit accounts, 24 bit amount,
// 8 bit fee, 32 bit nonce and block number, 144 bits in total.
func DefaultLayout() Layout {
	return Layout{
		AccountIDBits: 24,
		NonceBits:     32,
		BlockBits:     32,
		Amount:        amount.AmountFormat,
		Fee:           amount.FeeFormat,
	}
}

func (l Layout) Validate() error {
	for _, w := range []struct {
		name string
		bits uint8
	}{
		{"account_id_bits", l.AccountIDBits},
		{"nonce_bits", l.NonceBits},
		{"block_bits", l.BlockBits},
	} {
		if w.bits == 0 || w.bits > 32 {
			return errors.InvalidConfig(w.name, "width must be in [1, 32]")
		}
	}
	if err := l.Amount.Validate(); err != nil {
		return errors.WithField(err, "amount")
	}
	if err := l.Fee.Validate(); err != nil {
		return errors.WithField(err, "fee")
	}
	return nil
}

// Width is the number of meaningful bits of an encoding
func (l Layout) Width() int {
	return 2*int(l.AccountIDBits) + l.Amount.Width() + l.Fee.Width() + int(l.NonceBits) + int(l.BlockBits)
}

// Size is the encoded length in bytes
func (l Layout) Size() int {
	return (l.Width() + 7) / 8
}

// MaxNonce is the largest nonce the layout can carry
func (l Layout) MaxNonce() uint32 {
	return uint32(uint64(1)<<l.NonceBits - 1)
}

func checkWidth(field string, v uint32, bits uint8) error {
	if bits < 32 && v>>bits != 0 {
		return errors.FieldOverflow(field, strconv.FormatUint(uint64(v), 10), int(bits))
	}
	return nil
}

func (l Layout) pack(tx *Transfer) (amt, fee amount.Packed, err error) {
	for _, f := range []struct {
		name string
		v    uint32
		bits uint8
	}{
		{FieldFrom, tx.From, l.AccountIDBits},
		{FieldTo, tx.To, l.AccountIDBits},
		{FieldNonce, tx.Nonce, l.NonceBits},
		{FieldValidUntilBlock, tx.ValidUntilBlock, l.BlockBits},
	} {
		if err = checkWidth(f.name, f.v, f.bits); err != nil {
			return
		}
	}
	if amt, err = packValue(FieldAmount, tx.Amount, l.Amount); err != nil {
		return
	}
	fee, err = packValue(FieldFee, tx.Fee, l.Fee)
	return
}

func packValue(field string, v *uint256.Int, f amount.Format) (amount.Packed, error) {
	if v != nil && v.BitLen() > MaxValueBits {
		return amount.Packed{}, errors.FieldOverflow(field, v.Dec(), MaxValueBits)
	}
	p, err := f.EncodeBounded(v)
	if err != nil {
		return amount.Packed{}, errors.WithField(err, field)
	}
	return p, nil
}

// Pack returns the packed amount and fee of tx, checking every width
func (l Layout) Pack(tx *Transfer) (amt, fee amount.Packed, err error) {
	if tx == nil {
		err = errors.New("nil transfer")
		return
	}
	if err = l.Validate(); err != nil {
		return
	}
	return l.pack(tx)
}

// Encode serializes tx as from || to || amount || fee || nonce || validUntilBlock,
// most significant bit first with no gaps, zero padded at the tail. A value
// that does not fit its width is an error, never truncated.
func (l Layout) Encode(tx *Transfer) ([]byte, error) {
	if tx == nil {
		return nil, errors.New("nil transfer")
	}
	if err := l.Validate(); err != nil {
		return nil, err
	}
	amt, fee, err := l.pack(tx)
	if err != nil {
		return nil, err
	}

	w := newBitWriter(l.Size())
	w.write(uint64(tx.From), l.AccountIDBits)
	w.write(uint64(tx.To), l.AccountIDBits)
	w.write(amt.Mantissa, amt.Format.MantissaBits)
	w.write(uint64(amt.Exponent), amt.Format.ExponentBits)
	w.write(fee.Mantissa, fee.Format.MantissaBits)
	w.write(uint64(fee.Exponent), fee.Format.ExponentBits)
	w.write(uint64(tx.Nonce), l.NonceBits)
	w.write(uint64(tx.ValidUntilBlock), l.BlockBits)
	return w.bytes(), nil
}

// Decode parses an encoding produced by Encode. Amount and fee come back as
// their packed values.
func (l Layout) Decode(msg []byte) (*Transfer, error) {
	if err := l.Validate(); err != nil {
		return nil, err
	}
	if len(msg) != l.Size() {
		return nil, errors.Errorf("encoded transfer must be %d bytes, got %d", l.Size(), len(msg))
	}
	r := newBitReader(msg)
	tx := &Transfer{}
	tx.From = uint32(r.read(l.AccountIDBits))
	tx.To = uint32(r.read(l.AccountIDBits))
	amt := amount.Packed{Format: l.Amount}
	amt.Mantissa = r.read(l.Amount.MantissaBits)
	amt.Exponent = uint8(r.read(l.Amount.ExponentBits))
	fee := amount.Packed{Format: l.Fee}
	fee.Mantissa = r.read(l.Fee.MantissaBits)
	fee.Exponent = uint8(r.read(l.Fee.ExponentBits))
	tx.Nonce = uint32(r.read(l.NonceBits))
	tx.ValidUntilBlock = uint32(r.read(l.BlockBits))
	if r.read(uint8(8*len(msg)-l.Width())) != 0 {
		return nil, errors.New("non-zero padding")
	}
	tx.Amount = amt.Decode()
	tx.Fee = fee.Decode()
	return tx, nil
}

// FieldElements is the circuit view of tx: one element per field, with the
// amount and fee in packed form
func (l Layout) FieldElements(tx *Transfer) ([]fr.Element, error) {
	if tx == nil {
		return nil, errors.New("nil transfer")
	}
	if err := l.Validate(); err != nil {
		return nil, err
	}
	amt, fee, err := l.pack(tx)
	if err != nil {
		return nil, err
	}
	values := []*big.Int{
		new(big.Int).SetUint64(uint64(tx.From)),
		new(big.Int).SetUint64(uint64(tx.To)),
		packedInt(amt),
		packedInt(fee),
		new(big.Int).SetUint64(uint64(tx.Nonce)),
		new(big.Int).SetUint64(uint64(tx.ValidUntilBlock)),
	}
	out := make([]fr.Element, len(values))
	for i, v := range values {
		out[i].SetBigInt(v)
	}
	return out, nil
}

func packedInt(p amount.Packed) *big.Int {
	return p.BitsInt().ToBig()
}

// ToFieldElements maps an arbitrary message to the field elements the signer hashes
func ToFieldElements(msg []byte) []fr.Element {
	return signer.FieldElements(msg)
}
