// Package amount packs transfer amounts and fees into a compact decimal
// floating point form (mantissa, exponent) that fits a few circuit bits.
//
// Packing is lossy but never overstates: Decode(Encode(v)) <= v.
package amount

import (
	"strconv"

	"github.com/holiman/uint256"
	"github.com/mezonai/mmn-plasma/errors"
)

const (
	MaxMantissaBits = 63
	MaxExponentBits = 5
	// MaxWidth keeps Packed.Bits inside a uint64
	MaxWidth = 64
)

var (
	// AmountFormat is the packing used for transfer amounts (24 bits)
	AmountFormat = Format{MantissaBits: 19, ExponentBits: 5}
	// FeeFormat is the packing used for fees (8 bits)
	FeeFormat = Format{MantissaBits: 3, ExponentBits: 5}

	ten = uint256.NewInt(10)
)

// Format declares the bit widths of a packed value
type Format struct {
	MantissaBits uint8 `yaml:"mantissa_bits" ini:"mantissa_bits"`
	ExponentBits uint8 `yaml:"exponent_bits" ini:"exponent_bits"`
}

// Packed is a value represented as Mantissa * 10^Exponent
type Packed struct {
	Mantissa uint64
	Exponent uint8
	Format   Format
}

// Validate checks that the widths are inside the supported range
func (f Format) Validate() error {
	if f.MantissaBits == 0 || f.MantissaBits > MaxMantissaBits {
		return errors.InvalidConfig("mantissa_bits", "mantissa width must be in [1, "+strconv.Itoa(MaxMantissaBits)+"]")
	}
	if f.ExponentBits == 0 || f.ExponentBits > MaxExponentBits {
		return errors.InvalidConfig("exponent_bits", "exponent width must be in [1, "+strconv.Itoa(MaxExponentBits)+"]")
	}
	if f.Width() > MaxWidth {
		return errors.InvalidConfig("mantissa_bits", "packed width must not exceed "+strconv.Itoa(MaxWidth)+" bits")
	}
	return nil
}

// Width is the number of bits of a packed value
func (f Format) Width() int {
	return int(f.MantissaBits) + int(f.ExponentBits)
}

func (f Format) MaxMantissa() uint64 {
	return (uint64(1) << f.MantissaBits) - 1
}

func (f Format) MaxExponent() uint8 {
	return uint8((1 << f.ExponentBits) - 1)
}

// MaxValue is the largest representable value: (2^m - 1) * 10^(2^e - 1)
func (f Format) MaxValue() *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(f.MaxMantissa()), pow10(f.MaxExponent()))
}

// Encode packs value as the representable value closest to it from below:
// for every exponent e the candidate is min(value/10^e, maxMantissa) * 10^e.
// Ties, and zero, go to the larger exponent.
func (f Format) Encode(value *uint256.Int) (Packed, error) {
	if err := f.Validate(); err != nil {
		return Packed{}, err
	}
	if value == nil {
		value = new(uint256.Int)
	}
	if value.IsZero() {
		return Packed{Mantissa: 0, Exponent: f.MaxExponent(), Format: f}, nil
	}
	limit := f.MaxValue()
	if value.Gt(limit) {
		return Packed{}, errors.AmountTooLarge("", value.Dec(), limit.Dec())
	}

	var (
		maxMantissa = uint256.NewInt(f.MaxMantissa())
		scale       = uint256.NewInt(1)
		best        Packed
		bestLoss    *uint256.Int
		quotient    = new(uint256.Int)
		candidate   = new(uint256.Int)
	)
	for e := uint8(0); e <= f.MaxExponent(); e++ {
		if e > 0 {
			scale.Mul(scale, ten)
		}
		quotient.Div(value, scale)
		if quotient.IsZero() {
			break
		}
		if quotient.Gt(maxMantissa) {
			quotient.Set(maxMantissa)
		}
		candidate.Mul(quotient, scale)
		loss := new(uint256.Int).Sub(value, candidate)
		if bestLoss == nil || !loss.Gt(bestLoss) {
			best = Packed{Mantissa: quotient.Uint64(), Exponent: e, Format: f}
			bestLoss = loss
		}
	}
	return best, nil
}

// EncodeBounded is Encode that also refuses a packing whose loss exceeds
// value / (2^m - 1)
func (f Format) EncodeBounded(value *uint256.Int) (Packed, error) {
	p, err := f.Encode(value)
	if err != nil {
		return Packed{}, err
	}
	if value == nil || value.IsZero() {
		return p, nil
	}
	decoded := p.Decode()
	loss := new(uint256.Int).Sub(value, decoded)
	scaled, overflow := new(uint256.Int).MulOverflow(loss, uint256.NewInt(f.MaxMantissa()))
	if overflow || scaled.Gt(value) {
		return Packed{}, errors.PrecisionLoss("", value.Dec(), decoded.Dec())
	}
	return p, nil
}

// Encode packs value using the given widths
func Encode(value *uint256.Int, mantissaBits, exponentBits uint8) (Packed, error) {
	return Format{MantissaBits: mantissaBits, ExponentBits: exponentBits}.Encode(value)
}

// Decode returns Mantissa * 10^Exponent
func Decode(p Packed) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(p.Mantissa), pow10(p.Exponent))
}

// Decode returns the exact integer the packed value stands for
func (p Packed) Decode() *uint256.Int {
	return Decode(p)
}

// Bits lays the packed value out as mantissa || exponent
func (p Packed) Bits() uint64 {
	return p.Mantissa<<p.Format.ExponentBits | uint64(p.Exponent)
}

// Unpack is the inverse of Packed.Bits
func (f Format) Unpack(bits uint64) (Packed, error) {
	if err := f.Validate(); err != nil {
		return Packed{}, err
	}
	if f.Width() < 64 && bits>>uint(f.Width()) != 0 {
		return Packed{}, errors.FieldOverflow("packed", strconv.FormatUint(bits, 10), f.Width())
	}
	return Packed{
		Mantissa: bits >> f.ExponentBits,
		Exponent: uint8(bits & uint64(f.MaxExponent())),
		Format:   f,
	}, nil
}

// Closest returns the largest packable value not above value
func (f Format) Closest(value *uint256.Int) (*uint256.Int, error) {
	p, err := f.Encode(value)
	if err != nil {
		return nil, err
	}
	return p.Decode(), nil
}

// IsPackable reports whether value survives packing without precision loss
func (f Format) IsPackable(value *uint256.Int) bool {
	closest, err := f.Closest(value)
	if err != nil {
		return false
	}
	if value == nil {
		return closest.IsZero()
	}
	return closest.Eq(value)
}

// BitsInt is Bits as a uint256, the form the wire and the field elements use
func (p Packed) BitsInt() *uint256.Int {
	v := uint256.NewInt(p.Mantissa)
	v.Lsh(v, uint(p.Format.ExponentBits))
	return v.Or(v, uint256.NewInt(uint64(p.Exponent)))
}

// UnpackInt is the inverse of Packed.BitsInt
func (f Format) UnpackInt(bits *uint256.Int) (Packed, error) {
	if err := f.Validate(); err != nil {
		return Packed{}, err
	}
	if bits == nil {
		bits = new(uint256.Int)
	}
	if bits.BitLen() > f.Width() {
		return Packed{}, errors.FieldOverflow("packed", bits.Dec(), f.Width())
	}
	mantissa := new(uint256.Int).Rsh(bits, uint(f.ExponentBits))
	exponent := new(uint256.Int).And(bits, uint256.NewInt(uint64(f.MaxExponent())))
	return Packed{
		Mantissa: mantissa.Uint64(),
		Exponent: uint8(exponent.Uint64()),
		Format:   f,
	}, nil
}

func (p Packed) String() string {
	return strconv.FormatUint(p.Mantissa, 10) + "e" + strconv.Itoa(int(p.Exponent))
}

func pow10(exponent uint8) *uint256.Int {
	res := uint256.NewInt(1)
	for i := uint8(0); i < exponent; i++ {
		res.Mul(res, ten)
	}
	return res
}
