// Package keys generates and derives signing keys on the BN254 twisted
// Edwards curve (Baby-Jubjub), the SNARK friendly curve the operator verifies
// transfer signatures on.
package keys

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"math/big"
	"strings"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/twistededwards"
	"github.com/mezonai/mmn-plasma/errors"
	"github.com/mr-tron/base58"
	"golang.org/x/crypto/blake2b"
)

// ScalarSize is the byte length of a serialized private scalar
const ScalarSize = fr.Bytes

var seedDomain = []byte("mmn-plasma/keys/seed/v1")

// PublicKey is a curve point given by its two coordinates
type PublicKey struct {
	X fr.Element
	Y fr.Element
}

// KeyPair holds a private scalar in [1, Order-1] and PublicKey = PrivateKey * Base.
// The core never persists it.
type KeyPair struct {
	PrivateKey *big.Int
	PublicKey  PublicKey
}

// Order returns the prime order of the curve subgroup generated by Base
func Order() *big.Int {
	c := twistededwards.GetEdwardsCurve()
	return new(big.Int).Set(&c.Order)
}

// Generate draws a uniformly random scalar in [1, Order-1].
// A nil reader means crypto/rand.
func Generate(r io.Reader) (*KeyPair, error) {
	if r == nil {
		r = rand.Reader
	}
	bound := Order()
	bound.Sub(bound, big.NewInt(1))
	s, err := rand.Int(r, bound)
	if err != nil {
		return nil, errors.Wrap(err, "read key entropy")
	}
	s.Add(s, big.NewInt(1))
	return newKeyPair(s), nil
}

// DeriveFromSeed maps seed deterministically to a key pair
func DeriveFromSeed(seed []byte) (*KeyPair, error) {
	if len(seed) == 0 {
		return nil, errors.InvalidSeed("empty seed")
	}
	h, err := blake2b.New512(nil)
	if err != nil {
		return nil, errors.InvalidSeedWrap(err, "init seed hash")
	}
	h.Write(seedDomain)
	h.Write(seed)
	s := new(big.Int).SetBytes(h.Sum(nil))
	s.Mod(s, Order())
	if s.Sign() == 0 {
		return nil, errors.InvalidSeed("seed maps to the zero scalar")
	}
	return newKeyPair(s), nil
}

// FromScalar builds the key pair of an existing private scalar
func FromScalar(s *big.Int) (*KeyPair, error) {
	if s == nil || s.Sign() <= 0 || s.Cmp(Order()) >= 0 {
		return nil, errors.InvalidSeed("private scalar out of range [1, order-1]")
	}
	return newKeyPair(new(big.Int).Set(s)), nil
}

// ParsePrivateKey reads a hex scalar, with or without 0x prefix
func ParsePrivateKey(text string) (*KeyPair, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(strings.TrimPrefix(text, "0x"), "0X")
	s, ok := new(big.Int).SetString(text, 16)
	if !ok {
		return nil, errors.InvalidSeed("private key is not a hex number")
	}
	return FromScalar(s)
}

func newKeyPair(s *big.Int) *KeyPair {
	c := twistededwards.GetEdwardsCurve()
	var p twistededwards.PointAffine
	p.ScalarMultiplication(&c.Base, s)
	return &KeyPair{
		PrivateKey: s,
		PublicKey:  PublicKey{X: p.X, Y: p.Y},
	}
}

// ScalarBytes is the private scalar as 32 big-endian bytes
func (kp *KeyPair) ScalarBytes() [ScalarSize]byte {
	var out [ScalarSize]byte
	kp.PrivateKey.FillBytes(out[:])
	return out
}

// PrivateKeyHex is the text form used by key files
func (kp *KeyPair) PrivateKeyHex() string {
	b := kp.ScalarBytes()
	return "0x" + hex.EncodeToString(b[:])
}

// Point returns the key as a curve point
func (pk PublicKey) Point() twistededwards.PointAffine {
	return twistededwards.NewPointAffine(pk.X, pk.Y)
}

// IsValid reports whether the point lies on the curve and is not the identity
func (pk PublicKey) IsValid() bool {
	p := pk.Point()
	return p.IsOnCurve() && !p.IsZero()
}

// Coordinates returns (x, y), the form the ledger contract registers
func (pk PublicKey) Coordinates() (*big.Int, *big.Int) {
	return pk.X.BigInt(new(big.Int)), pk.Y.BigInt(new(big.Int))
}

// Hex returns both coordinates as 0x-prefixed 32 byte hex strings
func (pk PublicKey) Hex() (string, string) {
	x := pk.X.Bytes()
	y := pk.Y.Bytes()
	return "0x" + hex.EncodeToString(x[:]), "0x" + hex.EncodeToString(y[:])
}

// Bytes is the 32 byte compressed point
func (pk PublicKey) Bytes() [ScalarSize]byte {
	p := pk.Point()
	return p.Bytes()
}

func (pk PublicKey) String() string {
	b := pk.Bytes()
	return base58.Encode(b[:])
}

func (pk PublicKey) Equal(other PublicKey) bool {
	return pk.X.Equal(&other.X) && pk.Y.Equal(&other.Y)
}

// ParsePublicKey reads hex (or decimal) coordinates and checks the point
func ParsePublicKey(x, y string) (PublicKey, error) {
	var pk PublicKey
	if err := setCoordinate(&pk.X, x); err != nil {
		return PublicKey{}, fmt.Errorf("public key x: %w", err)
	}
	if err := setCoordinate(&pk.Y, y); err != nil {
		return PublicKey{}, fmt.Errorf("public key y: %w", err)
	}
	if !pk.IsValid() {
		return PublicKey{}, errors.New("public key is not a curve point")
	}
	return pk, nil
}

// ParseCompressed reads the base58 form produced by PublicKey.String
func ParseCompressed(text string) (PublicKey, error) {
	raw, err := base58.Decode(text)
	if err != nil {
		return PublicKey{}, fmt.Errorf("decode public key: %w", err)
	}
	var p twistededwards.PointAffine
	if _, err := p.SetBytes(raw); err != nil {
		return PublicKey{}, fmt.Errorf("decode public key: %w", err)
	}
	pk := PublicKey{X: p.X, Y: p.Y}
	if !pk.IsValid() {
		return PublicKey{}, errors.New("public key is not a curve point")
	}
	return pk, nil
}

func setCoordinate(e *fr.Element, text string) error {
	text = strings.TrimSpace(text)
	base := 10
	if strings.HasPrefix(text, "0x") || strings.HasPrefix(text, "0X") {
		text = text[2:]
		base = 16
	}
	v, ok := new(big.Int).SetString(text, base)
	if !ok {
		return errors.Errorf("invalid number %q", text)
	}
	if v.Sign() < 0 || v.Cmp(fr.Modulus()) >= 0 {
		return errors.New("coordinate outside the field")
	}
	e.SetBigInt(v)
	return nil
}
