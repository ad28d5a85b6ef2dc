// Package signer produces EdDSA signatures over the BN254 twisted Edwards
// curve with MiMC as the challenge hash, the scheme the operator circuit checks.
package signer

import (
	"encoding/binary"
	"encoding/hex"
	"math/big"
	"strings"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
	"github.com/consensys/gnark-crypto/ecc/bn254/twistededwards"
	"github.com/consensys/gnark-crypto/ecc/bn254/twistededwards/eddsa"
	"github.com/mezonai/mmn-plasma/errors"
	"github.com/mezonai/mmn-plasma/keys"
	"github.com/mr-tron/base58"
	"golang.org/x/crypto/blake2b"
)

const (
	// SignatureSize is compressed(R) || S
	SignatureSize = 2 * fr.Bytes
	// ChunkSize is how many message bytes go into one field element
	ChunkSize = fr.Bytes - 1
)

var nonceDomain = []byte("mmn-plasma/signer/nonce/v1")

type Signature struct {
	R twistededwards.PointAffine
	S [fr.Bytes]byte
}

// FieldElements maps arbitrary bytes to field elements: the byte length first,
// then 31 byte chunks, the last one right aligned. The mapping is injective.
func FieldElements(msg []byte) []fr.Element {
	out := make([]fr.Element, 0, 1+(len(msg)+ChunkSize-1)/ChunkSize)
	var length fr.Element
	length.SetUint64(uint64(len(msg)))
	out = append(out, length)
	for start := 0; start < len(msg); start += ChunkSize {
		end := start + ChunkSize
		if end > len(msg) {
			end = len(msg)
		}
		var e fr.Element
		e.SetBytes(msg[start:end])
		out = append(out, e)
	}
	return out
}

// hashInput serializes the field element view in canonical 32 byte blocks, the
// only input shape the MiMC hasher accepts
func hashInput(msg []byte) []byte {
	elems := FieldElements(msg)
	buf := make([]byte, 0, len(elems)*fr.Bytes)
	for i := range elems {
		b := elems[i].Bytes()
		buf = append(buf, b[:]...)
	}
	return buf
}

func privateKey(kp *keys.KeyPair) (*eddsa.PrivateKey, error) {
	if kp == nil || kp.PrivateKey == nil {
		return nil, errors.New("nil key pair")
	}
	scalar := kp.ScalarBytes()

	var lenPrefix [8]byte
	binary.BigEndian.PutUint64(lenPrefix[:], uint64(len(nonceDomain)))
	h, err := blake2b.New256(nil)
	if err != nil {
		return nil, errors.Wrap(err, "init nonce source")
	}
	h.Write(lenPrefix[:])
	h.Write(nonceDomain)
	h.Write(scalar[:])
	randSrc := h.Sum(nil)

	pub := kp.PublicKey.Bytes()
	buf := make([]byte, 0, 2*fr.Bytes+32)
	buf = append(buf, pub[:]...)
	buf = append(buf, scalar[:]...)
	buf = append(buf, randSrc...)

	var priv eddsa.PrivateKey
	if _, err := priv.SetBytes(buf); err != nil {
		return nil, errors.Wrap(err, "load signing key")
	}
	return &priv, nil
}

// Sign signs message with kp. The result depends only on the key and the
// message, so signing twice gives the same signature.
func Sign(kp *keys.KeyPair, message []byte) (*Signature, error) {
	priv, err := privateKey(kp)
	if err != nil {
		return nil, err
	}
	raw, err := priv.Sign(hashInput(message), mimc.NewMiMC())
	if err != nil {
		return nil, errors.Wrap(err, "sign message")
	}
	return ParseSignature(raw)
}

// Verify reports whether sig is a valid signature of message under pub.
// Malformed keys or signatures are simply invalid.
func Verify(pub keys.PublicKey, message []byte, sig *Signature) bool {
	if sig == nil || !pub.IsValid() {
		return false
	}
	return VerifyBytes(pub, message, sig.Bytes())
}

func VerifyBytes(pub keys.PublicKey, message []byte, sigBytes []byte) bool {
	if len(sigBytes) != SignatureSize || !pub.IsValid() {
		return false
	}
	pk := eddsa.PublicKey{A: pub.Point()}
	ok, err := pk.Verify(sigBytes, hashInput(message), mimc.NewMiMC())
	if err != nil {
		return false
	}
	return ok
}

// ParseSignature reads the 64 byte wire form. R must be a curve point and S
// must be below the group order.
func ParseSignature(b []byte) (*Signature, error) {
	var sig eddsa.Signature
	if _, err := sig.SetBytes(b); err != nil {
		return nil, errors.Wrap(err, "parse signature")
	}
	return &Signature{R: sig.R, S: sig.S}, nil
}

// ParseHex reads the (r_x, r_y, s) triple used by the operator API
func ParseHex(rx, ry, s string) (*Signature, error) {
	var sig Signature
	for _, f := range []struct {
		text string
		dst  *fr.Element
	}{{rx, &sig.R.X}, {ry, &sig.R.Y}} {
		v, err := parseHexInt(f.text)
		if err != nil {
			return nil, err
		}
		if v.Cmp(fr.Modulus()) >= 0 {
			return nil, errors.New("signature point outside the field")
		}
		f.dst.SetBigInt(v)
	}
	sv, err := parseHexInt(s)
	if err != nil {
		return nil, err
	}
	if sv.BitLen() > 8*fr.Bytes {
		return nil, errors.New("signature scalar too large")
	}
	sv.FillBytes(sig.S[:])
	// run the same checks as the wire form
	return ParseSignature(sig.Bytes())
}

func parseHexInt(text string) (*big.Int, error) {
	text = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(text), "0x"), "0X")
	v, ok := new(big.Int).SetString(text, 16)
	if !ok || v.Sign() < 0 {
		return nil, errors.Errorf("invalid hex number %q", text)
	}
	return v, nil
}

func (s *Signature) Bytes() []byte {
	sig := eddsa.Signature{R: s.R, S: s.S}
	return sig.Bytes()
}

// Hex returns r_x, r_y and s as 0x-prefixed 32 byte hex strings
func (s *Signature) Hex() (string, string, string) {
	rx := s.R.X.Bytes()
	ry := s.R.Y.Bytes()
	return "0x" + hex.EncodeToString(rx[:]), "0x" + hex.EncodeToString(ry[:]), "0x" + hex.EncodeToString(s.S[:])
}

func (s *Signature) String() string {
	return base58.Encode(s.Bytes())
}

func (s *Signature) Equal(other *Signature) bool {
	if s == nil || other == nil {
		return s == other
	}
	return s.R.Equal(&other.R) && s.S == other.S
}
