package ledger

import (
	"encoding/hex"
	"strings"

	"github.com/mezonai/mmn-plasma/errors"
)

const AddressLength = 20

// Address is a base ledger (Ethereum style) account address
type Address [AddressLength]byte

func ParseAddress(s string) (Address, error) {
	var a Address
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(s) != 2*AddressLength {
		return a, errors.Errorf("address must be %d hex characters, got %d", 2*AddressLength, len(s))
	}
	if _, err := hex.Decode(a[:], []byte(s)); err != nil {
		return a, errors.Wrap(err, "decode address")
	}
	return a, nil
}

func (a Address) Hex() string {
	return "0x" + hex.EncodeToString(a[:])
}

func (a Address) String() string {
	return a.Hex()
}

func (a Address) IsZero() bool {
	return a == Address{}
}

func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.Hex()), nil
}

func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
