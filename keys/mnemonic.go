package keys

import (
	"github.com/mezonai/mmn-plasma/errors"
	"github.com/tyler-smith/go-bip39"
)

// NewMnemonic returns a fresh BIP-39 phrase; bitSize is 128 (12 words) to 256 (24 words)
func NewMnemonic(bitSize int) (string, error) {
	entropy, err := bip39.NewEntropy(bitSize)
	if err != nil {
		return "", errors.Wrap(err, "generate mnemonic entropy")
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", errors.Wrap(err, "build mnemonic")
	}
	return mnemonic, nil
}

// FromMnemonic derives the key pair of a BIP-39 phrase and optional passphrase
func FromMnemonic(mnemonic, passphrase string) (*KeyPair, error) {
	seed, err := bip39.NewSeedWithErrorChecking(mnemonic, passphrase)
	if err != nil {
		return nil, errors.InvalidSeedWrap(err, "invalid mnemonic")
	}
	return DeriveFromSeed(seed)
}
