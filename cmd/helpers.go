package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/holiman/uint256"
	"github.com/mezonai/mmn-plasma/client"
	"github.com/mezonai/mmn-plasma/keys"
)

// keyFlags selects the signing key, either inline or from a file holding the hex scalar
type keyFlags struct {
	PrivateKey     string
	PrivateKeyFile string
}

func (k keyFlags) load() (*keys.KeyPair, error) {
	text := k.PrivateKey
	if text == "" {
		if k.PrivateKeyFile == "" {
			return nil, fmt.Errorf("either --private-key or --private-key-file is required")
		}
		raw, err := os.ReadFile(k.PrivateKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read private key file: %w", err)
		}
		text = string(raw)
	}
	return keys.ParsePrivateKey(text)
}

// parseValue accepts decimal values with _ separators, like 1_000
func parseValue(name, text string) (*uint256.Int, error) {
	if text == "" {
		return new(uint256.Int), nil
	}
	v, err := uint256.FromDecimal(strings.ReplaceAll(text, "_", ""))
	if err != nil {
		return nil, fmt.Errorf("could not parse %s %q: %v", name, text, err)
	}
	return v, nil
}

func newOperatorClient(endpoint string) (*client.OperatorClient, error) {
	if endpoint == "" {
		endpoint = cfg.Operator.Endpoint
	}
	return client.NewClient(client.Config{
		Endpoint: endpoint,
		Timeout:  cfg.Operator.RequestTimeout,
		Layout:   cfg.Encoding.Layout(),
	})
}
