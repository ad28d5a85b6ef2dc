package cmd

import (
	"crypto/rand"
	"fmt"
	"os"

	"github.com/mezonai/mmn-plasma/keys"
	"github.com/mezonai/mmn-plasma/logx"
	"github.com/spf13/cobra"
)

var (
	keygenOut      string
	keygenMnemonic bool
	keygenPhrase   string
	keygenPass     string
	keygenSeed     string
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a signing key pair",
	Long: `Generate a Baby-Jubjub key pair for signing plasma transfers.

Examples:
  # Random key written to key.txt
  keygen --out key.txt

  # New BIP-39 mnemonic and the key derived from it
  keygen --mnemonic

  # Recover a key from an existing mnemonic
  keygen --from-mnemonic "legal winner thank year ..."`,
	RunE: func(cmd *cobra.Command, args []string) error {
		kp, mnemonic, err := generateKey()
		if err != nil {
			return err
		}
		if mnemonic != "" {
			fmt.Println("mnemonic:   ", mnemonic)
		}
		x, y := kp.PublicKey.Hex()
		fmt.Println("public x:   ", x)
		fmt.Println("public y:   ", y)
		fmt.Println("public key: ", kp.PublicKey.String())

		if keygenOut == "" {
			fmt.Println("private key:", kp.PrivateKeyHex())
			return nil
		}
		if err := os.WriteFile(keygenOut, []byte(kp.PrivateKeyHex()), 0o600); err != nil {
			return fmt.Errorf("failed to write key file: %w", err)
		}
		logx.Info("KEYGEN", "private key written to", keygenOut)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(keygenCmd)

	keygenCmd.Flags().StringVarP(&keygenOut, "out", "o", "", "write the private key hex to this file instead of stdout")
	keygenCmd.Flags().BoolVar(&keygenMnemonic, "mnemonic", false, "derive the key from a new BIP-39 mnemonic")
	keygenCmd.Flags().StringVar(&keygenPhrase, "from-mnemonic", "", "derive the key from this mnemonic")
	keygenCmd.Flags().StringVar(&keygenPass, "passphrase", "", "BIP-39 passphrase")
	keygenCmd.Flags().StringVar(&keygenSeed, "seed", "", "derive the key from this seed text")
}

func generateKey() (*keys.KeyPair, string, error) {
	switch {
	case keygenPhrase != "":
		kp, err := keys.FromMnemonic(keygenPhrase, keygenPass)
		return kp, "", err
	case keygenMnemonic:
		mnemonic, err := keys.NewMnemonic(256)
		if err != nil {
			return nil, "", err
		}
		kp, err := keys.FromMnemonic(mnemonic, keygenPass)
		return kp, mnemonic, err
	case keygenSeed != "":
		kp, err := keys.DeriveFromSeed([]byte(keygenSeed))
		return kp, "", err
	default:
		kp, err := keys.Generate(rand.Reader)
		return kp, "", err
	}
}
