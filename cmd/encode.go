package cmd

import (
	"encoding/hex"
	"fmt"

	"github.com/mezonai/mmn-plasma/transaction"
	"github.com/spf13/cobra"
)

type EncodeConfig struct {
	Keys       keyFlags
	From       uint32
	To         uint32
	Amount     string
	Fee        string
	Nonce      uint32
	ValidUntil uint32
}

var encodeConfig EncodeConfig

var encodeCmd = &cobra.Command{
	Use:   "encode [flags]",
	Short: "Encode a transfer and optionally sign it",
	Long: `Print the packed encoding of a transfer, its field elements and,
when a key is given, its signature. Nothing is sent.

Examples:
  encode --from 2 --to 3 --amount 11 --valid-until 100
  encode --from 2 --to 3 --amount 11 --nonce 4 -f key.txt`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return encodeTransfer(encodeConfig)
	},
}

func init() {
	rootCmd.AddCommand(encodeCmd)

	encodeCmd.Flags().StringVarP(&encodeConfig.Keys.PrivateKeyFile, "private-key-file", "f", "", "sender private key file")
	encodeCmd.Flags().StringVarP(&encodeConfig.Keys.PrivateKey, "private-key", "p", "", "sender private key in hex")
	encodeCmd.Flags().Uint32Var(&encodeConfig.From, "from", 0, "sender account id")
	encodeCmd.Flags().Uint32Var(&encodeConfig.To, "to", 0, "recipient account id")
	encodeCmd.Flags().StringVarP(&encodeConfig.Amount, "amount", "a", "0", "amount")
	encodeCmd.Flags().StringVar(&encodeConfig.Fee, "fee", "0", "fee")
	encodeCmd.Flags().Uint32Var(&encodeConfig.Nonce, "nonce", 0, "sender nonce")
	encodeCmd.Flags().Uint32Var(&encodeConfig.ValidUntil, "valid-until", 100, "last block the transfer is valid in")
}

func encodeTransfer(c EncodeConfig) error {
	amt, err := parseValue("amount", c.Amount)
	if err != nil {
		return err
	}
	fee, err := parseValue("fee", c.Fee)
	if err != nil {
		return err
	}
	layout := cfg.Encoding.Layout()
	tx := transaction.NewTransfer(c.From, c.To, amt, fee, c.Nonce, c.ValidUntil)

	msg, err := layout.Encode(tx)
	if err != nil {
		return err
	}
	packedAmt, packedFee, err := layout.Pack(tx)
	if err != nil {
		return err
	}
	fmt.Println("transfer:", tx)
	fmt.Printf("packed amount: %s (%s)\n", packedAmt, packedAmt.Decode().Dec())
	fmt.Printf("packed fee:    %s (%s)\n", packedFee, packedFee.Decode().Dec())
	fmt.Println("encoded:      ", hex.EncodeToString(msg))

	elems, err := layout.FieldElements(tx)
	if err != nil {
		return err
	}
	for i, e := range elems {
		fmt.Printf("element %d:     %s\n", i, e.String())
	}

	if c.Keys.PrivateKey == "" && c.Keys.PrivateKeyFile == "" {
		return nil
	}
	kp, err := c.Keys.load()
	if err != nil {
		return err
	}
	if err := tx.Sign(layout, kp); err != nil {
		return err
	}
	rx, ry, s := tx.Signature().Hex()
	fmt.Println("signature r_x:", rx)
	fmt.Println("signature r_y:", ry)
	fmt.Println("signature s:  ", s)
	return nil
}
