package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/mezonai/mmn-plasma/ledger"
	"github.com/spf13/cobra"
)

type RegisterConfig struct {
	Keys     keyFlags
	Endpoint string
	Address  string
	Amount   string
	Poll     time.Duration
	Timeout  time.Duration
}

var registerConfig RegisterConfig

var registerCmd = &cobra.Command{
	Use:   "register [flags]",
	Short: "Register a public key with a deposit and wait for its account id",
	Long: `Deposit funds for a base ledger address, registering the signing key.
The command returns once the operator has confirmed the deposit and
assigned an account id; transfers cannot be signed before that.

Examples:
  register -f key.txt --address 0x90f8bf6a479f320ead074411a4b0e7944ea8c9c1 --amount 1_000`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return registerKey(cmd.Context(), registerConfig)
	},
}

func init() {
	rootCmd.AddCommand(registerCmd)

	registerCmd.Flags().StringVarP(&registerConfig.Keys.PrivateKeyFile, "private-key-file", "f", "", "private key file")
	registerCmd.Flags().StringVarP(&registerConfig.Keys.PrivateKey, "private-key", "p", "", "private key in hex")
	registerCmd.Flags().StringVarP(&registerConfig.Endpoint, "operator", "u", "", "operator URL, overrides the config")
	registerCmd.Flags().StringVar(&registerConfig.Address, "address", "", "base ledger address (0x + 40 hex)")
	registerCmd.Flags().StringVarP(&registerConfig.Amount, "amount", "a", "0", "deposit amount")
	registerCmd.Flags().DurationVar(&registerConfig.Poll, "poll", ledger.DefaultPollInterval, "confirmation poll interval")
	registerCmd.Flags().DurationVar(&registerConfig.Timeout, "timeout", 5*time.Minute, "give up waiting after this long")
}

func registerKey(parent context.Context, c RegisterConfig) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	kp, err := c.Keys.load()
	if err != nil {
		return fmt.Errorf("failed to load private key: %w", err)
	}
	addr, err := ledger.ParseAddress(c.Address)
	if err != nil {
		return err
	}
	value, err := parseValue("amount", c.Amount)
	if err != nil {
		return err
	}
	operator, err := newOperatorClient(c.Endpoint)
	if err != nil {
		return err
	}

	registry := ledger.NewCachedRegistry(operator, time.Minute)
	id, err := ledger.Register(ctx, operator, registry, kp, addr, value, c.Poll)
	if err != nil {
		return err
	}
	fmt.Printf("address %s registered as account %d\n", addr, id)
	return nil
}
