package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/mezonai/mmn-plasma/errors"
	"github.com/mezonai/mmn-plasma/exception"
	"github.com/mezonai/mmn-plasma/logx"
	"github.com/mezonai/mmn-plasma/monitoring"
	"github.com/mezonai/mmn-plasma/sequencer"
	"github.com/spf13/cobra"
)

type SendConfig struct {
	Keys        keyFlags
	Endpoint    string
	From        uint32
	To          uint32
	Amount      string
	Fee         string
	Count       int
	StartNonce  int64
	ValidUntil  uint32
	MetricsAddr string
}

var sendConfig SendConfig

var sendCmd = &cobra.Command{
	Use:   "send [flags]",
	Short: "Sign and submit a batch of transfers",
	Long: `Sign count identical transfers with consecutive nonces and submit them
to the operator concurrently. The next nonce is read from the operator
unless --start-nonce is given.

Examples:
  # 8 transfers of 11 from account 2 to account 3
  send -f key.txt --from 2 --to 3 --amount 11 --count 8 --valid-until 100`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendBatch(cmd.Context(), sendConfig)
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)

	sendCmd.Flags().StringVarP(&sendConfig.Keys.PrivateKeyFile, "private-key-file", "f", "", "sender private key file")
	sendCmd.Flags().StringVarP(&sendConfig.Keys.PrivateKey, "private-key", "p", "", "sender private key in hex")
	sendCmd.Flags().StringVarP(&sendConfig.Endpoint, "operator", "u", "", "operator URL, overrides the config")
	sendCmd.Flags().Uint32Var(&sendConfig.From, "from", 0, "sender account id")
	sendCmd.Flags().Uint32Var(&sendConfig.To, "to", 0, "recipient account id")
	sendCmd.Flags().StringVarP(&sendConfig.Amount, "amount", "a", "", "amount of every transfer")
	sendCmd.Flags().StringVar(&sendConfig.Fee, "fee", "0", "fee of every transfer")
	sendCmd.Flags().IntVarP(&sendConfig.Count, "count", "n", 1, "number of transfers")
	sendCmd.Flags().Int64Var(&sendConfig.StartNonce, "start-nonce", -1, "first nonce, read from the operator when negative")
	sendCmd.Flags().Uint32Var(&sendConfig.ValidUntil, "valid-until", 0, "last valid block, the config default when 0")
	sendCmd.Flags().StringVar(&sendConfig.MetricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")
}

func sendBatch(parent context.Context, c SendConfig) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if c.Count <= 0 {
		return fmt.Errorf("--count must be positive")
	}
	amt, err := parseValue("amount", c.Amount)
	if err != nil {
		return err
	}
	fee, err := parseValue("fee", c.Fee)
	if err != nil {
		return err
	}
	kp, err := c.Keys.load()
	if err != nil {
		return fmt.Errorf("failed to load sender private key: %w", err)
	}
	operator, err := newOperatorClient(c.Endpoint)
	if err != nil {
		return err
	}

	metricsAddr := c.MetricsAddr
	if metricsAddr == "" && cfg.Metrics.Enabled {
		metricsAddr = cfg.Metrics.ListenAddr
	}
	if metricsAddr != "" {
		serveMetrics(ctx, metricsAddr)
	}

	var start uint32
	if c.StartNonce >= 0 {
		start = uint32(c.StartNonce)
	} else if start, err = sequencer.NextNonceFrom(ctx, operator, c.From); err != nil {
		return fmt.Errorf("failed to get sender account: %w", err)
	}

	seq, err := sequencer.New(operator, cfg.Batch, cfg.Encoding.Layout())
	if err != nil {
		return err
	}
	items := make([]sequencer.Item, c.Count)
	for i := range items {
		items[i] = sequencer.Item{To: c.To, Amount: amt, Fee: fee, ValidUntilBlock: c.ValidUntil}
	}

	logx.Info("SEND", fmt.Sprintf("sending %d transfers from %d to %d via %s", c.Count, c.From, c.To, operator.Endpoint()))
	res, err := seq.Run(ctx, sequencer.Request{From: c.From, Key: kp, StartNonce: start, Items: items})
	if err != nil {
		return err
	}
	for _, r := range res.Items {
		switch {
		case r.OK():
			fmt.Printf("#%d nonce %d accepted %s (%s)\n", r.Index, r.Nonce, r.Receipt.Confirmation, r.Receipt.Latency.Round(time.Millisecond))
		case r.Err != nil:
			fmt.Printf("#%d nonce %d failed: %v\n", r.Index, r.Nonce, r.Err)
		}
	}
	if next, err := res.Resume(); err != nil {
		fmt.Printf("batch %s %s: %d accepted, %d failed, nonce space exhausted\n",
			res.BatchID, res.Status, len(res.Acks), len(res.Failures))
	} else {
		fmt.Printf("batch %s %s: %d accepted, %d failed, next nonce %d\n",
			res.BatchID, res.Status, len(res.Acks), len(res.Failures), next)
	}
	if res.Status != sequencer.StatusCompleted {
		return fmt.Errorf("batch %s", res.Status)
	}
	return nil
}

func serveMetrics(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	monitoring.RegisterMetrics(mux)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	exception.SafeGo("metrics-server", func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logx.Error("MONITORING", "metrics server stopped:", err)
		}
	})
	exception.SafeGo("metrics-shutdown", func() {
		<-ctx.Done()
		_ = srv.Close()
	})
}
