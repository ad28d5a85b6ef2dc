package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/mezonai/mmn-plasma/exception"
	"github.com/mezonai/mmn-plasma/ledger"
	"github.com/mezonai/mmn-plasma/monitoring"
	"github.com/mezonai/mmn-plasma/stubserver"
	"github.com/spf13/cobra"
)

var (
	devnetListen       string
	devnetFirstID      uint32
	devnetManual       bool
	devnetConfirmEvery time.Duration
	devnetNonceWait    time.Duration
	devnetOutstanding  int
)

var devnetCmd = &cobra.Command{
	Use:   "devnet",
	Short: "Run an in-memory development operator",
	Long: `Serve the operator REST API from memory. Transfers are checked and
applied immediately; there are no blocks or proofs.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDevnet(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(devnetCmd)

	devnetCmd.Flags().StringVar(&devnetListen, "listen", ":8080", "listen address")
	devnetCmd.Flags().Uint32Var(&devnetFirstID, "first-id", 1, "id of the first registered account")
	devnetCmd.Flags().BoolVar(&devnetManual, "manual-confirm", false, "queue deposits and confirm them periodically")
	devnetCmd.Flags().DurationVar(&devnetConfirmEvery, "confirm-every", 2*time.Second, "deposit confirmation period with --manual-confirm")
	devnetCmd.Flags().DurationVar(&devnetNonceWait, "nonce-wait", stubserver.DefaultNonceOrderTimeout, "how long an early nonce waits for its predecessors")
	devnetCmd.Flags().IntVar(&devnetOutstanding, "max-outstanding", stubserver.DefaultMaxOutstanding, "transfers processed at once before rate limiting")
}

func runDevnet(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	monitoring.InitMetrics()
	book := ledger.NewBook(devnetFirstID, !devnetManual)
	srv := stubserver.New(stubserver.Config{
		Layout:            cfg.Encoding.Layout(),
		MaxOutstanding:    devnetOutstanding,
		NonceOrderTimeout: devnetNonceWait,
	}, book)

	if devnetManual {
		exception.SafeGoWithPanic("devnet-confirm", func() { confirmDeposits(ctx, book, devnetConfirmEvery) })
	}
	if cfg.Metrics.Enabled {
		serveMetrics(ctx, cfg.Metrics.ListenAddr)
	}
	if err := srv.ListenAndServe(ctx, devnetListen); err != nil {
		return fmt.Errorf("devnet operator: %w", err)
	}
	return nil
}

func confirmDeposits(ctx context.Context, book *ledger.Book, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			book.ConfirmPending()
		}
	}
}
