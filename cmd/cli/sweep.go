package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/storefront/pricing-service/internal/database"
	"github.com/storefront/pricing-service/internal/ledger"
)

// ledgerCmd groups usage ledger commands
var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Manage the promotion usage ledger",
}

// ledgerSweepCmd represents the ledger sweep command
var ledgerSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete expired usage reservations",
	Long: `Delete reservations past their expiry deadline, returning their usage
slots to the pool. The server runs this sweep periodically; the command
exists for one-off runs and cron-style deployments.`,
	Example: `  pricing-service ledger sweep`,
	Args:    cobra.NoArgs,
	RunE:    runLedgerSweep,
}

func init() {
	rootCmd.AddCommand(ledgerCmd)
	ledgerCmd.AddCommand(ledgerSweepCmd)
}

func runLedgerSweep(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	l := ledger.NewPGLedger(database.Pool(), cfg.Pricing.ReservationTTL)
	expired, err := l.ExpireStale(ctx)
	if err != nil {
		return fmt.Errorf("sweep failed: %w", err)
	}

	logger.Info().Int("expired", expired).Msg("Sweep complete")
	return nil
}
