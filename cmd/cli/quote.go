package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/storefront/pricing-service/internal/catalog"
	"github.com/storefront/pricing-service/internal/combos"
	"github.com/storefront/pricing-service/internal/database"
	"github.com/storefront/pricing-service/internal/ledger"
	"github.com/storefront/pricing-service/internal/pricer"
)

var quoteAsOf string

// quoteCmd represents the quote command
var quoteCmd = &cobra.Command{
	Use:   "quote <cart.json>",
	Short: "Price a cart against the live promotion catalog",
	Long: `Price a cart described by a JSON file against the current promotion
and combo catalogs. Reservations land in a throwaway in-memory ledger,
so quoting never consumes promotion usage slots. Globally exhausted
promotions may still be offered; the checkout quote is authoritative.`,
	Example: `  pricing-service quote cart.json
  pricing-service quote cart.json --as-of 2026-09-01T00:00:00Z`,
	Args: cobra.ExactArgs(1),
	RunE: runQuote,
}

func init() {
	rootCmd.AddCommand(quoteCmd)

	quoteCmd.Flags().StringVar(&quoteAsOf, "as-of", "", "Evaluation time (RFC 3339, defaults to now)")
}

func runQuote(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	asOf := time.Now()
	if quoteAsOf != "" {
		parsed, err := time.Parse(time.RFC3339, quoteAsOf)
		if err != nil {
			return fmt.Errorf("invalid --as-of value: %w", err)
		}
		asOf = parsed
	}

	content, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read cart file: %w", err)
	}
	var cart pricer.Cart
	if err := json.Unmarshal(content, &cart); err != nil {
		return fmt.Errorf("failed to parse cart file: %w", err)
	}

	pool := database.Pool()
	snapshot, err := catalog.NewStore(pool).LoadSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("failed to load promotion catalog: %w", err)
	}
	comboCatalog, err := combos.NewStore(pool).LoadCatalog(ctx)
	if err != nil {
		return fmt.Errorf("failed to load combo catalog: %w", err)
	}

	// Reservations land in a throwaway in-memory ledger.
	p := pricer.New(ledger.NewMemoryLedger(time.Minute))
	order, err := p.Price(ctx, &cart, pricer.Snapshots{
		Promotions: snapshot,
		Combos:     comboCatalog,
	}, asOf)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(order, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
