package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/storefront/pricing-service/internal/archive"
	"github.com/storefront/pricing-service/internal/database"
	"github.com/storefront/pricing-service/internal/importer"
)

var (
	promosDryRun    bool
	promosNoArchive bool
)

// promosCmd groups promotion catalog commands
var promosCmd = &cobra.Command{
	Use:   "promos",
	Short: "Manage the promotion catalog",
}

// promosImportCmd represents the promos import command
var promosImportCmd = &cobra.Command{
	Use:   "import <file.xlsx>",
	Short: "Import promotions from an XLSX workbook",
	Long: `Import promotion definitions from an admin-authored XLSX workbook.
Rows that fail validation are reported and skipped; valid rows are
upserted by promotion ID in a single transaction.`,
	Example: `  pricing-service promos import promotions.xlsx
  pricing-service promos import promotions.xlsx --dry-run`,
	Args: cobra.ExactArgs(1),
	RunE: runPromosImport,
}

func init() {
	rootCmd.AddCommand(promosCmd)
	promosCmd.AddCommand(promosImportCmd)

	promosImportCmd.Flags().BoolVar(&promosDryRun, "dry-run", false, "Parse and validate without writing to the database")
	promosImportCmd.Flags().BoolVar(&promosNoArchive, "no-archive", false, "Skip archiving the workbook")
}

func runPromosImport(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	content, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read workbook: %w", err)
	}

	result, err := importer.ParsePromotions(content)
	if err != nil {
		return err
	}

	for _, rowErr := range result.Errors {
		logger.Warn().
			Int("row", rowErr.RowNumber).
			Str("field", rowErr.Field).
			Str("reason", rowErr.Message).
			Msg("Skipping invalid row")
	}

	logger.Info().
		Int("total_rows", result.TotalRows).
		Int("valid", len(result.Promotions)).
		Int("rejected", len(result.Errors)).
		Msg("Workbook parsed")

	if promosDryRun {
		logger.Info().Msg("Dry run, nothing written")
		return nil
	}
	if len(result.Promotions) == 0 {
		return fmt.Errorf("no valid promotions to import")
	}

	stats, err := importer.Import(ctx, database.Pool(), result.Promotions)
	if err != nil {
		return fmt.Errorf("import failed: %w", err)
	}

	logger.Info().Int("upserted", stats.Upserted).Msg("Import complete")

	if !promosNoArchive {
		if err := archiveWorkbook(ctx, args[0], content, result); err != nil {
			// The catalog write already committed; a failed archive is
			// not worth failing the import over.
			logger.Warn().Err(err).Msg("Failed to archive workbook")
		}
	}
	return nil
}

func archiveWorkbook(ctx context.Context, path string, content []byte, result *importer.ParseResult) error {
	store, err := archive.NewLocalStore(cfg.Import.ArchiveDir)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	checksum := archive.ComputeChecksum(content)
	key := archive.BuildWorkbookKey(now, checksum, filepath.Base(path))

	err = store.Put(ctx, key, content, &archive.Metadata{
		OriginalName: filepath.Base(path),
		Checksum:     checksum,
		ImportedAt:   now,
		RowsTotal:    result.TotalRows,
		RowsValid:    len(result.Promotions),
		RowsRejected: len(result.Errors),
	})
	if err != nil {
		return err
	}

	logger.Info().Str("key", key).Msg("Workbook archived")
	return nil
}
