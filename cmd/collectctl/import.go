package main

import (
	"fmt"
	"os"
	"path/filepath"

	"collectbook/internal/log"

	"github.com/spf13/cobra"
)

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import --site ID FILE",
		Short: "Import a site's collections from a CSV or XLSX file",
		Long: `Record every valid row of FILE as a collection for the site.

The file needs a header row with contract_number, collected_on (YYYY-MM-DD)
and amount columns; method and note are optional. Rows that fail are
reported in the summary and do not stop the import.`,
		Args: cobra.ExactArgs(1),
		RunE: runImport,
	}

	cmd.Flags().Int64("site", 0, "site id the file belongs to (required)")
	_ = cmd.MarkFlagRequired("site")

	return cmd
}

func runImport(cmd *cobra.Command, args []string) error {
	siteID, _ := cmd.Flags().GetInt64("site")
	if siteID <= 0 {
		return fmt.Errorf("--site must be a positive id")
	}

	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("open import file: %w", err)
	}
	defer f.Close()

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := log.NewContext(cmd.Context(), a.logger)
	summary, err := a.imports.Import(ctx, siteID, filepath.Base(args[0]), f)
	if err != nil {
		return fmt.Errorf("import %s: %w", args[0], err)
	}

	return printJSON(cmd.OutOrStdout(), summary)
}
