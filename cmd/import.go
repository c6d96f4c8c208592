package main

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/leadpipe/internal/dedup"
	"github.com/sells-group/leadpipe/internal/ingest"
)

var (
	importFile   string
	importOrigin string
	importSheet  string
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import lead candidates from a CSV or XLSX file",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		var res *ingest.Result
		switch strings.ToLower(filepath.Ext(importFile)) {
		case ".csv":
			f, err := os.Open(importFile)
			if err != nil {
				return eris.Wrap(err, "open import file")
			}
			defer f.Close() //nolint:errcheck
			res, err = ingest.ReadCSV(ctx, f, importOrigin, ingest.CSVOptions{})
			if err != nil {
				return err
			}
		case ".xlsx":
			res, err = ingest.ReadXLSX(importFile, importOrigin, ingest.XLSXOptions{SheetName: importSheet})
			if err != nil {
				return err
			}
		default:
			return eris.Errorf("unsupported import format: %s", filepath.Ext(importFile))
		}

		engine := initEngine(st)
		var created, merged, failed int
		for _, cand := range res.Candidates {
			_, isNew, err := engine.Upsert(ctx, dedup.LeadFromCandidate(cand), importOrigin)
			if err != nil {
				failed++
				zap.L().Warn("import candidate failed",
					zap.String("name", cand.FullName),
					zap.Error(err),
				)
				continue
			}
			if isNew {
				created++
			} else {
				merged++
			}
		}

		zap.L().Info("import complete",
			zap.String("file", importFile),
			zap.Int("created", created),
			zap.Int("merged", merged),
			zap.Int("failed", failed),
			zap.Int("skipped", res.Skipped),
		)
		return printJSON(map[string]int{
			"created": created,
			"merged":  merged,
			"failed":  failed,
			"skipped": res.Skipped,
		})
	},
}

func init() {
	importCmd.Flags().StringVar(&importFile, "file", "", "path to CSV or XLSX file (required)")
	importCmd.Flags().StringVar(&importOrigin, "origin", "import", "provenance origin for imported leads")
	importCmd.Flags().StringVar(&importSheet, "sheet", "", "XLSX sheet name (default first sheet)")
	_ = importCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(importCmd)
}
