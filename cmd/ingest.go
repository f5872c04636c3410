package main

import (
	"bufio"
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/creatorpulse/trendwatch/internal/model"
)

var ingestFile string

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Load content items from a JSON-lines file",
	Long:  "Reads one content item per line and bulk-upserts them into the store, keyed on (tenant_id, id).",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		f, err := os.Open(ingestFile)
		if err != nil {
			return eris.Wrapf(err, "open %s", ingestFile)
		}
		defer f.Close()

		var items []model.ContentItem
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		line := 0
		for scanner.Scan() {
			line++
			raw := scanner.Bytes()
			if len(raw) == 0 {
				continue
			}
			var item model.ContentItem
			if err := json.Unmarshal(raw, &item); err != nil {
				return eris.Wrapf(err, "parse line %d", line)
			}
			if err := item.Validate(); err != nil {
				return eris.Wrapf(err, "invalid item at line %d", line)
			}
			items = append(items, item)
		}
		if err := scanner.Err(); err != nil {
			return eris.Wrapf(err, "read %s", ingestFile)
		}

		n, err := st.InsertItems(ctx, items)
		if err != nil {
			return eris.Wrap(err, "insert items")
		}

		zap.L().Info("ingest complete",
			zap.String("file", ingestFile),
			zap.Int("parsed", len(items)),
			zap.Int64("upserted", n),
		)
		return nil
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestFile, "file", "", "JSON-lines file of content items (required)")
	_ = ingestCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(ingestCmd)
}
