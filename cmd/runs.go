package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/creatorpulse/trendwatch/internal/model"
	"github.com/creatorpulse/trendwatch/internal/store"
)

var (
	runsTenant string
	runsStatus string
	runsLimit  int
	runsJSON   bool
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent detection runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		runs, err := st.ListRuns(ctx, store.RunFilter{
			TenantID: runsTenant,
			Status:   model.RunStatus(runsStatus),
			Limit:    runsLimit,
		})
		if err != nil {
			return eris.Wrap(err, "list runs")
		}

		if runsJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(runs)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "RUN ID\tTENANT\tSTATUS\tCANDIDATES\tCREATED\tUPDATED\tARCHIVED\tSTARTED")
		for _, r := range runs {
			var candidates, created, updated, archived int
			if r.Result != nil {
				candidates = r.Result.CandidatesDetected
				created = r.Result.TrendsCreated
				updated = r.Result.TrendsUpdated
				archived = r.Result.TrendsArchived
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
				r.ID, r.TenantID, r.Status,
				candidates, created, updated, archived,
				r.CreatedAt.Format("2006-01-02 15:04:05"),
			)
		}
		return w.Flush()
	},
}

func init() {
	runsCmd.Flags().StringVar(&runsTenant, "tenant", "", "filter by tenant")
	runsCmd.Flags().StringVar(&runsStatus, "status", "", "filter by status")
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "max runs to list")
	runsCmd.Flags().BoolVar(&runsJSON, "json", false, "output JSON")
	rootCmd.AddCommand(runsCmd)
}
