package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var (
	trendsTenant string
	trendsJSON   bool
)

var trendsCmd = &cobra.Command{
	Use:   "trends",
	Short: "List active trends for a tenant",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		trends, err := st.ListActiveTrends(ctx, trendsTenant)
		if err != nil {
			return eris.Wrap(err, "list trends")
		}

		if trendsJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(trends)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "LABEL\tSTATUS\tSTRENGTH\tMENTIONS\tVELOCITY\tSOURCES\tFIRST SEEN")
		for _, t := range trends {
			fmt.Fprintf(w, "%s\t%s\t%.3f\t%d\t%+.2f\t%s\t%s\n",
				t.TopicLabel,
				t.Status,
				t.Strength,
				t.MentionCount,
				t.Velocity,
				strings.Join(t.Sources, ","),
				t.FirstSeen.Format("2006-01-02 15:04"),
			)
		}
		return w.Flush()
	},
}

func init() {
	trendsCmd.Flags().StringVar(&trendsTenant, "tenant", "", "tenant ID (required)")
	trendsCmd.Flags().BoolVar(&trendsJSON, "json", false, "output JSON")
	_ = trendsCmd.MarkFlagRequired("tenant")
	rootCmd.AddCommand(trendsCmd)
}
