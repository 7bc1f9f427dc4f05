package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/silhouette/internal/measure"
	"github.com/andresmejia3/silhouette/internal/store"
	"github.com/andresmejia3/silhouette/internal/utils"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:         "list",
	Short:       "List all stored measurements",
	Annotations: map[string]string{"db": dbRequired},
	Run: func(cmd *cobra.Command, args []string) {
		runList(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(ctx context.Context) {
	records, err := DB.ListMeasurements(ctx)
	if err != nil {
		utils.Die("Failed to list measurements", err, nil)
	}
	printMeasurements(os.Stdout, records)
}

func printMeasurements(out io.Writer, records []store.MeasurementRecord) {
	if len(records) == 0 {
		fmt.Fprintln(out, "No measurements found in database.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tIMAGE\tSIZE\tSHOULDER\tWAIST\tHIP\tMEASURED")
	fmt.Fprintln(w, "--\t-----\t----\t--------\t-----\t---\t--------")

	for _, r := range records {
		id := r.Image.ID
		if len(id) > 12 {
			id = id[:12]
		}
		fmt.Fprintf(w, "%s\t%s\t%dx%d\t%s\t%s\t%s\t%s\n",
			id, r.Image.Path, r.Image.Width, r.Image.Height,
			measure.FormatFloat(r.Result.ShoulderWidthPx),
			measure.FormatInt(r.Result.WaistWidthPx),
			measure.FormatFloat(r.Result.HipWidthPx),
			r.MeasuredAt.Local().Format("2006-01-02 15:04"))
	}
	w.Flush()
}
