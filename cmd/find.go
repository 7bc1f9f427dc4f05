package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/andresmejia3/silhouette/internal/measure"
	"github.com/andresmejia3/silhouette/internal/store"
	"github.com/andresmejia3/silhouette/internal/utils"
	"github.com/spf13/cobra"
)

var findCmd = &cobra.Command{
	Use:         "find <image_path|image_id>",
	Short:       "Show the stored measurement and recommendations for an image",
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{"db": dbRequired},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runFind(cmd.Context(), DB, args[0], os.Stdout)
	},
}

func init() {
	rootCmd.AddCommand(findCmd)
}

// resolveImageID hashes ref when it names an existing file, otherwise treats it as an ID.
func resolveImageID(ref string) (string, error) {
	if _, err := os.Stat(ref); err == nil {
		return utils.GenerateImageID(ref)
	}
	return ref, nil
}

func runFind(ctx context.Context, db *store.Store, ref string, out io.Writer) error {
	id, err := resolveImageID(ref)
	if err != nil {
		utils.ShowError("Failed to hash image", err, nil)
		return err
	}

	res, err := db.GetMeasurement(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		fmt.Fprintf(out, "❌ No measurement stored for %s. Run 'silhouette measure' or 'silhouette scan' first.\n", ref)
		return nil
	}
	if err != nil {
		utils.ShowError("Database lookup failed", err, nil)
		return err
	}

	fmt.Fprintf(out, "Image ID:  %s\n", id)
	fmt.Fprintf(out, "Shoulders: %s px\n", measure.FormatFloat(res.ShoulderWidthPx))
	fmt.Fprintf(out, "Waist:     %s px\n", measure.FormatInt(res.WaistWidthPx))
	fmt.Fprintf(out, "Hips:      %s px\n", measure.FormatFloat(res.HipWidthPx))

	recs, err := db.ListRecommendations(ctx, id)
	if err != nil {
		utils.ShowError("Database lookup failed", err, nil)
		return err
	}
	if len(recs) > 0 {
		fmt.Fprintln(out)
		printRecommendations(out, recs)
	}
	return nil
}
