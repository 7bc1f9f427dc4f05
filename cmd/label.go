package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/andresmejia3/silhouette/internal/client"
	"github.com/andresmejia3/silhouette/internal/store"
	"github.com/andresmejia3/silhouette/internal/utils"
	"github.com/spf13/cobra"
)

var labelOpts Options

var labelCmd = &cobra.Command{
	Use:         "label <image_path|image_id>",
	Short:       "Classify a stored measurement and save its body type and outfits",
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{"db": dbRequired},
	Run: func(cmd *cobra.Command, args []string) {
		if err := validateClientFlags(&labelOpts); err != nil {
			utils.Die("Invalid label flags", err, nil)
		}
		if err := runLabel(cmd.Context(), DB, newClient(labelOpts), args[0], labelOpts, os.Stdout); err != nil {
			utils.Die("Failed to label image", err, nil)
		}
	},
}

func init() {
	addClientFlags(labelCmd, &labelOpts)
	rootCmd.AddCommand(labelCmd)
}

func runLabel(ctx context.Context, db *store.Store, c *client.Client, ref string, opts Options, out io.Writer) error {
	id, err := resolveImageID(ref)
	if err != nil {
		return err
	}

	res, err := db.GetMeasurement(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("no measurement stored for %s", ref)
	}
	if err != nil {
		return err
	}

	bodyType, recs, err := classifyAndRecommend(ctx, c, res, opts)
	if err != nil {
		return err
	}

	if _, err := db.SaveClassification(ctx, store.Classification{
		ImageID: id, BodyType: bodyType, Gender: opts.Gender, Age: opts.Age,
	}); err != nil {
		return err
	}
	if err := db.SaveRecommendations(ctx, id, recs); err != nil {
		return err
	}

	fmt.Fprintf(out, "✅ Image %s labeled as '%s'\n", id[:min(12, len(id))], bodyType)
	printRecommendations(out, recs)
	return nil
}
