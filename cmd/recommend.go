package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/andresmejia3/silhouette/internal/client"
	"github.com/andresmejia3/silhouette/internal/utils"
	"github.com/spf13/cobra"
)

var recommendOpts Options

var recommendCmd = &cobra.Command{
	Use:   "recommend",
	Short: "Get outfit recommendations from manually entered measurements",
	Long: `Classifies the body type from --shoulder, --waist and --hips, then asks the
recommender for outfits. Pass --body-shape to skip classification.`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runRecommend(cmd.Context(), newClient(recommendOpts), recommendOpts, os.Stdout); err != nil {
			utils.Die("Recommendation failed", err, nil)
		}
	},
}

func init() {
	recommendCmd.Flags().Float64Var(&recommendOpts.ShoulderWidth, "shoulder", 0, "Shoulder width")
	recommendCmd.Flags().Float64Var(&recommendOpts.Waist, "waist", 0, "Waist width")
	recommendCmd.Flags().Float64Var(&recommendOpts.Hips, "hips", 0, "Hip width")
	recommendCmd.Flags().StringVar(&recommendOpts.BodyShape, "body-shape", "", "Known body shape (skips the classifier)")
	recommendCmd.Flags().BoolVar(&recommendOpts.JSON, "json", false, "Print the result as JSON")
	addClientFlags(recommendCmd, &recommendOpts)
	rootCmd.AddCommand(recommendCmd)
}

type recommendOutput struct {
	BodyType        string                  `json:"body_type"`
	Recommendations []client.Recommendation `json:"recommendations"`
}

func runRecommend(ctx context.Context, c *client.Client, opts Options, out io.Writer) error {
	if err := validateRecommendFlags(&opts); err != nil {
		return err
	}

	bodyType := opts.BodyShape
	if bodyType == "" {
		gender, _ := client.ParseGender(opts.Gender)
		fmt.Fprintf(os.Stderr, "🧠 Predicting body type...\n")
		var err error
		bodyType, err = c.Classify(ctx, client.ClassifyRequest{
			ShoulderWidth: opts.ShoulderWidth,
			Waist:         opts.Waist,
			Hips:          opts.Hips,
			Gender:        gender,
			Age:           opts.Age,
		})
		if err != nil {
			return fmt.Errorf("classification failed: %w", err)
		}
	}

	fmt.Fprintf(os.Stderr, "👗 Fetching recommendations for %s...\n", bodyType)
	recs, err := c.Recommend(ctx, client.RecommendRequest{
		Gender:    strings.ToLower(opts.Gender),
		BodyShape: bodyType,
		Prompt:    opts.Prompt,
		TopK:      opts.TopK,
	})
	if err != nil {
		return fmt.Errorf("recommendation failed: %w", err)
	}

	if opts.JSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(recommendOutput{BodyType: bodyType, Recommendations: recs})
	}
	fmt.Fprintf(out, "Body type: %s\n", bodyType)
	printRecommendations(out, recs)
	return nil
}

// validateRecommendFlags requires all three widths unless the body shape is given.
func validateRecommendFlags(opts *Options) error {
	if err := validateClientFlags(opts); err != nil {
		return err
	}
	if opts.BodyShape != "" {
		return nil
	}
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"shoulder", opts.ShoulderWidth},
		{"waist", opts.Waist},
		{"hips", opts.Hips},
	} {
		if f.v <= 0 {
			return fmt.Errorf("--%s must be a positive number (or pass --body-shape)", f.name)
		}
	}
	return nil
}
