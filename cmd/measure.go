package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/andresmejia3/silhouette/internal/client"
	"github.com/andresmejia3/silhouette/internal/mask"
	"github.com/andresmejia3/silhouette/internal/measure"
	"github.com/andresmejia3/silhouette/internal/pipeline"
	"github.com/andresmejia3/silhouette/internal/pose"
	"github.com/andresmejia3/silhouette/internal/refine"
	"github.com/andresmejia3/silhouette/internal/store"
	"github.com/andresmejia3/silhouette/internal/utils"
	"github.com/andresmejia3/silhouette/internal/worker"
	"github.com/spf13/cobra"
)

var measureOpts Options

var measureCmd = &cobra.Command{
	Use:   "measure",
	Short: "Measure shoulder, waist and hip widths of one person",
	Long: `Measures one image. Either pass --image to run the segmentation and pose
models, or pass a precomputed --mask and --landmarks file.`,
	Annotations: map[string]string{"db": dbOptional},
	Run: func(cmd *cobra.Command, args []string) {
		if err := runMeasure(cmd.Context(), measureOpts, os.Stdout); err != nil {
			utils.Die("Measurement failed", err, nil)
		}
	},
}

func init() {
	measureCmd.Flags().StringVarP(&measureOpts.ImagePath, "image", "i", "", "Image to measure with the model workers")
	measureCmd.Flags().StringVarP(&measureOpts.MaskPath, "mask", "m", "", "Precomputed mask (image file or JSON payload)")
	measureCmd.Flags().StringVarP(&measureOpts.LandmarksPath, "landmarks", "l", "", "Precomputed pose landmarks (JSON)")
	measureCmd.Flags().StringVar(&measureOpts.SegmenterCmd, "segmenter", "", "Segmentation worker command (default: python3 -u python/segment.py)")
	measureCmd.Flags().StringVar(&measureOpts.PoseCmd, "pose", "", "Pose worker command (default: python3 -u python/pose.py)")
	measureCmd.Flags().BoolVar(&measureOpts.JSON, "json", false, "Print the result as JSON")
	measureCmd.Flags().BoolVar(&measureOpts.Classify, "classify", false, "Classify the body type and fetch outfit recommendations")
	addClientFlags(measureCmd, &measureOpts)
	rootCmd.AddCommand(measureCmd)
}

// measureOutput is the --json shape of a measurement.
type measureOutput struct {
	Image           string                  `json:"image"`
	Width           int                     `json:"width"`
	Height          int                     `json:"height"`
	Measurements    measure.Result          `json:"measurements"`
	BodyType        string                  `json:"body_type,omitempty"`
	Recommendations []client.Recommendation `json:"recommendations,omitempty"`
}

func runMeasure(ctx context.Context, opts Options, out io.Writer) error {
	if err := validateMeasureFlags(&opts); err != nil {
		return err
	}

	var (
		o   measureOutput
		err error
	)
	if opts.ImagePath != "" {
		o, err = measureImage(ctx, opts)
	} else {
		o, err = measureFiles(opts)
	}
	if err != nil {
		return err
	}

	var imageID string
	if DB != nil {
		if imageID, err = persistMeasurement(ctx, DB, o); err != nil {
			return fmt.Errorf("failed to save measurement: %w", err)
		}
		fmt.Fprintf(os.Stderr, "💾 Saved measurement for %s (%s)\n", o.Image, imageID[:12])
	}

	if opts.Classify {
		c := newClient(opts)
		o.BodyType, o.Recommendations, err = classifyAndRecommend(ctx, c, o.Measurements, opts)
		if err != nil {
			return err
		}
		if DB != nil {
			if _, err := DB.SaveClassification(ctx, store.Classification{
				ImageID: imageID, BodyType: o.BodyType, Gender: opts.Gender, Age: opts.Age,
			}); err != nil {
				return fmt.Errorf("failed to save classification: %w", err)
			}
			if err := DB.SaveRecommendations(ctx, imageID, o.Recommendations); err != nil {
				return fmt.Errorf("failed to save recommendations: %w", err)
			}
		}
	}

	if opts.JSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(o)
	}
	printMeasurement(out, o)
	return nil
}

// measureFiles measures a precomputed mask and landmark file without any workers.
func measureFiles(opts Options) (measureOutput, error) {
	lms, err := pose.DecodeFile(opts.LandmarksPath)
	if err != nil {
		return measureOutput{}, fmt.Errorf("failed to read landmarks: %w", err)
	}

	grid, width, height, err := loadMask(opts.MaskPath)
	if err != nil {
		return measureOutput{}, err
	}
	if grid != nil {
		if grid, err = refine.Apply(grid, Tuning.GetCloseGapsKernel(), Tuning.GetKeepLargestRegion()); err != nil {
			return measureOutput{}, err
		}
	}

	res := newEngine().Measure(measure.Input{Mask: grid, Landmarks: lms, Width: width, Height: height})
	return measureOutput{Image: opts.MaskPath, Width: width, Height: height, Measurements: res}, nil
}

// loadMask reads a mask image or JSON payload. A mask that cannot be normalized is
// reported and dropped, but its dimensions are still returned.
func loadMask(path string) (*mask.Grid, int, int, error) {
	thresholds := Tuning.Params().Thresholds

	if strings.EqualFold(filepath.Ext(path), ".json") {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, 0, 0, err
		}
		var p mask.Payload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, 0, 0, fmt.Errorf("failed to parse mask payload: %w", err)
		}
		g, err := p.Grid(thresholds)
		if err != nil {
			fmt.Fprintf(os.Stderr, "⚠️  Ignoring mask: %v\n", err)
			return nil, p.Width, p.Height, nil
		}
		return g, p.Width, p.Height, nil
	}

	src, width, height, err := mask.DecodeFile(path)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("failed to read mask: %w", err)
	}
	g, err := mask.NormalizeWith(src, width, height, thresholds)
	if err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  Ignoring mask: %v\n", err)
		return nil, width, height, nil
	}
	return g, width, height, nil
}

// measureImage runs one pipeline over a single image.
func measureImage(ctx context.Context, opts Options) (measureOutput, error) {
	img, err := os.ReadFile(opts.ImagePath)
	if err != nil {
		return measureOutput{}, err
	}

	fmt.Fprintf(os.Stderr, "⚙️  Loading models...\n")
	p, workers := newPipeline(0, opts)
	defer p.Close()
	if err := p.Load(ctx); err != nil {
		workers.showLogs("Model startup failed", err)
		return measureOutput{}, err
	}

	rep, err := p.Process(ctx, img)
	if err != nil {
		workers.showLogs("Image processing failed", err)
		return measureOutput{}, err
	}
	return measureOutput{Image: opts.ImagePath, Width: rep.Width, Height: rep.Height, Measurements: rep.Result}, nil
}

// pipelineWorkers keeps the worker processes behind a pipeline so their logs can be shown.
type pipelineWorkers struct {
	seg  *worker.PythonWorker
	pose *worker.PythonWorker
}

func (w *pipelineWorkers) showLogs(msg string, err error) {
	var cmd *utils.SafeCommand
	switch {
	case w.seg != nil && w.seg.Cmd != nil && w.seg.Cmd.Stderr.Len() > 0:
		cmd = w.seg.Cmd
	case w.pose != nil && w.pose.Cmd != nil:
		cmd = w.pose.Cmd
	}
	utils.ShowError(msg, err, cmd)
}

// newPipeline wires a pipeline to a segmentation and a pose worker process.
func newPipeline(id int, opts Options) (*pipeline.Pipeline, *pipelineWorkers) {
	workers := &pipelineWorkers{}
	p := pipeline.New(pipeline.Options{
		LoadSegmenter: func(ctx context.Context) (pipeline.Segmenter, error) {
			w, err := worker.NewPythonWorker(ctx, id, workerConfig(worker.RoleSegmentation, opts.SegmenterCmd))
			if err != nil {
				return nil, err
			}
			workers.seg = w
			return w, nil
		},
		LoadPose: func(ctx context.Context) (pipeline.PoseEstimator, error) {
			w, err := worker.NewPythonWorker(ctx, id, workerConfig(worker.RolePose, opts.PoseCmd))
			if err != nil {
				return nil, err
			}
			workers.pose = w
			return w, nil
		},
		Engine:          newEngine(),
		CloseGapsKernel: Tuning.GetCloseGapsKernel(),
		KeepLargest:     Tuning.GetKeepLargestRegion(),
	})
	return p, workers
}

// persistMeasurement registers the image and stores its result, returning the image ID.
func persistMeasurement(ctx context.Context, db *store.Store, o measureOutput) (string, error) {
	id, err := utils.GenerateImageID(o.Image)
	if err != nil {
		return "", err
	}
	if err := db.EnsureImage(ctx, store.Image{ID: id, Path: o.Image, Width: o.Width, Height: o.Height}); err != nil {
		return "", err
	}
	return id, db.SaveMeasurement(ctx, id, o.Measurements)
}

// classifyAndRecommend sends a complete measurement to the classifier, then asks
// the recommender for outfits matching the predicted body type.
func classifyAndRecommend(ctx context.Context, c *client.Client, res measure.Result, opts Options) (string, []client.Recommendation, error) {
	req, err := client.NewClassifyRequest(res, opts.Gender, opts.Age)
	if err != nil {
		return "", nil, err
	}
	fmt.Fprintf(os.Stderr, "🧠 Predicting body type...\n")
	bodyType, err := c.Classify(ctx, req)
	if err != nil {
		return "", nil, fmt.Errorf("classification failed: %w", err)
	}

	fmt.Fprintf(os.Stderr, "👗 Fetching recommendations for %s...\n", bodyType)
	recs, err := c.Recommend(ctx, client.RecommendRequest{
		Gender:    strings.ToLower(opts.Gender),
		BodyShape: bodyType,
		Prompt:    opts.Prompt,
		TopK:      opts.TopK,
	})
	if err != nil {
		return bodyType, nil, fmt.Errorf("recommendation failed: %w", err)
	}
	return bodyType, recs, nil
}

func printMeasurement(out io.Writer, o measureOutput) {
	fmt.Fprintf(out, "Image:     %s (%dx%d)\n", o.Image, o.Width, o.Height)
	fmt.Fprintf(out, "Shoulders: %s px\n", measure.FormatFloat(o.Measurements.ShoulderWidthPx))
	fmt.Fprintf(out, "Waist:     %s px\n", measure.FormatInt(o.Measurements.WaistWidthPx))
	fmt.Fprintf(out, "Hips:      %s px\n", measure.FormatFloat(o.Measurements.HipWidthPx))
	if o.BodyType != "" {
		fmt.Fprintf(out, "Body type: %s\n", o.BodyType)
		printRecommendations(out, o.Recommendations)
	}
}

func printRecommendations(out io.Writer, recs []client.Recommendation) {
	if len(recs) == 0 {
		fmt.Fprintln(out, "No recommendations found.")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "#\tLABEL\tSCORE\tSTYLE\tBODY SHAPE\tURL")
	fmt.Fprintln(w, "-\t-----\t-----\t-----\t----------\t---")
	for i, r := range recs {
		fmt.Fprintf(w, "%d\t%s\t%.2f\t%.2f\t%.2f\t%s\n", i+1, r.ImageLabel, r.TotalScore, r.StyleScore, r.BodyshapeScore, r.ImageURL)
	}
	w.Flush()
}

// validateMeasureFlags ensures exactly one input mode is selected and its files exist.
func validateMeasureFlags(opts *Options) error {
	hasImage := opts.ImagePath != ""
	hasFiles := opts.MaskPath != "" || opts.LandmarksPath != ""

	switch {
	case hasImage && hasFiles:
		return fmt.Errorf("use either --image or --mask/--landmarks, not both")
	case !hasImage && !hasFiles:
		return fmt.Errorf("one of --image or --mask with --landmarks is required")
	case hasFiles && (opts.MaskPath == "" || opts.LandmarksPath == ""):
		return fmt.Errorf("--mask and --landmarks must be given together")
	}

	for _, path := range []string{opts.ImagePath, opts.MaskPath, opts.LandmarksPath} {
		if path == "" {
			continue
		}
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("unable to access %s: %w", path, err)
		}
		if info.IsDir() {
			return fmt.Errorf("%s is a directory, expected a file", path)
		}
	}

	if opts.Classify {
		return validateClientFlags(opts)
	}
	return nil
}
