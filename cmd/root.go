package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/andresmejia3/silhouette/internal/client"
	"github.com/andresmejia3/silhouette/internal/config"
	"github.com/andresmejia3/silhouette/internal/measure"
	"github.com/andresmejia3/silhouette/internal/monitoring"
	"github.com/andresmejia3/silhouette/internal/store"
	"github.com/andresmejia3/silhouette/internal/worker"
	"github.com/spf13/cobra"
)

// Options holds shared configuration for the measure, scan and recommend commands
type Options struct {
	InputPath      string
	ImagePath      string
	MaskPath       string
	LandmarksPath  string
	NumEngines     int
	SegmenterCmd   string
	PoseCmd        string
	JSON           bool
	Classify       bool
	Gender         string
	Age            int
	Prompt         string
	TopK           int
	BodyShape      string
	ShoulderWidth  float64
	Waist          float64
	Hips           float64
	ClassifierURL  string
	RecommenderURL string
}

// Database requirement of a command, read from its "db" annotation.
const (
	dbRequired = "required"
	dbOptional = "optional"
)

const (
	defaultGender = "female"
	defaultAge    = 25
	defaultPrompt = "I want a casual stylish outfit"
	defaultDBURL  = "postgres://localhost:5432/silhouette"
)

var (
	// DB is the global database connection shared by subcommands. It is nil
	// when the command runs without a database.
	DB *store.Store
	// dbURL is the connection string
	dbURL string
	// tuningPath points at an optional JSON tuning file
	tuningPath string
	closeGaps  int
	quiet      bool
	// Tuning holds the engine and worker tuning for this run
	Tuning = config.DefaultTuningConfig()
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "silhouette",
	Short:   "Body measurement from segmentation masks and pose landmarks",
	Version: Version, // This enables the --version flag
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if quiet {
			monitoring.SetLogger(nil)
		}
		if tuningPath != "" {
			cfg, err := config.LoadTuningConfig(tuningPath)
			if err != nil {
				return fmt.Errorf("failed to load tuning config: %w", err)
			}
			Tuning = cfg
		}
		if cmd.Flags().Changed("close-gaps") {
			if closeGaps < 0 {
				return fmt.Errorf("--close-gaps must be >= 0, got %d", closeGaps)
			}
			Tuning.CloseGapsKernel = &closeGaps
		}

		need := cmd.Annotations["db"]
		url, explicit := resolveDBURL(dbURL, os.Getenv)
		if need == "" || (need == dbOptional && !explicit) {
			return nil
		}

		// Use the command's context (which will be cancellable) for the connection
		var err error
		DB, err = store.New(cmd.Context(), url)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if DB != nil {
			// Use Background here because the main context might be cancelled already (due to Ctrl+C)
			// and we still need to send the "Close" command to the DB.
			DB.Close(context.Background())
		}
	},
}

// resolveDBURL picks the connection string from the flag, then the POSTGRES_*
// environment, then the local default. explicit is false only for the default.
func resolveDBURL(flag string, getenv func(string) string) (url string, explicit bool) {
	if flag != "" {
		return flag, true
	}
	if host := getenv("POSTGRES_HOST"); host != "" {
		port := getenv("POSTGRES_PORT")
		if port == "" {
			port = "5432"
		}
		return fmt.Sprintf("postgres://%s:%s@%s:%s/%s",
			getenv("POSTGRES_USER"), getenv("POSTGRES_PASSWORD"), host, port, getenv("POSTGRES_DB")), true
	}
	// Fallback to local default if no env vars are present
	return defaultDBURL, false
}

// newEngine builds the measurement engine from the active tuning.
func newEngine() *measure.Engine {
	return measure.New(Tuning.Params())
}

// workerConfig builds a worker launch config. An empty command selects the default.
func workerConfig(role worker.Role, command string) worker.Config {
	argv := strings.Fields(command)
	if len(argv) == 0 {
		if role == worker.RoleSegmentation {
			argv = worker.DefaultSegmenterCommand
		} else {
			argv = worker.DefaultPoseCommand
		}
	}
	return worker.Config{Role: role, Command: argv, ReadTimeout: Tuning.GetWorkerTimeout()}
}

func newClient(opts Options) *client.Client {
	return client.New(nil, opts.ClassifierURL, opts.RecommenderURL)
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// This tells Cobra not to print the version in the help text, which is cleaner.
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "PostgreSQL connection string (default: postgres://localhost:5432/silhouette)")
	rootCmd.PersistentFlags().StringVar(&tuningPath, "tuning", "", "Path to a JSON tuning file")
	rootCmd.PersistentFlags().IntVar(&closeGaps, "close-gaps", 0, "Morphological close kernel applied to masks before measuring (0 = off, overrides --tuning)")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Suppress diagnostic logs")
}

// addClientFlags registers the classifier/recommender flags shared by measure and recommend.
func addClientFlags(cmd *cobra.Command, opts *Options) {
	cmd.Flags().StringVar(&opts.Gender, "gender", defaultGender, "Gender sent to the services (male or female)")
	cmd.Flags().IntVar(&opts.Age, "age", defaultAge, "Age sent to the classifier")
	cmd.Flags().StringVar(&opts.Prompt, "prompt", defaultPrompt, "Outfit description for the recommender")
	cmd.Flags().IntVar(&opts.TopK, "topk", client.DefaultTopK, "Number of recommendations (1-10)")
	cmd.Flags().StringVar(&opts.ClassifierURL, "classifier-url", client.DefaultClassifierURL, "Body type classifier base URL")
	cmd.Flags().StringVar(&opts.RecommenderURL, "recommender-url", client.DefaultRecommenderURL, "Outfit recommender base URL")
}

// validateClientFlags checks the flags shared by every command that calls the services.
func validateClientFlags(opts *Options) error {
	if _, err := client.ParseGender(opts.Gender); err != nil {
		return err
	}
	if opts.Age < 1 || opts.Age > 120 {
		return fmt.Errorf("age must be between 1 and 120, got %d", opts.Age)
	}
	if opts.TopK < 1 || opts.TopK > 10 {
		return fmt.Errorf("topk must be between 1 and 10, got %d", opts.TopK)
	}
	if strings.TrimSpace(opts.Prompt) == "" {
		return fmt.Errorf("prompt must not be empty")
	}
	return nil
}
