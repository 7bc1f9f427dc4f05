package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/andresmejia3/silhouette/internal/pipeline"
	"github.com/andresmejia3/silhouette/internal/store"
	"github.com/andresmejia3/silhouette/internal/types"
	"github.com/andresmejia3/silhouette/internal/utils"
	"github.com/andresmejia3/silhouette/internal/worker"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var scanOpts Options

var scanCmd = &cobra.Command{
	Use:         "scan",
	Short:       "Measure every image in a directory with parallel engines",
	Annotations: map[string]string{"db": dbRequired},
	Run: func(cmd *cobra.Command, args []string) {
		runScan(cmd.Context(), scanOpts)
	},
}

func init() {
	scanCmd.Flags().StringVarP(&scanOpts.InputPath, "input", "i", "", "Directory of images")
	scanCmd.Flags().IntVarP(&scanOpts.NumEngines, "engines", "e", 1, "Number of parallel engine workers")
	scanCmd.Flags().StringVar(&scanOpts.SegmenterCmd, "segmenter", "", "Segmentation worker command (default: python3 -u python/segment.py)")
	scanCmd.Flags().StringVar(&scanOpts.PoseCmd, "pose", "", "Pose worker command (default: python3 -u python/pose.py)")

	scanCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(scanCmd)
}

// runScan orchestrates the batch: image listing, engine pool, ordered persistence and progress tracking.
func runScan(ctx context.Context, opts Options) {
	if err := validateScanFlags(&opts); err != nil {
		utils.Die("Invalid scan flags", err, nil)
	}

	paths, err := utils.ListImages(opts.InputPath)
	if err != nil {
		utils.Die("Failed to list images", err, nil)
	}
	if len(paths) == 0 {
		fmt.Fprintf(os.Stderr, "📭 No images found in %s\n", opts.InputPath)
		return
	}
	if opts.NumEngines > len(paths) {
		opts.NumEngines = len(paths)
	}
	fmt.Fprintf(os.Stderr, "🖼️  Found %d images\n", len(paths))
	fmt.Fprintf(os.Stderr, "⚙️  Spawning %d Worker Engines...\n", opts.NumEngines)

	bar := progressbar.NewOptions(len(paths),
		progressbar.OptionSetDescription("📏 Silhouette Measuring"),
		progressbar.OptionSetWriter(os.Stderr), // Write bar to Stderr
		progressbar.OptionShowCount(),
	)

	taskChan := make(chan types.ImageTask, opts.NumEngines)
	resultsChan := make(chan scanResult, opts.NumEngines*2)
	var wg sync.WaitGroup

	// Start Aggregator (Consumer)
	// Must run concurrently to prevent deadlock on resultsChan
	var summary scanSummary
	aggDone := make(chan struct{})
	go func() {
		summary = processResults(ctx, resultsChan, DB, bar)
		close(aggDone)
	}()

	// Spawn the Engine Pool
	for i := 0; i < opts.NumEngines; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			startEngine(ctx, workerID, opts, taskChan, resultsChan)
		}(i)
	}

	sent := 0
feed:
	for i, path := range paths {
		select {
		case taskChan <- types.ImageTask{Index: i, Path: path}:
			sent++
		case <-ctx.Done():
			break feed
		}
	}

	close(taskChan)
	wg.Wait()
	close(resultsChan)

	// Wait for aggregator to finish processing
	<-aggDone
	bar.Finish()

	printScanSummary(os.Stderr, summary)
	if sent < len(paths) {
		fmt.Fprintf(os.Stderr, "🛑 Interrupted after %d of %d images.\n", sent, len(paths))
	}
}

// scanResult wraps the output from an engine to be sent to the aggregator
type scanResult struct {
	Index  int
	Path   string
	Report pipeline.Report
	Err    error
}

// startEngine manages the lifecycle of a single pipeline and its two worker processes.
func startEngine(ctx context.Context, id int, opts Options, tasks <-chan types.ImageTask, results chan<- scanResult) {
	p, workers := newPipeline(id, opts)
	defer p.Close()

	if err := p.Load(ctx); err != nil {
		workers.showLogs("Worker startup failed", err)
		os.Exit(1)
	}

	for task := range tasks {
		img, err := os.ReadFile(task.Path)
		if err != nil {
			results <- scanResult{Index: task.Index, Path: task.Path, Err: err}
			continue
		}

		rep, err := p.Process(ctx, img)
		if err != nil && ctx.Err() == nil {
			switch {
			case isWorkerTimeout(err):
				// The slow worker was killed; restart both models before the next image
				fmt.Fprintf(os.Stderr, "\n⏱️  Engine %d timed out on %s, restarting models...\n", id, task.Path)
				p.Close()
				if err := p.Load(ctx); err != nil {
					workers.showLogs("Worker restart failed", err)
					os.Exit(1)
				}
			case isWorkerCrash(err):
				// DRAIN: Wait for processes to exit and capture final stderr logs
				p.Close()
				workers.showLogs("Python crashed", err)
				os.Exit(1)
			}
		}
		// Send every task, even failed ones, to prevent aggregator deadlock
		results <- scanResult{Index: task.Index, Path: task.Path, Report: rep, Err: err}
	}
}

// isWorkerCrash reports whether a processing error means a worker process is gone.
func isWorkerCrash(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, os.ErrClosed) || errors.Is(err, worker.ErrWorkerBroken)
}

// isWorkerTimeout reports whether a worker missed its read deadline. The worker
// has been killed and the pipeline must be reloaded before it is used again.
func isWorkerTimeout(err error) bool {
	return errors.Is(err, os.ErrDeadlineExceeded)
}

type scanSummary struct {
	Total    int
	Complete int
	Partial  int
	Failed   int
	Missing  map[string]int
	Errors   []string
}

// processResults persists results in input order, whatever order the engines finish in.
func processResults(ctx context.Context, results <-chan scanResult, db *store.Store, bar *progressbar.ProgressBar) scanSummary {
	buffer := make(map[int]scanResult)
	nextIndex := 0
	summary := scanSummary{Missing: map[string]int{}}

	for res := range results {
		buffer[res.Index] = res

		// Process images in strict order
		for {
			r, ok := buffer[nextIndex]
			if !ok {
				break
			}
			delete(buffer, nextIndex)
			nextIndex++
			bar.Add(1)

			summary.record(r)
			if r.Err != nil {
				continue
			}
			if db == nil {
				continue
			}
			o := measureOutput{Image: r.Path, Width: r.Report.Width, Height: r.Report.Height, Measurements: r.Report.Result}
			if _, err := persistMeasurement(ctx, db, o); err != nil {
				utils.Die(fmt.Sprintf("Failed to persist measurement for %s", r.Path), err, nil)
			}
		}
	}
	return summary
}

func (s *scanSummary) record(r scanResult) {
	s.Total++
	if r.Err != nil {
		s.Failed++
		s.Errors = append(s.Errors, fmt.Sprintf("%s: %v", r.Path, r.Err))
		return
	}
	if r.Report.Result.Complete() {
		s.Complete++
		return
	}
	s.Partial++
	for _, name := range r.Report.Result.Missing() {
		s.Missing[name]++
	}
}

func printScanSummary(w io.Writer, s scanSummary) {
	fmt.Fprintf(w, "\n---------------------------------------------------------\n")
	fmt.Fprintf(w, "📊 SCAN SUMMARY\n")
	fmt.Fprintf(w, "---------------------------------------------------------\n")
	fmt.Fprintf(w, "🖼️  Images processed:   %d\n", s.Total)
	fmt.Fprintf(w, "✅ Fully measured:     %d\n", s.Complete)
	fmt.Fprintf(w, "🟡 Partially measured: %d\n", s.Partial)
	for _, name := range []string{"shoulder", "waist", "hip"} {
		if n := s.Missing[name]; n > 0 {
			fmt.Fprintf(w, "   missing %-8s    %d\n", name+":", n)
		}
	}
	fmt.Fprintf(w, "❌ Failed:             %d\n", s.Failed)
	for _, e := range s.Errors {
		fmt.Fprintf(w, "   %s\n", e)
	}
	fmt.Fprintf(w, "---------------------------------------------------------\n")
}

// validateScanFlags ensures all CLI arguments are valid before starting heavy processes.
func validateScanFlags(opts *Options) error {
	info, err := os.Stat(opts.InputPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("input directory does not exist: %w", err)
		}
		return fmt.Errorf("unable to access input directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("input path %s is a file, expected a directory of images", opts.InputPath)
	}
	if opts.NumEngines < 1 {
		opts.NumEngines = 1
	}
	return nil
}
