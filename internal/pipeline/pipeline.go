// Package pipeline drives one image through segmentation, pose detection and
// measurement, tracking progress with an explicit lifecycle.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/andresmejia3/silhouette/internal/mask"
	"github.com/andresmejia3/silhouette/internal/measure"
	"github.com/andresmejia3/silhouette/internal/monitoring"
	"github.com/andresmejia3/silhouette/internal/pose"
	"github.com/andresmejia3/silhouette/internal/refine"
)

var (
	// ErrUpstreamModel wraps any failure of the segmentation or pose model.
	ErrUpstreamModel = errors.New("upstream model failure")
	// ErrInvalidTransition is returned when an operation is not legal in the current state.
	ErrInvalidTransition = errors.New("invalid state transition")
)

// Segmenter produces a person mask for an encoded image.
type Segmenter interface {
	Segment(img []byte) (*mask.Payload, error)
	Close()
}

// PoseEstimator produces body landmarks for an encoded image.
type PoseEstimator interface {
	DetectPose(img []byte) (pose.Landmarks, error)
	Close()
}

// Options wires a Pipeline to its models.
type Options struct {
	LoadSegmenter func(ctx context.Context) (Segmenter, error)
	LoadPose      func(ctx context.Context) (PoseEstimator, error)
	Engine        *measure.Engine
	// CloseGapsKernel > 1 runs a morphological close on the mask before measuring.
	CloseGapsKernel int
	// KeepLargest drops every mask region but the largest.
	KeepLargest bool
}

// Report is the outcome of processing one image.
type Report struct {
	Result   measure.Result
	Width    int
	Height   int
	MaskUsed bool
}

// Pipeline is not safe for concurrent Process calls; run one per goroutine.
type Pipeline struct {
	opts Options

	mu    sync.Mutex
	state State

	seg  Segmenter
	pose PoseEstimator
}

func New(opts Options) *Pipeline {
	if opts.Engine == nil {
		opts.Engine = measure.New(measure.DefaultParams())
	}
	return &Pipeline{opts: opts}
}

// State returns the current lifecycle state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Pipeline) transition(to State) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !CanTransition(p.state, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, p.state, to)
	}
	p.state = to
	return nil
}

func (p *Pipeline) fail(err error) error {
	p.mu.Lock()
	p.state = Failed
	p.mu.Unlock()
	return err
}

// Load starts the segmentation model, then the pose model.
func (p *Pipeline) Load(ctx context.Context) error {
	if err := p.transition(LoadingSegmentation); err != nil {
		return err
	}
	seg, err := p.opts.LoadSegmenter(ctx)
	if err != nil {
		return p.fail(fmt.Errorf("%w: loading segmentation: %v", ErrUpstreamModel, err))
	}
	p.seg = seg

	if err := p.transition(LoadingPose); err != nil {
		return err
	}
	est, err := p.opts.LoadPose(ctx)
	if err != nil {
		p.seg.Close()
		p.seg = nil
		return p.fail(fmt.Errorf("%w: loading pose: %v", ErrUpstreamModel, err))
	}
	p.pose = est

	return p.transition(Ready)
}

// Process measures one encoded image. Segmentation and pose detection run
// concurrently and both must finish before the engine is called.
func (p *Pipeline) Process(ctx context.Context, img []byte) (Report, error) {
	if p.seg == nil || p.pose == nil {
		return Report{}, fmt.Errorf("%w: models are not loaded (state %s)", ErrInvalidTransition, p.State())
	}
	if err := ctx.Err(); err != nil {
		return Report{}, err
	}
	if err := p.transition(Processing); err != nil {
		return Report{}, err
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(img))
	if err != nil {
		return Report{}, p.fail(fmt.Errorf("failed to read image header: %w", err))
	}

	var (
		wg      sync.WaitGroup
		payload *mask.Payload
		lms     pose.Landmarks
		segErr  error
		poseErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		payload, segErr = p.seg.Segment(img)
	}()
	go func() {
		defer wg.Done()
		lms, poseErr = p.pose.DetectPose(img)
	}()
	wg.Wait()

	if err := errors.Join(segErr, poseErr); err != nil {
		return Report{}, p.fail(fmt.Errorf("%w: %w", ErrUpstreamModel, err))
	}
	if len(lms) == 0 {
		return Report{}, p.fail(fmt.Errorf("%w: no person detected", ErrUpstreamModel))
	}

	grid := p.grid(payload, cfg.Width, cfg.Height)
	res := p.opts.Engine.Measure(measure.Input{
		Mask:      grid,
		Landmarks: lms,
		Width:     cfg.Width,
		Height:    cfg.Height,
	})

	if err := p.transition(Done); err != nil {
		return Report{}, err
	}
	return Report{Result: res, Width: cfg.Width, Height: cfg.Height, MaskUsed: grid != nil}, nil
}

// grid converts a segmentation payload. Any mask problem is logged and the
// image is measured without a mask.
func (p *Pipeline) grid(payload *mask.Payload, width, height int) *mask.Grid {
	if payload == nil {
		monitoring.Logf("segmentation returned no mask; measuring without it")
		return nil
	}
	g, err := payload.Grid(p.opts.Engine.Params().Thresholds)
	if err != nil {
		monitoring.Logf("discarding mask: %v", err)
		return nil
	}
	if g.Width != width || g.Height != height {
		monitoring.Logf("discarding mask: %dx%d does not match image %dx%d", g.Width, g.Height, width, height)
		return nil
	}
	if p.opts.CloseGapsKernel > 1 || p.opts.KeepLargest {
		refined, err := refine.Apply(g, p.opts.CloseGapsKernel, p.opts.KeepLargest)
		if err != nil {
			monitoring.Logf("mask refinement failed, using raw mask: %v", err)
			return g
		}
		return refined
	}
	return g
}

// Close stops both models and returns the pipeline to Uninitialized.
func (p *Pipeline) Close() {
	if p.seg != nil {
		p.seg.Close()
		p.seg = nil
	}
	if p.pose != nil {
		p.pose.Close()
		p.pose = nil
	}
	p.mu.Lock()
	p.state = Uninitialized
	p.mu.Unlock()
}
