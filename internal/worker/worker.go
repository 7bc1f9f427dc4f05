// Package worker runs the segmentation and pose models as child processes.
package worker

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/andresmejia3/silhouette/internal/mask"
	"github.com/andresmejia3/silhouette/internal/monitoring"
	"github.com/andresmejia3/silhouette/internal/pose"
	"github.com/andresmejia3/silhouette/internal/types"
	"github.com/andresmejia3/silhouette/internal/utils"
)

// Role selects which model a worker process hosts.
type Role string

const (
	RoleSegmentation Role = "segmentation"
	RolePose         Role = "pose"
)

// Default model commands, relative to the repository root.
var (
	DefaultSegmenterCommand = []string{"python3", "-u", "python/segment.py"}
	DefaultPoseCommand      = []string{"python3", "-u", "python/pose.py"}
)

// maxResponse bounds a single reply so a corrupt header cannot trigger a huge allocation.
const maxResponse = 256 << 20

// ErrWorkerBroken is returned by every call after a round trip failed part way.
// The request/reply stream is out of step at that point, so the worker cannot be reused.
var ErrWorkerBroken = errors.New("worker is broken")

// Config describes how to launch a worker.
type Config struct {
	Role        Role
	Command     []string
	ReadTimeout time.Duration
}

// RemoteError is an error reported by the model process itself.
type RemoteError struct {
	Role Role
	Msg  string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s worker error: %s", e.Role, e.Msg)
}

type PythonWorker struct {
	ID       int
	Role     Role
	Cmd      *utils.SafeCommand
	Stdin    io.WriteCloser
	DataPipe io.ReadCloser
	Timeout  time.Duration

	broken error
}

func NewPythonWorker(ctx context.Context, id int, cfg Config) (*PythonWorker, error) {
	if len(cfg.Command) == 0 {
		return nil, fmt.Errorf("worker %d: empty %s command", id, cfg.Role)
	}
	py := utils.NewSafeCommand(ctx, cfg.Command[0], cfg.Command[1:]...)

	// Create a side-channel pipe (FD 3) for clean data transfer
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	// Pass the write-end to the child process. It will appear as FD 3.
	py.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := py.StdinPipe()
	if err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := py.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("%s worker %d failed to start: %w", cfg.Role, id, err)
	}

	// Close the write-end in the parent so only the child holds it
	w.Close()

	monitoring.Logf("%s worker %d started (pid %d)", cfg.Role, id, py.Process.Pid)
	return &PythonWorker{
		ID:       id,
		Role:     cfg.Role,
		Cmd:      py,
		Stdin:    stdin,
		DataPipe: r,
		Timeout:  cfg.ReadTimeout,
	}, nil
}

type deadliner interface {
	SetReadDeadline(t time.Time) error
}

// Communicate sends one length-prefixed request and reads one length-prefixed reply.
// Any failure, a read timeout included, kills the process: a late reply would
// otherwise be read as the answer to the next request.
func (w *PythonWorker) Communicate(data []byte) ([]byte, error) {
	if w.broken != nil {
		return nil, fmt.Errorf("%s worker %d: %w: %w", w.Role, w.ID, ErrWorkerBroken, w.broken)
	}
	resp, err := w.roundTrip(data)
	if err != nil {
		w.abandon(err)
		return nil, err
	}
	return resp, nil
}

// abandon marks the worker unusable and stops its process.
func (w *PythonWorker) abandon(cause error) {
	w.broken = cause
	monitoring.Logf("%s worker %d abandoned: %v", w.Role, w.ID, cause)
	if w.Cmd != nil && w.Cmd.Process != nil {
		w.Cmd.Process.Kill()
	}
}

func (w *PythonWorker) roundTrip(data []byte) ([]byte, error) {
	// Protocol: [Length][Data]
	if err := binary.Write(w.Stdin, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, err
	}
	if _, err := w.Stdin.Write(data); err != nil {
		return nil, err
	}

	if d, ok := w.DataPipe.(deadliner); ok && w.Timeout > 0 {
		if err := d.SetReadDeadline(time.Now().Add(w.Timeout)); err != nil {
			return nil, err
		}
		defer d.SetReadDeadline(time.Time{})
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(w.DataPipe, header); err != nil {
		return nil, err // a crashed interpreter shows up here as EOF
	}

	respLen := binary.BigEndian.Uint32(header)
	if respLen > maxResponse {
		return nil, fmt.Errorf("%s worker %d: response of %d bytes exceeds limit", w.Role, w.ID, respLen)
	}
	respBody := make([]byte, respLen)
	_, err := io.ReadFull(w.DataPipe, respBody)
	return respBody, err
}

// call performs a round trip and unwraps an {"error": ...} reply into a RemoteError.
func (w *PythonWorker) call(img []byte) ([]byte, error) {
	resp, err := w.Communicate(img)
	if err != nil {
		return nil, err
	}
	var errRes types.ErrorResult
	if json.Unmarshal(resp, &errRes) == nil && errRes.Error != "" {
		return nil, &RemoteError{Role: w.Role, Msg: errRes.Error}
	}
	return resp, nil
}

// Segment asks a segmentation worker for the person mask of an encoded image.
func (w *PythonWorker) Segment(img []byte) (*mask.Payload, error) {
	resp, err := w.call(img)
	if err != nil {
		return nil, err
	}
	var p mask.Payload
	if err := json.Unmarshal(resp, &p); err != nil {
		return nil, fmt.Errorf("malformed segmentation response: %w", err)
	}
	return &p, nil
}

// DetectPose asks a pose worker for the landmarks of the first detected person.
// An image without people yields an empty list and no error.
func (w *PythonWorker) DetectPose(img []byte) (pose.Landmarks, error) {
	resp, err := w.call(img)
	if err != nil {
		return nil, err
	}
	var res types.PoseResult
	if err := json.Unmarshal(resp, &res); err != nil {
		return nil, fmt.Errorf("malformed pose response: %w", err)
	}
	if len(res.Landmarks) == 0 {
		return pose.Landmarks{}, nil
	}
	return res.Landmarks[0], nil
}

// Close shuts down stdin so the child exits, then reaps it.
func (w *PythonWorker) Close() {
	w.Stdin.Close()
	w.DataPipe.Close()
	if w.Cmd != nil {
		w.Cmd.Wait()
	}
}
