package types

import "github.com/andresmejia3/silhouette/internal/pose"

// ImageTask is a single image sent to a pipeline for measurement.
type ImageTask struct {
	Index int
	Path  string
}

// PoseResult matches the JSON returned by a pose worker: one landmark list per detected person.
type PoseResult struct {
	Landmarks []pose.Landmarks `json:"landmarks"`
}

// ErrorResult captures the error object returned by a worker on failure
type ErrorResult struct {
	Error string `json:"error"`
}
