// Package client talks to the body-type classifier and the outfit recommender.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Default service endpoints.
const (
	DefaultClassifierURL  = "https://body-classification-model.onrender.com"
	DefaultRecommenderURL = "https://fashion-api-37s7.onrender.com"
)

// HTTPClient abstracts the transport so tests can substitute it.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// APIError is returned when a service answers with a non-2xx status.
type APIError struct {
	Op         string
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (HTTP %d)", e.Detail, e.StatusCode)
}

// ErrNoBodyType is returned when the classifier answers without a bodyType.
var ErrNoBodyType = errors.New("could not determine body type")

// Client calls both downstream services. Failures are returned as-is; there is no retry.
type Client struct {
	HTTP           HTTPClient
	ClassifierURL  string
	RecommenderURL string
}

// New returns a client for the given base URLs. Empty URLs fall back to the defaults.
func New(httpClient HTTPClient, classifierURL, recommenderURL string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	if classifierURL == "" {
		classifierURL = DefaultClassifierURL
	}
	if recommenderURL == "" {
		recommenderURL = DefaultRecommenderURL
	}
	return &Client{
		HTTP:           httpClient,
		ClassifierURL:  strings.TrimRight(classifierURL, "/"),
		RecommenderURL: strings.TrimRight(recommenderURL, "/"),
	}
}

// Classify predicts the body type for a set of measurements.
func (c *Client) Classify(ctx context.Context, req ClassifyRequest) (string, error) {
	var resp ClassifyResponse
	if err := c.post(ctx, c.ClassifierURL+"/predict", "Body type prediction failed", req, &resp); err != nil {
		return "", err
	}
	if resp.BodyType == "" {
		return "", ErrNoBodyType
	}
	return resp.BodyType, nil
}

// Recommend fetches outfit recommendations. An empty list is a valid answer.
func (c *Client) Recommend(ctx context.Context, req RecommendRequest) ([]Recommendation, error) {
	if req.TopK <= 0 {
		req.TopK = DefaultTopK
	}
	var resp RecommendResponse
	if err := c.post(ctx, c.RecommenderURL+"/recommend", "Fashion recommendation failed", req, &resp); err != nil {
		return nil, err
	}
	if resp.Recommendations == nil {
		return []Recommendation{}, nil
	}
	return resp.Recommendations, nil
}

func (c *Client) post(ctx context.Context, url, failMsg string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail := failMsg
		var errBody struct {
			Detail string `json:"detail"`
		}
		if json.Unmarshal(data, &errBody) == nil && errBody.Detail != "" {
			detail = errBody.Detail
		}
		return &APIError{Op: url, StatusCode: resp.StatusCode, Detail: detail}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("malformed response from %s: %w", url, err)
	}
	return nil
}
