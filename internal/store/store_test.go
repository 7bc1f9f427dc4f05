package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/andresmejia3/silhouette/internal/client"
	"github.com/andresmejia3/silhouette/internal/measure"
	"github.com/google/go-cmp/cmp"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// TestStoreIntegration runs a full integration test against a real Postgres container.
// It requires Docker to be running.
func TestStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	// We wrap this in a function to recover from panics inside testcontainers (e.g. socket not found)
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("testcontainers panicked: %v", r)
			}
		}()
		_, err = testcontainers.NewDockerClientWithOpts(ctx)
		return
	}()
	if err != nil {
		t.Skipf("Docker not available, cannot run integration test: %v", err)
	}

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("silhouette_test"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
		testcontainers.WithLogger(noopLogger{}),
	)
	if err != nil {
		t.Fatalf("Failed to start postgres container: %v", err)
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Fatalf("Failed to terminate container: %v", err)
		}
	}()

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}

	// Initialize Store (runs migrations)
	s, err := New(ctx, connStr)
	if err != nil {
		t.Fatalf("Failed to connect to store: %v", err)
	}
	defer s.Close(ctx)

	// --- Test Scenarios ---

	img := Image{ID: "img_123", Path: "/tmp/person.png", Width: 200, Height: 400}
	if err := s.EnsureImage(ctx, img); err != nil {
		t.Fatalf("EnsureImage failed: %v", err)
	}
	// Idempotent
	if err := s.EnsureImage(ctx, img); err != nil {
		t.Fatalf("EnsureImage (second call) failed: %v", err)
	}

	// Missing measurement
	if _, err := s.GetMeasurement(ctx, img.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	// Partial result keeps its NULLs
	shoulder, hip := float32(80), float32(92.5)
	partial := measure.Aggregate(&shoulder, &hip, nil)
	if err := s.SaveMeasurement(ctx, img.ID, partial); err != nil {
		t.Fatalf("SaveMeasurement failed: %v", err)
	}
	got, err := s.GetMeasurement(ctx, img.ID)
	if err != nil {
		t.Fatalf("GetMeasurement failed: %v", err)
	}
	if diff := cmp.Diff(partial, got); diff != "" {
		t.Errorf("Stored measurement mismatch (-want +got):\n%s", diff)
	}

	// Upsert replaces the earlier result
	waist := 41
	full := measure.Aggregate(&shoulder, &hip, &waist)
	if err := s.SaveMeasurement(ctx, img.ID, full); err != nil {
		t.Fatalf("SaveMeasurement (upsert) failed: %v", err)
	}

	records, err := s.ListMeasurements(ctx)
	if err != nil {
		t.Fatalf("ListMeasurements failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(records))
	}
	if records[0].Image != img {
		t.Errorf("Expected image %+v, got %+v", img, records[0].Image)
	}
	if diff := cmp.Diff(full, records[0].Result); diff != "" {
		t.Errorf("Listed measurement mismatch (-want +got):\n%s", diff)
	}

	id, err := s.SaveClassification(ctx, Classification{ImageID: img.ID, BodyType: "Hourglass", Gender: "female", Age: 30})
	if err != nil {
		t.Fatalf("SaveClassification failed: %v", err)
	}
	if id <= 0 {
		t.Errorf("Expected positive ID, got %d", id)
	}

	recs := []client.Recommendation{
		{ImageURL: "https://img/2.jpg", ImageLabel: "wrap-dress", Gender: "female", TotalScore: 0.6, Attributes: map[string]string{"length": "midi"}},
		{ImageURL: "https://img/1.jpg", ImageLabel: "linen-shirt", Gender: "female", TotalScore: 0.9, Attributes: map[string]string{}},
	}
	if err := s.SaveRecommendations(ctx, img.ID, recs); err != nil {
		t.Fatalf("SaveRecommendations failed: %v", err)
	}
	// Saving again replaces rather than appends
	if err := s.SaveRecommendations(ctx, img.ID, recs); err != nil {
		t.Fatalf("SaveRecommendations (second call) failed: %v", err)
	}
	stored, err := s.ListRecommendations(ctx, img.ID)
	if err != nil {
		t.Fatalf("ListRecommendations failed: %v", err)
	}
	want := []client.Recommendation{recs[1], recs[0]}
	if diff := cmp.Diff(want, stored); diff != "" {
		t.Errorf("Recommendations mismatch (-want +got):\n%s", diff)
	}

	if err := s.Reset(ctx); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if _, err := s.ListMeasurements(ctx); err == nil {
		t.Error("Expected an error listing after Reset dropped the tables")
	}
}

type noopLogger struct{}

func (n noopLogger) Printf(format string, v ...interface{}) {}
