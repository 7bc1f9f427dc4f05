package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/andresmejia3/silhouette/internal/client"
	"github.com/andresmejia3/silhouette/internal/measure"
	"github.com/jackc/pgx/v5"
)

// ErrNotFound is returned when an image has no stored measurement.
var ErrNotFound = errors.New("not found")

// Store manages the PostgreSQL connection. A Store is not safe for concurrent use.
type Store struct {
	conn *pgx.Conn
}

// Image is the metadata row for a measured image.
type Image struct {
	ID     string
	Path   string
	Width  int
	Height int
}

// MeasurementRecord is a stored measurement joined with its image.
type MeasurementRecord struct {
	Image      Image
	Result     measure.Result
	MeasuredAt time.Time
}

// Classification is a stored classifier answer.
type Classification struct {
	ImageID  string
	BodyType string
	Gender   string
	Age      int
}

// New establishes a connection to the database and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{conn: conn}, nil
}

// initSchema creates the necessary tables if they don't exist (Auto-Migration).
func initSchema(ctx context.Context, conn *pgx.Conn) error {
	query := `
		CREATE TABLE IF NOT EXISTS images (
			id TEXT PRIMARY KEY,
			path TEXT NOT NULL,
			width INT NOT NULL,
			height INT NOT NULL,
			indexed_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS measurements (
			image_id TEXT PRIMARY KEY REFERENCES images(id) ON DELETE CASCADE,
			shoulder_width_px REAL,
			waist_width_px INT,
			hip_width_px REAL,
			measured_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS classifications (
			id BIGSERIAL PRIMARY KEY,
			image_id TEXT REFERENCES images(id) ON DELETE CASCADE,
			body_type TEXT NOT NULL,
			gender TEXT NOT NULL,
			age INT NOT NULL,
			classified_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS recommendations (
			id BIGSERIAL PRIMARY KEY,
			image_id TEXT REFERENCES images(id) ON DELETE CASCADE,
			image_url TEXT NOT NULL,
			image_label TEXT NOT NULL,
			gender TEXT NOT NULL,
			style_score DOUBLE PRECISION NOT NULL,
			total_score DOUBLE PRECISION NOT NULL,
			bodyshape_score DOUBLE PRECISION NOT NULL,
			attributes JSONB NOT NULL DEFAULT '{}'
		);
		CREATE INDEX IF NOT EXISTS recommendations_image_id_idx ON recommendations (image_id);
	`
	_, err := conn.Exec(ctx, query)
	return err
}

// Close terminates the database connection.
func (s *Store) Close(ctx context.Context) {
	s.conn.Close(ctx)
}

// EnsureImage registers the image in the database. If it exists, the path,
// dimensions and timestamp are refreshed.
func (s *Store) EnsureImage(ctx context.Context, img Image) error {
	_, err := s.conn.Exec(ctx, `
		INSERT INTO images (id, path, width, height, indexed_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (id) DO UPDATE SET
			path = EXCLUDED.path, width = EXCLUDED.width, height = EXCLUDED.height, indexed_at = NOW()
	`, img.ID, img.Path, img.Width, img.Height)
	return err
}

// SaveMeasurement stores the result for an image, replacing any earlier one.
// Missing widths are stored as NULL.
func (s *Store) SaveMeasurement(ctx context.Context, imageID string, res measure.Result) error {
	_, err := s.conn.Exec(ctx, `
		INSERT INTO measurements (image_id, shoulder_width_px, waist_width_px, hip_width_px, measured_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (image_id) DO UPDATE SET
			shoulder_width_px = EXCLUDED.shoulder_width_px,
			waist_width_px = EXCLUDED.waist_width_px,
			hip_width_px = EXCLUDED.hip_width_px,
			measured_at = NOW()
	`, imageID, res.ShoulderWidthPx, res.WaistWidthPx, res.HipWidthPx)
	return err
}

// GetMeasurement returns the stored result for an image, or ErrNotFound.
func (s *Store) GetMeasurement(ctx context.Context, imageID string) (measure.Result, error) {
	var res measure.Result
	err := s.conn.QueryRow(ctx,
		"SELECT shoulder_width_px, waist_width_px, hip_width_px FROM measurements WHERE image_id = $1",
		imageID,
	).Scan(&res.ShoulderWidthPx, &res.WaistWidthPx, &res.HipWidthPx)
	if errors.Is(err, pgx.ErrNoRows) {
		return measure.Result{}, ErrNotFound
	}
	return res, err
}

// ListMeasurements returns every stored measurement, newest first.
func (s *Store) ListMeasurements(ctx context.Context) ([]MeasurementRecord, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT i.id, i.path, i.width, i.height,
			m.shoulder_width_px, m.waist_width_px, m.hip_width_px, m.measured_at
		FROM measurements m
		JOIN images i ON i.id = m.image_id
		ORDER BY m.measured_at DESC, i.path ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []MeasurementRecord
	for rows.Next() {
		var r MeasurementRecord
		if err := rows.Scan(
			&r.Image.ID, &r.Image.Path, &r.Image.Width, &r.Image.Height,
			&r.Result.ShoulderWidthPx, &r.Result.WaistWidthPx, &r.Result.HipWidthPx, &r.MeasuredAt,
		); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// SaveClassification records a classifier answer and returns its row ID.
func (s *Store) SaveClassification(ctx context.Context, c Classification) (int64, error) {
	var id int64
	err := s.conn.QueryRow(ctx, `
		INSERT INTO classifications (image_id, body_type, gender, age)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, c.ImageID, c.BodyType, c.Gender, c.Age).Scan(&id)
	return id, err
}

// SaveRecommendations replaces the stored recommendations for an image.
func (s *Store) SaveRecommendations(ctx context.Context, imageID string, recs []client.Recommendation) error {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "DELETE FROM recommendations WHERE image_id = $1", imageID); err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for _, r := range recs {
		attrs := r.Attributes
		if attrs == nil {
			attrs = map[string]string{}
		}
		raw, err := json.Marshal(attrs)
		if err != nil {
			return err
		}
		batch.Queue(`
			INSERT INTO recommendations
				(image_id, image_url, image_label, gender, style_score, total_score, bodyshape_score, attributes)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb)
		`, imageID, r.ImageURL, r.ImageLabel, r.Gender, r.StyleScore, r.TotalScore, r.BodyshapeScore, string(raw))
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to insert recommendations: %w", err)
	}

	return tx.Commit(ctx)
}

// ListRecommendations returns the stored recommendations for an image, best first.
func (s *Store) ListRecommendations(ctx context.Context, imageID string) ([]client.Recommendation, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT image_url, image_label, gender, style_score, total_score, bodyshape_score, attributes::text
		FROM recommendations WHERE image_id = $1
		ORDER BY total_score DESC, id ASC
	`, imageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	recs := []client.Recommendation{}
	for rows.Next() {
		var r client.Recommendation
		var raw string
		if err := rows.Scan(&r.ImageURL, &r.ImageLabel, &r.Gender, &r.StyleScore, &r.TotalScore, &r.BodyshapeScore, &raw); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(raw), &r.Attributes); err != nil {
			return nil, err
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

// Reset drops all application tables to clear the database state.
// This is useful for development to force a schema refresh without migrations.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.conn.Exec(ctx, `
		DROP TABLE IF EXISTS recommendations CASCADE;
		DROP TABLE IF EXISTS classifications CASCADE;
		DROP TABLE IF EXISTS measurements CASCADE;
		DROP TABLE IF EXISTS images CASCADE;
	`)
	return err
}
