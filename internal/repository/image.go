package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ImageStatus enumerates the lifecycle of a mobile upload during
// normalization.
type ImageStatus string

const (
	ImageQueued     ImageStatus = "queued"
	ImageProcessing ImageStatus = "processing"
	ImageReady      ImageStatus = "ready"
	ImageFailed     ImageStatus = "failed"
)

// MobileImage is a row in mobile_images.
type MobileImage struct {
	ID            string      `json:"id"`
	SessionID     string      `json:"sessionId"`
	EncounterID   string      `json:"encounterId"`
	FileName      string      `json:"fileName"`
	ContentType   string      `json:"contentType"`
	RawKey        string      `json:"rawKey"`
	NormalizedKey *string     `json:"normalizedKey,omitempty"`
	Size          int64       `json:"size"`
	Width         int         `json:"width"`
	Height        int         `json:"height"`
	Thumbnail     *string     `json:"thumbnail,omitempty"`
	Status        ImageStatus `json:"status"`
	ErrorMessage  *string     `json:"errorMessage,omitempty"`
	CreatedAt     time.Time   `json:"createdAt"`
	UpdatedAt     time.Time   `json:"updatedAt"`
}

// Normalized is the worker's output for one image.
type Normalized struct {
	Key         string
	ContentType string
	Size        int64
	Width       int
	Height      int
	Thumbnail   string
}

// ImageRepository persists mobile image records.
type ImageRepository struct {
	pool *pgxpool.Pool
}

// NewImageRepository constructs a repository.
func NewImageRepository(pool *pgxpool.Pool) *ImageRepository {
	return &ImageRepository{pool: pool}
}

// Create inserts a queued image before normalization begins.
func (r *ImageRepository) Create(ctx context.Context, img *MobileImage) error {
	now := time.Now().UTC()
	img.Status = ImageQueued
	img.CreatedAt = now
	img.UpdatedAt = now
	_, err := r.pool.Exec(ctx, `
		INSERT INTO mobile_images (id, session_id, encounter_id, file_name, content_type, raw_key, size_bytes, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, img.ID, img.SessionID, img.EncounterID, img.FileName, img.ContentType, img.RawKey, img.Size, img.Status, img.CreatedAt, img.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert mobile image: %w", err)
	}
	return nil
}

const imageColumns = `id, session_id, encounter_id, file_name, content_type, raw_key, normalized_key,
	size_bytes, width, height, thumbnail, status, error_message, created_at, updated_at`

func scanImage(row pgx.Row) (*MobileImage, error) {
	var img MobileImage
	err := row.Scan(&img.ID, &img.SessionID, &img.EncounterID, &img.FileName, &img.ContentType, &img.RawKey, &img.NormalizedKey,
		&img.Size, &img.Width, &img.Height, &img.Thumbnail, &img.Status, &img.ErrorMessage, &img.CreatedAt, &img.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &img, nil
}

// Get returns an image by id.
func (r *ImageRepository) Get(ctx context.Context, id string) (*MobileImage, error) {
	img, err := scanImage(r.pool.QueryRow(ctx, `SELECT `+imageColumns+` FROM mobile_images WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("mobile image %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("select mobile image: %w", err)
	}
	return img, nil
}

// ListReady returns the encounter's normalized images in upload order.
func (r *ImageRepository) ListReady(ctx context.Context, encounterID string) ([]MobileImage, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+imageColumns+` FROM mobile_images
		WHERE encounter_id=$1 AND status=$2
		ORDER BY created_at, id
	`, encounterID, ImageReady)
	if err != nil {
		return nil, fmt.Errorf("list mobile images: %w", err)
	}
	defer rows.Close()
	var out []MobileImage
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan mobile image: %w", err)
		}
		out = append(out, *img)
	}
	return out, rows.Err()
}

// MarkProcessing sets the status to processing.
func (r *ImageRepository) MarkProcessing(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE mobile_images SET status=$1, error_message=NULL, updated_at=$2 WHERE id=$3
	`, ImageProcessing, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update mobile image: %w", err)
	}
	return nil
}

// MarkReady stores the normalized artifact and flips the image to ready.
func (r *ImageRepository) MarkReady(ctx context.Context, id string, n Normalized) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE mobile_images
		SET status=$1, normalized_key=$2, content_type=$3, size_bytes=$4, width=$5, height=$6,
			thumbnail=$7, error_message=NULL, updated_at=$8
		WHERE id=$9
	`, ImageReady, n.Key, n.ContentType, n.Size, n.Width, n.Height, n.Thumbnail, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update mobile image: %w", err)
	}
	return nil
}

// MarkFailed records a normalization failure.
func (r *ImageRepository) MarkFailed(ctx context.Context, id, msg string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE mobile_images SET status=$1, error_message=$2, updated_at=$3 WHERE id=$4
	`, ImageFailed, msg, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update mobile image: %w", err)
	}
	return nil
}
