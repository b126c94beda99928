// Package storage persists upload records and processing statuses in
// Postgres. The flag merge is a single INSERT ... ON CONFLICT statement, so
// concurrent completions for one correlationId can never lose an update.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"imagepipeline/internal/models"
)

type Storage struct {
	pool *pgxpool.Pool
	db   *sql.DB // for migrations
}

func NewStorage(ctx context.Context, dsn string) (*Storage, error) {
	const op = "storage.NewStorage"

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: %v", op, err)
	}

	db := stdlib.OpenDBFromPool(pool)
	if err := runMigrations(db); err != nil {
		db.Close()
		pool.Close()
		return nil, fmt.Errorf("%s: %v", op, err)
	}

	return &Storage{pool: pool, db: db}, nil
}

func (s *Storage) Close() {
	s.db.Close()
	s.pool.Close()
}

// SaveUpload inserts the immutable upload record. A second insert for the
// same correlationId is an error: exactly one record exists per upload.
func (s *Storage) SaveUpload(ctx context.Context, rec models.UploadRecord) error {
	const op = "storage.SaveUpload"
	_, err := s.pool.Exec(ctx,
		`INSERT INTO uploads (correlation_id, original_filename, unique_filename, format, original_storage_key, original_url, uploaded_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.CorrelationID, rec.OriginalFilename, rec.UniqueFilename, rec.Format,
		rec.OriginalStorageKey, rec.OriginalURL, rec.UploadedAt)
	if err != nil {
		return fmt.Errorf("%s: %v", op, err)
	}
	return nil
}

func (s *Storage) GetUpload(ctx context.Context, correlationID string) (models.UploadRecord, error) {
	const op = "storage.GetUpload"
	var rec models.UploadRecord
	err := s.pool.QueryRow(ctx,
		`SELECT correlation_id, original_filename, unique_filename, format, original_storage_key, original_url, uploaded_at
		 FROM uploads WHERE correlation_id = $1`, correlationID).
		Scan(&rec.CorrelationID, &rec.OriginalFilename, &rec.UniqueFilename, &rec.Format,
			&rec.OriginalStorageKey, &rec.OriginalURL, &rec.UploadedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.UploadRecord{}, models.ErrNotFound
	}
	if err != nil {
		return models.UploadRecord{}, fmt.Errorf("%s: %v", op, err)
	}
	return rec, nil
}

// flagColumn maps a variant to its status column. The closed switch keeps
// column names out of caller hands.
func flagColumn(kind models.VariantKind) (string, error) {
	switch kind {
	case models.VariantDesktop:
		return "desktop_complete", nil
	case models.VariantMobile:
		return "mobile_complete", nil
	case models.VariantLowQuality:
		return "lowquality_complete", nil
	default:
		return "", fmt.Errorf("unknown variant kind: %q", kind)
	}
}

// MarkComplete sets one variant flag, creating the row on first sight. The
// upsert touches only that flag's column, so two variants completing at the
// same instant both land: Postgres serializes the row-level writes and
// neither overwrite the other's column.
func (s *Storage) MarkComplete(ctx context.Context, event models.CompletionEvent) (models.ProcessingStatus, bool, error) {
	const op = "storage.MarkComplete"

	col, err := flagColumn(event.ResizeType)
	if err != nil {
		return models.ProcessingStatus{}, false, fmt.Errorf("%s: %v", op, err)
	}

	// prev snapshots the flag before the merge so duplicate deliveries are
	// observable; the merge itself does not depend on it.
	query := fmt.Sprintf(`
		WITH prev AS (
			SELECT %[1]s AS was_set FROM processing_status WHERE correlation_id = $1
		), merged AS (
			INSERT INTO processing_status (correlation_id, original_storage_key, %[1]s)
			VALUES ($1, $2, TRUE)
			ON CONFLICT (correlation_id) DO UPDATE SET %[1]s = TRUE
			RETURNING desktop_complete, mobile_complete, lowquality_complete, completed_at
		)
		SELECT merged.desktop_complete, merged.mobile_complete, merged.lowquality_complete, merged.completed_at,
		       COALESCE((SELECT was_set FROM prev), FALSE)
		FROM merged`, col)

	var status models.ProcessingStatus
	var alreadySet bool
	err = s.pool.QueryRow(ctx, query, event.CorrelationID, event.OriginalStorageKey).
		Scan(&status.DesktopComplete, &status.MobileComplete, &status.LowQualityComplete,
			&status.CompletedAt, &alreadySet)
	if err != nil {
		return models.ProcessingStatus{}, false, fmt.Errorf("%s: %v", op, err)
	}

	status.CorrelationID = event.CorrelationID
	status.OriginalStorageKey = event.OriginalStorageKey
	return status, alreadySet, nil
}

// ClaimTerminal marks completedAt for a fully-flagged row that has not been
// claimed yet. The WHERE clause makes the claim a compare-and-set: exactly
// one concurrent caller sees one row affected.
func (s *Storage) ClaimTerminal(ctx context.Context, correlationID string, at time.Time) (bool, error) {
	const op = "storage.ClaimTerminal"
	tag, err := s.pool.Exec(ctx,
		`UPDATE processing_status SET completed_at = $2
		 WHERE correlation_id = $1
		   AND completed_at IS NULL
		   AND desktop_complete AND mobile_complete AND lowquality_complete`,
		correlationID, at)
	if err != nil {
		return false, fmt.Errorf("%s: %v", op, err)
	}
	return tag.RowsAffected() == 1, nil
}

// ClaimNotify flips the notified flag for a terminal row, compare-and-set
// like ClaimTerminal: only one concurrent caller wins the publish.
func (s *Storage) ClaimNotify(ctx context.Context, correlationID string) (bool, error) {
	const op = "storage.ClaimNotify"
	tag, err := s.pool.Exec(ctx,
		`UPDATE processing_status SET notified = TRUE
		 WHERE correlation_id = $1
		   AND completed_at IS NOT NULL
		   AND NOT notified`,
		correlationID)
	if err != nil {
		return false, fmt.Errorf("%s: %v", op, err)
	}
	return tag.RowsAffected() == 1, nil
}

// ResetNotify releases the notify claim after a failed publish so the next
// redelivery can try again.
func (s *Storage) ResetNotify(ctx context.Context, correlationID string) error {
	const op = "storage.ResetNotify"
	_, err := s.pool.Exec(ctx,
		`UPDATE processing_status SET notified = FALSE WHERE correlation_id = $1`,
		correlationID)
	if err != nil {
		return fmt.Errorf("%s: %v", op, err)
	}
	return nil
}

func (s *Storage) GetStatus(ctx context.Context, correlationID string) (models.ProcessingStatus, error) {
	const op = "storage.GetStatus"
	var status models.ProcessingStatus
	err := s.pool.QueryRow(ctx,
		`SELECT correlation_id, original_storage_key, desktop_complete, mobile_complete, lowquality_complete, completed_at, notified
		 FROM processing_status WHERE correlation_id = $1`, correlationID).
		Scan(&status.CorrelationID, &status.OriginalStorageKey, &status.DesktopComplete,
			&status.MobileComplete, &status.LowQualityComplete, &status.CompletedAt, &status.Notified)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ProcessingStatus{}, models.ErrNotFound
	}
	if err != nil {
		return models.ProcessingStatus{}, fmt.Errorf("%s: %v", op, err)
	}
	return status, nil
}

// DeleteTerminalBefore removes terminal status rows completed before cutoff.
// Partial rows are never touched: absence of a timeout policy is deliberate.
func (s *Storage) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	const op = "storage.DeleteTerminalBefore"
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM processing_status WHERE completed_at IS NOT NULL AND completed_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("%s: %v", op, err)
	}
	return tag.RowsAffected(), nil
}
