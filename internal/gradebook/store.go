package gradebook

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"evalbank/internal/apperr"
	"evalbank/internal/db"
	"evalbank/internal/logger"

	"github.com/google/uuid"
)

const entryUniqueConstraint = "gradebook_entries_key"

const (
	ScopePartial = "parcial"
	ScopeFinal   = "final"
)

// Entry is the score a graded attempt contributes to the student's record.
type Entry struct {
	EnrollmentID int64
	Scope        string
	PartialID    *int
	Score        float64
	AttemptID    int64
}

// PartialKey is the partial number for partial exams and 0 for finals.
func (e Entry) PartialKey() int {
	if e.Scope == ScopePartial && e.PartialID != nil {
		return *e.PartialID
	}
	return 0
}

func (e Entry) validate() error {
	if e.EnrollmentID <= 0 {
		return apperr.Validation("enrollment_id", "enrollment_id is required")
	}
	if e.AttemptID <= 0 {
		return apperr.Validation("attempt_id", "attempt_id is required")
	}
	switch e.Scope {
	case ScopeFinal:
	case ScopePartial:
		if e.PartialID == nil || *e.PartialID <= 0 {
			return apperr.Validation("partial_id", "partial exams need a partial number")
		}
	default:
		return apperr.Validation("scope", "scope must be parcial or final")
	}
	if e.Score < 0 {
		return apperr.Validation("score", "score must be >= 0")
	}
	return nil
}

type Record struct {
	ID           int64     `json:"id"`
	EnrollmentID int64     `json:"enrollment_id"`
	Scope        string    `json:"scope"`
	PartialKey   int       `json:"partial_key"`
	Score        float64   `json:"score"`
	AttemptID    int64     `json:"attempt_id"`
	SyncID       uuid.UUID `json:"sync_id"`
	UpdatedAt    time.Time `json:"updated_at"`
	Created      bool      `json:"created"`
}

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Upsert writes the entry keyed by (enrollment, scope, partial key). Losing
// an insert race to a concurrent writer is retried once as an update.
func (s *Store) Upsert(ctx context.Context, e Entry) (*Record, error) {
	if err := e.validate(); err != nil {
		return nil, err
	}
	rec, err := s.upsertOnce(ctx, e)
	if err != nil && db.IsUniqueViolation(err, entryUniqueConstraint) {
		rec, err = s.upsertOnce(ctx, e)
	}
	if err != nil {
		return nil, err
	}

	logger.Info().
		Int64("enrollment_id", rec.EnrollmentID).
		Str("scope", rec.Scope).
		Int("partial_key", rec.PartialKey).
		Float64("score", rec.Score).
		Str("sync_id", rec.SyncID.String()).
		Bool("created", rec.Created).
		Msg("gradebook entry synced")
	return rec, nil
}

func (s *Store) upsertOnce(ctx context.Context, e Entry) (*Record, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin gradebook tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	key := e.PartialKey()
	syncID := uuid.New()

	var id int64
	err = tx.QueryRowContext(ctx, `
		SELECT id
		FROM gradebook_entries
		WHERE enrollment_id = $1 AND exam_scope = $2 AND partial_key = $3
		FOR UPDATE
	`, e.EnrollmentID, e.Scope, key).Scan(&id)

	var row *sql.Row
	created := false
	switch {
	case err == nil:
		row = tx.QueryRowContext(ctx, `
			UPDATE gradebook_entries
			SET score = $2, attempt_id = $3, sync_id = $4, updated_at = now()
			WHERE id = $1
			RETURNING `+recordColumns,
			id, e.Score, e.AttemptID, syncID)
	case errors.Is(err, sql.ErrNoRows):
		created = true
		row = tx.QueryRowContext(ctx, `
			INSERT INTO gradebook_entries (enrollment_id, exam_scope, partial_key, score, attempt_id, sync_id, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, now())
			RETURNING `+recordColumns,
			e.EnrollmentID, e.Scope, key, e.Score, e.AttemptID, syncID)
	default:
		return nil, fmt.Errorf("find gradebook entry: %w", err)
	}

	rec, err := scanRecord(row)
	if err != nil {
		return nil, fmt.Errorf("write gradebook entry: %w", err)
	}
	rec.Created = created
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit gradebook entry: %w", err)
	}
	return rec, nil
}

// ListForEnrollment returns every entry of one enrollment, partials first.
func (s *Store) ListForEnrollment(ctx context.Context, enrollmentID int64) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM gradebook_entries
		WHERE enrollment_id = $1
		ORDER BY exam_scope DESC, partial_key ASC
	`, enrollmentID)
	if err != nil {
		return nil, fmt.Errorf("list gradebook entries: %w", err)
	}
	defer rows.Close()

	out := make([]Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan gradebook entry: %w", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate gradebook entries: %w", err)
	}
	return out, nil
}

const recordColumns = `id, enrollment_id, exam_scope, partial_key, score, attempt_id, sync_id, updated_at`

func scanRecord(scanner interface{ Scan(dest ...any) error }) (*Record, error) {
	var (
		rec    Record
		syncID string
	)
	if err := scanner.Scan(&rec.ID, &rec.EnrollmentID, &rec.Scope, &rec.PartialKey, &rec.Score, &rec.AttemptID, &syncID, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	parsed, err := uuid.Parse(syncID)
	if err != nil {
		return nil, fmt.Errorf("parse sync id: %w", err)
	}
	rec.SyncID = parsed
	return &rec, nil
}
