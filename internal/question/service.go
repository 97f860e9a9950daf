package question

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"evalbank/internal/actor"
	"evalbank/internal/apperr"
	"evalbank/internal/db"
	"evalbank/internal/logger"
)

var (
	ErrQuestionNotFound  = apperr.NotFound("question not found")
	ErrVersionNotFound   = apperr.NotFound("question version not found")
	ErrSubjectNotFound   = apperr.NotFound("subject not found")
	ErrDuplicateVote     = apperr.Conflict("voter already voted on this version")
	ErrCannotVote        = apperr.Forbidden("actor cannot vote")
	ErrAreaMismatch      = apperr.Forbidden("area is not associated with this version")
	ErrNoAreaCapability  = apperr.Forbidden("actor holds no capability in this area")
	ErrCannotAuthor      = apperr.Forbidden("actor cannot author questions")
	ErrSubjectHasNoAreas = apperr.Validation("subject_id", "standardizable subject has no areas")
)

const voteUniqueConstraint = "votes_version_voter_key"

type queryable interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// CastVote records a vote and recomputes the version state inside one
// transaction that holds the version row lock.
func (s *Service) CastVote(ctx context.Context, a actor.Actor, in CastVoteInput) (*VoteResult, error) {
	in.Comment = strings.TrimSpace(in.Comment)
	if in.VersionID <= 0 {
		return nil, apperr.Validation("version_id", "version_id is required")
	}
	if !in.Decision.Valid() {
		return nil, apperr.Validation("decision", "decision must be aprobar, rechazar or revision")
	}
	if in.Decision != DecisionApprove && in.Comment == "" {
		return nil, apperr.Validation("comment", "comment is required unless the decision is aprobar")
	}
	if !a.CanVote() {
		return nil, ErrCannotVote
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin vote tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		questionID int64
		prevState  State
		currentID  sql.NullInt64
	)
	err = tx.QueryRowContext(ctx, `
		SELECT v.question_id, v.state, q.current_version_id
		FROM question_versions v
		JOIN questions q ON q.id = v.question_id
		WHERE v.id = $1
		FOR UPDATE OF v
	`, in.VersionID).Scan(&questionID, &prevState, &currentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrVersionNotFound
		}
		return nil, fmt.Errorf("lock version: %w", err)
	}

	areas, err := loadVersionAreas(ctx, tx, in.VersionID)
	if err != nil {
		return nil, err
	}
	role, err := voteCapability(a, in.AreaID, areas)
	if err != nil {
		return nil, err
	}

	var exists bool
	if err := tx.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM votes WHERE version_id = $1 AND voter_id = $2)
	`, in.VersionID, a.ID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check existing vote: %w", err)
	}
	if exists {
		return nil, ErrDuplicateVote
	}

	var comment *string
	if in.Comment != "" {
		comment = &in.Comment
	}
	row := tx.QueryRowContext(ctx, `
		INSERT INTO votes (version_id, voter_id, voter_role, area_id, decision, comment, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		RETURNING id, version_id, voter_id, voter_role, area_id, decision, comment, created_at
	`, in.VersionID, a.ID, string(role), nullInt64Ptr(in.AreaID), string(in.Decision), nullStringPtr(comment))
	cast, err := scanVote(row)
	if err != nil {
		if db.IsUniqueViolation(err, voteUniqueConstraint) {
			return nil, ErrDuplicateVote
		}
		return nil, fmt.Errorf("insert vote: %w", err)
	}

	votes, err := listVotes(ctx, tx, in.VersionID)
	if err != nil {
		return nil, err
	}
	next := Resolve(votes, areas)
	log := logger.WithField("version_id", in.VersionID)
	log.Debug().
		Int("votes", len(votes)).
		Int("areas", len(areas)).
		Str("resolved", string(next)).
		Msg("vote set resolved")

	if _, err := tx.ExecContext(ctx, `UPDATE question_versions SET state = $2 WHERE id = $1`, in.VersionID, string(next)); err != nil {
		return nil, fmt.Errorf("update version state: %w", err)
	}
	if currentID.Valid && currentID.Int64 == in.VersionID {
		if _, err := tx.ExecContext(ctx, `UPDATE questions SET state = $2 WHERE id = $1`, questionID, string(next)); err != nil {
			return nil, fmt.Errorf("mirror question state: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit vote: %w", err)
	}

	log.Info().
		Int64("voter_id", a.ID).
		Str("role", string(role)).
		Str("decision", string(in.Decision)).
		Str("from", string(prevState)).
		Str("to", string(next)).
		Msg("vote recorded")

	return &VoteResult{Vote: *cast, PreviousState: prevState, State: next}, nil
}

// voteCapability decides which role a vote is recorded under. Areas given on
// a vote must belong to the version's snapshot when it has one.
func voteCapability(a actor.Actor, areaID *int64, associated []int64) (actor.Role, error) {
	if !a.CanVote() {
		return "", ErrCannotVote
	}
	if areaID != nil && len(associated) > 0 && !containsID(associated, *areaID) {
		return "", ErrAreaMismatch
	}
	if a.Admin {
		return actor.RoleAdmin, nil
	}
	if areaID == nil {
		return "", apperr.Validation("area_id", "area_id is required for coordinator and reviewer votes")
	}
	role, ok := a.VoteRole(*areaID)
	if !ok {
		return "", ErrNoAreaCapability
	}
	return role, nil
}

func (s *Service) ListVotes(ctx context.Context, versionID int64) ([]Vote, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM question_versions WHERE id = $1)`, versionID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check version: %w", err)
	}
	if !exists {
		return nil, ErrVersionNotFound
	}
	return listVotes(ctx, s.db, versionID)
}

func (s *Service) GetVersion(ctx context.Context, versionID int64) (*Version, error) {
	v, err := scanVersion(s.db.QueryRowContext(ctx, `
		SELECT `+versionColumns+`
		FROM question_versions
		WHERE id = $1
	`, versionID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrVersionNotFound
		}
		return nil, fmt.Errorf("load version: %w", err)
	}
	v.AreaIDs, err = loadVersionAreas(ctx, s.db, versionID)
	if err != nil {
		return nil, err
	}
	return v, nil
}

// CreateQuestion creates a question together with its first version.
func (s *Service) CreateQuestion(ctx context.Context, a actor.Actor, in CreateQuestionInput) (*CreatedQuestion, error) {
	if !a.CanAuthor() {
		return nil, ErrCannotAuthor
	}
	if in.SubjectID <= 0 {
		return nil, apperr.Validation("subject_id", "subject_id is required")
	}
	if err := ValidateVersionInput(in.Version); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var q Question
	err = tx.QueryRowContext(ctx, `
		INSERT INTO questions (subject_id, author_id, state, created_at)
		SELECT s.id, $2, 'pendiente', now()
		FROM subjects s
		WHERE s.id = $1
		RETURNING id, subject_id, author_id, state, created_at
	`, in.SubjectID, a.ID).Scan(&q.ID, &q.SubjectID, &q.AuthorID, &q.State, &q.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSubjectNotFound
		}
		return nil, fmt.Errorf("insert question: %w", err)
	}

	v, err := s.insertVersion(ctx, tx, a, q.ID, q.SubjectID, 1, in.Version)
	if err != nil {
		return nil, err
	}
	q.CurrentVersionID = &v.ID

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return &CreatedQuestion{Question: q, Version: *v}, nil
}

// CreateVersion appends a version and makes it the question's current one.
func (s *Service) CreateVersion(ctx context.Context, a actor.Actor, in CreateVersionInput) (*Version, error) {
	if !a.CanAuthor() {
		return nil, ErrCannotAuthor
	}
	if in.QuestionID <= 0 {
		return nil, apperr.Validation("question_id", "question_id is required")
	}
	if err := ValidateVersionInput(in.Version); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var subjectID int64
	err = tx.QueryRowContext(ctx, `
		SELECT subject_id FROM questions
		WHERE id = $1 AND archived_at IS NULL
		FOR UPDATE
	`, in.QuestionID).Scan(&subjectID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrQuestionNotFound
		}
		return nil, fmt.Errorf("lock question: %w", err)
	}

	var next int
	if err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(version_num), 0) + 1 FROM question_versions WHERE question_id = $1
	`, in.QuestionID).Scan(&next); err != nil {
		return nil, fmt.Errorf("next version number: %w", err)
	}

	v, err := s.insertVersion(ctx, tx, a, in.QuestionID, subjectID, next, in.Version)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return v, nil
}

func (s *Service) insertVersion(ctx context.Context, tx *sql.Tx, a actor.Actor, questionID, subjectID int64, num int, in VersionInput) (*Version, error) {
	content := in.Content
	if len(strings.TrimSpace(string(content))) == 0 {
		content = json.RawMessage(`{}`)
	}
	var key any
	if !isEmptyJSON(in.AnswerKey) {
		key = string(in.AnswerKey)
	}

	v, err := scanVersion(tx.QueryRowContext(ctx, `
		INSERT INTO question_versions (
			question_id, version_num, question_type, difficulty, scope, partial_id,
			statement, content, answer_key, state, created_by, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9::jsonb, 'pendiente', $10, now())
		RETURNING `+versionColumns+`
	`, questionID, num, string(in.Type), in.Difficulty, string(in.Scope), nullIntPtr(in.PartialID),
		strings.TrimSpace(in.Statement), string(content), key, a.ID))
	if err != nil {
		return nil, fmt.Errorf("insert version: %w", err)
	}

	var standardizable bool
	if err := tx.QueryRowContext(ctx, `SELECT standardizable FROM subjects WHERE id = $1`, subjectID).Scan(&standardizable); err != nil {
		return nil, fmt.Errorf("load subject: %w", err)
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO version_areas (version_id, area_id)
		SELECT $1, area_id FROM subject_areas WHERE subject_id = $2
	`, v.ID, subjectID)
	if err != nil {
		return nil, fmt.Errorf("snapshot version areas: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 && standardizable {
		return nil, ErrSubjectHasNoAreas
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE questions SET current_version_id = $2, state = 'pendiente' WHERE id = $1
	`, questionID, v.ID); err != nil {
		return nil, fmt.Errorf("move current version: %w", err)
	}

	v.AreaIDs, err = loadVersionAreas(ctx, tx, v.ID)
	if err != nil {
		return nil, err
	}
	return v, nil
}

const versionColumns = `id, question_id, version_num, question_type, difficulty, scope, partial_id,
	statement, content, answer_key, state, created_by, created_at`

func scanVersion(scanner interface{ Scan(dest ...any) error }) (*Version, error) {
	var (
		v         Version
		partialID sql.NullInt32
		content   []byte
		key       []byte
	)
	if err := scanner.Scan(&v.ID, &v.QuestionID, &v.VersionNum, &v.Type, &v.Difficulty, &v.Scope, &partialID,
		&v.Statement, &content, &key, &v.State, &v.CreatedBy, &v.CreatedAt); err != nil {
		return nil, err
	}
	v.Content = json.RawMessage(content)
	if partialID.Valid {
		p := int(partialID.Int32)
		v.PartialID = &p
	}
	if len(key) > 0 {
		v.AnswerKey = json.RawMessage(key)
	}
	return &v, nil
}

func scanVote(scanner interface{ Scan(dest ...any) error }) (*Vote, error) {
	var (
		v       Vote
		areaID  sql.NullInt64
		comment sql.NullString
	)
	if err := scanner.Scan(&v.ID, &v.VersionID, &v.VoterID, &v.Role, &areaID, &v.Decision, &comment, &v.CreatedAt); err != nil {
		return nil, err
	}
	if areaID.Valid {
		id := areaID.Int64
		v.AreaID = &id
	}
	if comment.Valid {
		c := comment.String
		v.Comment = &c
	}
	return &v, nil
}

func listVotes(ctx context.Context, q queryable, versionID int64) ([]Vote, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, version_id, voter_id, voter_role, area_id, decision, comment, created_at
		FROM votes
		WHERE version_id = $1
		ORDER BY created_at, id
	`, versionID)
	if err != nil {
		return nil, fmt.Errorf("query votes: %w", err)
	}
	defer rows.Close()

	out := make([]Vote, 0)
	for rows.Next() {
		v, err := scanVote(rows)
		if err != nil {
			return nil, fmt.Errorf("scan vote: %w", err)
		}
		out = append(out, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate votes: %w", err)
	}
	return out, nil
}

func loadVersionAreas(ctx context.Context, q queryable, versionID int64) ([]int64, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT area_id FROM version_areas WHERE version_id = $1 ORDER BY area_id
	`, versionID)
	if err != nil {
		return nil, fmt.Errorf("query version areas: %w", err)
	}
	defer rows.Close()

	out := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan version area: %w", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate version areas: %w", err)
	}
	return out, nil
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func nullStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullInt64Ptr(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullIntPtr(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}
