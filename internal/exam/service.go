package exam

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"evalbank/internal/gradebook"
	"evalbank/internal/question"
)

type queryable interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// GradebookSink receives the final score of every graded attempt.
type GradebookSink interface {
	Upsert(ctx context.Context, e gradebook.Entry) (*gradebook.Record, error)
}

type Service struct {
	db        *sql.DB
	gradebook GradebookSink
	now       func() time.Time
	perm      func(n int) []int
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithPermuter replaces the source of random permutations used for drawing
// and shuffling.
func WithPermuter(perm func(n int) []int) Option {
	return func(s *Service) { s.perm = perm }
}

func NewService(db *sql.DB, sink GradebookSink, opts ...Option) *Service {
	s := &Service{
		db:        db,
		gradebook: sink,
		now:       time.Now,
		perm:      rand.Perm,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

const examColumns = `
	e.id, e.section_id, e.subject_id, e.title, e.mode, e.state, e.scope, e.partial_id,
	e.difficulty_min, e.difficulty_max, e.num_questions, e.start_at, e.duration_minutes,
	e.max_attempts, e.shuffle_questions, e.shuffle_options`

func scanExam(scanner interface{ Scan(dest ...any) error }) (*Exam, error) {
	var (
		e         Exam
		partialID sql.NullInt64
	)
	if err := scanner.Scan(
		&e.ID, &e.SectionID, &e.SubjectID, &e.Title, &e.Mode, &e.State, &e.Scope, &partialID,
		&e.DifficultyMin, &e.DifficultyMax, &e.NumQuestions, &e.StartAt, &e.DurationMinutes,
		&e.MaxAttempts, &e.ShuffleQuestions, &e.ShuffleOptions,
	); err != nil {
		return nil, err
	}
	if partialID.Valid {
		v := int(partialID.Int64)
		e.PartialID = &v
	}
	return &e, nil
}

func (s *Service) GetExam(ctx context.Context, examID int64) (*Exam, error) {
	return loadExam(ctx, s.db, examID, "")
}

// loadExam reads one exam, appending lock (e.g. "FOR UPDATE") when non-empty.
func loadExam(ctx context.Context, q queryable, examID int64, lock string) (*Exam, error) {
	e, err := scanExam(q.QueryRowContext(ctx, `SELECT `+examColumns+` FROM exams e WHERE e.id = $1 `+lock, examID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrExamNotFound
		}
		return nil, fmt.Errorf("load exam: %w", err)
	}
	return e, nil
}

const attemptColumns = `
	a.id, a.exam_id, a.enrollment_id, a.attempt_num, a.state, a.started_at, a.ended_at,
	a.auto_score, a.manual_adjustment, a.final_score, a.instructor_comment`

func scanAttempt(scanner interface{ Scan(dest ...any) error }) (*Attempt, error) {
	var (
		a          Attempt
		endedAt    sql.NullTime
		adjustment sql.NullFloat64
		finalScore sql.NullFloat64
		comment    sql.NullString
	)
	if err := scanner.Scan(
		&a.ID, &a.ExamID, &a.EnrollmentID, &a.Number, &a.State, &a.StartedAt, &endedAt,
		&a.AutoScore, &adjustment, &finalScore, &comment,
	); err != nil {
		return nil, err
	}
	if endedAt.Valid {
		t := endedAt.Time
		a.EndedAt = &t
	}
	if adjustment.Valid {
		v := adjustment.Float64
		a.ManualAdjustment = &v
	}
	if finalScore.Valid {
		v := finalScore.Float64
		a.FinalScore = &v
	}
	if comment.Valid {
		v := comment.String
		a.InstructorComment = &v
	}
	return &a, nil
}

// attemptContext is an attempt together with what authorization and grading
// need from its exam and enrollment.
type attemptContext struct {
	Attempt   Attempt
	StudentID int64
	Exam      Exam
}

func loadAttemptContext(ctx context.Context, q queryable, attemptID int64, lock string) (*attemptContext, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+attemptColumns+`, en.student_id, `+examColumns+`
		FROM attempts a
		JOIN enrollments en ON en.id = a.enrollment_id
		JOIN exams e ON e.id = a.exam_id
		WHERE a.id = $1 `+lock, attemptID)

	var (
		out        attemptContext
		endedAt    sql.NullTime
		adjustment sql.NullFloat64
		finalScore sql.NullFloat64
		comment    sql.NullString
		partialID  sql.NullInt64
	)
	a := &out.Attempt
	e := &out.Exam
	err := row.Scan(
		&a.ID, &a.ExamID, &a.EnrollmentID, &a.Number, &a.State, &a.StartedAt, &endedAt,
		&a.AutoScore, &adjustment, &finalScore, &comment,
		&out.StudentID,
		&e.ID, &e.SectionID, &e.SubjectID, &e.Title, &e.Mode, &e.State, &e.Scope, &partialID,
		&e.DifficultyMin, &e.DifficultyMax, &e.NumQuestions, &e.StartAt, &e.DurationMinutes,
		&e.MaxAttempts, &e.ShuffleQuestions, &e.ShuffleOptions,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("load attempt: %w", err)
	}
	if endedAt.Valid {
		t := endedAt.Time
		a.EndedAt = &t
	}
	if adjustment.Valid {
		v := adjustment.Float64
		a.ManualAdjustment = &v
	}
	if finalScore.Valid {
		v := finalScore.Float64
		a.FinalScore = &v
	}
	if comment.Valid {
		v := comment.String
		a.InstructorComment = &v
	}
	if partialID.Valid {
		v := int(partialID.Int64)
		e.PartialID = &v
	}
	return &out, nil
}

// attemptItem joins a frozen attempt question with its version and answer.
type attemptItem struct {
	VersionID   int64
	Position    int
	Points      float64
	Permutation []int
	Type        question.Type
	Statement   string
	Content     []byte
	AnswerKey   []byte
	Payload     []byte
	AutoScore   float64
	ManualScore *float64
	Feedback    *string
	ReviewState ReviewState
}

func (it attemptItem) scoreInput() ScoreInput {
	return ScoreInput{
		Type:        it.Type,
		Content:     it.Content,
		AnswerKey:   it.AnswerKey,
		Payload:     it.Payload,
		Permutation: it.Permutation,
	}
}

func loadAttemptItems(ctx context.Context, q queryable, attemptID int64) ([]attemptItem, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT
			aq.version_id,
			aq.position,
			aq.points,
			aq.permutation,
			v.question_type,
			v.statement,
			v.content,
			v.answer_key,
			ans.payload,
			COALESCE(ans.auto_score, 0),
			ans.manual_score,
			ans.feedback,
			COALESCE(ans.review_state, 'pendiente')
		FROM attempt_questions aq
		JOIN question_versions v ON v.id = aq.version_id
		LEFT JOIN answers ans ON ans.attempt_id = aq.attempt_id AND ans.version_id = aq.version_id
		WHERE aq.attempt_id = $1
		ORDER BY aq.position ASC
	`, attemptID)
	if err != nil {
		return nil, fmt.Errorf("query attempt questions: %w", err)
	}
	defer rows.Close()

	out := make([]attemptItem, 0)
	for rows.Next() {
		var (
			it          attemptItem
			perm        []byte
			content     []byte
			answerKey   []byte
			payload     []byte
			manualScore sql.NullFloat64
			feedback    sql.NullString
			reviewState string
			qType       string
		)
		if err := rows.Scan(
			&it.VersionID, &it.Position, &it.Points, &perm, &qType, &it.Statement,
			&content, &answerKey, &payload, &it.AutoScore, &manualScore, &feedback, &reviewState,
		); err != nil {
			return nil, fmt.Errorf("scan attempt question: %w", err)
		}
		it.Type = question.Type(qType)
		it.ReviewState = ReviewState(reviewState)
		it.Content = content
		it.AnswerKey = answerKey
		it.Payload = payload
		it.Permutation, err = decodePermutation(perm)
		if err != nil {
			return nil, fmt.Errorf("attempt question %d: %w", it.VersionID, err)
		}
		if manualScore.Valid {
			v := manualScore.Float64
			it.ManualScore = &v
		}
		if feedback.Valid {
			v := feedback.String
			it.Feedback = &v
		}
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attempt questions: %w", err)
	}
	return out, nil
}

func nullStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}
