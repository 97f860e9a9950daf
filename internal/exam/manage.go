package exam

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"

	"evalbank/internal/actor"
	"evalbank/internal/apperr"
	"evalbank/internal/db"
	"evalbank/internal/logger"
	"evalbank/internal/question"
)

const examQuestionPKey = "exam_questions_pkey"

func (s *Service) ListExamQuestions(ctx context.Context, examID int64) ([]ExamQuestion, error) {
	if _, err := loadExam(ctx, s.db, examID, ""); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT eq.exam_id, eq.version_id, v.question_id, v.question_type, v.difficulty, eq.points, eq.base_order
		FROM exam_questions eq
		JOIN question_versions v ON v.id = eq.version_id
		WHERE eq.exam_id = $1
		ORDER BY eq.base_order ASC, eq.version_id ASC
	`, examID)
	if err != nil {
		return nil, fmt.Errorf("list exam questions: %w", err)
	}
	defer rows.Close()

	out := make([]ExamQuestion, 0)
	for rows.Next() {
		var (
			eq    ExamQuestion
			qType string
		)
		if err := rows.Scan(&eq.ExamID, &eq.VersionID, &eq.QuestionID, &qType, &eq.Difficulty, &eq.Points, &eq.BaseOrder); err != nil {
			return nil, fmt.Errorf("scan exam question: %w", err)
		}
		eq.Type = question.Type(qType)
		out = append(out, eq)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate exam questions: %w", err)
	}
	return out, nil
}

func validPoints(points float64) bool {
	return points > 0 && !math.IsInf(points, 0) && !math.IsNaN(points)
}

// lockEditableExam locks the exam row and checks it still accepts edits.
func (s *Service) lockEditableExam(ctx context.Context, tx *sql.Tx, a actor.Actor, examID int64) (*Exam, error) {
	if !a.CanManageExams() {
		return nil, ErrCannotManage
	}
	e, err := loadExam(ctx, tx, examID, "FOR UPDATE")
	if err != nil {
		return nil, err
	}
	if err := checkEditable(*e); err != nil {
		return nil, err
	}
	return e, nil
}

// AddExamQuestion appends an approved version of the exam's subject to a
// manual exam.
func (s *Service) AddExamQuestion(ctx context.Context, a actor.Actor, examID, versionID int64, points float64) (*ExamQuestion, error) {
	if versionID <= 0 {
		return nil, apperr.Validation("version_id", "version_id is required")
	}
	if !validPoints(points) {
		return nil, apperr.Validation("points", "points must be > 0")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin add question tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	e, err := s.lockEditableExam(ctx, tx, a, examID)
	if err != nil {
		return nil, err
	}
	if e.Mode != ModeManual {
		return nil, ErrWrongMode
	}

	var (
		eq        = ExamQuestion{ExamID: examID, VersionID: versionID, Points: points}
		subjectID int64
		state     string
		qType     string
	)
	err = tx.QueryRowContext(ctx, `
		SELECT v.question_id, q.subject_id, v.state, v.question_type, v.difficulty
		FROM question_versions v
		JOIN questions q ON q.id = v.question_id
		WHERE v.id = $1
	`, versionID).Scan(&eq.QuestionID, &subjectID, &state, &qType, &eq.Difficulty)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrVersionNotFound
		}
		return nil, fmt.Errorf("load version: %w", err)
	}
	if subjectID != e.SubjectID {
		return nil, apperr.Validation("version_id", "version belongs to another subject")
	}
	if question.State(state) != question.StateApproved {
		return nil, apperr.Validation("version_id", "only approved versions can be added")
	}
	eq.Type = question.Type(qType)

	if err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(base_order), 0) + 1 FROM exam_questions WHERE exam_id = $1
	`, examID).Scan(&eq.BaseOrder); err != nil {
		return nil, fmt.Errorf("next base order: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO exam_questions (exam_id, version_id, points, base_order)
		VALUES ($1, $2, $3, $4)
	`, examID, versionID, points, eq.BaseOrder); err != nil {
		if db.IsUniqueViolation(err, examQuestionPKey) {
			return nil, ErrDuplicateQuestion
		}
		return nil, fmt.Errorf("insert exam question: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit add question: %w", err)
	}
	return &eq, nil
}

func (s *Service) UpdateQuestionPoints(ctx context.Context, a actor.Actor, examID, versionID int64, points float64) error {
	if !validPoints(points) {
		return apperr.Validation("points", "points must be > 0")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update points tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := s.lockEditableExam(ctx, tx, a, examID); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE exam_questions SET points = $3 WHERE exam_id = $1 AND version_id = $2
	`, examID, versionID, points)
	if err != nil {
		return fmt.Errorf("update points: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrQuestionNotInExam
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit update points: %w", err)
	}
	return nil
}

func (s *Service) RemoveExamQuestion(ctx context.Context, a actor.Actor, examID, versionID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin remove question tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := s.lockEditableExam(ctx, tx, a, examID); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM exam_questions WHERE exam_id = $1 AND version_id = $2`, examID, versionID)
	if err != nil {
		return fmt.Errorf("delete exam question: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrQuestionNotInExam
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit remove question: %w", err)
	}
	return nil
}

// TransitionExam moves an exam along its lifecycle. Scheduling requires at
// least one question.
func (s *Service) TransitionExam(ctx context.Context, a actor.Actor, examID int64, to State) (*Exam, error) {
	if !a.CanManageExams() {
		return nil, ErrCannotManage
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transition tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	e, err := loadExam(ctx, tx, examID, "FOR UPDATE")
	if err != nil {
		return nil, err
	}
	if !canTransition(e.State, to) {
		return nil, fmt.Errorf("%s -> %s: %w", e.State, to, ErrBadTransition)
	}
	if to == StateDraft {
		var attempted bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM attempts WHERE exam_id = $1)`, examID).Scan(&attempted); err != nil {
			return nil, fmt.Errorf("check exam attempts: %w", err)
		}
		if err := checkReopen(to, attempted); err != nil {
			return nil, err
		}
	}
	if to == StateScheduled {
		var count int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM exam_questions WHERE exam_id = $1`, examID).Scan(&count); err != nil {
			return nil, fmt.Errorf("count exam questions: %w", err)
		}
		if count == 0 {
			return nil, ErrExamEmpty
		}
	}
	if _, err := tx.ExecContext(ctx, `UPDATE exams SET state = $2 WHERE id = $1`, examID, string(to)); err != nil {
		return nil, fmt.Errorf("update exam state: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transition: %w", err)
	}

	logger.Info().
		Int64("exam_id", examID).
		Str("from", string(e.State)).
		Str("to", string(to)).
		Msg("exam state changed")

	e.State = to
	return e, nil
}
