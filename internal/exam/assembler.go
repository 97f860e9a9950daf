package exam

import (
	"context"
	"fmt"

	"evalbank/internal/actor"
	"evalbank/internal/logger"
	"evalbank/internal/question"

	sq "github.com/Masterminds/squirrel"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// candidateQuery selects the current version of every live question that
// matches the exam filters. Older versions are never eligible so the same
// question cannot be drawn twice.
func candidateQuery(e Exam) sq.SelectBuilder {
	b := psql.
		Select("v.id").
		From("question_versions v").
		Join("questions q ON q.current_version_id = v.id").
		Where(sq.Eq{
			"q.subject_id": e.SubjectID,
			"v.state":      string(question.StateApproved),
			"v.scope":      string(e.Scope),
		}).
		Where("q.archived_at IS NULL").
		Where(sq.GtOrEq{"v.difficulty": e.DifficultyMin}).
		Where(sq.LtOrEq{"v.difficulty": e.DifficultyMax}).
		OrderBy("v.id")
	if e.Scope == question.ScopePartial && e.PartialID != nil {
		b = b.Where(sq.Eq{"v.partial_id": *e.PartialID})
	}
	return b
}

// drawVersions picks n candidates uniformly without replacement, in draw order.
func drawVersions(candidates []int64, n int, perm func(int) []int) ([]int64, error) {
	if n > len(candidates) {
		return nil, fmt.Errorf("exam needs %d questions, %d match: %w", n, len(candidates), ErrInsufficientPool)
	}
	order := perm(len(candidates))
	out := make([]int64, 0, n)
	for _, idx := range order[:n] {
		out = append(out, candidates[idx])
	}
	return out, nil
}

// AssembleExam replaces the question set of a random-mode draft exam with a
// fresh draw from the approved pool. Nothing is written when the pool is short.
func (s *Service) AssembleExam(ctx context.Context, a actor.Actor, examID int64) (*AssembleResult, error) {
	if !a.CanManageExams() {
		return nil, ErrCannotManage
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin assemble tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	e, err := loadExam(ctx, tx, examID, "FOR UPDATE")
	if err != nil {
		return nil, err
	}
	if e.Mode != ModeRandom {
		return nil, ErrWrongMode
	}
	if err := checkEditable(*e); err != nil {
		return nil, err
	}
	if err := checkAssemblyFilters(*e); err != nil {
		return nil, err
	}

	query, args, err := candidateQuery(*e).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build candidate query: %w", err)
	}
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query candidates: %w", err)
	}
	candidates := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		candidates = append(candidates, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate candidates: %w", err)
	}
	rows.Close()
	logger.Debug().
		Int64("exam_id", examID).
		Int("pool", len(candidates)).
		Msg("assembly candidates loaded")

	drawn, err := drawVersions(candidates, e.NumQuestions, s.perm)
	if err != nil {
		logger.Warn().
			Int64("exam_id", examID).
			Int("needed", e.NumQuestions).
			Int("available", len(candidates)).
			Msg("question pool exhausted")
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM exam_questions WHERE exam_id = $1`, examID); err != nil {
		return nil, fmt.Errorf("clear exam questions: %w", err)
	}
	for i, versionID := range drawn {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO exam_questions (exam_id, version_id, points, base_order)
			VALUES ($1, $2, 1.0, $3)
		`, examID, versionID, i+1); err != nil {
			return nil, fmt.Errorf("insert exam question: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit assemble: %w", err)
	}

	logger.Info().
		Int64("exam_id", examID).
		Int("assembled", len(drawn)).
		Int("pool", len(candidates)).
		Msg("exam assembled")

	return &AssembleResult{ExamID: examID, Assembled: len(drawn)}, nil
}
