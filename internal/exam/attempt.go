package exam

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"evalbank/internal/actor"
	"evalbank/internal/apperr"
	"evalbank/internal/gradebook"
	"evalbank/internal/logger"
	"evalbank/internal/question"

	"github.com/rs/zerolog"
)

type examItem struct {
	VersionID int64
	Points    float64
	Type      question.Type
	Statement string
	Content   []byte
}

// StartAttempt opens a new attempt for an enrollment. The enrollment row is
// locked so concurrent starts for the same student serialize on the quota.
func (s *Service) StartAttempt(ctx context.Context, a actor.Actor, examID, enrollmentID int64) (*StartResult, error) {
	if examID <= 0 {
		return nil, apperr.Validation("exam_id", "exam_id is required")
	}
	if enrollmentID <= 0 {
		return nil, apperr.Validation("enrollment_id", "enrollment_id is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin start tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var sectionID, studentID int64
	err = tx.QueryRowContext(ctx, `
		SELECT section_id, student_id FROM enrollments WHERE id = $1 FOR UPDATE
	`, enrollmentID).Scan(&sectionID, &studentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotEnrolled
		}
		return nil, fmt.Errorf("lock enrollment: %w", err)
	}
	if !a.Admin && a.ID != studentID {
		return nil, ErrAttemptForbidden
	}

	e, err := loadExam(ctx, tx, examID, "FOR SHARE")
	if err != nil {
		return nil, err
	}
	if e.SectionID != sectionID {
		return nil, ErrNotEnrolled
	}
	now := s.now()
	if err := checkStartWindow(*e, now); err != nil {
		return nil, err
	}

	var used, inProgress int
	if err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE state = 'en_progreso')
		FROM attempts
		WHERE enrollment_id = $1 AND exam_id = $2
	`, enrollmentID, examID).Scan(&used, &inProgress); err != nil {
		return nil, fmt.Errorf("count attempts: %w", err)
	}
	if err := checkQuota(used, e.MaxAttempts, inProgress > 0); err != nil {
		return nil, err
	}

	items, err := loadExamItems(ctx, tx, examID)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, ErrExamEmpty
	}
	if e.ShuffleQuestions {
		order := s.perm(len(items))
		shuffled := make([]examItem, len(items))
		for i, idx := range order {
			shuffled[i] = items[idx]
		}
		items = shuffled
	}

	attempt, err := scanAttempt(tx.QueryRowContext(ctx, `
		INSERT INTO attempts (exam_id, enrollment_id, attempt_num, state, started_at, auto_score)
		VALUES ($1, $2, $3, 'en_progreso', $4, 0)
		RETURNING id, exam_id, enrollment_id, attempt_num, state, started_at, ended_at,
			auto_score, manual_adjustment, final_score, instructor_comment
	`,
		examID, enrollmentID, used+1, now))
	if err != nil {
		return nil, fmt.Errorf("insert attempt: %w", err)
	}

	presented := make([]PresentedQuestion, 0, len(items))
	for i, it := range items {
		var perm []int
		if e.ShuffleOptions && it.Type.Permutable() {
			n, err := question.ElementCount(it.Type, it.Content)
			if err != nil {
				logger.Error().Err(err).Int64("version_id", it.VersionID).Msg("cannot shuffle malformed content")
			} else {
				perm = s.perm(n)
			}
		}
		content, err := presentContent(it.Type, it.Content, perm)
		if err != nil {
			logger.Error().Err(err).Int64("version_id", it.VersionID).Msg("cannot present shuffled content")
			perm = nil
			content = it.Content
		}
		encoded, err := encodePermutation(perm)
		if err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO attempt_questions (attempt_id, version_id, position, points, permutation)
			VALUES ($1, $2, $3, $4, $5::jsonb)
		`, attempt.ID, it.VersionID, i+1, it.Points, encoded); err != nil {
			return nil, fmt.Errorf("insert attempt question: %w", err)
		}
		presented = append(presented, PresentedQuestion{
			VersionID: it.VersionID,
			Position:  i + 1,
			Points:    it.Points,
			Type:      it.Type,
			Statement: it.Statement,
			Content:   content,
		})
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit start: %w", err)
	}

	logger.Info().
		Int64("attempt_id", attempt.ID).
		Int64("exam_id", examID).
		Int64("enrollment_id", enrollmentID).
		Int("number", attempt.Number).
		Msg("attempt started")

	return &StartResult{Attempt: *attempt, Questions: presented}, nil
}

func loadExamItems(ctx context.Context, q queryable, examID int64) ([]examItem, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT eq.version_id, eq.points, v.question_type, v.statement, v.content
		FROM exam_questions eq
		JOIN question_versions v ON v.id = eq.version_id
		WHERE eq.exam_id = $1
		ORDER BY eq.base_order ASC, eq.version_id ASC
	`, examID)
	if err != nil {
		return nil, fmt.Errorf("query exam questions: %w", err)
	}
	defer rows.Close()

	out := make([]examItem, 0)
	for rows.Next() {
		var (
			it      examItem
			qType   string
			content []byte
		)
		if err := rows.Scan(&it.VersionID, &it.Points, &qType, &it.Statement, &content); err != nil {
			return nil, fmt.Errorf("scan exam question: %w", err)
		}
		it.Type = question.Type(qType)
		it.Content = content
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate exam questions: %w", err)
	}
	return out, nil
}

func canReadAttempt(a actor.Actor, studentID int64) bool {
	return a.CanManageExams() || a.ID == studentID
}

// SubmitAnswer stores the latest payload for one question of an open attempt.
func (s *Service) SubmitAnswer(ctx context.Context, a actor.Actor, attemptID, versionID int64, payload json.RawMessage) error {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(payload, &obj); err != nil {
		return apperr.Validation("payload", "payload must be a JSON object")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin answer tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	ac, err := loadAttemptContext(ctx, tx, attemptID, "FOR UPDATE OF a")
	if err != nil {
		return err
	}
	if a.ID != ac.StudentID && !a.Admin {
		return ErrAttemptForbidden
	}
	if ac.Attempt.State != AttemptInProgress {
		return ErrAttemptNotEditable
	}
	if s.now().After(ac.Exam.EndAt()) {
		return ErrWindowExpired
	}

	var inAttempt bool
	if err := tx.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM attempt_questions WHERE attempt_id = $1 AND version_id = $2)
	`, attemptID, versionID).Scan(&inAttempt); err != nil {
		return fmt.Errorf("check attempt question: %w", err)
	}
	if !inAttempt {
		return ErrQuestionNotInAttempt
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO answers (attempt_id, version_id, payload, updated_at)
		VALUES ($1, $2, $3::jsonb, now())
		ON CONFLICT (attempt_id, version_id)
		DO UPDATE SET payload = EXCLUDED.payload, updated_at = now()
	`, attemptID, versionID, string(payload)); err != nil {
		return fmt.Errorf("upsert answer: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit answer: %w", err)
	}
	return nil
}

// FinalizeAttempt closes an attempt and auto-grades it with the permutations
// frozen at start. Open answers are left for manual review.
func (s *Service) FinalizeAttempt(ctx context.Context, a actor.Actor, attemptID int64) (*FinalizeResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin finalize tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	ac, err := loadAttemptContext(ctx, tx, attemptID, "FOR UPDATE OF a")
	if err != nil {
		return nil, err
	}
	if !canReadAttempt(a, ac.StudentID) {
		return nil, ErrAttemptForbidden
	}
	if ac.Attempt.State != AttemptInProgress {
		return nil, ErrAttemptFinalized
	}

	items, err := loadAttemptItems(ctx, tx, attemptID)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, ErrAttemptEmpty
	}

	graded := make([]GradedItem, 0, len(items))
	pending := 0
	for _, it := range items {
		res := ScoreQuestion(it.scoreInput())
		if res.Reason == ReasonMalformedKey || res.Reason == ReasonBadPermutation {
			logger.Error().
				Int64("attempt_id", attemptID).
				Int64("version_id", it.VersionID).
				Str("type", string(it.Type)).
				Str("reason", res.Reason).
				Msg("question scored zero")
		}

		g := GradedItem{Type: it.Type, Points: it.Points, Fraction: res.Fraction}
		graded = append(graded, g)

		review := ReviewPending
		if it.Type == question.TypeOpen && res.Answered {
			review = ReviewPendingManual
			pending++
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO answers (attempt_id, version_id, auto_score, review_state, updated_at)
			VALUES ($1, $2, $3, $4, now())
			ON CONFLICT (attempt_id, version_id)
			DO UPDATE SET auto_score = EXCLUDED.auto_score, review_state = EXCLUDED.review_state, updated_at = now()
		`, attemptID, it.VersionID, roundScore(g.autoPoints()), string(review)); err != nil {
			return nil, fmt.Errorf("store answer score: %w", err)
		}
	}

	auto := AggregateAuto(graded)
	if _, err := tx.ExecContext(ctx, `
		UPDATE attempts SET state = 'enviado', ended_at = $2, auto_score = $3 WHERE id = $1
	`, attemptID, s.now(), auto); err != nil {
		return nil, fmt.Errorf("close attempt: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit finalize: %w", err)
	}

	logger.Info().
		Int64("attempt_id", attemptID).
		Float64("auto_score", auto).
		Int("pending_review", pending).
		Msg("attempt finalized")

	return &FinalizeResult{AttemptID: attemptID, AutoScore: auto, PendingReview: pending}, nil
}

// GradeAttempt applies instructor overrides and publishes the final score to
// the gradebook. A gradebook failure is reported in the result, the grade
// itself stays committed.
func (s *Service) GradeAttempt(ctx context.Context, a actor.Actor, in GradeInput) (*GradeResult, error) {
	if !a.CanManageExams() {
		return nil, ErrCannotManage
	}
	in.Comment = strings.TrimSpace(in.Comment)
	if in.Comment == "" {
		return nil, apperr.Validation("comment", "comment is required")
	}
	if in.FinalScore != nil && *in.FinalScore < 0 {
		return nil, apperr.Validation("final_score", "final_score must be >= 0")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin grade tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	ac, err := loadAttemptContext(ctx, tx, in.AttemptID, "FOR UPDATE OF a")
	if err != nil {
		return nil, err
	}
	if ac.Attempt.State != AttemptSubmitted && ac.Attempt.State != AttemptReviewed {
		return nil, ErrAttemptNotGradable
	}

	items, err := loadAttemptItems(ctx, tx, in.AttemptID)
	if err != nil {
		return nil, err
	}
	points := make(map[int64]float64, len(items))
	for _, it := range items {
		points[it.VersionID] = it.Points
	}
	if err := checkOverrides(points, in.Overrides); err != nil {
		return nil, err
	}

	overrides := make(map[int64]ScoreOverride, len(in.Overrides))
	for _, o := range in.Overrides {
		overrides[o.VersionID] = o
		var feedback *string
		if f := strings.TrimSpace(o.Feedback); f != "" {
			feedback = &f
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO answers (attempt_id, version_id, manual_score, feedback, review_state, updated_at)
			VALUES ($1, $2, $3, $4, 'revisada', now())
			ON CONFLICT (attempt_id, version_id)
			DO UPDATE SET manual_score = EXCLUDED.manual_score, feedback = EXCLUDED.feedback,
				review_state = 'revisada', updated_at = now()
		`, in.AttemptID, o.VersionID, o.Score, nullStringPtr(feedback)); err != nil {
			return nil, fmt.Errorf("store override: %w", err)
		}
	}

	graded := make([]GradedItem, 0, len(items))
	for _, it := range items {
		g := GradedItem{Type: it.Type, Points: it.Points, ManualScore: it.ManualScore}
		if it.Points > 0 {
			g.Fraction = it.AutoScore / it.Points
		}
		if o, ok := overrides[it.VersionID]; ok {
			score := o.Score
			g.ManualScore = &score
		}
		graded = append(graded, g)
	}

	auto := ac.Attempt.AutoScore
	final := AggregateFinal(graded)
	if in.FinalScore != nil {
		if total := TotalPoints(graded); *in.FinalScore > total {
			return nil, apperr.Validation("final_score", fmt.Sprintf("final_score must be <= %.2f", total))
		}
		final = roundScore(*in.FinalScore)
	}
	adjustment := roundScore(final - auto)

	if _, err := tx.ExecContext(ctx, `
		UPDATE attempts
		SET state = 'revisado', final_score = $2, manual_adjustment = $3, instructor_comment = $4
		WHERE id = $1
	`, in.AttemptID, final, adjustment, in.Comment); err != nil {
		return nil, fmt.Errorf("update attempt grade: %w", err)
	}
	history, err := loadGradedAttempts(ctx, tx, ac.Attempt.EnrollmentID, ac.Attempt.ExamID)
	if err != nil {
		return nil, err
	}
	best, _ := bestGraded(history)
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit grade: %w", err)
	}

	out := &GradeResult{
		AttemptID:        in.AttemptID,
		AutoScore:        auto,
		FinalScore:       final,
		ManualAdjustment: adjustment,
		GradebookScore:   best.Score,
	}

	log := logger.WithFields(map[string]interface{}{
		"attempt_id":    in.AttemptID,
		"enrollment_id": ac.Attempt.EnrollmentID,
		"exam_id":       ac.Attempt.ExamID,
	})
	out.GradebookSynced, out.Warning = s.syncGradebook(ctx, ac, best, log)

	log.Info().
		Int64("grader_id", a.ID).
		Float64("final_score", final).
		Int64("gradebook_attempt_id", best.ID).
		Bool("gradebook_synced", out.GradebookSynced).
		Msg("attempt graded")

	return out, nil
}

// loadGradedAttempts lists the reviewed attempts of one enrollment on one exam.
func loadGradedAttempts(ctx context.Context, q queryable, enrollmentID, examID int64) ([]gradedAttempt, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, attempt_num, final_score
		FROM attempts
		WHERE enrollment_id = $1 AND exam_id = $2 AND state = 'revisado' AND final_score IS NOT NULL
		ORDER BY attempt_num
	`, enrollmentID, examID)
	if err != nil {
		return nil, fmt.Errorf("query graded attempts: %w", err)
	}
	defer rows.Close()

	out := make([]gradedAttempt, 0)
	for rows.Next() {
		var g gradedAttempt
		if err := rows.Scan(&g.ID, &g.Number, &g.Score); err != nil {
			return nil, fmt.Errorf("scan graded attempt: %w", err)
		}
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate graded attempts: %w", err)
	}
	return out, nil
}

// syncGradebook publishes the best graded attempt of the enrollment, so
// regrading an older attempt never replaces a higher score.
func (s *Service) syncGradebook(ctx context.Context, ac *attemptContext, best gradedAttempt, log zerolog.Logger) (bool, string) {
	if s.gradebook == nil {
		return false, "gradebook is not configured"
	}
	_, err := s.gradebook.Upsert(ctx, gradebook.Entry{
		EnrollmentID: ac.Attempt.EnrollmentID,
		Scope:        string(ac.Exam.Scope),
		PartialID:    ac.Exam.PartialID,
		Score:        best.Score,
		AttemptID:    best.ID,
	})
	if err != nil {
		log.Warn().Err(err).Msg("gradebook sync failed")
		return false, "grade saved but gradebook sync failed"
	}
	return true, ""
}

// GetAttempt returns the attempt with its questions in presented order.
// Answer keys are never included.
func (s *Service) GetAttempt(ctx context.Context, a actor.Actor, attemptID int64) (*AttemptDetail, error) {
	ac, err := loadAttemptContext(ctx, s.db, attemptID, "")
	if err != nil {
		return nil, err
	}
	if !canReadAttempt(a, ac.StudentID) {
		return nil, ErrAttemptForbidden
	}
	items, err := loadAttemptItems(ctx, s.db, attemptID)
	if err != nil {
		return nil, err
	}

	out := &AttemptDetail{Attempt: ac.Attempt, Items: make([]AnswerView, 0, len(items))}
	for _, it := range items {
		content, err := presentContent(it.Type, it.Content, it.Permutation)
		if err != nil {
			logger.Error().Err(err).Int64("attempt_id", attemptID).Int64("version_id", it.VersionID).Msg("cannot present stored permutation")
			content = it.Content
		}
		out.Items = append(out.Items, AnswerView{
			VersionID:   it.VersionID,
			Position:    it.Position,
			Points:      it.Points,
			Type:        it.Type,
			Statement:   it.Statement,
			Content:     content,
			Payload:     it.Payload,
			AutoScore:   it.AutoScore,
			ManualScore: it.ManualScore,
			Feedback:    it.Feedback,
			ReviewState: it.ReviewState,
		})
	}
	return out, nil
}
