package exam

import (
	"time"

	"evalbank/internal/apperr"
	"evalbank/internal/question"
)

var (
	ErrExamNotFound         = apperr.NotFound("exam not found")
	ErrAttemptNotFound      = apperr.NotFound("attempt not found")
	ErrQuestionNotInAttempt = apperr.NotFound("question is not part of this attempt")
	ErrQuestionNotInExam    = apperr.NotFound("question is not part of this exam")
	ErrVersionNotFound      = apperr.NotFound("question version not found")

	ErrExamNotOpen        = apperr.Conflict("exam is not open for attempts")
	ErrTooEarly           = apperr.Conflict("exam has not started yet")
	ErrWindowExpired      = apperr.Conflict("exam window has closed")
	ErrQuotaExceeded      = apperr.Conflict("attempt quota exhausted")
	ErrAttemptInProgress  = apperr.Conflict("an attempt is already in progress")
	ErrExamEmpty          = apperr.Conflict("exam has no questions")
	ErrAttemptNotEditable = apperr.Conflict("attempt no longer accepts answers")
	ErrAttemptFinalized   = apperr.Conflict("attempt already finalized")
	ErrAttemptNotGradable = apperr.Conflict("attempt must be submitted before grading")
	ErrAttemptEmpty       = apperr.Conflict("attempt has no questions")
	ErrExamNotEditable    = apperr.Conflict("exam can only be edited while in draft")
	ErrWrongMode          = apperr.Conflict("operation does not apply to this exam mode")
	ErrBadTransition      = apperr.Conflict("exam state transition not allowed")
	ErrDuplicateQuestion  = apperr.Conflict("question already in exam")
	ErrExamAttempted      = apperr.Conflict("exam already has attempts and cannot return to draft")

	ErrInsufficientPool = apperr.PoolExhausted("not enough approved questions match the exam filters")

	ErrNotEnrolled      = apperr.Forbidden("enrollment does not belong to this exam")
	ErrAttemptForbidden = apperr.Forbidden("attempt belongs to another student")
	ErrCannotManage     = apperr.Forbidden("actor cannot manage exams")
)

// checkStartWindow validates exam state and the time window for a new attempt.
func checkStartWindow(e Exam, now time.Time) error {
	if e.State != StateScheduled && e.State != StateActive {
		return ErrExamNotOpen
	}
	if now.Before(e.StartAt) {
		return ErrTooEarly
	}
	if now.After(e.EndAt()) {
		return ErrWindowExpired
	}
	return nil
}

func checkQuota(used, maxAttempts int, inProgress bool) error {
	if inProgress {
		return ErrAttemptInProgress
	}
	if used >= maxAttempts {
		return ErrQuotaExceeded
	}
	return nil
}

func checkEditable(e Exam) error {
	if e.State != StateDraft {
		return ErrExamNotEditable
	}
	return nil
}

var transitions = map[State][]State{
	StateDraft:     {StateScheduled, StateArchived},
	StateScheduled: {StateDraft, StateActive, StateClosed, StateArchived},
	StateActive:    {StateClosed, StateArchived},
	StateClosed:    {StateArchived},
}

// checkReopen blocks the way back to draft once any student has started the
// exam, since draft is the only state that allows question set edits.
func checkReopen(to State, attempted bool) error {
	if to == StateDraft && attempted {
		return ErrExamAttempted
	}
	return nil
}

// checkAssemblyFilters rejects filters that cannot select a well defined pool.
func checkAssemblyFilters(e Exam) error {
	if e.NumQuestions <= 0 {
		return apperr.Validation("num_questions", "num_questions must be > 0")
	}
	if e.Scope == question.ScopePartial && e.PartialID == nil {
		return apperr.Validation("partial_id", "partial exams need a partial_id to draw from")
	}
	return nil
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// checkOverrides validates manual per-question scores against the frozen
// attempt points.
func checkOverrides(points map[int64]float64, overrides []ScoreOverride) error {
	seen := make(map[int64]struct{}, len(overrides))
	for _, o := range overrides {
		limit, ok := points[o.VersionID]
		if !ok {
			return ErrQuestionNotInAttempt
		}
		if _, dup := seen[o.VersionID]; dup {
			return apperr.Validation("overrides", "question overridden twice")
		}
		seen[o.VersionID] = struct{}{}
		if o.Score < 0 || o.Score > limit {
			return apperr.Validation("overrides", "score must be between 0 and the question points")
		}
	}
	return nil
}
