package exam

import (
	"encoding/json"
	"time"

	"evalbank/internal/question"
)

type Mode string

const (
	ModeManual Mode = "manual"
	ModeRandom Mode = "aleatorio"
)

type State string

const (
	StateDraft     State = "borrador"
	StateScheduled State = "programado"
	StateActive    State = "activo"
	StateClosed    State = "cerrado"
	StateArchived  State = "archivado"
)

type AttemptState string

const (
	AttemptInProgress AttemptState = "en_progreso"
	AttemptSubmitted  AttemptState = "enviado"
	AttemptReviewed   AttemptState = "revisado"
)

type ReviewState string

const (
	ReviewPending       ReviewState = "pendiente"
	ReviewPendingManual ReviewState = "pendiente_revision"
	ReviewDone          ReviewState = "revisada"
)

type Exam struct {
	ID               int64          `json:"id"`
	SectionID        int64          `json:"section_id"`
	SubjectID        int64          `json:"subject_id"`
	Title            string         `json:"title"`
	Mode             Mode           `json:"mode"`
	State            State          `json:"state"`
	Scope            question.Scope `json:"scope"`
	PartialID        *int           `json:"partial_id,omitempty"`
	DifficultyMin    int            `json:"difficulty_min"`
	DifficultyMax    int            `json:"difficulty_max"`
	NumQuestions     int            `json:"num_questions"`
	StartAt          time.Time      `json:"start_at"`
	DurationMinutes  int            `json:"duration_minutes"`
	MaxAttempts      int            `json:"max_attempts"`
	ShuffleQuestions bool           `json:"shuffle_questions"`
	ShuffleOptions   bool           `json:"shuffle_options"`
}

func (e Exam) EndAt() time.Time {
	return e.StartAt.Add(time.Duration(e.DurationMinutes) * time.Minute)
}

type ExamQuestion struct {
	ExamID     int64         `json:"exam_id"`
	VersionID  int64         `json:"version_id"`
	QuestionID int64         `json:"question_id"`
	Type       question.Type `json:"type"`
	Difficulty int           `json:"difficulty"`
	Points     float64       `json:"points"`
	BaseOrder  int           `json:"base_order"`
}

type Attempt struct {
	ID                int64        `json:"id"`
	ExamID            int64        `json:"exam_id"`
	EnrollmentID      int64        `json:"enrollment_id"`
	Number            int          `json:"number"`
	State             AttemptState `json:"state"`
	StartedAt         time.Time    `json:"started_at"`
	EndedAt           *time.Time   `json:"ended_at,omitempty"`
	AutoScore         float64      `json:"auto_score"`
	ManualAdjustment  *float64     `json:"manual_adjustment,omitempty"`
	FinalScore        *float64     `json:"final_score,omitempty"`
	InstructorComment *string      `json:"instructor_comment,omitempty"`
}

// AttemptQuestion is frozen when the attempt starts. Permutation maps
// presented position to canonical index and is nil when nothing was shuffled.
type AttemptQuestion struct {
	AttemptID   int64   `json:"attempt_id"`
	VersionID   int64   `json:"version_id"`
	Position    int     `json:"position"`
	Points      float64 `json:"points"`
	Permutation []int   `json:"permutation,omitempty"`
}

// PresentedQuestion is what the student sees: options or items already in
// presented order, never the answer key.
type PresentedQuestion struct {
	VersionID int64           `json:"version_id"`
	Position  int             `json:"position"`
	Points    float64         `json:"points"`
	Type      question.Type   `json:"type"`
	Statement string          `json:"statement"`
	Content   json.RawMessage `json:"content"`
}

type StartResult struct {
	Attempt   Attempt             `json:"attempt"`
	Questions []PresentedQuestion `json:"questions"`
}

type FinalizeResult struct {
	AttemptID     int64   `json:"attempt_id"`
	AutoScore     float64 `json:"auto_score"`
	PendingReview int     `json:"pending_review"`
}

type ScoreOverride struct {
	VersionID int64   `json:"version_id"`
	Score     float64 `json:"score"`
	Feedback  string  `json:"feedback,omitempty"`
}

type GradeInput struct {
	AttemptID  int64
	Overrides  []ScoreOverride
	Comment    string
	FinalScore *float64
}

type GradeResult struct {
	AttemptID        int64   `json:"attempt_id"`
	AutoScore        float64 `json:"auto_score"`
	FinalScore       float64 `json:"final_score"`
	ManualAdjustment float64 `json:"manual_adjustment"`
	GradebookScore   float64 `json:"gradebook_score"`
	GradebookSynced  bool    `json:"gradebook_synced"`
	Warning          string  `json:"warning,omitempty"`
}

type AssembleResult struct {
	ExamID    int64 `json:"exam_id"`
	Assembled int   `json:"assembled"`
}

type AnswerView struct {
	VersionID   int64           `json:"version_id"`
	Position    int             `json:"position"`
	Points      float64         `json:"points"`
	Type        question.Type   `json:"type"`
	Statement   string          `json:"statement"`
	Content     json.RawMessage `json:"content"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	AutoScore   float64         `json:"auto_score"`
	ManualScore *float64        `json:"manual_score,omitempty"`
	Feedback    *string         `json:"feedback,omitempty"`
	ReviewState ReviewState     `json:"review_state"`
}

type AttemptDetail struct {
	Attempt Attempt      `json:"attempt"`
	Items   []AnswerView `json:"items"`
}
