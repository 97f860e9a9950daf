package question

import (
	"encoding/json"
	"time"

	"evalbank/internal/actor"
)

type Type string

const (
	TypeChoice    Type = "opcion_multiple"
	TypeTrueFalse Type = "verdadero_falso"
	TypeBlanks    Type = "completar"
	TypeNumeric   Type = "numerica"
	TypeOrdering  Type = "ordenar"
	TypeMatching  Type = "relacionar"
	TypeOpen      Type = "abierta"
)

func (t Type) Valid() bool {
	switch t {
	case TypeChoice, TypeTrueFalse, TypeBlanks, TypeNumeric, TypeOrdering, TypeMatching, TypeOpen:
		return true
	}
	return false
}

// Permutable types present their options or items in a per-attempt order.
func (t Type) Permutable() bool {
	return t == TypeChoice || t == TypeOrdering
}

type State string

const (
	StatePending  State = "pendiente"
	StateApproved State = "aprobada"
	StateRejected State = "rechazada"
	StateRevision State = "revision"
)

type Scope string

const (
	ScopePartial Scope = "parcial"
	ScopeFinal   Scope = "final"
)

type Decision string

const (
	DecisionApprove Decision = "aprobar"
	DecisionReject  Decision = "rechazar"
	DecisionRevise  Decision = "revision"
)

func (d Decision) Valid() bool {
	return d == DecisionApprove || d == DecisionReject || d == DecisionRevise
}

type Question struct {
	ID               int64     `json:"id"`
	SubjectID        int64     `json:"subject_id"`
	AuthorID         int64     `json:"author_id"`
	State            State     `json:"state"`
	CurrentVersionID *int64    `json:"current_version_id,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

type Version struct {
	ID         int64           `json:"id"`
	QuestionID int64           `json:"question_id"`
	VersionNum int             `json:"version_num"`
	Type       Type            `json:"type"`
	Difficulty int             `json:"difficulty"`
	Scope      Scope           `json:"scope"`
	PartialID  *int            `json:"partial_id,omitempty"`
	Statement  string          `json:"statement"`
	Content    json.RawMessage `json:"content"`
	AnswerKey  json.RawMessage `json:"answer_key,omitempty"`
	State      State           `json:"state"`
	AreaIDs    []int64         `json:"area_ids"`
	CreatedBy  int64           `json:"created_by"`
	CreatedAt  time.Time       `json:"created_at"`
}

type Vote struct {
	ID        int64      `json:"id"`
	VersionID int64      `json:"version_id"`
	VoterID   int64      `json:"voter_id"`
	Role      actor.Role `json:"role"`
	AreaID    *int64     `json:"area_id,omitempty"`
	Decision  Decision   `json:"decision"`
	Comment   *string    `json:"comment,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

type CastVoteInput struct {
	VersionID int64
	Decision  Decision
	AreaID    *int64
	Comment   string
}

type VoteResult struct {
	Vote          Vote  `json:"vote"`
	PreviousState State `json:"previous_state"`
	State         State `json:"state"`
}

type VersionInput struct {
	Type       Type
	Difficulty int
	Scope      Scope
	PartialID  *int
	Statement  string
	Content    json.RawMessage
	AnswerKey  json.RawMessage
}

type CreateQuestionInput struct {
	SubjectID int64
	Version   VersionInput
}

type CreateVersionInput struct {
	QuestionID int64
	Version    VersionInput
}

type CreatedQuestion struct {
	Question Question `json:"question"`
	Version  Version  `json:"version"`
}
