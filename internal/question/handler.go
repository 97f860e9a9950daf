package question

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"evalbank/internal/actor"
	"evalbank/internal/app/apiresp"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	svc questionService
}

type questionService interface {
	CastVote(ctx context.Context, a actor.Actor, in CastVoteInput) (*VoteResult, error)
	ListVotes(ctx context.Context, versionID int64) ([]Vote, error)
	GetVersion(ctx context.Context, versionID int64) (*Version, error)
	CreateQuestion(ctx context.Context, a actor.Actor, in CreateQuestionInput) (*CreatedQuestion, error)
	CreateVersion(ctx context.Context, a actor.Actor, in CreateVersionInput) (*Version, error)
}

type castVoteRequest struct {
	Decision string `json:"decision" validate:"required,oneof=aprobar rechazar revision"`
	AreaID   *int64 `json:"area_id" validate:"omitempty,gt=0"`
	Comment  string `json:"comment" validate:"max=2000"`
}

type versionRequest struct {
	Type       string          `json:"type" validate:"required"`
	Difficulty int             `json:"difficulty" validate:"required,min=1,max=10"`
	Scope      string          `json:"scope" validate:"required,oneof=parcial final"`
	PartialID  *int            `json:"partial_id" validate:"omitempty,gt=0"`
	Statement  string          `json:"statement" validate:"required"`
	Content    json.RawMessage `json:"content"`
	AnswerKey  json.RawMessage `json:"answer_key"`
}

func (r versionRequest) toInput() VersionInput {
	return VersionInput{
		Type:       Type(r.Type),
		Difficulty: r.Difficulty,
		Scope:      Scope(r.Scope),
		PartialID:  r.PartialID,
		Statement:  r.Statement,
		Content:    r.Content,
		AnswerKey:  r.AnswerKey,
	}
}

type createQuestionRequest struct {
	SubjectID int64 `json:"subject_id" validate:"required,gt=0"`
	versionRequest
}

func NewHandler(svc questionService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) CastVote(w http.ResponseWriter, r *http.Request) {
	a, ok := actor.FromContext(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	versionID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req castVoteRequest
	if err := apiresp.Decode(r, &req); err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}

	res, err := h.svc.CastVote(r.Context(), a, CastVoteInput{
		VersionID: versionID,
		Decision:  Decision(req.Decision),
		AreaID:    req.AreaID,
		Comment:   req.Comment,
	})
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusCreated, res)
}

func (h *Handler) ListVotes(w http.ResponseWriter, r *http.Request) {
	versionID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	votes, err := h.svc.ListVotes(r.Context(), versionID)
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, votes)
}

func (h *Handler) GetVersion(w http.ResponseWriter, r *http.Request) {
	versionID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	v, err := h.svc.GetVersion(r.Context(), versionID)
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, v)
}

func (h *Handler) CreateQuestion(w http.ResponseWriter, r *http.Request) {
	a, ok := actor.FromContext(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req createQuestionRequest
	if err := apiresp.Decode(r, &req); err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	out, err := h.svc.CreateQuestion(r.Context(), a, CreateQuestionInput{
		SubjectID: req.SubjectID,
		Version:   req.versionRequest.toInput(),
	})
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusCreated, out)
}

func (h *Handler) CreateVersion(w http.ResponseWriter, r *http.Request) {
	a, ok := actor.FromContext(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	questionID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req versionRequest
	if err := apiresp.Decode(r, &req); err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	v, err := h.svc.CreateVersion(r.Context(), a, CreateVersionInput{
		QuestionID: questionID,
		Version:    req.toInput(),
	})
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusCreated, v)
}

func pathID(w http.ResponseWriter, r *http.Request, key string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, key), 10, 64)
	if err != nil || id <= 0 {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid "+key)
		return 0, false
	}
	return id, true
}
