package exam

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
	svc examService
}

type examService interface {
	GetExam(ctx context.Context, examID int64) (*Exam, error)
	AssembleExam(ctx context.Context, a actor.Actor, examID int64) (*AssembleResult, error)
	TransitionExam(ctx context.Context, a actor.Actor, examID int64, to State) (*Exam, error)
	ListExamQuestions(ctx context.Context, examID int64) ([]ExamQuestion, error)
	AddExamQuestion(ctx context.Context, a actor.Actor, examID, versionID int64, points float64) (*ExamQuestion, error)
	UpdateQuestionPoints(ctx context.Context, a actor.Actor, examID, versionID int64, points float64) error
	RemoveExamQuestion(ctx context.Context, a actor.Actor, examID, versionID int64) error
	StartAttempt(ctx context.Context, a actor.Actor, examID, enrollmentID int64) (*StartResult, error)
	GetAttempt(ctx context.Context, a actor.Actor, attemptID int64) (*AttemptDetail, error)
	SubmitAnswer(ctx context.Context, a actor.Actor, attemptID, versionID int64, payload json.RawMessage) error
	FinalizeAttempt(ctx context.Context, a actor.Actor, attemptID int64) (*FinalizeResult, error)
	GradeAttempt(ctx context.Context, a actor.Actor, in GradeInput) (*GradeResult, error)
}

type transitionRequest struct {
	State string `json:"state" validate:"required,oneof=borrador programado activo cerrado archivado"`
}

type addQuestionRequest struct {
	VersionID int64    `json:"version_id" validate:"required,gt=0"`
	Points    *float64 `json:"points" validate:"omitempty,gt=0"`
}

type pointsRequest struct {
	Points float64 `json:"points" validate:"required,gt=0"`
}

type startAttemptRequest struct {
	ExamID       int64 `json:"exam_id" validate:"required,gt=0"`
	EnrollmentID int64 `json:"enrollment_id" validate:"required,gt=0"`
}

type submitAnswerRequest struct {
	Payload json.RawMessage `json:"payload"`
}

type gradeRequest struct {
	Comment    string          `json:"comment" validate:"required,max=4000"`
	FinalScore *float64        `json:"final_score" validate:"omitempty,gte=0"`
	Overrides  []ScoreOverride `json:"overrides" validate:"dive"`
}

func NewHandler(svc examService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) GetExam(w http.ResponseWriter, r *http.Request) {
	examID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	e, err := h.svc.GetExam(r.Context(), examID)
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, e)
}

func (h *Handler) Assemble(w http.ResponseWriter, r *http.Request) {
	a, ok := currentActor(w, r)
	if !ok {
		return
	}
	examID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	res, err := h.svc.AssembleExam(r.Context(), a, examID)
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, res)
}

func (h *Handler) Transition(w http.ResponseWriter, r *http.Request) {
	a, ok := currentActor(w, r)
	if !ok {
		return
	}
	examID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req transitionRequest
	if err := apiresp.Decode(r, &req); err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	e, err := h.svc.TransitionExam(r.Context(), a, examID, State(req.State))
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, e)
}

func (h *Handler) ListQuestions(w http.ResponseWriter, r *http.Request) {
	examID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	items, err := h.svc.ListExamQuestions(r.Context(), examID)
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, items)
}

func (h *Handler) AddQuestion(w http.ResponseWriter, r *http.Request) {
	a, ok := currentActor(w, r)
	if !ok {
		return
	}
	examID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req addQuestionRequest
	if err := apiresp.Decode(r, &req); err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	points := 1.0
	if req.Points != nil {
		points = *req.Points
	}
	eq, err := h.svc.AddExamQuestion(r.Context(), a, examID, req.VersionID, points)
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusCreated, eq)
}

func (h *Handler) UpdatePoints(w http.ResponseWriter, r *http.Request) {
	a, ok := currentActor(w, r)
	if !ok {
		return
	}
	examID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	versionID, ok := pathID(w, r, "versionID")
	if !ok {
		return
	}
	var req pointsRequest
	if err := apiresp.Decode(r, &req); err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	if err := h.svc.UpdateQuestionPoints(r.Context(), a, examID, versionID, req.Points); err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, map[string]interface{}{"exam_id": examID, "version_id": versionID, "points": req.Points})
}

func (h *Handler) RemoveQuestion(w http.ResponseWriter, r *http.Request) {
	a, ok := currentActor(w, r)
	if !ok {
		return
	}
	examID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	versionID, ok := pathID(w, r, "versionID")
	if !ok {
		return
	}
	if err := h.svc.RemoveExamQuestion(r.Context(), a, examID, versionID); err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, map[string]interface{}{"deleted": true})
}

func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	a, ok := currentActor(w, r)
	if !ok {
		return
	}
	var req startAttemptRequest
	if err := apiresp.Decode(r, &req); err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	res, err := h.svc.StartAttempt(r.Context(), a, req.ExamID, req.EnrollmentID)
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusCreated, res)
}

func (h *Handler) GetAttempt(w http.ResponseWriter, r *http.Request) {
	a, ok := currentActor(w, r)
	if !ok {
		return
	}
	attemptID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	detail, err := h.svc.GetAttempt(r.Context(), a, attemptID)
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, detail)
}

func (h *Handler) SubmitAnswer(w http.ResponseWriter, r *http.Request) {
	a, ok := currentActor(w, r)
	if !ok {
		return
	}
	attemptID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	versionID, ok := pathID(w, r, "versionID")
	if !ok {
		return
	}
	var req submitAnswerRequest
	if err := apiresp.Decode(r, &req); err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	if err := h.svc.SubmitAnswer(r.Context(), a, attemptID, versionID, req.Payload); err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, map[string]interface{}{"saved": true})
}

func (h *Handler) Finalize(w http.ResponseWriter, r *http.Request) {
	a, ok := currentActor(w, r)
	if !ok {
		return
	}
	attemptID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	res, err := h.svc.FinalizeAttempt(r.Context(), a, attemptID)
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, res)
}

func (h *Handler) Grade(w http.ResponseWriter, r *http.Request) {
	a, ok := currentActor(w, r)
	if !ok {
		return
	}
	attemptID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req gradeRequest
	if err := apiresp.Decode(r, &req); err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	res, err := h.svc.GradeAttempt(r.Context(), a, GradeInput{
		AttemptID:  attemptID,
		Overrides:  req.Overrides,
		Comment:    req.Comment,
		FinalScore: req.FinalScore,
	})
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, res)
}

func currentActor(w http.ResponseWriter, r *http.Request) (actor.Actor, bool) {
	a, ok := actor.FromContext(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
	}
	return a, ok
}

func pathID(w http.ResponseWriter, r *http.Request, key string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, key), 10, 64)
	if err != nil || id <= 0 {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid "+key)
		return 0, false
	}
	return id, true
}
