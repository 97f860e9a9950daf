package question

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"evalbank/internal/actor"

	"github.com/go-chi/chi/v5"
)

type mockQuestionService struct {
	castVoteFn       func(ctx context.Context, a actor.Actor, in CastVoteInput) (*VoteResult, error)
	listVotesFn      func(ctx context.Context, versionID int64) ([]Vote, error)
	getVersionFn     func(ctx context.Context, versionID int64) (*Version, error)
	createQuestionFn func(ctx context.Context, a actor.Actor, in CreateQuestionInput) (*CreatedQuestion, error)
	createVersionFn  func(ctx context.Context, a actor.Actor, in CreateVersionInput) (*Version, error)
}

func (m *mockQuestionService) CastVote(ctx context.Context, a actor.Actor, in CastVoteInput) (*VoteResult, error) {
	if m.castVoteFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.castVoteFn(ctx, a, in)
}

func (m *mockQuestionService) ListVotes(ctx context.Context, versionID int64) ([]Vote, error) {
	if m.listVotesFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.listVotesFn(ctx, versionID)
}

func (m *mockQuestionService) GetVersion(ctx context.Context, versionID int64) (*Version, error) {
	if m.getVersionFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.getVersionFn(ctx, versionID)
}

func (m *mockQuestionService) CreateQuestion(ctx context.Context, a actor.Actor, in CreateQuestionInput) (*CreatedQuestion, error) {
	if m.createQuestionFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.createQuestionFn(ctx, a, in)
}

func (m *mockQuestionService) CreateVersion(ctx context.Context, a actor.Actor, in CreateVersionInput) (*Version, error) {
	if m.createVersionFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.createVersionFn(ctx, a, in)
}

func withChiParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		rctx = chi.NewRouteContext()
	}
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestCastVotePassesActorAndInput(t *testing.T) {
	var got CastVoteInput
	var gotActor actor.Actor
	h := NewHandler(&mockQuestionService{
		castVoteFn: func(ctx context.Context, a actor.Actor, in CastVoteInput) (*VoteResult, error) {
			got = in
			gotActor = a
			return &VoteResult{Vote: Vote{ID: 1, VersionID: in.VersionID, Decision: in.Decision}, PreviousState: StatePending, State: StateRejected}, nil
		},
	})

	payload := []byte(`{"decision":"rechazar","area_id":3,"comment":"wrong units"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/versions/15/votes", bytes.NewReader(payload))
	req = withChiParam(req, "id", "15")
	req = req.WithContext(actor.WithContext(req.Context(), actor.Actor{ID: 4, ReviewerAreas: []int64{3}}))
	w := httptest.NewRecorder()

	h.CastVote(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if got.VersionID != 15 || got.Decision != DecisionReject || got.AreaID == nil || *got.AreaID != 3 || got.Comment != "wrong units" {
		t.Fatalf("unexpected input %+v", got)
	}
	if gotActor.ID != 4 {
		t.Fatalf("expected actor 4, got %d", gotActor.ID)
	}
}

func TestCastVoteDuplicateIsConflict(t *testing.T) {
	h := NewHandler(&mockQuestionService{
		castVoteFn: func(ctx context.Context, a actor.Actor, in CastVoteInput) (*VoteResult, error) {
			return nil, ErrDuplicateVote
		},
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/versions/15/votes", bytes.NewReader([]byte(`{"decision":"aprobar","area_id":3}`)))
	req = withChiParam(req, "id", "15")
	req = req.WithContext(actor.WithContext(req.Context(), actor.Actor{ID: 4, ReviewerAreas: []int64{3}}))
	w := httptest.NewRecorder()

	h.CastVote(w, req)

	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
}

func TestCastVoteAreaMismatchIsForbidden(t *testing.T) {
	h := NewHandler(&mockQuestionService{
		castVoteFn: func(ctx context.Context, a actor.Actor, in CastVoteInput) (*VoteResult, error) {
			return nil, ErrAreaMismatch
		},
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/versions/15/votes", bytes.NewReader([]byte(`{"decision":"aprobar","area_id":8}`)))
	req = withChiParam(req, "id", "15")
	req = req.WithContext(actor.WithContext(req.Context(), actor.Actor{ID: 4, CoordinatorAreas: []int64{8}}))
	w := httptest.NewRecorder()

	h.CastVote(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}

func TestCastVoteRejectsBadDecisionBeforeService(t *testing.T) {
	called := false
	h := NewHandler(&mockQuestionService{
		castVoteFn: func(ctx context.Context, a actor.Actor, in CastVoteInput) (*VoteResult, error) {
			called = true
			return nil, nil
		},
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/versions/15/votes", bytes.NewReader([]byte(`{"decision":"maybe"}`)))
	req = withChiParam(req, "id", "15")
	req = req.WithContext(actor.WithContext(req.Context(), actor.Actor{ID: 4, Admin: true}))
	w := httptest.NewRecorder()

	h.CastVote(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if called {
		t.Fatalf("service should not be called for invalid body")
	}
	body := decodeBody(t, w)
	errObj, _ := body["error"].(map[string]interface{})
	if errObj["field"] != "decision" {
		t.Fatalf("expected field decision, got %v", errObj["field"])
	}
}

func TestCastVoteRequiresActor(t *testing.T) {
	h := NewHandler(&mockQuestionService{})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/versions/15/votes", bytes.NewReader([]byte(`{"decision":"aprobar"}`)))
	req = withChiParam(req, "id", "15")
	w := httptest.NewRecorder()

	h.CastVote(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestCreateVersionMapsValidationField(t *testing.T) {
	h := NewHandler(&mockQuestionService{
		createVersionFn: func(ctx context.Context, a actor.Actor, in CreateVersionInput) (*Version, error) {
			return nil, ValidateVersionInput(in.Version)
		},
	})

	payload := []byte(`{"type":"numerica","difficulty":4,"scope":"final","statement":"2+2","answer_key":{"value":4,"tolerance":-1}}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/questions/3/versions", bytes.NewReader(payload))
	req = withChiParam(req, "id", "3")
	req = req.WithContext(actor.WithContext(req.Context(), actor.Actor{ID: 2, Instructor: true}))
	w := httptest.NewRecorder()

	h.CreateVersion(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	body := decodeBody(t, w)
	errObj, _ := body["error"].(map[string]interface{})
	if errObj["field"] != "answer_key" {
		t.Fatalf("expected field answer_key, got %v", errObj["field"])
	}
}

func TestListVotesInvalidID(t *testing.T) {
	h := NewHandler(&mockQuestionService{})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/versions/abc/votes", nil)
	req = withChiParam(req, "id", "abc")
	w := httptest.NewRecorder()

	h.ListVotes(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}
