package gradebook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
)

type stubLister struct {
	gotID   int64
	records []Record
}

func (s *stubLister) ListForEnrollment(ctx context.Context, enrollmentID int64) ([]Record, error) {
	s.gotID = enrollmentID
	return s.records, nil
}

func TestListForEnrollmentHandler(t *testing.T) {
	lister := &stubLister{records: []Record{{ID: 1, EnrollmentID: 12, Scope: ScopeFinal, Score: 7.5}}}
	h := NewHandler(lister)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/enrollments/12/gradebook", nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", "12")
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	w := httptest.NewRecorder()

	h.ListForEnrollment(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if lister.gotID != 12 {
		t.Fatalf("expected enrollment 12, got %d", lister.gotID)
	}
	var body struct {
		OK   bool     `json:"ok"`
		Data []Record `json:"data"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.OK || len(body.Data) != 1 || body.Data[0].Score != 7.5 {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestListForEnrollmentHandlerRejectsBadID(t *testing.T) {
	h := NewHandler(&stubLister{})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/enrollments/x/gradebook", nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", "x")
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	w := httptest.NewRecorder()

	h.ListForEnrollment(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}
