package gradebook

import (
	"context"
	"net/http"
	"strconv"

	"evalbank/internal/app/apiresp"

	"github.com/go-chi/chi/v5"
)

type recordLister interface {
	ListForEnrollment(ctx context.Context, enrollmentID int64) ([]Record, error)
}

type Handler struct {
	store recordLister
}

func NewHandler(store recordLister) *Handler {
	return &Handler{store: store}
}

func (h *Handler) ListForEnrollment(w http.ResponseWriter, r *http.Request) {
	enrollmentID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || enrollmentID <= 0 {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid id")
		return
	}
	records, err := h.store.ListForEnrollment(r.Context(), enrollmentID)
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, records)
}
