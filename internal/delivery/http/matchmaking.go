package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/vogiaan1904/runbattle/internal/service"
	"github.com/vogiaan1904/runbattle/pkg/response"
)

func (h *HTTPHandler) Enqueue(w http.ResponseWriter, r *http.Request) {
	var req service.EnqueueInput
	if !h.decode(w, r, &req) {
		return
	}

	out, err := h.mmSvc.Enqueue(r.Context(), req)
	if err != nil {
		h.fail(w, r, "Enqueue", err)
		return
	}

	response.OK(w, http.StatusCreated, out)
}

func (h *HTTPHandler) Dequeue(w http.ResponseWriter, r *http.Request) {
	uID := chi.URLParam(r, "userId")
	if err := h.mmSvc.Dequeue(r.Context(), uID); err != nil {
		h.fail(w, r, "Dequeue", err)
		return
	}

	response.OK(w, http.StatusOK, map[string]string{"user_id": uID})
}

// PollStatus consumes a pending match ticket, so a MATCHED answer is given once.
func (h *HTTPHandler) PollStatus(w http.ResponseWriter, r *http.Request) {
	out, err := h.mmSvc.PollStatus(r.Context(), chi.URLParam(r, "userId"))
	if err != nil {
		h.fail(w, r, "PollStatus", err)
		return
	}

	response.OK(w, http.StatusOK, out)
}
