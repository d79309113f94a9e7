package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/vogiaan1904/runbattle/internal/service"
	"github.com/vogiaan1904/runbattle/pkg/response"
)

func (h *HTTPHandler) CreateBattle(w http.ResponseWriter, r *http.Request) {
	var req service.CreateBattleInput
	if !h.decode(w, r, &req) {
		return
	}

	out, err := h.battleSvc.CreateBattle(r.Context(), req)
	if err != nil {
		h.fail(w, r, "CreateBattle", err)
		return
	}

	response.OK(w, http.StatusCreated, out)
}

func (h *HTTPHandler) GetBattle(w http.ResponseWriter, r *http.Request) {
	out, err := h.battleSvc.GetBattle(r.Context(), chi.URLParam(r, "battleId"))
	if err != nil {
		h.fail(w, r, "GetBattle", err)
		return
	}

	response.OK(w, http.StatusOK, out)
}

func (h *HTTPHandler) ToggleReady(w http.ResponseWriter, r *http.Request) {
	var req readyRequest
	if !h.decode(w, r, &req) {
		return
	}

	out, err := h.readinessSvc.ToggleReady(r.Context(), chi.URLParam(r, "battleId"), req.UserID, *req.Ready)
	if err != nil {
		h.fail(w, r, "ToggleReady", err)
		return
	}

	response.OK(w, http.StatusOK, out)
}

func (h *HTTPHandler) StartBattle(w http.ResponseWriter, r *http.Request) {
	bID := chi.URLParam(r, "battleId")
	outcome, err := h.readinessSvc.Start(r.Context(), bID)
	if err != nil {
		h.fail(w, r, "StartBattle", err)
		return
	}

	response.OK(w, http.StatusOK, outcomeResponse{BattleID: bID, Outcome: string(outcome)})
}

func (h *HTTPHandler) Quit(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if !h.decode(w, r, &req) {
		return
	}

	out, err := h.readinessSvc.Quit(r.Context(), chi.URLParam(r, "battleId"), req.UserID)
	if err != nil {
		h.fail(w, r, "Quit", err)
		return
	}

	response.OK(w, http.StatusOK, out)
}

func (h *HTTPHandler) IngestSample(w http.ResponseWriter, r *http.Request) {
	var req service.GPSSampleInput
	if !h.decode(w, r, &req) {
		return
	}

	out, err := h.battleSvc.IngestSample(r.Context(), chi.URLParam(r, "battleId"), req)
	if err != nil {
		h.fail(w, r, "IngestSample", err)
		return
	}

	response.OK(w, http.StatusAccepted, out)
}

func (h *HTTPHandler) Finish(w http.ResponseWriter, r *http.Request) {
	var req finishRequest
	if r.ContentLength != 0 && !h.decode(w, r, &req) {
		return
	}

	bID := chi.URLParam(r, "battleId")
	outcome, err := h.readinessSvc.Finish(r.Context(), bID, req.UserID)
	if err != nil {
		h.fail(w, r, "Finish", err)
		return
	}

	response.OK(w, http.StatusOK, outcomeResponse{BattleID: bID, Outcome: string(outcome)})
}

func (h *HTTPHandler) Rankings(w http.ResponseWriter, r *http.Request) {
	out, err := h.battleSvc.Rankings(r.Context(), chi.URLParam(r, "battleId"))
	if err != nil {
		h.fail(w, r, "Rankings", err)
		return
	}

	response.OK(w, http.StatusOK, out)
}

func (h *HTTPHandler) Results(w http.ResponseWriter, r *http.Request) {
	out, err := h.battleSvc.Results(r.Context(), chi.URLParam(r, "battleId"))
	if err != nil {
		h.fail(w, r, "Results", err)
		return
	}

	response.OK(w, http.StatusOK, out)
}
