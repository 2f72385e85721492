package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rethoric/rethoric/internal/core"
)

func (h *APIHandler) ListQuestionsHandler(w http.ResponseWriter, r *http.Request) {
	qs, err := h.Questions.List(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, qs)
}

func (h *APIHandler) GetQuestionHandler(w http.ResponseWriter, r *http.Request) {
	q, err := h.Questions.Get(r.Context(), chi.URLParam(r, "questionID"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (h *APIHandler) CreateQuestionHandler(w http.ResponseWriter, r *http.Request) {
	var req core.QuestionInput
	if !decodeJSON(w, r, &req) {
		return
	}
	q, err := h.Questions.Create(r.Context(), req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, q)
}

func (h *APIHandler) UpdateQuestionHandler(w http.ResponseWriter, r *http.Request) {
	var req core.QuestionInput
	if !decodeJSON(w, r, &req) {
		return
	}
	q, err := h.Questions.Update(r.Context(), chi.URLParam(r, "questionID"), req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (h *APIHandler) DeleteQuestionHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.Questions.Delete(r.Context(), chi.URLParam(r, "questionID")); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
