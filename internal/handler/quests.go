package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/quest-platform/internal/service"
	"github.com/sakif/quest-platform/internal/validator"
)

// QuestHandler serves /quests.
type QuestHandler struct {
	svc    *service.QuestService
	logger *slog.Logger
}

func NewQuestHandler(svc *service.QuestService, logger *slog.Logger) *QuestHandler {
	return &QuestHandler{svc: svc, logger: logger}
}

// HandleList returns every quest with its derived status.
//
// HTTP: GET /quests
func (h *QuestHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	quests, err := h.svc.List(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, quests)
}

// HTTP: POST /quests
func (h *QuestHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var in service.QuestInput
	if err := validator.DecodeJSON(w, r, &in); err != nil {
		writeError(w, h.logger, validator.ToAppError(err))
		return
	}

	quest, err := h.svc.Create(r.Context(), in)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, quest)
}

// HTTP: PUT /quests/{id}
func (h *QuestHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	var in service.QuestInput
	if err := validator.DecodeJSON(w, r, &in); err != nil {
		writeError(w, h.logger, validator.ToAppError(err))
		return
	}

	quest, err := h.svc.Update(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, quest)
}

// HTTP: DELETE /quests/{id}
func (h *QuestHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "quest deleted"})
}
