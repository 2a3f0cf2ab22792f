package handler

import (
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/quest-platform/internal/apperror"
	"github.com/sakif/quest-platform/internal/repository"
	"github.com/sakif/quest-platform/internal/service"
	"github.com/sakif/quest-platform/internal/validator"
)

// GameHandler serves the game catalogue under /games.
type GameHandler struct {
	svc    *service.GameService
	logger *slog.Logger
}

func NewGameHandler(svc *service.GameService, logger *slog.Logger) *GameHandler {
	return &GameHandler{svc: svc, logger: logger}
}

// HandleList returns games matching the query filters.
//
// HTTP: GET /games?genres=RPG,Action&platform=PC&minPrice=10&maxPrice=40&discount=20
func (h *GameHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	filter, err := parseGameFilter(r.URL.Query())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	games, err := h.svc.List(r.Context(), filter)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, games)
}

// HTTP: GET /games/{id}
func (h *GameHandler) HandleGetByID(w http.ResponseWriter, r *http.Request) {
	game, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, game)
}

// HTTP: POST /games
func (h *GameHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var in service.GameInput
	if err := validator.DecodeJSON(w, r, &in); err != nil {
		writeError(w, h.logger, validator.ToAppError(err))
		return
	}

	game, err := h.svc.Create(r.Context(), in)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, game)
}

// HTTP: PUT /games/{id}
func (h *GameHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	var in service.GameInput
	if err := validator.DecodeJSON(w, r, &in); err != nil {
		writeError(w, h.logger, validator.ToAppError(err))
		return
	}

	game, err := h.svc.Update(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, game)
}

// HTTP: DELETE /games/{id}
func (h *GameHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "game deleted"})
}

func parseGameFilter(q url.Values) (repository.GameFilter, error) {
	var f repository.GameFilter
	f.Genres = splitList(q.Get("genres"))
	f.Platforms = splitList(q.Get("platform"))

	var err error
	if f.MinPrice, err = parseFloatParam(q, "minPrice"); err != nil {
		return f, err
	}
	if f.MaxPrice, err = parseFloatParam(q, "maxPrice"); err != nil {
		return f, err
	}
	if raw := q.Get("discount"); raw != "" {
		n, convErr := strconv.Atoi(raw)
		if convErr != nil || n < 0 {
			return f, apperror.ValidationFailed("discount", "discount must be a non-negative integer")
		}
		f.MinDiscount = &n
	}
	return f, nil
}

func parseFloatParam(q url.Values, name string) (*float64, error) {
	raw := q.Get(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v < 0 {
		return nil, apperror.ValidationFailed(name, name+" must be a non-negative number")
	}
	return &v, nil
}

// splitList turns "a, b,,c" into [a b c].
func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
