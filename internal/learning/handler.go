package learning

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/timo-math/adaptive-backend/internal/logger"
	"github.com/timo-math/adaptive-backend/internal/middleware"
	"github.com/timo-math/adaptive-backend/internal/models"
)

type Handler struct {
	service *Service
	log     *logger.Logger
}

func NewHandler(service *Service, log *logger.Logger) *Handler {
	return &Handler{service: service, log: log.With("service", "LearningHandler")}
}

// RegisterRoutes registers the learning endpoints on the protected subrouter.
func (h *Handler) RegisterRoutes(protected *mux.Router) {
	protected.HandleFunc("/progress", h.GetProgress).Methods("GET")
	protected.HandleFunc("/lessons/next", h.NextLesson).Methods("POST")
	protected.HandleFunc("/lessons/outcome", h.SubmitLessonOutcome).Methods("POST")
	protected.HandleFunc("/lessons/{id}", h.GetLesson).Methods("GET")
	protected.HandleFunc("/responses", h.SubmitResponse).Methods("POST")
}

func (h *Handler) GetProgress(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, models.ErrorResponse{Error: "Authentication required"})
		return
	}

	resp, err := h.service.GetProgress(r.Context(), userID)
	if err != nil {
		h.writeError(w, "GetProgress", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// NextLesson accepts an optional {"count": n} body or ?count=n.
func (h *Handler) NextLesson(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, models.ErrorResponse{Error: "Authentication required"})
		return
	}

	req := models.NextLessonRequest{Count: intQueryParam(r.URL.Query(), "count", 0)}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request body"})
		return
	}

	lesson, err := h.service.NextLesson(r.Context(), userID, req.Count)
	if err != nil {
		h.writeError(w, "NextLesson", err)
		return
	}
	writeJSON(w, http.StatusCreated, lesson)
}

func (h *Handler) GetLesson(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, models.ErrorResponse{Error: "Authentication required"})
		return
	}

	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "Invalid lesson ID"})
		return
	}

	lesson, err := h.service.GetLesson(r.Context(), userID, id)
	if err != nil {
		h.writeError(w, "GetLesson", err)
		return
	}
	writeJSON(w, http.StatusOK, lesson)
}

func (h *Handler) SubmitResponse(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, models.ErrorResponse{Error: "Authentication required"})
		return
	}

	var req models.SubmitResponseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request body"})
		return
	}

	resp, err := h.service.SubmitResponse(r.Context(), userID, req)
	if err != nil {
		h.writeError(w, "SubmitResponse", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) SubmitLessonOutcome(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, models.ErrorResponse{Error: "Authentication required"})
		return
	}

	var req models.LessonOutcomeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request body"})
		return
	}

	resp, err := h.service.CompleteLesson(r.Context(), userID, req)
	if err != nil {
		h.writeError(w, "SubmitLessonOutcome", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// writeError maps service errors to status codes. Unexpected errors are
// logged and reported without detail.
func (h *Handler) writeError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
	case errors.Is(err, ErrNotInLesson):
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
	case errors.Is(err, ErrNotFound):
		writeJSON(w, http.StatusNotFound, models.ErrorResponse{Error: "Not found"})
	case errors.Is(err, ErrLessonComplete):
		writeJSON(w, http.StatusConflict, models.ErrorResponse{Error: err.Error()})
	case errors.Is(err, ErrVersionConflict):
		writeJSON(w, http.StatusConflict, models.ErrorResponse{Error: "Progress changed concurrently, please retry"})
	case errors.Is(err, ErrNoQuestions):
		writeJSON(w, http.StatusServiceUnavailable, models.ErrorResponse{Error: err.Error()})
	default:
		h.log.Error("request failed", "op", op, "error", err)
		writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{Error: "Internal server error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func intQueryParam(query url.Values, key string, defaultVal int) int {
	s := query.Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	return v
}
