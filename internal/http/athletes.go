package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/Clark-Hu/fanrank/internal/domain"
)

const maxRequestBody = 1 << 20 // 1 MiB

type errorResponse struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

type athleteCreateRequest struct {
	Name string `json:"name"`
}

type athleteResponse struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	RatingCount int                `json:"ratingCount"`
	Summary     map[string]float64 `json:"summary"`
	Rank        string             `json:"rank,omitempty"`
	UpdatedAt   time.Time          `json:"updatedAt"`
}

type ratingRequest struct {
	Scores map[string]int `json:"scores"`
}

type ratingResponse struct {
	ID           string         `json:"id"`
	AthleteID    string         `json:"athleteId"`
	Scores       map[string]int `json:"scores"`
	OverallScore float64        `json:"overallScore"`
	Status       string         `json:"status"`
	CreatedAt    time.Time      `json:"createdAt"`
}

func (s *Server) handleCreateAthlete(w http.ResponseWriter, r *http.Request) {
	if !s.verifyBearer(r.Header.Get("Authorization")) {
		s.respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing or invalid authentication information")
		return
	}

	var req athleteCreateRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		s.respondDecodeError(w, err)
		return
	}

	athlete, err := s.svc.CreateAthlete(r.Context(), strings.TrimSpace(req.Name))
	if err != nil {
		s.respondServiceError(w, err)
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/athletes/%s", athlete.ID))
	s.respondJSON(w, http.StatusCreated, toAthleteResponse(athlete))
}

func (s *Server) handleGetAthlete(w http.ResponseWriter, r *http.Request) {
	athleteID, ok := s.idParam(w, r, "athleteID")
	if !ok {
		return
	}
	athlete, err := s.svc.GetAthlete(r.Context(), athleteID)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, toAthleteResponse(athlete))
}

func (s *Server) handleSubmitRating(w http.ResponseWriter, r *http.Request) {
	athleteID, ok := s.idParam(w, r, "athleteID")
	if !ok {
		return
	}

	var req ratingRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		s.respondDecodeError(w, err)
		return
	}

	rating, err := s.svc.RecordRating(r.Context(), athleteID, req.Scores)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/ratings/%s", rating.ID))
	s.respondJSON(w, http.StatusCreated, toRatingResponse(rating))
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	if !s.verifyBearer(r.Header.Get("Authorization")) {
		s.respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing or invalid authentication information")
		return
	}
	athleteID, ok := s.idParam(w, r, "athleteID")
	if !ok {
		return
	}

	athlete, err := s.svc.Reconcile(r.Context(), athleteID)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, toAthleteResponse(athlete))
}

func (s *Server) handleGetRating(w http.ResponseWriter, r *http.Request) {
	ratingID, ok := s.idParam(w, r, "ratingID")
	if !ok {
		return
	}
	rating, err := s.svc.GetRating(r.Context(), ratingID)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, toRatingResponse(rating))
}

func (s *Server) handleDeleteRating(w http.ResponseWriter, r *http.Request) {
	if !s.verifyBearer(r.Header.Get("Authorization")) {
		s.respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing or invalid authentication information")
		return
	}
	ratingID, ok := s.idParam(w, r, "ratingID")
	if !ok {
		return
	}
	if err := s.svc.DeleteRating(r.Context(), ratingID); err != nil {
		s.respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// idParam extracts a uuid path parameter, answering 400 when it is malformed.
func (s *Server) idParam(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	raw := chi.URLParam(r, name)
	id, err := uuid.Parse(raw)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "BAD_REQUEST", fmt.Sprintf("invalid %s parameter", name))
		return "", false
	}
	return id.String(), true
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	return nil
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			s.logger.Error("failed to encode response", "error", err)
		}
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, code, message string) {
	s.respondJSON(w, status, errorResponse{
		Code:    code,
		Message: message,
	})
}

func (s *Server) respondDecodeError(w http.ResponseWriter, err error) {
	var syntaxError *json.SyntaxError
	var typeError *json.UnmarshalTypeError
	var maxBytesError *http.MaxBytesError
	switch {
	case errors.As(err, &syntaxError):
		s.respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Malformed JSON payload")
	case errors.As(err, &typeError):
		s.respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", fmt.Sprintf("Invalid value for field %s", typeError.Field))
	case errors.As(err, &maxBytesError):
		s.respondError(w, http.StatusRequestEntityTooLarge, "VALIDATION_ERROR", "Request body too large")
	case errors.Is(err, io.EOF):
		s.respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Request body cannot be empty")
	default:
		s.respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Unable to parse request body")
	}
}

// respondServiceError maps a ratings core failure onto an HTTP status.
func (s *Server) respondServiceError(w http.ResponseWriter, err error) {
	switch domain.CodeOf(err) {
	case domain.CodeNotFound:
		s.respondError(w, http.StatusNotFound, "NOT_FOUND", "Resource not found")
	case domain.CodeValidation:
		s.respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", validationMessage(err))
	case domain.CodeRetryable, domain.CodeConflict:
		w.Header().Set("Retry-After", "1")
		s.respondError(w, http.StatusServiceUnavailable, "RETRY", "Too much contention, retry the request")
	case domain.CodeUnavailable:
		s.respondError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Storage temporarily unavailable")
	case domain.CodeCanceled:
		s.respondError(w, http.StatusServiceUnavailable, "CANCELED", "Request canceled before completion")
	default:
		s.logger.Error("request failed", "error", err)
		s.respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
	}
}

// validationMessage strips the operation prefix from a validation failure.
func validationMessage(err error) string {
	msg := err.Error()
	if i := strings.Index(msg, domain.ErrValidation.Error()); i >= 0 {
		return msg[i:]
	}
	return msg
}

func toAthleteResponse(a domain.Athlete) athleteResponse {
	summary := a.Summary
	if summary == nil {
		summary = map[string]float64{}
	}
	return athleteResponse{
		ID:          a.ID,
		Name:        a.Name,
		RatingCount: a.RatingCount,
		Summary:     summary,
		Rank:        string(a.Rank),
		UpdatedAt:   a.UpdatedAt,
	}
}

func toRatingResponse(r domain.Rating) ratingResponse {
	return ratingResponse{
		ID:           r.ID,
		AthleteID:    r.AthleteID,
		Scores:       r.Scores,
		OverallScore: r.OverallScore,
		Status:       string(r.Status),
		CreatedAt:    r.CreatedAt,
	}
}

func (s *Server) verifyBearer(header string) bool {
	if header == "" {
		return false
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	return token == s.cfg.AuthToken
}
