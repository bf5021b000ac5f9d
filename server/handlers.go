package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/xhad/aibots/internal/types"
)

const maxBodyBytes = 1 << 20

type askRequest struct {
	Query string `json:"query"`
}

type askResponse struct {
	Answer string `json:"answer"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	query, err := decodeAsk(w, r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	answer, err := s.answerer.Ask(r.Context(), query)
	if err != nil {
		status := statusFor(err)
		s.logger.Error("ask failed", zap.Error(err), zap.Int("status", status))
		s.respondError(w, status, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, askResponse{Answer: answer})
}

func decodeAsk(w http.ResponseWriter, r *http.Request) (string, error) {
	var req askRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		return "", fmt.Errorf("%w: invalid request body", types.ErrInput)
	}
	if strings.TrimSpace(req.Query) == "" {
		return "", fmt.Errorf("%w: query is required", types.ErrInput)
	}
	return req.Query, nil
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	var pe *types.ProviderError
	switch {
	case errors.Is(err, types.ErrInput):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrConfiguration):
		return http.StatusInternalServerError
	case errors.As(err, &pe):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
