// Package httpapi exposes the coordinator's coordinate_mpic contract over
// plain HTTP: POST /mpic, GET /healthz, and GET /metrics.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cablabs/mpic-coordinator/internal/coordinator"
	"github.com/cablabs/mpic-coordinator/internal/logging"
	"github.com/cablabs/mpic-coordinator/internal/mpictypes"
)

// Server wires a Coordinator to net/http handlers.
type Server struct {
	coord  *coordinator.Coordinator
	logger *logging.Logger
	mux    *http.ServeMux
}

// New builds a Server. metricsHandler is an http.Handler for /metrics,
// typically promhttp.HandlerFor wired to the same Registerer the coordinator's
// metrics were created against; when nil, promhttp.Handler() is used.
func New(coord *coordinator.Coordinator, logger *logging.Logger, metricsHandler http.Handler) *Server {
	s := &Server{coord: coord, logger: logger, mux: http.NewServeMux()}

	s.mux.HandleFunc("/mpic", s.handleMpic)
	s.mux.HandleFunc("/healthz", s.handleHealthz)
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	s.mux.Handle("/metrics", metricsHandler)

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

type validationFailureBody struct {
	Error            string   `json:"error"`
	ValidationIssues []string `json:"validation_issues"`
}

func (s *Server) handleMpic(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	requestID := uuid.NewString()
	log := s.logger.WithRequestID(requestID)

	var req mpictypes.MpicRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Warn("malformed mpic request body", "error", err)
		s.writeJSON(w, http.StatusBadRequest, validationFailureBody{
			Error:            "request_validation_failed",
			ValidationIssues: []string{"malformed_json_body"},
		})
		return
	}

	result := s.coord.Coordinate(r.Context(), req)

	if result.StatusCode == http.StatusBadRequest {
		log.Warn("request validation failed", "target", req.DomainOrIPTarget, "issues", result.ValidationIssues)
		s.writeJSON(w, http.StatusBadRequest, validationFailureBody{
			Error:            "request_validation_failed",
			ValidationIssues: result.ValidationIssues,
		})
		return
	}

	log.Info("coordinated mpic request", "target", req.DomainOrIPTarget, "check_type", req.CheckType, "is_valid", result.Response.IsValid, "attempt_count", result.Response.ActualOrchestrationParams.AttemptCount)
	s.writeJSON(w, http.StatusOK, result.Response)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("failed to encode response body", "error", err)
	}
}
