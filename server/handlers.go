package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/teranos/factwire/errors"
	"github.com/teranos/factwire/fact"
	"github.com/teranos/factwire/ingest"
	"github.com/teranos/factwire/logger"
	"github.com/teranos/factwire/version"
)

// submitErrorResponse is the admission result plus the rejection message
type submitErrorResponse struct {
	ingest.AdmissionResult
	Error string `json:"error"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// POST /api/facts
func (s *Server) handleSubmitFact(w http.ResponseWriter, r *http.Request) {
	var cand fact.Candidate
	if err := readJSON(w, r, &cand); err != nil {
		return
	}

	res, err := s.engine.Port.Submit(r.Context(), cand)
	if err != nil {
		status := errorStatus(err)
		if status >= http.StatusInternalServerError {
			logger.FromContext(r.Context(), s.logger).Errorw("Submission failed",
				logger.FieldFactKey, cand.Key().String(),
				logger.FieldError, err)
		}
		writeJSON(w, status, submitErrorResponse{AdmissionResult: res, Error: err.Error()})
		return
	}

	status := http.StatusOK
	if res.Admitted {
		status = http.StatusCreated
	}
	writeJSON(w, status, res)
}

// GET /api/facts/{entity_type}/{entity_id}
func (s *Server) handleFactsForEntity(w http.ResponseWriter, r *http.Request) {
	entityType := pathParam(r, "entity_type")
	entityID := pathParam(r, "entity_id")

	facts := s.engine.Store.FactsForEntity(entityType, entityID)
	if facts == nil {
		facts = []*fact.Fact{}
	}
	writeJSON(w, http.StatusOK, FactsResponse{Count: len(facts), Facts: facts})
}

// GET /api/facts/{entity_type}/{entity_id}/{field}
func (s *Server) handleCurrentValue(w http.ResponseWriter, r *http.Request) {
	f, err := s.engine.Store.CurrentValue(
		pathParam(r, "entity_type"),
		pathParam(r, "entity_id"),
		pathParam(r, "field"),
	)
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, f)
}

// GET /api/updates/recent?hours=24&min_importance=3
func (s *Server) handleRecentChanges(w http.ResponseWriter, r *http.Request) {
	hours, minImportance, err := parseRecentQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	updates := s.engine.Store.RecentChanges(time.Duration(hours)*time.Hour, minImportance)
	count := len(updates)
	if len(updates) > recentUpdatesLimit {
		updates = updates[:recentUpdatesLimit]
	}
	if updates == nil {
		updates = []*fact.Fact{}
	}
	writeJSON(w, http.StatusOK, RecentResponse{Count: count, Hours: hours, Updates: updates})
}

func parseRecentQuery(r *http.Request) (int, fact.Importance, error) {
	q := r.URL.Query()

	hours := defaultRecentHours
	if raw := q.Get("hours"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return 0, 0, errors.NewInvalidRequestError("hours must be an integer, got %q", raw)
		}
		if n < 1 || n > maxRecentHours {
			return 0, 0, errors.NewInvalidRequestError("hours must be in 1..%d, got %d", maxRecentHours, n)
		}
		hours = n
	}

	minImportance := defaultMinImportance
	if raw := q.Get("min_importance"); raw != "" {
		imp, err := fact.ParseImportance(raw)
		if err != nil {
			return 0, 0, err
		}
		minImportance = imp
	}
	return hours, minImportance, nil
}

// GET /api/status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Status:           s.engine.Status(),
		Version:          version.Get(),
		WebSocketClients: s.ClientCount(),
		ServerState:      s.State().String(),
	}
	proc, err := processStats()
	if err != nil {
		logger.FromContext(r.Context(), s.logger).Debugw("Process stats incomplete", logger.FieldError, err)
	}
	resp.Process = proc
	writeJSON(w, http.StatusOK, resp)
}
