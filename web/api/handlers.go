package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/hochfrequenz/heal-dash/internal/domain"
	"github.com/hochfrequenz/heal-dash/internal/history"
	"github.com/hochfrequenz/heal-dash/internal/inference"
	"github.com/hochfrequenz/heal-dash/internal/runstate"
	"github.com/hochfrequenz/heal-dash/internal/score"
	"github.com/hochfrequenz/heal-dash/internal/session"
)

const defaultHistoryLimit = 20

// StateResponse is the payload of GET /api/state and of stream events
type StateResponse struct {
	runstate.Snapshot
	Engine *inference.Status `json:"engine,omitempty"`
}

// LaunchResponse is returned by POST /api/runs
type LaunchResponse struct {
	AttemptID string `json:"attemptId"`
}

// ValidationErrorResponse lists the rejected input fields
type ValidationErrorResponse struct {
	Error  string                         `json:"error"`
	Fields map[runstate.InputField]string `json:"fields"`
}

func (s *Server) state() StateResponse {
	resp := StateResponse{Snapshot: s.store.Snapshot()}
	if s.engine != nil {
		st := s.engine()
		resp.Engine = &st
	}
	return resp
}

func (s *Server) stateHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, s.state())
	}
}

func (s *Server) listHistoryHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.history == nil {
			writeError(w, http.StatusServiceUnavailable, "history is disabled")
			return
		}

		limit := defaultHistoryLimit
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				writeError(w, http.StatusBadRequest, "limit must be a positive integer")
				return
			}
			limit = n
		}

		runs, err := s.history.List(r.Context(), limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, runs)
	}
}

func (s *Server) getHistoryHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.history == nil {
			writeError(w, http.StatusServiceUnavailable, "history is disabled")
			return
		}

		run, err := s.history.Get(r.Context(), r.PathValue("id"))
		if errors.Is(err, history.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, run)
	}
}

func (s *Server) simulateHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		seconds, err := strconv.ParseFloat(q.Get("time"), 64)
		if err != nil || seconds < 0 {
			writeError(w, http.StatusBadRequest, "time must be a non-negative number of seconds")
			return
		}
		commits, err := strconv.Atoi(q.Get("commits"))
		if err != nil || commits < 0 {
			writeError(w, http.StatusBadRequest, "commits must be a non-negative integer")
			return
		}
		writeJSON(w, score.Simulate(seconds, commits))
	}
}

func (s *Server) launchHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.launcher == nil {
			writeError(w, http.StatusServiceUnavailable, "run launch is disabled")
			return
		}

		var in domain.RunInputs
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}

		attemptID, err := s.launcher.Launch(r.Context(), in)
		var verr *runstate.ValidationError
		switch {
		case errors.As(err, &verr):
			writeJSONStatus(w, http.StatusBadRequest, ValidationErrorResponse{
				Error:  verr.Error(),
				Fields: verr.Fields,
			})
		case errors.Is(err, session.ErrRunActive):
			writeError(w, http.StatusConflict, err.Error())
		case err != nil:
			s.logger.Error().Err(err).Str("attempt_id", attemptID).Msg("launch failed")
			writeError(w, http.StatusBadGateway, err.Error())
		default:
			writeJSONStatus(w, http.StatusAccepted, LaunchResponse{AttemptID: attemptID})
		}
	}
}
