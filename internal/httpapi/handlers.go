package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MimeLyc/translation-booking/internal/booking"
	"github.com/MimeLyc/translation-booking/internal/config"
)

type createJobRequest struct {
	CustomerID   int64  `json:"customer_id"`
	FromLanguage string `json:"from_language"`
	ToLanguage   string `json:"to_language"`
	Notes        string `json:"notes"`
	DueTime      string `json:"due_time"`
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	var due time.Time
	if req.DueTime != "" {
		parsed, err := time.Parse(time.RFC3339, req.DueTime)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "due_time must be RFC 3339")
			return
		}
		due = parsed
	}

	result, err := s.engine.Create(r.Context(), booking.CreateRequest{
		CustomerID:   req.CustomerID,
		FromLanguage: req.FromLanguage,
		ToLanguage:   req.ToLanguage,
		Notes:        req.Notes,
		DueTime:      due,
	})
	if err != nil {
		writeBookingError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (s *Server) handleJobByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	raw := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
	raw = strings.TrimSuffix(raw, "/")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	job, err := s.engine.Get(r.Context(), id)
	if err != nil {
		writeBookingError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

type acceptRequest struct {
	JobID        int64 `json:"job_id"`
	TranslatorID int64 `json:"translator_id"`
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req acceptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	result, err := s.engine.AcceptByID(r.Context(), req.JobID, req.TranslatorID)
	if err != nil {
		writeBookingError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type cancelRequest struct {
	JobID int64  `json:"job_id"`
	Actor string `json:"actor"`
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	actor := booking.ActorCustomer
	if req.Actor == string(booking.ActorTranslator) {
		actor = booking.ActorTranslator
	}

	result, err := s.engine.Cancel(r.Context(), req.JobID, actor)
	if err != nil {
		writeBookingError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type jobIDRequest struct {
	JobID int64 `json:"job_id"`
}

func (s *Server) handleEnd(w http.ResponseWriter, r *http.Request) {
	s.handleSimpleTransition(w, r, s.engine.End)
}

func (s *Server) handleCustomerNotCall(w http.ResponseWriter, r *http.Request) {
	s.handleSimpleTransition(w, r, s.engine.CustomerNotCall)
}

func (s *Server) handleResendNotification(w http.ResponseWriter, r *http.Request) {
	s.handleSimpleTransition(w, r, s.engine.ResendNotification)
}

func (s *Server) handleResendSMS(w http.ResponseWriter, r *http.Request) {
	s.handleSimpleTransition(w, r, s.engine.ResendSMS)
}

func (s *Server) handleSimpleTransition(w http.ResponseWriter, r *http.Request,
	op func(ctx context.Context, jobID int64) (*booking.Result, error)) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req jobIDRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	result, err := op(r.Context(), req.JobID)
	if err != nil {
		writeBookingError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type reopenRequest struct {
	JobID   int64  `json:"job_id"`
	DueTime string `json:"due_time,omitempty"`
}

func (s *Server) handleReopen(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req reopenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	var opts booking.ReopenOptions
	if req.DueTime != "" {
		due, err := time.Parse(time.RFC3339, req.DueTime)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "due_time must be RFC 3339")
			return
		}
		opts.DueTime = &due
	}

	result, err := s.engine.Reopen(r.Context(), req.JobID, opts)
	if err != nil {
		writeBookingError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// distanceFeedRequest carries every field as a raw string, matching the
// form-style feed that admin tooling posts.
type distanceFeedRequest struct {
	JobID           string `json:"jobid"`
	Distance        string `json:"distance"`
	TravelTime      string `json:"time"`
	AdminComments   string `json:"admincomments"`
	SessionTime     string `json:"sessiontime"`
	Flagged         string `json:"flagged"`
	ManuallyHandled string `json:"manuallyhandled"`
	ByAdmin         string `json:"by_admin"`
}

func (s *Server) handleDistanceFeed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req distanceFeedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	jobID, err := strconv.ParseInt(req.JobID, 10, 64)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "jobid must be an integer")
		return
	}

	var distance *float64
	if req.Distance != "" {
		parsed, err := strconv.ParseFloat(req.Distance, 64)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "distance must be a number")
			return
		}
		distance = &parsed
	}

	result, err := s.engine.DistanceFeed(r.Context(), booking.DistanceFeedRequest{
		JobID:           jobID,
		Distance:        distance,
		TravelTime:      req.TravelTime,
		AdminComments:   req.AdminComments,
		SessionTime:     req.SessionTime,
		Flagged:         req.Flagged,
		ManuallyHandled: req.ManuallyHandled,
		ByAdmin:         req.ByAdmin,
	})
	if err != nil {
		writeBookingError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleSweepStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.sweeper == nil {
		writeError(w, http.StatusNotImplemented, "sweeper is not configured")
		return
	}

	info, err := s.sweeper.TriggerInfo(time.Now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	if s.settings == nil {
		writeError(w, http.StatusNotImplemented, "settings store is not configured")
		return
	}

	switch r.Method {
	case http.MethodGet:
		settings, err := s.settings.GetRuntimeSettings()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, settings)
	case http.MethodPut:
		var req config.RuntimeSettings
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		if err := req.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		saved, err := s.settings.UpdateRuntimeSettings(req)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if s.apply != nil {
			if err := s.apply(saved); err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
		}
		writeJSON(w, http.StatusOK, saved)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// writeBookingError maps the error taxonomy onto HTTP status codes.
func writeBookingError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case booking.IsErrorType(err, booking.ErrNotFound):
		status = http.StatusNotFound
	case booking.IsErrorType(err, booking.ErrAlreadyTaken),
		booking.IsErrorType(err, booking.ErrInvalidTransition):
		status = http.StatusConflict
	case booking.IsErrorType(err, booking.ErrValidation):
		status = http.StatusUnprocessableEntity
	}

	body := map[string]any{
		"error": err.Error(),
	}
	var berr *booking.BookingError
	if errors.As(err, &berr) && len(berr.Fields) > 0 {
		body["fields"] = berr.Fields
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}
