package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/MimeLyc/translation-booking/internal/booking"
	"github.com/MimeLyc/translation-booking/internal/config"
	"github.com/MimeLyc/translation-booking/internal/sweep"
)

type runtimeSettingsStore interface {
	GetRuntimeSettings() (config.RuntimeSettings, error)
	UpdateRuntimeSettings(next config.RuntimeSettings) (config.RuntimeSettings, error)
}

type runtimeSettingsApplier func(next config.RuntimeSettings) error

type Server struct {
	engine   *booking.Engine
	sweeper  *sweep.Sweeper
	settings runtimeSettingsStore
	apply    runtimeSettingsApplier

	mux    *http.ServeMux
	server *http.Server
}

type Option func(*Server)

func WithSweeper(sweeper *sweep.Sweeper) Option {
	return func(s *Server) {
		s.sweeper = sweeper
	}
}

func WithRuntimeSettingsStore(store runtimeSettingsStore) Option {
	return func(s *Server) {
		s.settings = store
	}
}

func WithRuntimeSettingsApplier(apply runtimeSettingsApplier) Option {
	return func(s *Server) {
		s.apply = apply
	}
}

func NewServer(engine *booking.Engine, opts ...Option) *Server {
	s := &Server{
		engine: engine,
		mux:    http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/jobs", s.handleJobs)
	s.mux.HandleFunc("/api/jobs/", s.handleJobByID)
	s.mux.HandleFunc("/api/jobs/accept", s.handleAccept)
	s.mux.HandleFunc("/api/jobs/cancel", s.handleCancel)
	s.mux.HandleFunc("/api/jobs/end", s.handleEnd)
	s.mux.HandleFunc("/api/jobs/customer-not-call", s.handleCustomerNotCall)
	s.mux.HandleFunc("/api/jobs/reopen", s.handleReopen)
	s.mux.HandleFunc("/api/jobs/distancefeed", s.handleDistanceFeed)
	s.mux.HandleFunc("/api/jobs/resend-notifications", s.handleResendNotification)
	s.mux.HandleFunc("/api/jobs/resend-sms-notifications", s.handleResendSMS)
	s.mux.HandleFunc("/api/sweep/status", s.handleSweepStatus)
	s.mux.HandleFunc("/api/settings", s.handleSettings)
}
