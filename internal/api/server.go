package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/dharsanguruparan/LeadVault/internal/assignment"
	"github.com/dharsanguruparan/LeadVault/internal/authz"
	"github.com/dharsanguruparan/LeadVault/internal/config"
	"github.com/dharsanguruparan/LeadVault/internal/ingest"
	"github.com/dharsanguruparan/LeadVault/internal/lifecycle"
	"github.com/dharsanguruparan/LeadVault/internal/logger"
	"github.com/dharsanguruparan/LeadVault/internal/model"
	"github.com/dharsanguruparan/LeadVault/internal/signing"
	"github.com/dharsanguruparan/LeadVault/internal/validation"
)

// Store is the read side the handlers need beyond the services.
type Store interface {
	CreateSegment(ctx context.Context, seg *model.Segment) error
	GetSegment(ctx context.Context, id string) (*model.Segment, error)
	GetBatch(ctx context.Context, id string) (*model.Batch, error)
	GetOrganization(ctx context.Context, id string) (*model.Organization, error)
	GetPerson(ctx context.Context, id string) (*model.Person, error)
}

type ReportReader interface {
	DownloadReport(ctx context.Context, objectKey string) ([]byte, error)
}

// Presigner hands out direct object-store links to error reports.
type Presigner interface {
	PresignReportURL(ctx context.Context, objectKey string, ttl time.Duration) (string, error)
}

// SweepTrigger starts a sweep out of schedule. model.ErrSweepInProgress
// means one is already running or queued.
type SweepTrigger interface {
	TriggerSweep(ctx context.Context) error
}

// Deps are the collaborators a Server is built from. Presigner is optional;
// without it reports are served by the API behind HMAC signed links.
type Deps struct {
	Store       Store
	Intake      *ingest.Intake
	Validator   *validation.Validator
	Lifecycle   *lifecycle.Service
	Assignments *assignment.Engine
	Sweeps      SweepTrigger
	Reports     ReportReader
	Presigner   Presigner
	Signer      *signing.Signer
	Authz       authz.Checker
}

// Server exposes HTTP endpoints for uploads, lifecycle calls and assignments.
type Server struct {
	cfg    *config.Config
	deps   Deps
	log    *logger.Logger
	server *http.Server
	once   sync.Once
}

// New constructs a Server.
func New(cfg *config.Config, deps Deps, log *logger.Logger) *Server {
	return &Server{cfg: cfg, deps: deps, log: log.With("component", "api")}
}

// Handler builds the router. Everything except health, metrics and signed
// report downloads requires actor headers.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/reports/{id}", s.handleReportDownload).Methods(http.MethodGet)

	api := r.NewRoute().Subrouter()
	api.Use(s.actorMiddleware)
	api.HandleFunc("/segments", s.handleCreateSegment).Methods(http.MethodPost)

	api.HandleFunc("/batches", s.handleUpload).Methods(http.MethodPost)
	api.HandleFunc("/batches/{id}", s.handleGetBatch).Methods(http.MethodGet)

	api.HandleFunc("/organizations", s.handleCreateOrganization).Methods(http.MethodPost)
	api.HandleFunc("/organizations/{id}", s.handleGetOrganization).Methods(http.MethodGet)
	api.HandleFunc("/organizations/{id}/approve", s.handleApproveOrganization).Methods(http.MethodPost)
	api.HandleFunc("/organizations/{id}/reject", s.handleRejectOrganization).Methods(http.MethodPost)

	api.HandleFunc("/persons", s.handleCreatePerson).Methods(http.MethodPost)
	api.HandleFunc("/persons/approve", s.handleApprovePersons).Methods(http.MethodPost)
	api.HandleFunc("/persons/assign", s.handleAssignPersons).Methods(http.MethodPost)
	api.HandleFunc("/persons/{id}", s.handleGetPerson).Methods(http.MethodGet)
	api.HandleFunc("/persons/{id}/approve", s.handleApprovePerson).Methods(http.MethodPost)
	api.HandleFunc("/persons/{id}/assign", s.handleAssignPerson).Methods(http.MethodPost)
	api.HandleFunc("/persons/{id}/schedule", s.handleScheduleMeeting).Methods(http.MethodPost)

	api.HandleFunc("/assignments", s.handleCreateAssignment).Methods(http.MethodPost)
	api.HandleFunc("/assignments", s.handleListAssignments).Methods(http.MethodGet)
	api.HandleFunc("/assignments/bulk", s.handleBulkAssign).Methods(http.MethodPost)

	api.HandleFunc("/sweeps", s.handleTriggerSweep).Methods(http.MethodPost)

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", headerActorID, headerActorRole},
	})
	return c.Handler(s.loggingMiddleware(r))
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.once.Do(func() {
		s.server = &http.Server{
			Addr:              s.cfg.Address,
			Handler:           s.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
	})
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()
	s.log.Info("api listening", "address", s.cfg.Address)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type pinger interface {
	Ping(ctx context.Context) error
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if p, ok := s.deps.Store.(pinger); ok {
		if err := p.Ping(r.Context()); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
