package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dharsanguruparan/LeadVault/internal/authz"
	"github.com/dharsanguruparan/LeadVault/internal/ingest"
	"github.com/dharsanguruparan/LeadVault/internal/model"
)

const (
	headerActorID   = "X-Actor-ID"
	headerActorRole = "X-Actor-Role"
)

// Actor is the caller identity resolved by the gateway in front of us.
type Actor struct {
	ID   string
	Role string
}

type actorKey struct{}

func actorFrom(ctx context.Context) Actor {
	a, _ := ctx.Value(actorKey{}).(Actor)
	return a
}

func (s *Server) actorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a := Actor{
			ID:   strings.TrimSpace(r.Header.Get(headerActorID)),
			Role: strings.TrimSpace(r.Header.Get(headerActorRole)),
		}
		if a.ID == "" || a.Role == "" {
			respondJSON(w, http.StatusUnauthorized, errorBody{Error: "missing actor headers"})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey{}, a)))
	})
}

// authorize answers 403 and returns false when the actor's role lacks action.
func (s *Server) authorize(w http.ResponseWriter, r *http.Request, action authz.Action) (Actor, bool) {
	a := actorFrom(r.Context())
	if !s.deps.Authz.CanPerform(a.Role, action) {
		s.log.Info("forbidden", "actor", a.ID, "role", a.Role, "action", action)
		s.respondError(w, r, model.ErrForbidden)
		return a, false
	}
	return a, true
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Debug("request", "method", r.Method, "path", r.URL.Path, "status", rec.status, "duration", time.Since(start))
	})
}

type errorBody struct {
	Error   string           `json:"error"`
	Details []model.RowError `json:"details,omitempty"`
}

// validationError carries row errors from a manual create.
type validationError struct {
	errs []model.RowError
}

func (e *validationError) Error() string {
	msgs := make([]string, len(e.errs))
	for i, re := range e.errs {
		msgs[i] = re.Column + " " + re.Message
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

func statusFor(err error) int {
	var (
		transition *model.InvalidTransitionError
		dupKey     *model.DuplicateKeyError
		dupAssign  *model.DuplicateAssignmentError
		unknown    *model.UnknownSubjectError
		parent     *model.ParentNotApprovedError
		invalid    *validationError
		tooLarge   *http.MaxBytesError
	)
	switch {
	case errors.Is(err, model.ErrNotFound), errors.As(err, &unknown):
		return http.StatusNotFound
	case errors.As(err, &transition), errors.As(err, &dupKey), errors.As(err, &dupAssign),
		errors.Is(err, model.ErrUniqueViolation), errors.Is(err, model.ErrSweepInProgress):
		return http.StatusConflict
	case errors.As(err, &invalid), errors.As(err, &parent),
		errors.Is(err, model.ErrRejectionReasonRequired), errors.Is(err, model.ErrOwnerRequired),
		errors.Is(err, ingest.ErrSegmentRequired), errors.Is(err, ingest.ErrUnknownSegment):
		return http.StatusUnprocessableEntity
	case errors.Is(err, model.ErrForbidden):
		return http.StatusForbidden
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	body := errorBody{Error: err.Error()}
	var invalid *validationError
	if errors.As(err, &invalid) {
		body.Details = invalid.errs
	}
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		body.Error = "internal error"
	}
	respondJSON(w, status, body)
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

var errBadRequest = errors.New("bad request")

// decode reads a JSON body into dst; failures are 400s. An empty body leaves
// dst at its zero value.
func decode(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %w", errBadRequest, err)
	}
	return nil
}
