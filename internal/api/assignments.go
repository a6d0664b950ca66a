package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/dharsanguruparan/LeadVault/internal/authz"
	"github.com/dharsanguruparan/LeadVault/internal/model"
)

type assignmentRequest struct {
	SubjectKind model.SubjectKind `json:"subjectKind"`
	SubjectID   string            `json:"subjectId"`
	OwnerID     string            `json:"ownerId"`
}

func (s *Server) handleCreateAssignment(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.authorize(w, r, authz.ActionCreateAssignment)
	if !ok {
		return
	}
	var req assignmentRequest
	if err := decode(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	subject, err := model.NewSubject(req.SubjectKind, strings.TrimSpace(req.SubjectID))
	if err != nil {
		s.respondError(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	a, err := s.deps.Assignments.CreateAssignment(r.Context(), subject, req.OwnerID, actor.ID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, a)
}

type bulkAssignmentRequest struct {
	SubjectKind model.SubjectKind `json:"subjectKind"`
	SubjectIDs  []string          `json:"subjectIds"`
	OwnerID     string            `json:"ownerId"`
}

func (s *Server) handleBulkAssign(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.authorize(w, r, authz.ActionCreateAssignment)
	if !ok {
		return
	}
	var req bulkAssignmentRequest
	if err := decode(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	if _, err := model.NewSubject(req.SubjectKind, ""); err != nil {
		s.respondError(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	res, err := s.deps.Assignments.BulkAssign(r.Context(), req.SubjectKind, req.SubjectIDs, req.OwnerID, actor.ID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleListAssignments(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authorize(w, r, authz.ActionReadRecord); !ok {
		return
	}
	q := r.URL.Query()
	subject, err := model.NewSubject(model.SubjectKind(q.Get("subjectKind")), q.Get("subjectId"))
	if err != nil {
		s.respondError(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	list, err := s.deps.Assignments.List(r.Context(), subject)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if list == nil {
		list = []model.Assignment{}
	}
	respondJSON(w, http.StatusOK, list)
}

func (s *Server) handleTriggerSweep(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authorize(w, r, authz.ActionTriggerSweep); !ok {
		return
	}
	err := s.deps.Sweeps.TriggerSweep(r.Context())
	switch {
	case errors.Is(err, model.ErrSweepInProgress):
		respondJSON(w, http.StatusOK, map[string]string{"status": "already_running"})
	case err != nil:
		s.respondError(w, r, err)
	default:
		respondJSON(w, http.StatusAccepted, map[string]string{"status": "scheduled"})
	}
}
