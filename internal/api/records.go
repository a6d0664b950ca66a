package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/dharsanguruparan/LeadVault/internal/authz"
	"github.com/dharsanguruparan/LeadVault/internal/ingest"
	"github.com/dharsanguruparan/LeadVault/internal/lifecycle"
	"github.com/dharsanguruparan/LeadVault/internal/model"
	"github.com/dharsanguruparan/LeadVault/internal/tabular"
)

type segmentRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleCreateSegment(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authorize(w, r, authz.ActionCreateSegment); !ok {
		return
	}
	var req segmentRequest
	if err := decode(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		s.respondError(w, r, &validationError{errs: []model.RowError{{Column: "name", Message: "is required"}}})
		return
	}
	seg := &model.Segment{Name: name}
	if err := s.deps.Store.CreateSegment(r.Context(), seg); err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, seg)
}

// organizationRequest mirrors one upload row. Manual records go through the
// same validator and constructor as batch rows, with no batch id.
type organizationRequest struct {
	SegmentID     string `json:"segmentId"`
	Name          string `json:"name"`
	Website       string `json:"website"`
	Industry      string `json:"industry"`
	Phone         string `json:"phone"`
	City          string `json:"city"`
	Country       string `json:"country"`
	Description   string `json:"description"`
	FoundedYear   *int   `json:"foundedYear"`
	EmployeeCount *int   `json:"employeeCount"`
}

func (req organizationRequest) row() tabular.Row {
	return tabular.Row{Number: 1, Values: map[string]string{
		tabular.ColName:          req.Name,
		tabular.ColWebsite:       req.Website,
		tabular.ColIndustry:      req.Industry,
		tabular.ColPhone:         req.Phone,
		tabular.ColCity:          req.City,
		tabular.ColCountry:       req.Country,
		tabular.ColDescription:   req.Description,
		tabular.ColFoundedYear:   optionalInt(req.FoundedYear),
		tabular.ColEmployeeCount: optionalInt(req.EmployeeCount),
	}}
}

func optionalInt(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func (s *Server) handleCreateOrganization(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.authorize(w, r, authz.ActionCreateOrganization)
	if !ok {
		return
	}
	var req organizationRequest
	if err := decode(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	segmentID := strings.TrimSpace(req.SegmentID)
	if segmentID == "" {
		s.respondError(w, r, ingest.ErrSegmentRequired)
		return
	}
	if _, err := s.deps.Store.GetSegment(r.Context(), segmentID); err != nil {
		if errors.Is(err, model.ErrNotFound) {
			err = fmt.Errorf("%w: %s", ingest.ErrUnknownSegment, segmentID)
		}
		s.respondError(w, r, err)
		return
	}
	res := s.deps.Validator.Organization(req.row(), segmentID)
	if !res.Valid() {
		s.respondError(w, r, &validationError{errs: res.Errors})
		return
	}
	org, err := s.deps.Lifecycle.CreateOrganization(r.Context(), res.Organization, actor.ID, nil)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, org)
}

func (s *Server) handleGetOrganization(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authorize(w, r, authz.ActionReadRecord); !ok {
		return
	}
	org, err := s.deps.Store.GetOrganization(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, org)
}

func (s *Server) handleApproveOrganization(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.authorize(w, r, authz.ActionApproveOrganization)
	if !ok {
		return
	}
	org, err := s.deps.Lifecycle.ApproveOrganization(r.Context(), mux.Vars(r)["id"], actor.ID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, org)
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleRejectOrganization(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.authorize(w, r, authz.ActionRejectOrganization)
	if !ok {
		return
	}
	var req rejectRequest
	if err := decode(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	org, err := s.deps.Lifecycle.RejectOrganization(r.Context(), mux.Vars(r)["id"], actor.ID, req.Reason)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, org)
}

type personRequest struct {
	OrganizationID string `json:"organizationId"`
	FirstName      string `json:"firstName"`
	LastName       string `json:"lastName"`
	Email          string `json:"email"`
	Phone          string `json:"phone"`
	Title          string `json:"title"`
	LinkedIn       string `json:"linkedin"`
}

func (req personRequest) row() tabular.Row {
	return tabular.Row{Number: 1, Values: map[string]string{
		tabular.ColOrganizationID: req.OrganizationID,
		tabular.ColFirstName:      req.FirstName,
		tabular.ColLastName:       req.LastName,
		tabular.ColEmail:          req.Email,
		tabular.ColPhone:          req.Phone,
		tabular.ColTitle:          req.Title,
		tabular.ColLinkedIn:       req.LinkedIn,
	}}
}

func (s *Server) handleCreatePerson(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.authorize(w, r, authz.ActionCreatePerson)
	if !ok {
		return
	}
	var req personRequest
	if err := decode(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	res, err := s.deps.Validator.Person(r.Context(), req.row())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if !res.Valid() {
		s.respondError(w, r, &validationError{errs: res.Errors})
		return
	}
	person, err := s.deps.Lifecycle.CreatePerson(r.Context(), res.Person, actor.ID, nil)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, person)
}

func (s *Server) handleGetPerson(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authorize(w, r, authz.ActionReadRecord); !ok {
		return
	}
	person, err := s.deps.Store.GetPerson(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, person)
}

func (s *Server) handleApprovePerson(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.authorize(w, r, authz.ActionApprovePerson)
	if !ok {
		return
	}
	person, err := s.deps.Lifecycle.ApprovePerson(r.Context(), mux.Vars(r)["id"], actor.ID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, person)
}

type idsRequest struct {
	IDs     []string `json:"ids"`
	OwnerID string   `json:"ownerId"`
}

type personOutcome struct {
	ID     string        `json:"id"`
	Person *model.Person `json:"person,omitempty"`
	Error  string        `json:"error,omitempty"`
}

type bulkPersonsResponse struct {
	Succeeded int             `json:"succeeded"`
	Failed    int             `json:"failed"`
	Results   []personOutcome `json:"results"`
}

func bulkResponse(results []lifecycle.PersonResult) bulkPersonsResponse {
	out := bulkPersonsResponse{Results: make([]personOutcome, len(results))}
	for i, res := range results {
		out.Results[i] = personOutcome{ID: res.ID, Person: res.Person}
		if res.Err != nil {
			out.Results[i].Error = res.Err.Error()
			out.Failed++
		} else {
			out.Succeeded++
		}
	}
	return out
}

func (s *Server) handleApprovePersons(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.authorize(w, r, authz.ActionApprovePerson)
	if !ok {
		return
	}
	var req idsRequest
	if err := decode(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, bulkResponse(s.deps.Lifecycle.ApprovePersons(r.Context(), req.IDs, actor.ID)))
}

type assignRequest struct {
	OwnerID string `json:"ownerId"`
}

func (s *Server) handleAssignPerson(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.authorize(w, r, authz.ActionAssignPerson)
	if !ok {
		return
	}
	var req assignRequest
	if err := decode(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	person, err := s.deps.Lifecycle.AssignPerson(r.Context(), mux.Vars(r)["id"], req.OwnerID, actor.ID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, person)
}

func (s *Server) handleAssignPersons(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.authorize(w, r, authz.ActionAssignPerson)
	if !ok {
		return
	}
	var req idsRequest
	if err := decode(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	if strings.TrimSpace(req.OwnerID) == "" {
		s.respondError(w, r, model.ErrOwnerRequired)
		return
	}
	respondJSON(w, http.StatusOK, bulkResponse(s.deps.Lifecycle.AssignPersons(r.Context(), req.IDs, req.OwnerID, actor.ID)))
}

type scheduleRequest struct {
	MeetingAt *time.Time `json:"meetingAt"`
}

func (s *Server) handleScheduleMeeting(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.authorize(w, r, authz.ActionSchedulePerson)
	if !ok {
		return
	}
	var req scheduleRequest
	if err := decode(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	person, err := s.deps.Lifecycle.ScheduleMeeting(r.Context(), mux.Vars(r)["id"], actor.ID, req.MeetingAt)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, person)
}
