package api

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strings"

	"github.com/gorilla/mux"

	"github.com/dharsanguruparan/LeadVault/internal/authz"
	"github.com/dharsanguruparan/LeadVault/internal/ingest"
	"github.com/dharsanguruparan/LeadVault/internal/model"
)

// multipart framing allowance on top of the file itself
const formOverhead = 1 << 20

type batchResponse struct {
	*model.Batch
	ReportURL string `json:"reportUrl,omitempty"`
}

func uploadAction(kind model.RecordKind) authz.Action {
	if kind == model.KindOrganization {
		return authz.ActionUploadOrganizations
	}
	return authz.ActionUploadPersons
}

// handleUpload accepts a file for one record kind. Files over the size
// ceiling are recorded as failed batches; only a request body too large to
// read at all is refused with 413.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, 2*s.cfg.MaxFileSize+formOverhead)
	mr, err := r.MultipartReader()
	if err != nil {
		s.respondError(w, r, fmt.Errorf("%w: expecting multipart form", errBadRequest))
		return
	}
	actor := actorFrom(ctx)
	form, err := s.readUploadForm(mr, actor)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	defer form.cleanup()

	kind, err := model.ParseRecordKind(form.kind)
	if err != nil {
		s.respondError(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	if _, ok := s.authorize(w, r, uploadAction(kind)); !ok {
		return
	}
	if form.file == nil {
		s.respondError(w, r, fmt.Errorf("%w: missing file part", errBadRequest))
		return
	}

	up := ingest.Upload{
		Kind:        kind,
		SegmentID:   form.segmentID,
		FileName:    form.file.filename,
		Size:        form.file.size,
		ContentType: form.file.contentType,
		Actor:       actor.ID,
	}
	var batch *model.Batch
	if form.file.oversize {
		batch, err = s.deps.Intake.Reject(ctx, up, fmt.Sprintf("file exceeds %d bytes", s.cfg.MaxFileSize))
	} else {
		up.Body = form.file.f
		batch, err = s.deps.Intake.Submit(ctx, up)
	}
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusAccepted, batchResponse{Batch: batch})
}

func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authorize(w, r, authz.ActionReadBatch); !ok {
		return
	}
	batch, err := s.deps.Store.GetBatch(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	resp := batchResponse{Batch: batch}
	if batch.Status.Terminal() && batch.ErrorReportKey != nil {
		if resp.ReportURL, err = s.reportURL(r, batch); err != nil {
			s.respondError(w, r, err)
			return
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) reportURL(r *http.Request, batch *model.Batch) (string, error) {
	if s.deps.Presigner != nil {
		return s.deps.Presigner.PresignReportURL(r.Context(), *batch.ErrorReportKey, s.cfg.SignedURLTTL)
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return s.deps.Signer.ReportURL(scheme+"://"+r.Host, batch.ID), nil
}

// handleReportDownload serves a report behind a signed link. The signature
// stands in for actor headers.
func (s *Server) handleReportDownload(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	q := r.URL.Query()
	if s.deps.Signer == nil || !s.deps.Signer.Validate(id, q.Get("expires"), q.Get("signature")) {
		http.Error(w, "invalid or expired link", http.StatusForbidden)
		return
	}
	batch, err := s.deps.Store.GetBatch(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if batch.ErrorReportKey == nil {
		http.Error(w, "batch has no error report", http.StatusNotFound)
		return
	}
	data, err := s.deps.Reports.DownloadReport(r.Context(), *batch.ErrorReportKey)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", batch.ID+"-errors.csv"))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

type uploadForm struct {
	kind      string
	segmentID string
	file      *tempUpload
}

func (f *uploadForm) cleanup() {
	if f.file != nil && f.file.f != nil {
		f.file.f.Close()
		os.Remove(f.file.path)
	}
}

// mayUpload decides whether the file part may be written to disk. With the
// kind already read the full check applies; otherwise the actor must be able
// to upload some kind, and the kind check follows once the form is read.
func (s *Server) mayUpload(actor Actor, kind string) bool {
	if k, err := model.ParseRecordKind(kind); err == nil {
		return s.deps.Authz.CanPerform(actor.Role, uploadAction(k))
	}
	return s.deps.Authz.CanPerform(actor.Role, authz.ActionUploadOrganizations) ||
		s.deps.Authz.CanPerform(actor.Role, authz.ActionUploadPersons)
}

// readUploadForm walks the parts in order; kind and segment_id may come
// before or after the file.
func (s *Server) readUploadForm(mr *multipart.Reader, actor Actor) (*uploadForm, error) {
	form := &uploadForm{}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return form, nil
		}
		if err != nil {
			form.cleanup()
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: read multipart: %v", errBadRequest, err)
		}
		switch part.FormName() {
		case "file":
			if form.file != nil {
				part.Close()
				continue
			}
			if !s.mayUpload(actor, form.kind) {
				part.Close()
				form.cleanup()
				s.log.Info("forbidden", "actor", actor.ID, "role", actor.Role, "action", "upload")
				return nil, model.ErrForbidden
			}
			form.file, err = s.persistTemp(part)
		case "kind":
			form.kind, err = readField(part)
		case "segment_id":
			form.segmentID, err = readField(part)
		}
		part.Close()
		if err != nil {
			form.cleanup()
			return nil, err
		}
	}
}

func readField(part *multipart.Part) (string, error) {
	b, err := io.ReadAll(io.LimitReader(part, 1024))
	if err != nil {
		return "", fmt.Errorf("%w: read field %s: %v", errBadRequest, part.FormName(), err)
	}
	return strings.TrimSpace(string(b)), nil
}

type tempUpload struct {
	f           *os.File
	path        string
	size        int64
	contentType string
	filename    string
	// oversize files are drained but not kept; f is nil.
	oversize bool
}

func (s *Server) persistTemp(part *multipart.Part) (*tempUpload, error) {
	contentType := part.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	upload := &tempUpload{contentType: contentType, filename: part.FileName()}

	tmpFile, err := os.CreateTemp("", "leadvault-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	discard := func() {
		tmpFile.Close()
		os.Remove(tmpFile.Name())
	}
	written, err := io.Copy(tmpFile, io.LimitReader(part, s.cfg.MaxFileSize+1))
	if err != nil {
		discard()
		return nil, readError(err)
	}
	if written > s.cfg.MaxFileSize {
		discard()
		rest, err := io.Copy(io.Discard, part)
		if err != nil {
			return nil, readError(err)
		}
		upload.size = written + rest
		upload.oversize = true
		return upload, nil
	}
	if _, err := tmpFile.Seek(0, io.SeekStart); err != nil {
		discard()
		return nil, fmt.Errorf("rewind temp file: %w", err)
	}
	upload.f = tmpFile
	upload.path = tmpFile.Name()
	upload.size = written
	return upload, nil
}

func readError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return err
	}
	return fmt.Errorf("%w: read file: %v", errBadRequest, err)
}
