package api

import (
	"net/http"
	"strconv"
)

type createJobRequest struct {
	PrinterID int     `json:"printer_id" validate:"required,gt=0"`
	FileName  string  `json:"file_name" validate:"required"`
	UserEmail *string `json:"user_email" validate:"omitempty,email"`
}

type registerPrinterRequest struct {
	Name     string  `json:"name" validate:"required"`
	Location *string `json:"location"`
}

func (s *Server) createJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if !s.decode(w, r, &req) {
		return
	}

	job, err := s.deps.Jobs.Create(r.Context(), req.PrinterID, req.FileName, req.UserEmail)
	if err != nil {
		s.failErr(w, r, err)
		return
	}
	s.respond(w, r, http.StatusOK, job)
}

// reportProgress takes the progress as a query parameter, as printers post it
func (s *Server) reportProgress(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	raw := r.URL.Query().Get("progress")
	if raw == "" {
		s.fail(w, r, http.StatusBadRequest, "progress is required")
		return
	}
	progress, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		s.fail(w, r, http.StatusBadRequest, "progress must be a number")
		return
	}

	job, err := s.deps.Jobs.ReportProgress(r.Context(), id, progress)
	if err != nil {
		s.failErr(w, r, err)
		return
	}
	s.respond(w, r, http.StatusOK, job)
}

func (s *Server) failJob(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	job, err := s.deps.Jobs.Fail(r.Context(), id)
	if err != nil {
		s.failErr(w, r, err)
		return
	}
	s.respond(w, r, http.StatusOK, job)
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	job, err := s.deps.Jobs.Get(r.Context(), id)
	if err != nil {
		s.failErr(w, r, err)
		return
	}
	s.respond(w, r, http.StatusOK, job)
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Jobs.List(r.Context())
	if err != nil {
		s.failErr(w, r, err)
		return
	}
	s.respond(w, r, http.StatusOK, list)
}

func (s *Server) registerPrinter(w http.ResponseWriter, r *http.Request) {
	var req registerPrinterRequest
	if !s.decode(w, r, &req) {
		return
	}

	p, err := s.deps.Printers.Register(r.Context(), req.Name, req.Location)
	if err != nil {
		s.failErr(w, r, err)
		return
	}
	s.respond(w, r, http.StatusOK, p)
}

func (s *Server) listPrinters(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Printers.List(r.Context())
	if err != nil {
		s.failErr(w, r, err)
		return
	}
	s.respond(w, r, http.StatusOK, list)
}
