package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	goahttp "goa.design/goa/v3/http"

	"printwatch/internal/auth"
	"printwatch/internal/detection"
	"printwatch/internal/middleware"
	"printwatch/internal/model"
)

// JobService is the job lifecycle the API exposes
type JobService interface {
	Create(ctx context.Context, printerID int, fileName string, userEmail *string) (model.Job, error)
	ReportProgress(ctx context.Context, id int, progress float64) (model.Job, error)
	Fail(ctx context.Context, id int) (model.Job, error)
	Get(ctx context.Context, id int) (model.Job, error)
	List(ctx context.Context) ([]model.Job, error)
}

// PrinterService is the printer registry the API exposes
type PrinterService interface {
	Register(ctx context.Context, name string, location *string) (model.Printer, error)
	List(ctx context.Context) ([]model.Printer, error)
}

// Status reports runtime state for the health endpoint
type Status interface {
	Active() int
}

// DetectorStatus reports the vision model state
type DetectorStatus interface {
	IsLoaded() bool
	Healthy(ctx context.Context) bool
	Labels() *detection.LabelSet
}

// CameraStatus reports the frame source state
type CameraStatus interface {
	IsAvailable() bool
	Index() int
}

// ClientCounter reports connected live event clients
type ClientCounter interface {
	ClientCount() int
}

// Deps are the services behind the HTTP API. Stream, Snapshot, Events,
// Monitor, Detector, Camera and Clients are optional.
type Deps struct {
	Jobs     JobService
	Printers PrinterService
	Auth     *auth.Authenticator
	Stream   http.Handler
	Snapshot http.Handler
	Events   http.Handler
	Monitor  Status
	Detector DetectorStatus
	Camera   CameraStatus
	Clients  ClientCounter
}

// Server mounts the printwatch endpoints on a goa muxer
type Server struct {
	deps     Deps
	mux      goahttp.Muxer
	validate *validator.Validate
	Mounts   []*MountPoint
}

// MountPoint holds information about a mounted endpoint
type MountPoint struct {
	Method  string
	Verb    string
	Pattern string
}

// New creates the API server and mounts its endpoints on mux
func New(mux goahttp.Muxer, deps Deps) *Server {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	s := &Server{
		deps:     deps,
		mux:      mux,
		validate: v,
	}
	s.mount()
	return s
}

func (s *Server) mount() {
	open := func(h http.HandlerFunc) http.HandlerFunc { return h }
	protected := func(h http.HandlerFunc) http.HandlerFunc {
		return middleware.AuthMiddleware(s.deps.Auth)(h).ServeHTTP
	}
	authenticated := func(h http.HandlerFunc) http.HandlerFunc {
		return middleware.RequireToken(s.deps.Auth)(h).ServeHTTP
	}

	s.handle("Health", "GET", "/health", open(s.health))

	s.handle("Signup", "POST", "/api/auth/signup", open(s.signup))
	s.handle("Signin", "POST", "/api/auth/signin", open(s.signin))
	s.handle("SigninJSON", "POST", "/api/auth/signin-json", open(s.signinJSON))
	s.handle("Me", "GET", "/api/auth/me", authenticated(s.me))

	s.handle("RegisterPrinter", "POST", "/api/printers/register", protected(s.registerPrinter))
	s.handle("ListPrinters", "GET", "/api/printers/list", protected(s.listPrinters))

	s.handle("CreateJob", "POST", "/api/jobs/create", protected(s.createJob))
	s.handle("ListJobs", "GET", "/api/jobs/list", protected(s.listJobs))
	s.handle("GetJob", "GET", "/api/jobs/{id}", protected(s.getJob))
	s.handle("ReportProgress", "POST", "/api/jobs/{id}/progress", protected(s.reportProgress))
	s.handle("FailJob", "POST", "/api/jobs/{id}/fail", protected(s.failJob))

	if s.deps.Stream != nil {
		s.handle("Stream", "GET", "/api/camera/stream", protected(s.deps.Stream.ServeHTTP))
	}
	if s.deps.Snapshot != nil {
		s.handle("Frame", "GET", "/api/camera/frame", protected(s.deps.Snapshot.ServeHTTP))
	}
	if s.deps.Events != nil {
		s.handle("JobEvents", "GET", "/ws/jobs", protected(s.deps.Events.ServeHTTP))
	}
}

func (s *Server) handle(method, verb, pattern string, h http.HandlerFunc) {
	s.mux.Handle(verb, pattern, h)
	s.Mounts = append(s.Mounts, &MountPoint{Method: method, Verb: verb, Pattern: pattern})
}

// errorResponse is the body of every failed request
type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) respond(w http.ResponseWriter, r *http.Request, status int, v any) {
	enc := goahttp.ResponseEncoder(r.Context(), w)
	w.WriteHeader(status)
	if err := enc.Encode(v); err != nil {
		log.Printf("[API] %s %s: encoding response: %v", r.Method, r.URL.Path, err)
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, status int, msg string) {
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", "Bearer")
	}
	s.respond(w, r, status, errorResponse{Error: msg})
}

// failErr maps domain errors to status codes
func (s *Server) failErr(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		log.Printf("[API] %s %s: %v", r.Method, r.URL.Path, err)
		s.fail(w, r, status, "internal error")
		return
	}
	s.fail(w, r, status, err.Error())
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := goahttp.RequestDecoder(r).Decode(v); err != nil {
		s.fail(w, r, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := s.validate.Struct(v); err != nil {
		s.fail(w, r, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

func (s *Server) pathID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(s.mux.Vars(r)["id"])
	if err != nil || id < 1 {
		s.fail(w, r, http.StatusBadRequest, "invalid job id")
		return 0, false
	}
	return id, true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "email":
		return fe.Field() + " must be a valid email address"
	case "max":
		return fe.Field() + " must be at most " + fe.Param() + " characters"
	case "gt":
		return fe.Field() + " must be greater than " + fe.Param()
	default:
		return fe.Field() + " is invalid"
	}
}
