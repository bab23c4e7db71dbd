package api

import (
	"net/http"
	"time"

	"printwatch/internal/middleware"
)

type credentials struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,max=72"`
}

// userResponse never carries the password hash
type userResponse struct {
	ID        int       `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Server) signup(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if !s.decode(w, r, &req) {
		return
	}

	user, err := s.deps.Auth.Signup(r.Context(), req.Email, req.Password)
	if err != nil {
		s.failErr(w, r, err)
		return
	}
	s.respond(w, r, http.StatusCreated, userResponse{ID: user.ID, Email: user.Email, CreatedAt: user.CreatedAt})
}

// signin accepts an OAuth2 password form where username is the email
func (s *Server) signin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.fail(w, r, http.StatusBadRequest, "invalid form")
		return
	}
	req := credentials{Email: r.PostForm.Get("username"), Password: r.PostForm.Get("password")}
	if req.Email == "" || req.Password == "" {
		s.fail(w, r, http.StatusBadRequest, "username and password are required")
		return
	}
	s.issueToken(w, r, req)
}

func (s *Server) signinJSON(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if !s.decode(w, r, &req) {
		return
	}
	s.issueToken(w, r, req)
}

func (s *Server) issueToken(w http.ResponseWriter, r *http.Request, req credentials) {
	token, err := s.deps.Auth.Signin(r.Context(), req.Email, req.Password)
	if err != nil {
		if statusOf(err) == http.StatusUnauthorized {
			s.fail(w, r, http.StatusUnauthorized, "incorrect email or password")
			return
		}
		s.failErr(w, r, err)
		return
	}
	s.respond(w, r, http.StatusOK, token)
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	claims, err := middleware.RequireAuth(r.Context())
	if err != nil {
		s.failErr(w, r, err)
		return
	}

	user, err := s.deps.Auth.CurrentUser(r.Context(), claims)
	if err != nil {
		s.failErr(w, r, err)
		return
	}
	s.respond(w, r, http.StatusOK, userResponse{ID: user.ID, Email: user.Email, CreatedAt: user.CreatedAt})
}

func (s *Server) authRequired() bool {
	return s.deps.Auth != nil && s.deps.Auth.IsRequired()
}
