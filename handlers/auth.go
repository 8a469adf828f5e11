package handlers

import (
	"net/http"

	"courseplatform.app/api/internal/apperr"
	"courseplatform.app/api/internal/auth"
	"courseplatform.app/api/internal/session"
	"courseplatform.app/api/models"
)

type SignupRequest struct {
	Email        string `json:"email" validate:"required,email"`
	PIN          string `json:"pin" validate:"required,numeric,min=4,max=8"`
	SecretAnswer string `json:"secretAnswer" validate:"required"`
	FirstName    string `json:"firstName" validate:"required"`
	LastName     string `json:"lastName" validate:"required"`
	Phone        string `json:"phone"`
	BirthMonth   int    `json:"birthMonth" validate:"omitempty,min=1,max=12"`
	BirthYear    int    `json:"birthYear" validate:"omitempty,min=1900,max=2100"`
}

type LoginRequest struct {
	Email string `json:"email" validate:"required,email"`
	PIN   string `json:"pin" validate:"required"`
}

type ResetPINRequest struct {
	Email        string `json:"email" validate:"required,email"`
	SecretAnswer string `json:"secretAnswer" validate:"required"`
	NewPIN       string `json:"newPin" validate:"required,numeric,min=4,max=8"`
}

type AuthResponse struct {
	User    *models.User   `json:"user"`
	Session *session.Token `json:"session"`
}

func (s *Server) Signup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := s.decode(w, r, &req); err != nil {
		renderError(w, r, err)
		return
	}

	res, err := s.Auth.Signup(r.Context(), auth.SignupInput{
		Email:        req.Email,
		PIN:          req.PIN,
		SecretAnswer: req.SecretAnswer,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Phone:        req.Phone,
		BirthMonth:   req.BirthMonth,
		BirthYear:    req.BirthYear,
	})
	if err != nil {
		renderError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, AuthResponse{User: res.User, Session: res.Session})
}

func (s *Server) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := s.decode(w, r, &req); err != nil {
		renderError(w, r, err)
		return
	}

	res, err := s.Auth.Login(r.Context(), req.Email, req.PIN)
	if err != nil {
		renderError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, AuthResponse{User: res.User, Session: res.Session})
}

func (s *Server) ResetPIN(w http.ResponseWriter, r *http.Request) {
	var req ResetPINRequest
	if err := s.decode(w, r, &req); err != nil {
		renderError(w, r, err)
		return
	}

	res, err := s.Auth.ResetPIN(r.Context(), req.Email, req.SecretAnswer, req.NewPIN)
	if err != nil {
		renderError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, AuthResponse{User: res.User, Session: res.Session})
}

func (s *Server) CurrentSession(w http.ResponseWriter, r *http.Request) {
	user, err := s.Storage.GetUser(r.Context(), sessionUser(r))
	if err != nil {
		renderError(w, r, apperr.Upstream(err))
		return
	}
	if user == nil {
		renderError(w, r, ErrMissingSession)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]interface{}{"user": user})
}
