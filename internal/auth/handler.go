package auth

import (
	"net/http"

	"github.com/previsao/market-api/internal/apperr"
	"github.com/previsao/market-api/internal/model"
	"github.com/previsao/market-api/internal/request"
)

type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6,maxbytes=72"`
	FullName string `json:"fullName" validate:"required"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// SessionResponse is returned by register and login.
type SessionResponse struct {
	User  *model.User `json:"user"`
	Token string      `json:"token"`
}

// HandleRegister handles POST /auth/register
func (s *Service) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := request.Decode(w, r, &req); err != nil {
		apperr.Write(w, r, err)
		return
	}
	user, token, err := s.Register(r.Context(), req.Email, req.Password, req.FullName)
	if err != nil {
		apperr.Write(w, r, err)
		return
	}
	apperr.WriteJSON(w, http.StatusCreated, SessionResponse{User: user, Token: token})
}

// HandleLogin handles POST /auth/login
func (s *Service) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := request.Decode(w, r, &req); err != nil {
		apperr.Write(w, r, err)
		return
	}
	user, token, err := s.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		apperr.Write(w, r, err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, SessionResponse{User: user, Token: token})
}

// HandleMe handles GET /auth/me
func (s *Service) HandleMe(w http.ResponseWriter, r *http.Request) {
	user, err := s.Me(r.Context(), UserID(r.Context()))
	if err != nil {
		apperr.Write(w, r, err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, user)
}

// HandleLogout handles POST /auth/logout. Tokens are stateless; the client
// discards its copy.
func (s *Service) HandleLogout(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}
