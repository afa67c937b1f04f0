package httpapi

import (
	"net/http"
	"time"

	"github.com/dmitrijs2005/gophgate/internal/server/models"
)

type loginRequest struct {
	Username   string `json:"username" validate:"required"`
	Password   string `json:"password" validate:"required"`
	RememberMe bool   `json:"rememberMe"`
}

type loginResponse struct {
	Success           bool           `json:"success"`
	Token             string         `json:"token"`
	RefreshToken      string         `json:"refreshToken,omitempty"`
	User              models.Profile `json:"user"`
	ExpiresIn         int64          `json:"expiresIn"`
	ExpiresAt         time.Time      `json:"expiresAt"`
	AttemptsRemaining int            `json:"attemptsRemaining"`
}

func (s *HTTPServer) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := s.decode(w, r, &req, "Username and password required"); err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.sessions.Login(r.Context(), req.Username, req.Password, req.RememberMe, clientInfo(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Success:           true,
		Token:             res.AccessToken,
		RefreshToken:      res.RefreshToken,
		User:              res.User,
		ExpiresIn:         res.ExpiresIn,
		ExpiresAt:         res.ExpiresAt,
		AttemptsRemaining: res.AttemptsRemaining,
	})
}

type messageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (s *HTTPServer) logout(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Logout(r.Context(), identityFrom(r.Context()), clientInfo(r)); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Success: true, Message: "Logged out successfully"})
}

func (s *HTTPServer) logoutAll(w http.ResponseWriter, r *http.Request) {
	n, err := s.sessions.LogoutAll(r.Context(), identityFrom(r.Context()), clientInfo(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		messageResponse
		SessionsDeleted int64 `json:"sessionsDeleted"`
	}{messageResponse{true, "Logged out from all sessions"}, n})
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

type refreshResponse struct {
	Success   bool      `json:"success"`
	Token     string    `json:"token"`
	ExpiresIn int64     `json:"expiresIn"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (s *HTTPServer) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := s.decode(w, r, &req, "Refresh token required"); err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.sessions.Refresh(r.Context(), req.RefreshToken, clientInfo(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, refreshResponse{
		Success:   true,
		Token:     res.AccessToken,
		ExpiresIn: res.ExpiresIn,
		ExpiresAt: res.ExpiresAt,
	})
}

func (s *HTTPServer) me(w http.ResponseWriter, r *http.Request) {
	p, err := s.sessions.Profile(r.Context(), identityFrom(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Success bool            `json:"success"`
		User    *models.Profile `json:"user"`
	}{true, p})
}

func (s *HTTPServer) listSessions(w http.ResponseWriter, r *http.Request) {
	list, err := s.sessions.ListSessions(r.Context(), identityFrom(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Success  bool                 `json:"success"`
		Sessions []models.SessionInfo `json:"sessions"`
	}{true, list})
}
