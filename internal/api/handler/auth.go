package handler

import (
	"net/http"

	"github.com/Rrens/agent-bridge/internal/api/response"
	"github.com/Rrens/agent-bridge/internal/domain"
	"github.com/Rrens/agent-bridge/internal/service"
)

// AuthHandler handles authentication endpoints
type AuthHandler struct {
	authService *service.AuthService
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(authService *service.AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

// Login handles operator login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var input domain.Credentials
	if !decode(w, r, &input) {
		return
	}

	tokens, err := h.authService.Login(input)
	if err != nil {
		response.Unauthorized(w, err.Error())
		return
	}

	response.OK(w, tokens)
}

// Refresh handles token refresh
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var input struct {
		RefreshToken string `json:"refresh_token" validate:"required"`
	}
	if !decode(w, r, &input) {
		return
	}

	tokens, err := h.authService.Refresh(input.RefreshToken)
	if err != nil {
		response.Unauthorized(w, err.Error())
		return
	}

	response.OK(w, tokens)
}
