package api

import (
	"net/http"
	"time"

	"github.com/technosupport/ts-trapnet/internal/auth"
	"github.com/technosupport/ts-trapnet/internal/middleware"
	"github.com/technosupport/ts-trapnet/internal/tokens"
	"github.com/technosupport/ts-trapnet/internal/users"
)

type AuthHandler struct {
	Users     *users.Service
	Tokens    *tokens.Manager
	Blacklist auth.TokenBlacklist
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RegisterRequest struct {
	Token    string `json:"token"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int    `json:"expires_in"` // seconds
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !readJSON(w, r, &req) {
		return
	}

	_, pair, err := h.Users.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.genericError(w)
		return
	}

	writeJSON(w, http.StatusOK, TokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresIn:    900, // 15 min
	})
}

// Register consumes an invitation token and creates the account.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !readJSON(w, r, &req) {
		return
	}
	if len(req.Password) < 8 {
		http.Error(w, "password must be at least 8 characters", http.StatusBadRequest)
		return
	}

	u, err := h.Users.Register(r.Context(), req.Token, req.Email, req.Password)
	switch err {
	case nil:
	case users.ErrInvalidInvitation, users.ErrEmailMismatch:
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	default:
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if !readJSON(w, r, &req) {
		return
	}

	claims, err := h.Tokens.ValidateToken(req.RefreshToken)
	if err != nil || claims.TokenType != tokens.Refresh {
		h.genericError(w)
		return
	}

	// A blacklisted refresh token (logout) stays dead.
	blacklisted, err := h.Blacklist.IsBlacklisted(r.Context(), claims.ID)
	if err != nil || blacklisted {
		h.genericError(w)
		return
	}

	access, err := h.Tokens.GenerateAccessToken(claims.UserID, claims.IsServerAdmin)
	if err != nil {
		h.genericError(w)
		return
	}
	writeJSON(w, http.StatusOK, TokenResponse{
		AccessToken: access,
		ExpiresIn:   900,
	})
}

// Logout blacklists the presented access token until it would have expired
// anyway.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	ac, ok := middleware.GetAuthContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	if err := h.Blacklist.AddToBlacklist(r.Context(), ac.TokenID, 15*time.Minute); err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandler) genericError(w http.ResponseWriter) {
	http.Error(w, "Invalid credential or request", http.StatusUnauthorized)
}
