package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/technosupport/ts-trapnet/internal/data"
	"github.com/technosupport/ts-trapnet/internal/middleware"
)

const linkTokenTTL = 15 * time.Minute

type PreferenceHandler struct {
	Preferences data.PreferenceModel
	Telegram    data.TelegramModel
	BotUsername string // public bot handle for the deep link, may be empty
}

// Get returns the caller's own preference row for the project. A user who has
// never saved preferences gets defaults with everything disabled.
func (h *PreferenceHandler) Get(w http.ResponseWriter, r *http.Request) {
	ac, projectID, ok := h.callerProject(w, r)
	if !ok {
		return
	}

	pref, err := h.Preferences.Get(r.Context(), ac.User.ID, projectID)
	if errors.Is(err, data.ErrPreferenceNotFound) {
		writeJSON(w, http.StatusOK, &data.Preference{
			UserID:    ac.User.ID,
			ProjectID: projectID,
		})
		return
	}
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, pref)
}

// Put upserts the caller's own preference row. The telegram chat binding is
// owned by the /start flow and cannot be set here.
func (h *PreferenceHandler) Put(w http.ResponseWriter, r *http.Request) {
	ac, projectID, ok := h.callerProject(w, r)
	if !ok {
		return
	}

	var req data.Preference
	if !readJSON(w, r, &req) {
		return
	}

	existing, err := h.Preferences.Get(r.Context(), ac.User.ID, projectID)
	if err != nil && !errors.Is(err, data.ErrPreferenceNotFound) {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	pref := &data.Preference{
		UserID:      ac.User.ID,
		ProjectID:   projectID,
		Enabled:     req.Enabled,
		SignalPhone: req.SignalPhone,
		Channels:    req.Channels,
	}
	if existing != nil {
		pref.TelegramChatID = existing.TelegramChatID
	}

	if err := h.Preferences.Upsert(r.Context(), pref); err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, pref)
}

type LinkTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	DeepLink  string    `json:"deep_link,omitempty"`
}

// MintLinkToken issues a one-shot telegram linking token. The user completes
// the flow by sending /start <token> to the bot.
func (h *PreferenceHandler) MintLinkToken(w http.ResponseWriter, r *http.Request) {
	ac, projectID, ok := h.callerProject(w, r)
	if !ok {
		return
	}

	t, err := h.Telegram.CreateLinkToken(r.Context(), ac.User.ID, projectID, linkTokenTTL)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	resp := LinkTokenResponse{Token: t.Token, ExpiresAt: t.ExpiresAt}
	if h.BotUsername != "" {
		resp.DeepLink = "https://t.me/" + h.BotUsername + "?start=" + t.Token
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *PreferenceHandler) callerProject(w http.ResponseWriter, r *http.Request) (*middleware.AuthContext, uuid.UUID, bool) {
	ac, ok := middleware.GetAuthContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return nil, uuid.Nil, false
	}
	projectID, ok := urlUUID(w, r, "projectID")
	if !ok {
		return nil, uuid.Nil, false
	}
	return ac, projectID, true
}
