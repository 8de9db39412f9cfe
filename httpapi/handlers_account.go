package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/middleware"
)

func (h *Handler) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	id, _ := middleware.IdentityFromContext(r.Context())

	var req authcore.ProfileUpdate
	if err := decodeBody(w, r, &req); err != nil {
		middleware.WriteError(w, err)
		return
	}
	u, err := h.engine.UpdateProfile(r.Context(), id.User.ID, req)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": u})
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// handleChangePassword ends every session of the caller, this one included.
func (h *Handler) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	id, _ := middleware.IdentityFromContext(r.Context())

	var req changePasswordRequest
	if err := decodeBody(w, r, &req); err != nil {
		middleware.WriteError(w, err)
		return
	}
	if err := h.engine.ChangePassword(r.Context(), id.User.ID, req.CurrentPassword, req.NewPassword); err != nil {
		middleware.WriteError(w, err)
		return
	}
	h.strategies.ForMode(id.Mode).ClearCredentials(w)
	writeSuccess(w)
}

type sessionView struct {
	SessionID  string    `json:"sessionId"`
	AuthSource string    `json:"authSource"`
	IP         string    `json:"ip,omitempty"`
	UserAgent  string    `json:"userAgent,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
	Current    bool      `json:"current"`
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	id, _ := middleware.IdentityFromContext(r.Context())

	sessions, err := h.engine.ListSessions(r.Context(), id.User.ID)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	out := make([]sessionView, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, sessionView{
			SessionID:  s.SessionID,
			AuthSource: s.AuthSource,
			IP:         s.IP,
			UserAgent:  s.UserAgent,
			CreatedAt:  time.Unix(s.CreatedAt, 0).UTC(),
			ExpiresAt:  time.Unix(s.ExpiresAt, 0).UTC(),
			Current:    s.SessionID == id.SessionID,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

type createUserRequest struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName,omitempty"`
	Email       string `json:"email,omitempty"`
	Department  string `json:"department,omitempty"`
	Title       string `json:"title,omitempty"`
	IsAdmin     bool   `json:"isAdmin,omitempty"`
}

func (h *Handler) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeBody(w, r, &req); err != nil {
		middleware.WriteError(w, err)
		return
	}
	u, err := h.engine.CreateLocalUser(r.Context(), authcore.NewLocalUser{
		Username:    req.Username,
		Password:    req.Password,
		DisplayName: req.DisplayName,
		Email:       strings.TrimSpace(req.Email),
		Department:  req.Department,
		Title:       req.Title,
		IsAdmin:     req.IsAdmin,
	})
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"user": u})
}

func (h *Handler) handleDeactivateUser(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || userID <= 0 {
		middleware.WriteError(w, authcore.ErrValidation)
		return
	}
	if err := h.engine.DeactivateUser(r.Context(), userID); err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeSuccess(w)
}
