package httpapi

import (
	"errors"
	"net/http"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/middleware"
)

type loginRequest struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	AuthSource string `json:"authSource,omitempty"`
	// GenerateCSRF is accepted from older clients. Cookie logins always get a CSRF token.
	GenerateCSRF bool `json:"generateCSRF,omitempty"`
	// Mode is "stateless" or "cookie". Empty follows the request's session marker.
	Mode string `json:"mode,omitempty"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeBody(w, r, &req); err != nil {
		middleware.WriteError(w, err)
		return
	}

	st := h.strategies.Select(r)
	if req.Mode != "" {
		st = h.strategies.ForMode(authcore.AuthMode(req.Mode))
	}

	bundle, err := h.engine.Authenticate(r.Context(), authcore.LoginRequest{
		Username: req.Username,
		Password: req.Password,
		Source:   authcore.AuthSource(req.AuthSource),
		Mode:     st.Mode(),
	})
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	if err := st.EncodeSuccess(w, http.StatusOK, bundle); err != nil {
		h.logger.WarnContext(r.Context(), "encode login response", "error", err)
	}
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken,omitempty"`
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	st := h.strategies.Select(r)

	token := st.ExtractRefreshToken(r)
	if token == "" {
		var req refreshRequest
		if err := decodeOptionalBody(w, r, &req); err != nil {
			middleware.WriteError(w, err)
			return
		}
		token = req.RefreshToken
	}

	if st.Mode() == authcore.ModeCookie {
		if err := h.auth.CheckCSRF(r); err != nil {
			middleware.WriteError(w, err)
			return
		}
	}

	bundle, err := h.engine.Refresh(r.Context(), token, st.Mode())
	if err != nil {
		if errors.Is(err, authcore.ErrRefreshInvalid) ||
			errors.Is(err, authcore.ErrRefreshExpired) ||
			errors.Is(err, authcore.ErrSessionExpired) {
			st.ClearCredentials(w)
		}
		middleware.WriteError(w, err)
		return
	}
	if err := st.EncodeSuccess(w, http.StatusOK, bundle); err != nil {
		h.logger.WarnContext(r.Context(), "encode refresh response", "error", err)
	}
}

// handleLogout always reports success so clients can discard local state.
func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	st := h.strategies.Select(r)

	req := authcore.LogoutRequest{
		AccessToken:  st.ExtractToken(r),
		RefreshToken: st.ExtractRefreshToken(r),
	}
	if req.RefreshToken == "" {
		var body refreshRequest
		if err := decodeOptionalBody(w, r, &body); err == nil {
			req.RefreshToken = body.RefreshToken
		}
	}

	if err := h.engine.Logout(r.Context(), req); err != nil {
		h.logger.WarnContext(r.Context(), "logout failed", "error", err)
	}
	st.ClearCredentials(w)
	writeSuccess(w)
}

func (h *Handler) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	id, _ := middleware.IdentityFromContext(r.Context())

	if err := h.engine.LogoutAll(r.Context(), id.User.ID); err != nil {
		middleware.WriteError(w, err)
		return
	}
	h.strategies.ForMode(id.Mode).ClearCredentials(w)
	writeSuccess(w)
}

type verifyResponse struct {
	Valid     bool           `json:"valid"`
	User      *authcore.User `json:"user"`
	AuthMode  string         `json:"authMode"`
	SessionID string         `json:"sessionId"`
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	id, _ := middleware.IdentityFromContext(r.Context())

	writeJSON(w, http.StatusOK, verifyResponse{
		Valid:     true,
		User:      id.User,
		AuthMode:  string(id.Mode),
		SessionID: id.SessionID,
	})
}
