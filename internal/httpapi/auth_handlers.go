package httpapi

import (
	"net/http"

	"registra.org/internal/audit"
	"registra.org/internal/auth"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionResponse struct {
	Account      auth.Profile `json:"account"`
	RefreshToken string       `json:"refresh_token"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type refreshResponse struct {
	RefreshToken string `json:"refresh_token"`
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
	ConfirmPassword string `json:"confirm_password"`
}

// handleLogin verifies credentials and starts a session. The access token is
// delivered via the cookie; the refresh token is returned in the body for the
// caller to store explicitly.
func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_input", "email and password are required")
		return
	}

	sess, err := a.sessions.Login(r.Context(), req.Email, req.Password, clientIP(r))
	if err != nil {
		_ = audit.LogEvent(r.Context(), "auth.login.failed", map[string]any{"ip": clientIP(r)})
		handleAuthError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.login", map[string]any{
		"account_id": sess.Account.ID,
		"ip":         clientIP(r),
	})

	a.setTokenCookie(w, sess.AccessToken, sess.AccessExpiresAt)
	writeJSON(w, http.StatusOK, sessionResponse{
		Account:      sess.Account,
		RefreshToken: sess.RefreshToken,
	})
}

// handleRefresh rotates the refresh token and re-sets the access cookie.
func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}

	sess, err := a.sessions.Refresh(r.Context(), req.RefreshToken, clientIP(r))
	if err != nil {
		handleAuthError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.refresh", map[string]any{
		"account_id": sess.Account.ID,
		"ip":         clientIP(r),
	})

	a.setTokenCookie(w, sess.AccessToken, sess.AccessExpiresAt)
	writeJSON(w, http.StatusOK, refreshResponse{RefreshToken: sess.RefreshToken})
}

// handleLogout clears the access cookie and revokes the refresh token when
// one is supplied. Idempotent: an already-inactive token is not an error.
func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req logoutRequest
	if r.ContentLength > 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_input", err.Error())
			return
		}
	}

	a.clearTokenCookie(w)
	if err := a.sessions.Logout(r.Context(), req.RefreshToken, clientIP(r)); err != nil {
		handleAuthError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.logout", map[string]any{"ip": clientIP(r)})
	writeJSON(w, http.StatusOK, map[string]any{"status": "logged_out"})
}

// handleLogoutAll revokes every active refresh token for the caller.
func (a *API) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		handleAuthError(w, r, auth.ErrTokenMissing)
		return
	}

	a.clearTokenCookie(w)
	if err := a.sessions.LogoutAll(r.Context(), identity.AccountID, clientIP(r)); err != nil {
		handleAuthError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.logout_all", map[string]any{
		"account_id": identity.AccountID,
		"ip":         clientIP(r),
	})
	writeJSON(w, http.StatusOK, map[string]any{"status": "logged_out_everywhere"})
}

// handleChangePassword verifies the current secret, writes the new hash and
// invalidates every outstanding session. The caller must re-authenticate.
func (a *API) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		handleAuthError(w, r, auth.ErrTokenMissing)
		return
	}
	var req changePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	if req.NewPassword != req.ConfirmPassword {
		writeError(w, r, http.StatusBadRequest, "invalid_input", "password confirmation does not match")
		return
	}
	if len(req.NewPassword) < auth.MinPasswordLength {
		writeError(w, r, http.StatusBadRequest, "invalid_input", "password is too short")
		return
	}

	if err := a.sessions.ChangePassword(r.Context(), identity.AccountID, req.CurrentPassword, req.NewPassword, clientIP(r)); err != nil {
		handleAuthError(w, r, err)
		return
	}

	a.clearTokenCookie(w)
	_ = audit.LogEvent(r.Context(), "auth.password_changed", map[string]any{
		"account_id": identity.AccountID,
		"ip":         clientIP(r),
	})
	writeJSON(w, http.StatusOK, map[string]any{"status": "password_changed"})
}

// handleMe returns the sanitized account projection for the caller.
func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		handleAuthError(w, r, auth.ErrTokenMissing)
		return
	}

	profile, err := a.sessions.CurrentAccount(r.Context(), identity.AccountID)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"account": profile})
}
