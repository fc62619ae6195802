package httpapi

import (
	"encoding/json"
	"net/http"
)

type loginRequest struct {
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	settings, err := s.deps.Settings.GetSettings(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "settings unavailable")
		return
	}
	passwordHash := settings["password_hash"]
	if passwordHash == "" {
		writeError(w, http.StatusBadRequest, "no password configured")
		return
	}
	if !verifyPassword(req.Password, passwordHash) {
		writeError(w, http.StatusUnauthorized, "invalid password")
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{Token: issueToken(passwordHash, nowFunc())})
}

type setPasswordRequest struct {
	Password string `json:"password"`
}

// handleSetPassword sets or clears the operator password. An empty
// password clears the setting entirely, disabling auth globally (every
// other handler treats an absent password_hash as "auth off").
func (s *Server) handleSetPassword(w http.ResponseWriter, r *http.Request) {
	var req setPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Password == "" {
		if err := s.deps.Settings.DeleteSetting(r.Context(), "password_hash"); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to clear password")
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"auth_enabled": false})
		return
	}

	hash, err := hashPassword(req.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to hash password")
		return
	}
	if err := s.deps.Settings.SetSetting(r.Context(), "password_hash", hash); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save password")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"auth_enabled": true})
}
