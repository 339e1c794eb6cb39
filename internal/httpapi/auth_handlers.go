package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"authcore.io/internal/audit"
	"authcore.io/internal/auth"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "InvalidInput", err.Error())
		return
	}
	ip, ua := clientMeta(r)
	pair, err := a.svc.Login(r.Context(), req.Email, req.Password, ip, ua)
	if err != nil {
		handleAuthError(w, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.login", map[string]any{"ip": ip})
	writeJSON(w, http.StatusOK, tokenPairResponse(pair))
}

type socialLoginRequest struct {
	Provider string `json:"provider"`
	Code     string `json:"code"`
}

func (a *API) handleSocialLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req socialLoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "InvalidInput", err.Error())
		return
	}
	ip, ua := clientMeta(r)
	pair, err := a.svc.SocialLogin(r.Context(), req.Provider, req.Code, ip, ua)
	if err != nil {
		handleAuthError(w, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.login.social", map[string]any{"provider": req.Provider, "ip": ip})
	writeJSON(w, http.StatusOK, tokenPairResponse(pair))
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "InvalidInput", err.Error())
		return
	}
	ip, ua := clientMeta(r)
	pair, err := a.svc.Refresh(r.Context(), req.RefreshToken, ip, ua)
	if err != nil {
		if errors.Is(err, auth.ErrTokenTheft) {
			_ = audit.LogEvent(r.Context(), "auth.token.theft", map[string]any{"ip": ip})
		}
		handleAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenPairResponse(pair))
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req logoutRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "InvalidInput", err.Error())
		return
	}
	accessToken, _ := auth.TokenFromContext(r.Context())
	if err := a.svc.Logout(r.Context(), req.RefreshToken, accessToken); err != nil {
		handleAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

type resetPasswordRequest struct {
	Email          string `json:"email"`
	VerificationID string `json:"verification_id"`
	Code           string `json:"code"`
	NewPassword    string `json:"new_password"`
}

func (a *API) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req resetPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "InvalidInput", err.Error())
		return
	}
	outcome, err := a.svc.ResetPassword(r.Context(), req.Email, req.VerificationID, req.Code, req.NewPassword)
	if err != nil {
		handleAuthError(w, err)
		return
	}
	fields := map[string]any{"sessions_ended": outcome.SessionsEnded}
	if outcome.Warning != "" {
		fields["warning"] = outcome.Warning
	}
	_ = audit.LogEvent(r.Context(), "auth.password.reset", fields)
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

type startVerificationRequest struct {
	AuthType string `json:"auth_type"`
	Target   string `json:"target"`
	UserID   string `json:"user_id,omitempty"`
}

func (a *API) handleStartVerification(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req startVerificationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "InvalidInput", err.Error())
		return
	}
	authType, ok := parseAuthType(req.AuthType)
	if !ok {
		writeError(w, http.StatusBadRequest, "InvalidInput", "unknown auth_type")
		return
	}
	ip, _ := clientMeta(r)
	issued, err := a.svc.StartVerification(r.Context(), authType, req.Target, req.UserID, ip)
	if err != nil {
		handleAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"verification_id": issued.VerificationID,
		"expires_at":      issued.ExpiresAt,
	})
}

type completeVerificationRequest struct {
	VerificationID string `json:"verification_id"`
	Code           string `json:"code"`
	AuthType       string `json:"auth_type"`
	Target         string `json:"target"`
}

func (a *API) handleCompleteVerification(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req completeVerificationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "InvalidInput", err.Error())
		return
	}
	authType, ok := parseAuthType(req.AuthType)
	if !ok {
		writeError(w, http.StatusBadRequest, "InvalidInput", "unknown auth_type")
		return
	}
	if err := a.svc.CompleteVerification(r.Context(), req.VerificationID, req.Code, authType, req.Target); err != nil {
		handleAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func parseAuthType(raw string) (auth.AuthType, bool) {
	switch auth.AuthType(strings.ToUpper(strings.TrimSpace(raw))) {
	case auth.AuthTypeEmail:
		return auth.AuthTypeEmail, true
	case auth.AuthTypePhone:
		return auth.AuthTypePhone, true
	case auth.AuthTypeCompany:
		return auth.AuthTypeCompany, true
	default:
		return "", false
	}
}
