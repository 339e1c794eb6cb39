package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"authcore.io/internal/auth"
	"authcore.io/internal/obs"
)

// ReadyProbe pings the backing stores for readiness checks.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer over the auth service.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	svc        *auth.Service
	version    string
}

func New(rp ReadyProbe, svc *auth.Service, version string) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		svc:        svc,
		version:    version,
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)

	a.mux.HandleFunc("/v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("/v1/auth/social", a.handleSocialLogin)
	a.mux.HandleFunc("/v1/auth/refresh", a.handleRefresh)
	a.mux.HandleFunc("/v1/auth/logout", a.handleLogout)
	a.mux.HandleFunc("/v1/auth/password/reset", a.handleResetPassword)
	a.mux.HandleFunc("/v1/verifications", a.handleStartVerification)
	a.mux.HandleFunc("/v1/verifications/confirm", a.handleCompleteVerification)

	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped http.Handler for the server.
func (a *API) Handler() http.Handler {
	h := a.withAuth(a.mux)
	h = RateLimit(h, 20, 10)
	h = RequestID(h)
	h = SecurityHeaders(h)
	return obs.Instrument(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "authcore-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, kind, msg string) {
	writeJSON(w, code, map[string]any{
		"error":   kind,
		"message": msg,
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, http.StatusMethodNotAllowed, "MethodNotAllowed", "method not allowed")
}

// handleAuthError maps the error taxonomy onto stable wire error kinds so
// clients branch on semantics, never on message text.
func handleAuthError(w http.ResponseWriter, err error) {
	var mismatch *auth.CodeMismatchError
	switch {
	case errors.Is(err, auth.ErrAuthenticationFailed):
		writeError(w, http.StatusUnauthorized, "AuthenticationFailed", "authentication failed")
	case errors.Is(err, auth.ErrTokenTheft):
		writeError(w, http.StatusUnauthorized, "TokenTheftSuspected", "refresh token reuse detected")
	case errors.Is(err, auth.ErrAccountDeactivated):
		writeError(w, http.StatusForbidden, "AccountDeactivated", "account deactivated")
	case errors.Is(err, auth.ErrInvalidToken):
		writeError(w, http.StatusUnauthorized, "InvalidToken", "invalid token")
	case errors.Is(err, auth.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "RateLimitExceeded", "rate limit exceeded")
	case errors.Is(err, auth.ErrVerificationExpired):
		writeError(w, http.StatusGone, "VerificationExpired", "verification expired")
	case errors.Is(err, auth.ErrAttemptsExceeded):
		writeError(w, http.StatusTooManyRequests, "AttemptsExceeded", "verification attempts exceeded")
	case errors.As(err, &mismatch):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":              "CodeMismatch",
			"message":            "verification code mismatch",
			"remaining_attempts": mismatch.Remaining,
		})
	case errors.Is(err, auth.ErrCodeMismatch):
		writeError(w, http.StatusUnprocessableEntity, "CodeMismatch", "verification code mismatch")
	case errors.Is(err, auth.ErrDeliveryFailed):
		writeError(w, http.StatusBadGateway, "DeliveryFailed", "verification delivery failed")
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, http.StatusNotFound, "NotFound", "not found")
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "InvalidInput", "invalid input")
	default:
		writeError(w, http.StatusInternalServerError, "Internal", "internal error")
	}
}

func tokenPairResponse(pair auth.TokenPair) map[string]any {
	return map[string]any{
		"access_token":  pair.AccessToken,
		"refresh_token": pair.RefreshToken,
		"token_type":    pair.TokenType,
		"expires_in":    pair.AccessTTLSeconds,
	}
}

func clientMeta(r *http.Request) (ip, ua string) {
	return clientIP(r), r.UserAgent()
}
