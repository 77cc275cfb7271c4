package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/foliohq/folio/internal/auth"
	"github.com/foliohq/folio/internal/obs"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	SiteID   string `json:"site_id"`
	MFACode  string `json:"mfa_code"`
}

type sessionResponse struct {
	Token       string    `json:"token"`
	UserID      string    `json:"user_id"`
	SiteID      string    `json:"site_id"`
	Role        string    `json:"role"`
	Permissions []string  `json:"permissions"`
	IssuedAt    time.Time `json:"issued_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func toSessionResponse(s *auth.Session) sessionResponse {
	return sessionResponse{
		Token:       s.Token,
		UserID:      s.UserID,
		SiteID:      s.SiteID,
		Role:        s.Role,
		Permissions: s.Permissions,
		IssuedAt:    s.IssuedAt,
		ExpiresAt:   s.ExpiresAt,
	}
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	session, err := a.auth.Authenticate(r.Context(), auth.Credentials{
		Email:    req.Email,
		Password: req.Password,
		SiteID:   req.SiteID,
		MFACode:  req.MFACode,
	})
	if err != nil {
		obs.ObserveLogin(auth.Reason(err))
		if errors.Is(err, auth.ErrLocked) {
			obs.ObserveLockout()
		}
		if errors.Is(err, auth.ErrMFAInvalid) {
			obs.ObserveMFA("invalid")
		}
		handleAuthError(w, r, err)
		return
	}

	obs.ObserveLogin("success")
	obs.ObserveTokenIssued("login")
	writeJSON(w, http.StatusOK, toSessionResponse(session))
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	token, err := extractBearerToken(r.Header.Get(authHeader))
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, err.Error())
		return
	}

	session, err := a.auth.Refresh(r.Context(), token)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}

	obs.ObserveTokenIssued("refresh")
	writeJSON(w, http.StatusOK, toSessionResponse(session))
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, auth.ReasonTokenInvalid)
		return
	}
	a.auth.RecordLogout(r.Context(), identity.UserID, identity.SiteID)
	w.WriteHeader(http.StatusNoContent)
}

type mfaEnrollResponse struct {
	Secret      string   `json:"secret"`
	OTPAuthURI  string   `json:"otpauth_uri"`
	BackupCodes []string `json:"backup_codes"`
}

func (a *API) handleMFAEnroll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, auth.ReasonTokenInvalid)
		return
	}

	enrollment, err := a.auth.BeginEnrollment(r.Context(), identity.UserID)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mfaEnrollResponse{
		Secret:      enrollment.Secret,
		OTPAuthURI:  enrollment.URI,
		BackupCodes: enrollment.BackupCodes,
	})
}

type mfaConfirmRequest struct {
	Code string `json:"code"`
}

func (a *API) handleMFAConfirm(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, auth.ReasonTokenInvalid)
		return
	}
	var req mfaConfirmRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	if err := a.auth.ConfirmEnrollment(r.Context(), identity.UserID, req.Code); err != nil {
		obs.ObserveMFA("invalid")
		handleAuthError(w, r, err)
		return
	}
	obs.ObserveMFA("confirmed")
	w.WriteHeader(http.StatusNoContent)
}

type mfaDisableRequest struct {
	Password string `json:"password"`
}

func (a *API) handleMFADisable(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, auth.ReasonTokenInvalid)
		return
	}
	var req mfaDisableRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	if err := a.auth.DisableMFA(r.Context(), identity.UserID, req.Password); err != nil {
		handleAuthError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type eventResponse struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	UserID     string            `json:"user_id,omitempty"`
	SiteID     string            `json:"site_id,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
	SourceIP   string            `json:"source_ip,omitempty"`
	UserAgent  string            `json:"user_agent,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// handleEvents serves the operator-facing security event feed. The
// enforcement middleware has already required events:read.
func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if a.events == nil {
		writeError(w, r, http.StatusServiceUnavailable, "event store unavailable")
		return
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, r, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	events, err := a.events.ListSecurityEvents(r.Context(), limit)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	out := make([]eventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, eventResponse{
			ID:         e.ID,
			Type:       e.Type,
			UserID:     e.UserID,
			SiteID:     e.SiteID,
			OccurredAt: e.OccurredAt,
			SourceIP:   e.SourceIP,
			UserAgent:  e.UserAgent,
			Metadata:   e.Metadata,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out})
}

// handleEventStream pushes security events to the client as they
// happen, as server-sent events. The connection stays open until the
// client goes away.
func (a *API) handleEventStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if a.live == nil {
		writeError(w, r, http.StatusServiceUnavailable, "event stream unavailable")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	// The server's WriteTimeout would cut the connection long before the
	// first heartbeat; lift it for this response only.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events := a.live.Subscribe(r.Context())
	heartbeat := time.NewTicker(25 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			_, _ = io.WriteString(w, ": keep-alive\n\n")
			flusher.Flush()
		case e, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(eventResponse{
				ID:         e.ID,
				Type:       e.Type,
				UserID:     e.UserID,
				SiteID:     e.SiteID,
				OccurredAt: e.OccurredAt,
				SourceIP:   e.SourceIP,
				UserAgent:  e.UserAgent,
				Metadata:   e.Metadata,
			})
			if err != nil {
				continue
			}
			_, _ = io.WriteString(w, "data: ")
			_, _ = w.Write(data)
			_, _ = io.WriteString(w, "\n\n")
			flusher.Flush()
		}
	}
}
