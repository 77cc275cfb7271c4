// Package httpapi is the HTTP surface of the auth core: sign-in, token
// refresh, MFA management, the security-event feed for operators, and
// the enforcement middleware that guards every other route.
package httpapi

import (
	"context"
	"net/http"

	"github.com/foliohq/folio/internal/auth"
	"github.com/foliohq/folio/internal/obs"
)

const serviceName = "folio-api"

// Pinger reports persistence connectivity for readiness probes.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe checks the dependencies the service cannot run without.
type ReadyProbe struct {
	Store Pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.Store == nil {
		return nil
	}
	return rp.Store.Ping(ctx)
}

// EventLister exposes recent security events to operators.
type EventLister interface {
	ListSecurityEvents(ctx context.Context, limit int) ([]auth.Event, error)
}

// EventSubscriber delivers security events as they happen. Implemented
// by the stream hub.
type EventSubscriber interface {
	Subscribe(ctx context.Context) <-chan auth.Event
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	auth       *auth.Service
	events     EventLister
	live       EventSubscriber
	readyProbe ReadyProbe
	version    string
}

// Config wires the API's collaborators.
type Config struct {
	Auth       *auth.Service
	Events     EventLister
	Live       EventSubscriber
	ReadyProbe ReadyProbe
	Version    string

	// Login rate limit, token bucket per client IP.
	LoginRateBurst     int
	LoginRatePerSecond int
}

// New builds the route table.
func New(cfg Config) *API {
	a := &API{
		mux:        http.NewServeMux(),
		auth:       cfg.Auth,
		events:     cfg.Events,
		live:       cfg.Live,
		readyProbe: cfg.ReadyProbe,
		version:    cfg.Version,
	}

	burst, perSecond := cfg.LoginRateBurst, cfg.LoginRatePerSecond
	if burst <= 0 {
		burst = 10
	}
	if perSecond <= 0 {
		perSecond = 5
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// authentication
	a.mux.Handle("/v1/auth/login", RateLimit(http.HandlerFunc(a.handleLogin), burst, perSecond))
	a.mux.HandleFunc("/v1/auth/refresh", a.handleRefresh)
	a.mux.HandleFunc("/v1/auth/logout", a.handleLogout)
	a.mux.HandleFunc("/v1/auth/mfa/enroll", a.handleMFAEnroll)
	a.mux.HandleFunc("/v1/auth/mfa/confirm", a.handleMFAConfirm)
	a.mux.HandleFunc("/v1/auth/mfa/disable", a.handleMFADisable)

	// security event feed
	a.mux.HandleFunc("/v1/events", a.handleEvents)
	a.mux.HandleFunc("/v1/events/stream", a.handleEventStream)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped server handler: metrics first, then
// request id, structured logging, hardening headers, CORS, body limits,
// client metadata extraction and finally token enforcement around the mux.
func (a *API) Handler() http.Handler {
	h := a.withAuth(a.mux)
	h = a.withClientInfo(h)
	h = MaxBodyBytes(h, 1<<20)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- health/info handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
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

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"version": a.version,
	})
}
