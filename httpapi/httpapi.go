// Package httpapi exposes a form session over HTTP: JSON endpoints for
// reading and changing the form, the live WebSocket, metrics and health.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/dalemusser/regform/config"
	"github.com/dalemusser/regform/form"
	"github.com/dalemusser/regform/httputil"
	"github.com/dalemusser/regform/middleware"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// submitTimeout bounds sink delivery for one submit. The request context
// is detached so a client hanging up does not abort the publish.
const submitTimeout = 15 * time.Second

// Handler serves one form session.
type Handler struct {
	session *form.Session
	logger  *zap.Logger
	live    http.Handler
	metrics http.Handler
	checks  map[string]Check
}

// Option configures a Handler.
type Option func(*Handler)

// WithLive mounts h at /ws.
func WithLive(h http.Handler) Option {
	return func(a *Handler) { a.live = h }
}

// WithMetrics mounts h at /metrics.
func WithMetrics(h http.Handler) Option {
	return func(a *Handler) { a.metrics = h }
}

// WithHealthCheck adds a named probe to /healthz.
func WithHealthCheck(name string, c Check) Option {
	return func(a *Handler) { a.checks[name] = c }
}

// New returns a Handler for session.
func New(session *form.Session, logger *zap.Logger, opts ...Option) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{
		session: session,
		logger:  logger,
		checks:  make(map[string]Check),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Mount registers the routes on r.
func (h *Handler) Mount(r chi.Router, cors config.CORSConfig) {
	r.Route("/api/form", func(r chi.Router) {
		r.Use(middleware.CORS(cors))
		r.Use(middleware.SecurityHeaders(middleware.APISecurityHeaders()))

		r.Get("/", h.getForm)
		r.With(middleware.RequireJSON()).Post("/fields", h.postField)
		r.Post("/submit", h.postSubmit)
		r.Get("/username", h.getUsername)
	})

	r.Get("/healthz", healthHandler(h.checks, h.logger))
	if h.live != nil {
		r.Get("/ws", h.live.ServeHTTP)
	}
	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics)
	}
}

func (h *Handler) getForm(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.session.Snapshot())
}

func (h *Handler) postField(w http.ResponseWriter, r *http.Request) {
	var change form.FieldChange
	if err := httputil.BindJSON(r, &change); err != nil {
		if errors.Is(err, httputil.ErrBodyTooLarge) {
			middleware.JSONTooLarge(w)
			return
		}
		httputil.JSONError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	// Unknown fields leave the form untouched; the snapshot shows that.
	snap, _ := h.session.Apply(change)
	httputil.WriteJSON(w, http.StatusOK, snap)
}

// SubmitResponse is the body of a successful submit.
type SubmitResponse struct {
	Record   form.SubmissionRecord `json:"record"`
	Snapshot form.Snapshot         `json:"snapshot"`
}

func (h *Handler) postSubmit(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), submitTimeout)
	defer cancel()

	rec, err := h.session.Submit(ctx)
	var invalid *form.InvalidError
	switch {
	case errors.As(err, &invalid):
		httputil.FieldErrors(w, http.StatusUnprocessableEntity, "invalid_form", invalid.Errors)
		return
	case errors.Is(err, form.ErrClosed):
		httputil.JSONError(w, http.StatusServiceUnavailable, "unavailable", "the form is closed")
		return
	case err != nil:
		h.logger.Error("submit failed", zap.Error(err))
		httputil.JSONError(w, http.StatusInternalServerError, "internal_error", "submit failed")
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, SubmitResponse{
		Record:   rec,
		Snapshot: h.session.Snapshot(),
	})
}

// UsernameResponse is the body of GET /api/form/username.
type UsernameResponse struct {
	Username string `json:"username"`
}

// getUsername derives the username from the email query parameter, or
// from the session's email when the parameter is absent.
func (h *Handler) getUsername(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if !q.Has("email") {
		httputil.WriteJSON(w, http.StatusOK, UsernameResponse{Username: h.session.Username()})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, UsernameResponse{Username: form.Username(q.Get("email"))})
}
