package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/raushankrgupta/photo-restorer/session"
	"github.com/raushankrgupta/photo-restorer/utils"
)

// Handler serves the restoration page and its session API.
type Handler struct {
	Sessions       *session.Manager
	Secret         []byte
	SessionTTL     time.Duration
	MaxUploadBytes int64
	SecureCookie   bool
	// Static serves the embedded page. Nil disables it.
	Static http.Handler
}

// NewHandler returns a handler over the given sessions.
func NewHandler(sessions *session.Manager, secret []byte, sessionTTL time.Duration, maxUploadBytes int64) *Handler {
	return &Handler{
		Sessions:       sessions,
		Secret:         secret,
		SessionTTL:     sessionTTL,
		MaxUploadBytes: maxUploadBytes,
	}
}

// Routes builds the chi router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)
	r.Use(utils.LatencyMiddleware)
	r.Use(chiMiddleware.Heartbeat("/health"))

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/session", func(r chi.Router) {
		r.Use(Identity(h.Secret, h.SessionTTL, h.SecureCookie))

		r.Get("/", h.GetSession)
		r.Post("/image", h.UploadImage)
		r.Put("/instruction", h.SetInstruction)
		r.Post("/restore", h.Restore)
		r.Post("/reset", h.Reset)
		r.Get("/original", h.Original)
		r.Get("/restored", h.Restored)
		r.Get("/ws", h.Subscribe)
	})

	if h.Static != nil {
		r.Group(func(r chi.Router) {
			r.Use(Identity(h.Secret, h.SessionTTL, h.SecureCookie))
			r.Handle("/*", h.Static)
		})
	}
	return r
}

func (h *Handler) machine(r *http.Request) *session.Machine {
	return h.Sessions.Get(SessionIDFromContext(r.Context()))
}
