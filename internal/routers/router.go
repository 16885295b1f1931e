package routers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"coderoom/internal/api"
	"coderoom/internal/auth"
	"coderoom/internal/metrics"
	"coderoom/internal/session"
	"coderoom/internal/utils"
)

const serviceName = "coderoom"

type Options struct {
	FrontendOrigin string
	SendBuffer     int
}

func New(log *utils.Logger, gate *auth.Gate, hub *session.Hub, opts Options) http.Handler {
	h := api.NewHandlers(log, gate, hub, opts.SendBuffer)
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{opts.FrontendOrigin},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Authorization"},
		AllowCredentials: true,
	}))
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Logger,
		middleware.Recoverer,
		metrics.Middleware(serviceName),
	)

	r.Get("/healthz", h.Health)
	r.Get("/api/v1/healthz", h.Health)
	r.Handle("/metrics", metrics.Handler())

	// long lived, so no request timeout
	r.Get("/ws", h.CollabWS)
	r.Get("/socket", h.CollabWS)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))
		r.Use(gate.Middleware)
		r.Get("/api/ping", h.Ping)
		r.Get("/api/v1/rooms", h.ListRooms)
		r.Get("/api/v1/rooms/{id}/document", h.GetDocument)
	})

	return r
}
