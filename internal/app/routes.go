package app

import (
	"net/http"

	"github.com/chunkmail/internal/handler"
	"github.com/chunkmail/internal/middleware"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

func (app *App) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(middleware.SecurityHeaders)

	base := handler.BaseHandler{Logger: app.logger}

	// Health check
	r.Get("/api/health", base.Health(app.db, app.provider.Name()))

	uploadHandler := handler.NewUploadHandler(base, app.chunks, app.assembler, app.config.Uploads.MaxChunkSizeMB)
	r.Post("/api/uploads/chunk", uploadHandler.Chunk)
	r.Post("/api/uploads/complete", uploadHandler.Complete)

	emailHandler := handler.NewEmailHandler(base, app.pipeline, app.emailStore, app.assembler, app.config.Uploads.MaxUploadSizeMB)
	r.Route("/api/emails", func(r chi.Router) {
		r.Post("/", emailHandler.Send)
		r.Get("/", emailHandler.List)
		r.Get("/{id}", emailHandler.Get)
		r.Delete("/{id}", emailHandler.Delete)
	})

	return r
}
