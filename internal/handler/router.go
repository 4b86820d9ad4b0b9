package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/mmeshcher/digital-fulfillment/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(custommiddleware.GzipMiddleware)

			r.Post("/checkout", h.CreateCheckout)
			r.Get("/tokens", h.LookupToken)
		})

		// Подпись проверяется по телу в том виде, в каком его отправил провайдер, до распаковки.
		r.With(h.verifier.Middleware, custommiddleware.GzipMiddleware).Post("/webhooks/{provider}", h.Webhook)

		// Файлы отдаются без сжатия.
		r.Get("/download", h.Download)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
