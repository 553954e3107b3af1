package http

import (
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"
)

// NewRouter собирает маршруты сервиса. Регистрация и вход открыты,
// всё остальное требует Bearer-токен.
func NewRouter(handler *Handler, parser TokenParser, logger *log.Entry) chi.Router {
	r := chi.NewRouter()

	r.Use(requestLogger(logger))
	r.Use(chiMiddleware.Recoverer)

	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/register", handler.register)
		r.Post("/login", handler.login)
	})

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware(parser))

		r.Route("/api/orders", func(r chi.Router) {
			r.Post("/", handler.createOrder)
			r.Get("/", handler.listOrders)
			r.Get("/search", handler.searchOrders)
			r.Get("/statistics", handler.statistics)
			r.Get("/{orderID}", handler.getOrder)
			r.Patch("/{orderID}/status", handler.updateOrderStatus)
			r.Post("/{orderID}/cancel", handler.cancelOrder)
		})
	})

	return r
}
