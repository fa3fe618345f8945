package router

import "net/http"

type AccountRouteRegistrar interface {
	RegisterRoutes(mux *http.ServeMux, authMiddleware func(http.Handler) http.Handler)
}

type PaymentRouteRegistrar interface {
	RegisterRoutes(mux *http.ServeMux, authMiddleware func(http.Handler) http.Handler)
}

type HealthRouteRegistrar interface {
	RegisterRoutes(mux *http.ServeMux, authMiddleware func(http.Handler) http.Handler)
}

func New(
	accountController AccountRouteRegistrar,
	paymentController PaymentRouteRegistrar,
	healthController HealthRouteRegistrar,
	authMiddleware func(http.Handler) http.Handler,
) *http.ServeMux {
	mux := http.NewServeMux()

	if accountController != nil {
		accountController.RegisterRoutes(mux, authMiddleware)
	}
	if paymentController != nil {
		paymentController.RegisterRoutes(mux, authMiddleware)
	}
	if healthController != nil {
		healthController.RegisterRoutes(mux, authMiddleware)
	}

	return mux
}
