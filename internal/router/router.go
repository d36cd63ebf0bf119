// internal/router/router.go
package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"verification-service/internal/handler"
)

func SetupRoutes(
	receiptHandler *handler.ReceiptHandler,
	verifyHandler *handler.VerifyHandler,
	adminHandler *handler.AdminHandler,
	adminAuth *handler.AdminAuth,
	timeout time.Duration,
	logger *zap.Logger,
) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggerMiddleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(timeout))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/api/v1/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/receipts", receiptHandler.HandleUpload)

		r.Route("/verify", func(r chi.Router) {
			r.Post("/tron", verifyHandler.HandleTron)
			r.Post("/binance", verifyHandler.HandleBinance)
		})

		// ============================================
		// ADMIN (bearer token, role=admin)
		// ============================================
		r.Route("/admin", func(r chi.Router) {
			r.Use(adminAuth.Middleware)

			r.Post("/payments/{id}/approve", adminHandler.HandleApprove)
			r.Get("/dead-letters", adminHandler.HandleDeadLetters)
			r.Post("/worker/run", adminHandler.HandleRunWorker)
			r.Post("/sweep/run", adminHandler.HandleRunSweep)
		})
	})

	return r
}

// LoggerMiddleware logs HTTP requests
func LoggerMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("remote_addr", r.RemoteAddr),
				zap.String("request_id", middleware.GetReqID(r.Context())))
		})
	}
}
