package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	logger "github.com/sirupsen/logrus"

	"pnldash/src/connectors"
	"pnldash/src/controller"
	"pnldash/src/handler"
	"pnldash/src/pricing"
	"pnldash/src/stats"
)

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		w.Header().Set("X-Request-Id", reqID)
		logger.WithFields(logger.Fields{
			"request_id": reqID,
			"method":     r.Method,
			"path":       r.URL.Path,
		}).Debug("request")
		next.ServeHTTP(w, r)
	})
}

func StartServer(port string) {
	dashboard := controller.NewDashboard(
		controller.GetConfig(),
		connectors.GetConfig(),
		pricing.GetConfig(),
	)

	// Volume cache: refresh on startup, then on the long interval, until
	// shutdown. Requests read whatever is cached, stale included.
	statsCfg := stats.GetConfig()
	cacheCtx, cacheCancel := context.WithCancel(context.Background())
	defer cacheCancel()
	go dashboard.VolumeCache().Start(cacheCtx, statsCfg.VolumeRefreshInterval)

	// Router with middleware
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)

	// Public routes
	r.Get("/healthcheck", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("OK")); err != nil {
			logger.WithError(err).Error(" \"/healthcheck error")
		}
	})

	r.Get("/trades", handler.TradesHandler(dashboard))
	r.Get("/positions", handler.PositionsHandler(dashboard))
	r.Get("/vault-positions", handler.VaultPositionsHandler(dashboard))
	r.Get("/stats", handler.StatsHandler(dashboard))

	// Graceful server
	addr := ":" + port
	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	// Start server in goroutine
	go func() {
		logger.Infof("Listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server crashed")
		}
	}()

	// Shutdown on SIGINT or SIGTERM
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("Shutting down gracefully...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Shutdown error")
	}
}
