package main

import (
	"context"
	"fmt"
	"net/http"

	"cs2-tracker/internal/config"
	"cs2-tracker/internal/constants"
	fxmodules "cs2-tracker/internal/fx"
	"cs2-tracker/internal/middleware"
	"cs2-tracker/internal/notify"
	"cs2-tracker/internal/server"
	"cs2-tracker/internal/service"

	"connectrpc.com/grpchealth"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"go.uber.org/fx"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

const EventsPath = "/ws/events"

func main() {
	fx.New(
		fxmodules.Module,
		fx.Invoke(runServer),
	).Run()
}

func runServer(
	lc fx.Lifecycle,
	trackerServer *server.TrackerServer,
	hub *notify.Hub,
	aggregator *service.Aggregator,
	cfg *config.Config,
	logger zerolog.Logger,
) {
	router := mux.NewRouter()
	router.Use(middleware.RequestID(logger), middleware.Recover)

	path, handler := trackerServer.Handler()
	router.PathPrefix(path).Handler(handler)

	healthPath, healthHandler := grpchealth.NewHandler(grpchealth.NewStaticChecker(server.LiveServiceName))
	router.PathPrefix(healthPath).Handler(healthHandler)

	router.Handle(EventsPath, hub).Methods(http.MethodGet)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"X-Request-ID", "Connect-Protocol-Version"},
		AllowCredentials: true,
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.ServerPort),
		Handler: h2c.NewHandler(corsHandler.Handler(router), &http2.Server{}),
	}

	// Background loops live until OnStop.
	bg, stopBackground := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go hub.Run(bg)
			go aggregator.RunJanitor(bg, constants.CacheSweepInterval, constants.MatchIdleTimeout)

			go func() {
				logger.Info().Str("addr", srv.Addr).Msg("server starting")
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Fatal().Err(err).Msg("server failed")
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info().Msg("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
			defer cancel()

			stopBackground()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error().Err(err).Msg("server shutdown failed")
				return err
			}
			logger.Info().Msg("server stopped gracefully")
			return nil
		},
	})
}
