package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/deepgram/kbquery/internal/config"
	"github.com/deepgram/kbquery/internal/connections"
	"github.com/deepgram/kbquery/internal/handlers"
	"github.com/deepgram/kbquery/internal/logger"
	"github.com/deepgram/kbquery/internal/services"
	"github.com/gorilla/mux"
)

const shutdownTimeout = 10 * time.Second

func main() {
	config.LoadEnvFile()
	logger.Init()
	log := logger.For(logger.APP)

	svcs, err := services.InitializeServices()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize services")
	}
	defer svcs.Close()

	manager := connections.NewManager(connections.DefaultTimeouts)
	server := &http.Server{
		Addr:              config.GetListenAddr(),
		Handler:           setupRouter(svcs, manager),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	go func() {
		log.Info().Str("addr", server.Addr).Msg("Server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	log.Info().Msgf("Shutting down (%v)", <-errc)

	// hijacked websocket connections are not tracked by Shutdown
	manager.CloseAll()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Graceful shutdown failed")
	}
	log.Info().Msg("Server stopped")
}

func setupRouter(svcs *services.Services, manager *connections.Manager) *mux.Router {
	return handlers.NewRouter(svcs, manager)
}
