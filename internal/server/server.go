// Package server wires the relay together: registry, dispatcher, usage
// reporter, middleware, and routes, with graceful shutdown on signal.
package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/openrelay/claude-relay/internal/config"
	"github.com/openrelay/claude-relay/internal/dispatch"
	"github.com/openrelay/claude-relay/internal/handlers"
	"github.com/openrelay/claude-relay/internal/middleware"
	"github.com/openrelay/claude-relay/internal/providers"
	"github.com/openrelay/claude-relay/internal/providers/openai"
	"github.com/openrelay/claude-relay/internal/usage"
)

type Server struct {
	config   *config.Manager
	registry *providers.Registry
	reporter *usage.LogReporter
	logger   *logrus.Logger
	server   *http.Server
}

func New(configManager *config.Manager, logger *logrus.Logger) (*Server, error) {
	registry, err := buildRegistry(configManager.Get(), logger)
	if err != nil {
		return nil, err
	}

	return &Server{
		config:   configManager,
		registry: registry,
		reporter: usage.NewLogReporter(logger.WithField("component", "usage")),
		logger:   logger,
	}, nil
}

// buildRegistry instantiates one strategy per configured provider.
func buildRegistry(cfg *config.Config, logger *logrus.Logger) (*providers.Registry, error) {
	registry := providers.NewRegistry()

	for name, p := range cfg.Providers {
		switch p.Type {
		case "openai", "":
			registry.Register(name, openai.New(openai.Config{
				Name:    name,
				BaseURL: p.BaseURL,
				APIKey:  p.APIKey,
				Model:   p.Model,
				Timeout: p.Timeout(),
				Logger:  logger.WithField("provider", name),
			}))
		default:
			return nil, fmt.Errorf("provider %q: unknown type %q", name, p.Type)
		}
	}

	return registry, nil
}

func (s *Server) Start() error {
	cfg := s.config.Get()
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)

	s.server = &http.Server{
		Addr:    addr,
		Handler: s.setupRoutes(),
	}

	s.logger.WithField("address", addr).Info("starting server")

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	s.logger.Info("server is shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	// Flush buffered usage records after in-flight requests finish.
	s.reporter.Close()

	s.logger.Info("server exited")
	return nil
}

func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	dispatcher := dispatch.New(s.registry, s.reporter, s.logger.WithField("component", "dispatch"))

	messagesHandler := handlers.NewMessagesHandler(s.config, dispatcher, s.logger)
	healthHandler := handlers.NewHealthHandler(s.logger)
	modelsHandler := handlers.NewModelsHandler(s.config, s.logger)
	telemetryHandler := handlers.NewTelemetryHandler(s.logger)

	set := middleware.NewSet(s.logger)

	mux.Handle("/health", set.HealthChain().Handler(healthHandler))
	mux.Handle("/v1/messages", set.DefaultChain().Handler(messagesHandler))
	mux.Handle("/v1/models", set.DefaultChain().Handler(modelsHandler))
	mux.Handle("/api/event_logging/batch", set.HealthChain().Handler(telemetryHandler))

	return mux
}
