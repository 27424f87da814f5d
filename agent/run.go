// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"axonflow/sqlgate/connectors/base"
	"axonflow/sqlgate/connectors/config"
	"axonflow/sqlgate/connectors/executor"
	"axonflow/sqlgate/connectors/metrics"
	"axonflow/sqlgate/connectors/mysql"
	"axonflow/sqlgate/connectors/postgres"
	"axonflow/sqlgate/connectors/registry"
	"axonflow/sqlgate/connectors/schema"
	"axonflow/sqlgate/shared/logger"
)

const (
	serviceName    = "sqlgate-agent"
	serviceVersion = "1.0.0"

	preloadMaxElapsed = 2 * time.Minute
	readHeaderTimeout = 10 * time.Second
)

// Server is the assembled agent: service, router and metrics registry.
type Server struct {
	cfg      *config.Config
	service  *Service
	router   *mux.Router
	handler  http.Handler
	limiter  RateLimiter
	log      *logger.Logger
	preload  func() backoff.BackOff
	dialects []base.Dialect
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithDialects replaces the PostgreSQL and MySQL dialects.
func WithDialects(ds ...base.Dialect) ServerOption {
	return func(s *Server) { s.dialects = ds }
}

// WithPreloadBackOff sets the retry policy for pre-declared connections.
func WithPreloadBackOff(f func() backoff.BackOff) ServerOption {
	return func(s *Server) { s.preload = f }
}

// NewServer builds every component from cfg. Nothing listens and no
// connection is opened until Run or PreloadConnections.
func NewServer(ctx context.Context, cfg *config.Config, opts ...ServerOption) (*Server, error) {
	s := &Server{
		cfg:      cfg,
		log:      logger.New("agent"),
		dialects: []base.Dialect{postgres.New(), mysql.New()},
		preload: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.MaxElapsedTime = preloadMaxElapsed
			return b
		},
	}
	for _, opt := range opts {
		opt(s)
	}

	secrets, err := config.NewSecretsManager(ctx, cfg.Secrets)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize secrets manager: %w", err)
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder := metrics.New(promReg)

	regOpts := []registry.Option{
		registry.WithCredentialResolver(config.NewCredentialResolver(secrets)),
		registry.WithPoolDefaults(cfg.Pool),
		registry.WithMetrics(recorder),
		registry.WithLogger(logger.New("registry")),
	}
	for _, d := range s.dialects {
		regOpts = append(regOpts, registry.WithDialect(d))
	}
	reg := registry.New(regOpts...)
	promReg.MustRegister(metrics.NewPoolCollector(reg))

	exec := executor.New(reg, cfg.ExecutorConfig(),
		executor.WithMetrics(recorder),
		executor.WithLogger(logger.New("executor")),
	)
	insp := schema.New(exec, schema.WithLogger(logger.New("schema")))

	s.limiter = NewRateLimiter(ctx, cfg.Server.RedisURL, cfg.Server.RateLimitPerMinute, logger.New("rate_limit"))
	svcOpts := []ServiceOption{WithServiceLogger(s.log)}
	if s.limiter != nil {
		svcOpts = append(svcOpts, WithRateLimiter(s.limiter))
	}
	s.service = NewService(reg, exec, insp, svcOpts...)

	s.router = mux.NewRouter()
	s.router.HandleFunc("/health", s.healthHandler).Methods("GET")
	s.router.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{})).Methods("GET")

	api := s.router.NewRoute().Subrouter()
	if auth := NewAuthenticator(cfg.Server.JWTSecret.Reveal(), logger.New("auth")); auth != nil {
		api.Use(auth.Middleware)
	} else {
		s.log.Warn("JWT_SECRET not configured, tool endpoints are unauthenticated")
	}
	s.service.RegisterMCPHandlers(api)

	s.handler = s.router
	if len(cfg.Server.CORSOrigins) > 0 {
		s.handler = cors.New(cors.Options{
			AllowedOrigins: cfg.Server.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Authorization", "Content-Type"},
		}).Handler(s.router)
	}
	return s, nil
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Service returns the operation surface.
func (s *Server) Service() *Service { return s.service }

// PreloadConnections adds every pre-declared connection, retrying connect
// failures with exponential backoff. Failures are logged and returned
// joined; the server stays usable either way.
func (s *Server) PreloadConnections(ctx context.Context) error {
	var errs []error
	for _, conn := range s.cfg.ConnectionList() {
		conn := conn
		attempts := 0
		op := func() error {
			attempts++
			err := s.service.AddConnection(ctx, conn)
			if err != nil && base.CodeOf(err) != base.CodeConnectError {
				return backoff.Permanent(err)
			}
			return err
		}
		err := backoff.Retry(op, backoff.WithContext(s.preload(), ctx))
		if err != nil {
			s.log.Error("Failed to add pre-declared connection", logger.ConnectionID(conn.ID),
				zap.Int("attempts", attempts), zap.String("error", base.AsError(err, conn.ID, ToolAddConnection).Message))
			errs = append(errs, err)
			continue
		}
		s.log.Info("Pre-declared connection ready", logger.ConnectionID(conn.ID), zap.Int("attempts", attempts))
	}
	return errors.Join(errs...)
}

// Run serves HTTP on the configured address until ctx is cancelled, then
// shuts down gracefully and drains every pool.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Server.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		s.log.Info("Agent listening", zap.String("addr", ln.Addr().String()))
		serveErr <- srv.Serve(ln)
	}()

	go func() {
		if err := s.PreloadConnections(ctx); err != nil {
			s.log.Warn("Some pre-declared connections are unavailable", zap.Error(err))
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = err
		}
	}

	timeout := s.cfg.Server.ShutdownTimeout.Std()
	if timeout <= 0 {
		timeout = config.DefaultShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.log.Info("Shutting down agent")
	if err := srv.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = err
	}
	if err := s.Close(shutdownCtx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// Close drains every pool and releases the rate limiter.
func (s *Server) Close(ctx context.Context) error {
	err := s.service.Close(ctx)
	if c, ok := s.limiter.(io.Closer); ok {
		if cerr := c.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{
		"status":      "healthy",
		"service":     serviceName,
		"timestamp":   time.Now().UTC(),
		"version":     serviceVersion,
		"connections": len(s.service.ListConnections()),
	}); err != nil {
		s.log.Error("Error encoding health response", zap.Error(err))
	}
}
