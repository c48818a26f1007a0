// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/luxfi/log"
	"github.com/luxfi/metric"
)

const maxConcurrentStreams = 64

var (
	ErrEmptyPath     = errors.New("route path must start with /")
	ErrDuplicatePath = errors.New("route already registered")
)

type HTTPConfig struct {
	ReadTimeout       time.Duration `json:"readTimeout"`
	ReadHeaderTimeout time.Duration `json:"readHeaderTimeout"`
	WriteTimeout      time.Duration `json:"writeTimeout"`
	IdleTimeout       time.Duration `json:"idleTimeout"`
}

// DefaultHTTPConfig bounds slow clients without limiting long decryptions.
func DefaultHTTPConfig() HTTPConfig {
	return HTTPConfig{
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
}

// Server maintains the HTTP router.
type Server struct {
	log             log.Logger
	shutdownTimeout time.Duration
	metrics         *serverMetrics

	router *mux.Router
	paths  map[string]struct{}

	handler  http.Handler
	srv      *http.Server
	listener net.Listener
}

// New returns a server that will serve on listener once dispatched.
func New(
	logger log.Logger,
	listener net.Listener,
	allowedOrigins []string,
	shutdownTimeout time.Duration,
	registerer metric.Registerer,
	httpConfig HTTPConfig,
) (*Server, error) {
	m, err := newMetrics(registerer)
	if err != nil {
		return nil, err
	}

	router := mux.NewRouter()
	handler := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost},
		AllowCredentials: true,
	}).Handler(router)

	httpServer := &http.Server{
		Handler: h2c.NewHandler(
			handler,
			&http2.Server{
				MaxConcurrentStreams: maxConcurrentStreams,
			}),
		ReadTimeout:       httpConfig.ReadTimeout,
		ReadHeaderTimeout: httpConfig.ReadHeaderTimeout,
		WriteTimeout:      httpConfig.WriteTimeout,
		IdleTimeout:       httpConfig.IdleTimeout,
	}

	logger.Info("API created",
		log.String("allowedOrigins", strings.Join(allowedOrigins, ",")),
	)

	return &Server{
		log:             logger,
		shutdownTimeout: shutdownTimeout,
		metrics:         m,
		router:          router,
		paths:           map[string]struct{}{},
		handler:         handler,
		srv:             httpServer,
		listener:        listener,
	}, nil
}

// AddRoute serves handler at path. name labels the route's metrics.
func (s *Server) AddRoute(name, path string, handler http.Handler) error {
	if !strings.HasPrefix(path, "/") {
		return ErrEmptyPath
	}
	if _, ok := s.paths[path]; ok {
		return ErrDuplicatePath
	}
	s.paths[path] = struct{}{}

	s.log.Info("adding route",
		log.String("name", name),
		log.String("path", path),
	)
	s.router.Handle(path, s.metrics.wrapHandler(name, handler))
	return nil
}

// Handler is the fully wrapped handler, for serving without the listener.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Addr is the address the server listens on.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Dispatch serves until Shutdown is called.
func (s *Server) Dispatch() error {
	err := s.srv.Serve(s.listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	err := s.srv.Shutdown(ctx)
	cancel()

	// If shutdown times out, make sure the server is still shutdown.
	_ = s.srv.Close()
	_ = s.listener.Close()
	return err
}
