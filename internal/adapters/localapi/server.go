// Package localapi serves the client's state to a local UI shell over
// loopback HTTP, with a WebSocket stream of connectivity transitions.
package localapi

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/maintrack/offsync/internal/app"
	"github.com/maintrack/offsync/internal/domain"
	"github.com/maintrack/offsync/internal/ports"
)

// DefaultAddr is loopback only; the API has no authentication.
const DefaultAddr = "127.0.0.1:7420"

const shutdownTimeout = 5 * time.Second

// Service is the part of the client the API exposes.
type Service interface {
	Connectivity() domain.ConnectivityState
	Phase() app.Phase
	Stats(ctx context.Context) (domain.Stats, error)
	Subscribe(ctx context.Context) iter.Seq[domain.Transition]
	SyncNow()

	GetPage(ctx context.Context, key string) (domain.CachedPage, error)
	PutPage(ctx context.Context, page domain.CachedPage) error
	ClearCache(ctx context.Context) error

	Enqueue(ctx context.Context, m domain.Mutation) (string, error)
	Pending(ctx context.Context) ([]domain.Mutation, error)
	DeadLetters(ctx context.Context) ([]domain.Mutation, error)
	Requeue(ctx context.Context, opID string) error
	Purge(ctx context.Context, opID string) error
	Discards(ctx context.Context) ([]domain.Discard, error)
}

// Server is the local API HTTP server.
type Server struct {
	addr   string
	svc    Service
	logger ports.Logger
	now    func() time.Time

	listener net.Listener
	server   *http.Server
	done     chan struct{}
}

// NewServer creates a server for svc. An empty addr means DefaultAddr.
func NewServer(addr string, svc Service, logger ports.Logger) *Server {
	if addr == "" {
		addr = DefaultAddr
	}
	return &Server{
		addr:   addr,
		svc:    svc,
		logger: logger,
		now:    time.Now,
	}
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Post("/sync", s.handleSync)
		r.Get("/events", s.handleEvents)

		r.Get("/pages/*", s.handleGetPage)
		r.Put("/pages/*", s.handlePutPage)
		r.Delete("/pages", s.handleClearPages)

		r.Get("/mutations", s.handlePending)
		r.Post("/mutations", s.handleEnqueue)

		r.Get("/dead-letters", s.handleDeadLetters)
		r.Post("/dead-letters/{opID}/retry", s.handleRequeue)
		r.Delete("/dead-letters/{opID}", s.handlePurge)

		r.Get("/discards", s.handleDiscards)
	})
	return r
}

// Start listens and serves in the background until Stop or ctx is done.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}
	s.listener = ln
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		s.logger.Info("local api listening", ports.String("addr", ln.Addr().String()))
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("local api stopped", ports.Err(err))
		}
	}()
	return nil
}

// Addr returns the listening address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Stop shuts the server down. Event streams end when their request
// context is canceled.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := s.server.Shutdown(ctx)
	<-s.done
	if err != nil {
		return fmt.Errorf("shutdown local api: %w", err)
	}
	return nil
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := s.now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("local api request",
			ports.String("method", r.Method),
			ports.String("path", r.URL.Path),
			ports.Int("status", ww.Status()),
			ports.Duration("elapsed", s.now().Sub(start)),
		)
	})
}
