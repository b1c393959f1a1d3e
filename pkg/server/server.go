// Package server implements the HTTP binding and module registry
// (SPEC_FULL.md 4.5, 6): a single POST route dispatching COSE_Sign1
// envelopes to registered modules, plus /health and /metrics side
// channels. Routing and graceful shutdown follow
// _examples/Jointeg-ubirch-cose-client-go/main/http_server.go's
// chi + middleware.Timeout + context-cancel shutdown shape.
package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/brianh20/many-go/pkg/envelope"
	"github.com/brianh20/many-go/pkg/identity"
	"github.com/brianh20/many-go/pkg/manyerr"
	"github.com/brianh20/many-go/pkg/message"
	"github.com/brianh20/many-go/pkg/module"
	"github.com/brianh20/many-go/pkg/signer"
)

const (
	gatewayTimeout  = 20 * time.Second
	readTimeout     = 5 * time.Second
	writeTimeout    = 30 * time.Second
	idleTimeout     = 60 * time.Second
	shutdownTimeout = 25 * time.Second
)

var requestsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "many_server_requests_total",
		Help: "Total dispatched requests by method and outcome.",
	},
	[]string{"method", "outcome"},
)

func init() {
	prometheus.MustRegister(requestsTotal)
}

// Config holds the values the server needs to bind and identify itself.
type Config struct {
	Addr string
	Name string
	// Path is the envelope dispatch route. Defaults to "/" if empty.
	Path string
}

// Server is the MANY module registry plus its HTTP binding.
type Server struct {
	cfg        Config
	self       signer.Signer
	id         identity.Identity
	modules    map[string]*module.Module
	attributes []uint32
	async      *module.AsyncManager
	router     *chi.Mux
}

// New builds a Server identified by self, registering the base module
// (status/echo/endpoints) and, when async is non-nil, the async module
// (async.status) immediately. Domain modules are added via Register.
func New(cfg Config, self signer.Signer, async *module.AsyncManager) (*Server, error) {
	id, err := self.Identity()
	if err != nil {
		return nil, fmt.Errorf("derive server identity: %w", err)
	}
	if cfg.Path == "" {
		cfg.Path = "/"
	}
	s := &Server{cfg: cfg, self: self, id: id, async: async, modules: make(map[string]*module.Module)}

	base, err := s.newBaseModule()
	if err != nil {
		return nil, fmt.Errorf("build base module: %w", err)
	}
	if err := s.Register(base); err != nil {
		return nil, err
	}

	if async != nil {
		asyncMod, err := s.newAsyncModule()
		if err != nil {
			return nil, fmt.Errorf("build async module: %w", err)
		}
		if err := s.Register(asyncMod); err != nil {
			return nil, err
		}
	}

	s.router = s.newRouter()
	return s, nil
}

// Register adds every endpoint of mod to the dispatch table, rejecting
// cross-module name collisions (SPEC_FULL.md 4.4/4.5). Call RegisterAttribute
// separately to have base.status() advertise the module's attribute id.
func (s *Server) Register(mod *module.Module) error {
	for _, name := range mod.Names() {
		if _, exists := s.modules[name]; exists {
			return manyerr.DuplicateEndpoint(name)
		}
		s.modules[name] = mod
	}
	return nil
}

// RegisterAttribute records a domain module's attribute id so base.status
// advertises it. Call once per domain module registered via Register.
func (s *Server) RegisterAttribute(id uint32) {
	s.attributes = append(s.attributes, id)
}

// Handler returns the server's HTTP handler, for embedding in a larger mux
// or driving directly from an httptest.Server in tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Endpoints returns every registered endpoint name, sorted lexicographically
// (the base module's "endpoints" result, SPEC_FULL.md 4.5).
func (s *Server) Endpoints() []string {
	names := make([]string, 0, len(s.modules))
	for name := range s.modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Server) newRouter() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Timeout(gatewayTimeout))
	r.Use(middleware.Recoverer)
	r.Post(s.cfg.Path, s.handleDispatch)
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleDispatch is the single envelope-in, envelope-out dispatch loop:
// decode -> look up module -> validate -> execute -> encode.
func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	decoded, err := envelope.Decode(body, true)
	if err != nil {
		s.writeError(w, manyerr.Wrap(err))
		return
	}

	req, err := message.DecodeRequestMessage(decoded.Payload)
	if err != nil {
		s.writeError(w, manyerr.Wrap(err))
		return
	}
	req.From = decoded.Sender

	resp := s.dispatch(req, body)
	s.writeResponse(w, resp)
}

func (s *Server) dispatch(req message.RequestMessage, rawEnvelope []byte) message.ResponseMessage {
	mod, ok := s.modules[req.Method]
	if !ok {
		requestsTotal.WithLabelValues(req.Method, "unknown_method").Inc()
		return s.errorResponse(req, manyerr.UnknownMethod(req.Method))
	}

	if err := mod.Validate(req, rawEnvelope); err != nil {
		requestsTotal.WithLabelValues(req.Method, "rejected").Inc()
		return s.errorResponse(req, manyerr.Wrap(err))
	}

	resp, err := s.executeRecovered(mod, req)
	if err != nil {
		requestsTotal.WithLabelValues(req.Method, "error").Inc()
		return s.errorResponse(req, manyerr.Wrap(err))
	}
	requestsTotal.WithLabelValues(req.Method, "ok").Inc()
	return resp
}

// executeRecovered runs mod.Execute, converting a backend panic into
// InternalServerError instead of crashing the dispatcher (SPEC_FULL.md 7:
// "Backend panics are caught at the dispatcher boundary").
func (s *Server) executeRecovered(mod *module.Module, req message.RequestMessage) (resp message.ResponseMessage, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			log.WithField("method", req.Method).Errorf("backend panic: %v", rec)
			err = manyerr.InternalServerError()
		}
	}()
	return mod.Execute(req, s.id)
}

func (s *Server) errorResponse(req message.RequestMessage, err *manyerr.ManyError) message.ResponseMessage {
	return message.ResponseMessage{
		From:      s.id,
		To:        req.From,
		HasTo:     true,
		Err:       err,
		Timestamp: time.Now(),
		ID:        req.ID,
	}
}

func (s *Server) writeResponse(w http.ResponseWriter, resp message.ResponseMessage) {
	payload, err := resp.Encode()
	if err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
		return
	}
	envBytes, err := envelope.Encode(payload, s.self, false)
	if err != nil {
		http.Error(w, "failed to sign response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/cbor")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(envBytes)
}

func (s *Server) writeError(w http.ResponseWriter, err *manyerr.ManyError) {
	resp := message.ResponseMessage{From: s.id, Err: err, Timestamp: time.Now()}
	s.writeResponse(w, resp)
}

// Serve runs the HTTP server until ctx is cancelled, then shuts down
// gracefully within shutdownTimeout.
func (s *Server) Serve(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		httpServer.SetKeepAlivesEnabled(false)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Warnf("many server: graceful shutdown failed: %v", err)
		}
		close(shutdownDone)
	}()

	log.WithField("addr", s.cfg.Addr).Info("many server: listening")
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("many server: %w", err)
	}
	<-shutdownDone
	return nil
}
