// Package web serves the quill status endpoint: Prometheus metrics,
// liveness, readiness and a JSON snapshot of the active segment writer.
package web

import (
	"encoding/json"
	"fmt"
	"net"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"github.com/quillio/quill/pkg/logging"
	obsprom "github.com/quillio/quill/pkg/observability/prometheus"
)

// Status is the JSON body served at /status.
type Status struct {
	Segment       string `json:"segment"`
	State         string `json:"state"`
	Pending       int    `json:"pending"`
	BufferedBytes int    `json:"buffered_bytes"`
}

// Config configures the status server.
type Config struct {
	Addr      string
	Logger    logging.Logger
	Readiness func() error  // nil means always ready
	Status    func() Status // nil disables /status
}

// Server is a small fasthttp server for operational endpoints.
type Server struct {
	cfg Config
	srv *fasthttp.Server
	ln  net.Listener
}

// New builds the server without binding a socket.
func New(cfg Config) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	s := &Server{cfg: cfg}
	s.srv = &fasthttp.Server{
		Name:    "quill",
		Handler: s.route(),
	}
	return s
}

func (s *Server) route() fasthttp.RequestHandler {
	metrics := fasthttpadaptor.NewFastHTTPHandler(
		promhttp.HandlerFor(obsprom.DefaultRegistry, promhttp.HandlerOpts{}),
	)
	return func(ctx *fasthttp.RequestCtx) {
		switch string(ctx.Path()) {
		case "/metrics":
			metrics(ctx)
		case "/live":
			writeJSON(ctx, fasthttp.StatusOK, map[string]string{"status": "up"})
		case "/ready":
			s.handleReady(ctx)
		case "/status":
			s.handleStatus(ctx)
		default:
			ctx.Error("not found", fasthttp.StatusNotFound)
		}
	}
}

func (s *Server) handleReady(ctx *fasthttp.RequestCtx) {
	if s.cfg.Readiness != nil {
		if err := s.cfg.Readiness(); err != nil {
			writeJSON(ctx, fasthttp.StatusServiceUnavailable, map[string]any{
				"ready": false,
				"error": err.Error(),
			})
			return
		}
	}
	writeJSON(ctx, fasthttp.StatusOK, map[string]any{"ready": true})
}

func (s *Server) handleStatus(ctx *fasthttp.RequestCtx) {
	if s.cfg.Status == nil {
		ctx.Error("status not available", fasthttp.StatusNotFound)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, s.cfg.Status())
}

func writeJSON(ctx *fasthttp.RequestCtx, status int, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		ctx.Error("encoding response", fasthttp.StatusInternalServerError)
		return
	}
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	ctx.SetBody(data)
}

// ListenAndServe binds the configured address and serves until Shutdown.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("web: listening on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ln)
}

// Serve runs the server on an existing listener.
func (s *Server) Serve(ln net.Listener) error {
	s.ln = ln
	s.cfg.Logger.Infof("status server listening on %s", ln.Addr())
	return s.srv.Serve(ln)
}

// Addr returns the bound address, or the configured one before Serve.
func (s *Server) Addr() string {
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.cfg.Addr
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	return s.srv.Shutdown()
}
