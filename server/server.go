// Package server exposes a validation support chain as a FHIR terminology
// HTTP API: $lookup, $validate-code, $expand and $translate, plus health,
// capability and Prometheus endpoints.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	vs "github.com/gofhir/validationsupport"
	"github.com/gofhir/validationsupport/support"
)

// FHIRContentType is the media type of every FHIR response.
const FHIRContentType = "application/fhir+json"

// Server is the echo application serving one chain.
type Server struct {
	echo     *echo.Echo
	chain    *support.Chain
	logger   zerolog.Logger
	metrics  *vs.Metrics
	registry *prometheus.Registry
	requests *prometheus.CounterVec
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request and error logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithMetrics exports the chain metrics on /metrics. Pass the same Metrics
// given to support.WithMetrics.
func WithMetrics(m *vs.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithRegistry registers collectors on r instead of a private registry.
func WithRegistry(r *prometheus.Registry) Option {
	return func(s *Server) {
		s.registry = r
	}
}

// New builds the HTTP application for chain.
func New(chain *support.Chain, opts ...Option) *Server {
	s := &Server{
		chain:  chain,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
	}
	s.requests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "txsupport_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"method", "route", "status"})
	s.registry.MustRegister(s.requests)
	if s.metrics != nil {
		s.registry.MustRegister(vs.NewPrometheusCollector(s.metrics))
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.handleError

	e.Use(Recovery(s.logger))
	e.Use(RequestID())
	e.Use(Logger(s.logger))
	e.Use(s.countRequests)

	s.echo = e
	s.routes()
	return s
}

func (s *Server) routes() {
	e := s.echo
	e.GET("/healthz", s.health)
	e.GET("/metadata", s.capabilities)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))

	for _, method := range []string{http.MethodGet, http.MethodPost} {
		e.Add(method, "/CodeSystem/$lookup", s.lookup)
		e.Add(method, "/CodeSystem/$validate-code", s.validateCodeSystemCode)
		e.Add(method, "/ValueSet/$validate-code", s.validateValueSetCode)
		e.Add(method, "/ValueSet/$expand", s.expand)
		e.Add(method, "/ConceptMap/$translate", s.translate)
	}
}

// Handler returns the application as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Echo returns the underlying echo instance.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// Start listens on addr. It returns nil after Shutdown.
func (s *Server) Start(addr string) error {
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) countRequests(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		err := next(c)
		status := c.Response().Status
		if err != nil {
			status = statusFor(err)
		}
		route := c.Path()
		if route == "" {
			route = "unmatched"
		}
		s.requests.WithLabelValues(c.Request().Method, route, fmt.Sprint(status)).Inc()
		return err
	}
}

// handleError renders every failure as an OperationOutcome.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	status := statusFor(err)
	msg := err.Error()
	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg = fmt.Sprint(he.Message)
	}

	if status >= http.StatusInternalServerError {
		rid, _ := c.Get("request_id").(string)
		s.logger.Error().Err(err).Str("request_id", rid).Str("path", c.Request().URL.Path).Msg("request failed")
	}

	outcome := vs.NewOperationOutcome([]vs.Issue{vs.ErrorIssue(issueTypeFor(status), msg, "")})
	if c.Request().Method == http.MethodHead {
		err = c.NoContent(status)
	} else {
		err = writeJSON(c, status, outcome)
	}
	if err != nil {
		s.logger.Error().Err(err).Msg("write error response")
	}
}

func statusFor(err error) int {
	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		return he.Code
	case support.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func issueTypeFor(status int) vs.IssueType {
	switch status {
	case http.StatusNotFound:
		return vs.IssueTypeNotFound
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return vs.IssueTypeInvalid
	case http.StatusMethodNotAllowed, http.StatusNotImplemented:
		return vs.IssueTypeNotSupported
	case http.StatusGatewayTimeout:
		return vs.IssueTypeTimeout
	}
	return vs.IssueTypeException
}

func badRequest(format string, args ...any) error {
	return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf(format, args...))
}
