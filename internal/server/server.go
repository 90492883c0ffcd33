// Package server is a small OpenID provider built on the request object,
// client authentication and ID token packages. Users are approved
// automatically from the login_hint, so it suits tests and development rather
// than production sign in.
package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/pardot/oidcop/authn"
	"github.com/pardot/oidcop/client"
	"github.com/pardot/oidcop/discovery"
	"github.com/pardot/oidcop/idtoken"
	"github.com/pardot/oidcop/provider"
	"github.com/pardot/oidcop/request"
)

// Config holds the server's configuration options.
type Config struct {
	Provider *provider.Context

	Clients       client.Source
	Resolver      *request.Resolver
	Authenticator *authn.Chain
	Issuer        *idtoken.Issuer

	// List of allowed origins for CORS requests on discovery, token and keys endpoint.
	// If none are indicated, CORS requests are disabled. Passing in "*" will allow any
	// domain.
	AllowedOrigins []string

	// CodeValidFor is how long authorization codes can be redeemed for.
	// Defaults to 5 minutes.
	CodeValidFor time.Duration
	// KeysCacheFor is how long the keys endpoint caches the key set. Defaults
	// to 1 minute.
	KeysCacheFor time.Duration

	// SubjectSalt is mixed into pairwise subject identifiers.
	SubjectSalt string

	// If specified, the server will use this function for determining time.
	Now func() time.Time

	Logger logrus.FieldLogger

	PrometheusRegistry prometheus.Registerer
}

func value(val, defaultValue time.Duration) time.Duration {
	if val == 0 {
		return defaultValue
	}
	return val
}

// Server is the top level object.
type Server struct {
	issuerURL url.URL

	provider      *provider.Context
	clients       client.Source
	resolver      *request.Resolver
	authenticator *authn.Chain
	issuer        *idtoken.Issuer

	grants       *grantStore
	codeValidFor time.Duration
	subjectSalt  string

	mux *mux.Router

	now    func() time.Time
	logger logrus.FieldLogger
}

// NewServer constructs a server from the provided config.
func NewServer(c Config) (*Server, error) {
	if c.Provider == nil {
		return nil, errors.New("server: provider cannot be nil")
	}
	if c.Clients == nil || c.Resolver == nil || c.Authenticator == nil || c.Issuer == nil {
		return nil, errors.New("server: clients, resolver, authenticator and issuer are required")
	}

	issuerURL, err := url.Parse(c.Provider.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("server: can't parse issuer URL: %w", err)
	}

	now := c.Now
	if now == nil {
		now = time.Now
	}
	logger := c.Logger
	if logger == nil {
		l := logrus.New()
		l.Out = io.Discard
		logger = l
	}

	s := &Server{
		issuerURL:     *issuerURL,
		provider:      c.Provider,
		clients:       c.Clients,
		resolver:      c.Resolver,
		authenticator: c.Authenticator,
		issuer:        c.Issuer,
		grants:        newGrantStore(),
		codeValidFor:  value(c.CodeValidFor, 5*time.Minute),
		subjectSalt:   c.SubjectSalt,
		now:           now,
		logger:        logger,
	}

	requestCounter := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Count of all HTTP requests.",
	}, []string{"handler", "code", "method"})

	if c.PrometheusRegistry != nil {
		if err := c.PrometheusRegistry.Register(requestCounter); err != nil {
			return nil, fmt.Errorf("server: Failed to register Prometheus HTTP metrics: %v", err)
		}
	}

	instrumentHandlerCounter := func(handlerName string, handler http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m := httpsnoop.CaptureMetrics(handler, w, r)
			requestCounter.With(prometheus.Labels{"handler": handlerName, "code": strconv.Itoa(m.Code), "method": r.Method}).Inc()
		})
	}

	r := mux.NewRouter()
	handle := func(p string, h http.Handler) *mux.Route {
		return r.Handle(s.absPath(p), instrumentHandlerCounter(p, h))
	}
	handleWithCORS := func(p string, h http.Handler) *mux.Route {
		if len(c.AllowedOrigins) > 0 {
			corsOption := handlers.AllowedOrigins(c.AllowedOrigins)
			h = handlers.CORS(corsOption)(h)
		}
		return handle(p, h)
	}
	r.NotFoundHandler = http.HandlerFunc(http.NotFound)

	discoveryHandler, err := discovery.NewConfigurationHandler(&discovery.ProviderMetadata{
		Issuer:                s.issuerURL.String(),
		AuthorizationEndpoint: s.absURL("/auth"),
		TokenEndpoint:         c.Provider.TokenEndpointURL,
		JWKSURI:               s.absURL("/keys"),
	}, discovery.WithDefaults())
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}

	handleWithCORS(discovery.WellKnownPath, discoveryHandler).Methods(http.MethodGet)
	handleWithCORS("/keys", discovery.NewKeysHandler(c.Provider.Signer(), value(c.KeysCacheFor, time.Minute))).Methods(http.MethodGet)
	handleWithCORS("/token", http.HandlerFunc(s.handleToken)).Methods(http.MethodPost)
	handle("/auth", http.HandlerFunc(s.handleAuthorization)).Methods(http.MethodGet, http.MethodPost)
	handle("/healthz", http.HandlerFunc(s.handleHealth))
	s.mux = r

	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) absPath(pathItems ...string) string {
	paths := make([]string, len(pathItems)+1)
	paths[0] = s.issuerURL.Path
	copy(paths[1:], pathItems)
	return path.Join(paths...)
}

func (s *Server) absURL(pathItems ...string) string {
	u := s.issuerURL
	u.Path = s.absPath(pathItems...)
	return u.String()
}

// logError records errors that were sent to the user, which are otherwise
// invisible to operators.
func (s *Server) logError(req *http.Request, err error) {
	s.logger.WithError(err).WithField("path", req.URL.Path).Info("request failed")
}
