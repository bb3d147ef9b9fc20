// Package devserver is a development stand-in for the keygate auth server.
// It issues session tokens on refresh and relays the coordination channel
// over WebSocket, which is enough to run several CLI tabs against.
package devserver

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/subtle"
	_ "embed"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	oamiddleware "github.com/go-openapi/runtime/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jmcleod/keygate/channel/relay"
	"github.com/jmcleod/keygate/client"
	"github.com/jmcleod/keygate/token"
)

const (
	DefaultUID      = "dev-user"
	DefaultTokenTTL = 15 * time.Minute

	// ChannelPath is where the relay hub is mounted.
	ChannelPath = "/channel"
)

//go:embed openapi.yaml
var openapiSpec []byte

// Config configures a Server.
type Config struct {
	// APIKey must match the X-KG-Key header of refresh requests.
	APIKey string
	// UID is the user every issued token names. Default: DefaultUID.
	UID string
	// TokenTTL defaults to DefaultTokenTTL.
	TokenTTL time.Duration
	// SigningKey is generated when nil.
	SigningKey ed25519.PrivateKey
	Logger     *slog.Logger
	// Registry, when set, receives the server's metrics and is served on
	// /metrics.
	Registry *prometheus.Registry
}

// Server is the development auth server.
type Server struct {
	cfg     Config
	log     *slog.Logger
	issuer  *token.Issuer
	relay   *relay.Server
	guard   *keyGuard
	refresh *prometheus.CounterVec
	router  chi.Router
	signPub ed25519.PublicKey
}

// New builds the server and its routes.
func New(cfg Config) (*Server, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("devserver: api key is required")
	}
	if cfg.UID == "" {
		cfg.UID = DefaultUID
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = DefaultTokenTTL
	}
	if cfg.SigningKey == nil {
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("generating signing key: %w", err)
		}
		cfg.SigningKey = priv
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	s := &Server{
		cfg:     cfg,
		log:     log,
		issuer:  token.NewIssuer(cfg.SigningKey, cfg.TokenTTL),
		relay:   relay.NewServer(log),
		guard:   newKeyGuard(),
		signPub: cfg.SigningKey.Public().(ed25519.PublicKey),
		refresh: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "keygate",
			Subsystem: "devserver",
			Name:      "refresh_total",
			Help:      "Refresh requests by result.",
		}, []string{"result"}),
	}
	if cfg.Registry != nil {
		cfg.Registry.MustRegister(s.refresh)
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLog)
	r.Use(securityHeaders)

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiSpec)
	})
	r.Get("/docs", oamiddleware.SwaggerUI(oamiddleware.SwaggerUIOpts{
		SpecURL: "/openapi.yaml",
		Path:    "docs",
		Title:   "Keygate development server",
	}, nil).ServeHTTP)
	r.Get("/redoc", oamiddleware.Redoc(oamiddleware.RedocOpts{
		SpecURL: "/openapi.yaml",
		Path:    "redoc",
		Title:   "Keygate development server",
	}, nil).ServeHTTP)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})
	r.Post(client.RefreshPath, s.handleRefresh)
	r.Get(ChannelPath, s.relay.ServeHTTP)
	if s.cfg.Registry != nil {
		r.Get("/metrics", promhttp.HandlerFor(s.cfg.Registry, promhttp.HandlerOpts{}).ServeHTTP)
	}
	return r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Relay returns the channel relay hub.
func (s *Server) Relay() *relay.Server {
	return s.relay
}

// PublicKey returns the key issued tokens can be verified with.
func (s *Server) PublicKey() ed25519.PublicKey {
	return s.signPub
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	addr := clientAddr(r)
	if blocked, retry := s.guard.check(addr); blocked {
		s.refresh.WithLabelValues("throttled").Inc()
		w.Header().Set("Retry-After", retryAfterSeconds(retry))
		writeError(w, http.StatusTooManyRequests, "too many invalid api keys; try again later")
		return
	}

	key := r.Header.Get(client.HeaderAPIKey)
	if subtle.ConstantTimeCompare([]byte(key), []byte(s.cfg.APIKey)) != 1 {
		s.guard.fail(addr)
		s.refresh.WithLabelValues("unauthorized").Inc()
		s.log.Warn("devserver.refresh.unauthorized", slog.String("client", addr))
		writeError(w, http.StatusUnauthorized, "invalid api key")
		return
	}
	s.guard.succeed(addr)

	raw, err := s.issuer.Issue(s.cfg.UID)
	if err != nil {
		s.refresh.WithLabelValues("error").Inc()
		s.log.Error("devserver.refresh.issue.fail", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.refresh.WithLabelValues("ok").Inc()
	s.log.Info("devserver.refresh",
		slog.String("uid", s.cfg.UID),
		slog.String("origin", r.Header.Get(client.HeaderOrigin)),
		slog.String("hash", token.Hash(raw)))
	writeJSON(w, http.StatusOK, refreshResponse{Token: raw})
}

func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("devserver.request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("duration", time.Since(start)),
			slog.String("request_id", middleware.GetReqID(r.Context())))
	})
}
