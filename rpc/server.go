package rpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/net/netutil"

	"storechain/core/events"
	"storechain/core/host"
	"storechain/integrations/indexer"
	"storechain/native/factory"
	"storechain/native/store"
)

const (
	defaultReadTimeout  = 15 * time.Second
	defaultWriteTimeout = 15 * time.Second
	shutdownTimeout     = 10 * time.Second
	maxBodyBytes        = 1 << 20
	moduleName          = "rpc"
)

// Backend is the ledger surface served over HTTP. core.Node satisfies it.
type Backend interface {
	Apply(ctx context.Context, from, to [20]byte, value *big.Int, payload []byte) (*host.Receipt, error)
	Balance(addr [20]byte) (*big.Int, error)
	FactoryAddress() [20]byte
	FactoryView(fn func(*factory.Engine) error) error
	StoreView(addr [20]byte, fn func(*store.Engine) error) error
}

// EventIndex answers historical event queries.
type EventIndex interface {
	Query(ctx context.Context, f indexer.Filter) ([]indexer.EventRecord, error)
	Purchases(ctx context.Context, storeAddr, buyer string, limit int) ([]indexer.PurchaseRecord, error)
}

// EventStream delivers committed events to websocket subscribers.
type EventStream interface {
	Subscribe() (<-chan events.Event, func())
}

// Config carries the HTTP server settings.
type Config struct {
	ListenAddress string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	// MaxConns bounds accepted connections; further clients wait in the
	// listen backlog. Zero disables the bound.
	MaxConns  int
	Auth      AuthConfig
	RateLimit RateLimit
}

type Server struct {
	backend Backend
	index   EventIndex
	stream  EventStream
	auth    *Authenticator
	limiter *RateLimiter
	logger  *slog.Logger
	cfg     Config
	handler http.Handler
}

func NewServer(backend Backend, cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	s := &Server{
		backend: backend,
		auth:    NewAuthenticator(cfg.Auth, logger),
		limiter: NewRateLimiter(cfg.RateLimit, logger),
		logger:  logger.With(slog.String("module", moduleName)),
		cfg:     cfg,
	}
	s.handler = s.routes()
	return s
}

// SetIndex enables GET /v1/events and buyer purchase history.
func (s *Server) SetIndex(index EventIndex) { s.index = index }

// SetStream enables the websocket event feed.
func (s *Server) SetStream(stream EventStream) { s.stream = stream }

// Handler returns the instrumented router.
func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.limiter.Middleware(moduleName))
		r.Use(observe(moduleName, s.logger))

		r.With(s.auth.Middleware).Post("/call", s.handleCall)
		r.Get("/accounts/{addr}", s.handleAccount)
		r.Get("/factory", s.handleFactory)
		r.Get("/events", s.handleEvents)
		r.Get("/events/ws", s.handleEventsWS)

		r.Route("/stores/{store}", func(r chi.Router) {
			r.Get("/products/{id}", s.handleProduct)
			r.Get("/buyers/{addr}", s.handleBuyer)
			r.Get("/buyers/{addr}/purchases", s.handleBuyerPurchases)
			r.Get("/transactions/{id}", s.handleTransaction)
			r.Get("/subscriptions/{id}", s.handleSubscription)
			r.Get("/owners", s.handleOwners)
			r.Get("/schedule", s.handleSchedule)
			r.Get("/quote/{id}", s.handleQuote)
			r.Get("/purchases/export", s.handlePurchaseExport)
		})
	})
	return otelhttp.NewHandler(r, "storechain.rpc")
}

// Serve listens until ctx is cancelled, then drains in-flight requests.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("rpc: listen %s: %w", s.cfg.ListenAddress, err)
	}
	return s.ServeListener(ctx, ln)
}

func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	if s.cfg.MaxConns > 0 {
		ln = netutil.LimitListener(ln, s.cfg.MaxConns)
	}
	srv := &http.Server{
		Handler:           s.handler,
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.logger.Info("rpc listening", slog.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("rpc: shutdown: %w", err)
	}
	s.logger.Info("rpc stopped")
	return nil
}
