package application

import (
	"context"
	"net"
	"net/http"
	_ "net/http/pprof" // registers /debug/pprof handlers on http.DefaultServeMux
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/lk2023060901/session-relay-go/internal/json"
	"github.com/lk2023060901/session-relay-go/internal/network/acceptor"
	"github.com/lk2023060901/session-relay-go/internal/network/session"
	"github.com/lk2023060901/session-relay-go/internal/relay"
	zlog "github.com/lk2023060901/session-relay-go/pkg/log"
	"github.com/lk2023060901/session-relay-go/pkg/metrics"
	"github.com/lk2023060901/session-relay-go/pkg/util/retry"
	zviper "github.com/lk2023060901/session-relay-go/pkg/util/viper"
)

const shutdownTimeout = 5 * time.Second

// Application is the runtime container of the relay.
// It owns configuration, loggers, the metrics registry and the listeners.
type Application struct {
	cfg     *Config
	v       *zviper.Config
	loggers map[string]*zlog.MLogger

	prom     *prometheus.Registry
	registry *relay.Registry
	server   *relay.Server

	mu       sync.Mutex
	addr     net.Addr
	httpAddr net.Addr
	ready    chan struct{}
}

// New creates an Application from a validated configuration.
// v may be nil; hot reload of the log level is then disabled.
func New(cfg *Config, v *zviper.Config) *Application {
	return &Application{
		cfg:   cfg,
		v:     v,
		ready: make(chan struct{}),
	}
}

// Run starts the relay and blocks until ctx is canceled or a listener fails.
//
// Startup order:
//  1. loggers (global and per module, see the "logging" key);
//  2. metrics registry;
//  3. session registry and websocket server;
//  4. listeners, retried while the address is busy.
func (a *Application) Run(ctx context.Context) error {
	if err := a.initLogging(); err != nil {
		return err
	}
	defer func() { _ = zlog.Sync() }()

	a.initMetrics()

	a.registry = relay.NewRegistry(
		relay.WithSendTimeout(a.cfg.Relay.SendTimeout),
		relay.WithFanoutPoolSize(a.cfg.Relay.FanoutPoolSize),
	)
	defer a.registry.Close()
	if lg, ok := a.loggers["relay"]; ok {
		a.registry.SetLogger(lg.With(zlog.FieldModule("relay")))
	}
	a.server = relay.NewServer(a.registry)
	if lg, ok := a.loggers["server"]; ok {
		a.server.SetLogger(lg.With(zlog.FieldModule("relay"), zlog.FieldComponent("server")))
	}

	ln, err := a.listen(ctx, a.cfg.Relay.Listen)
	if err != nil {
		return err
	}
	var httpLn net.Listener
	if a.cfg.HTTP.Listen != "" {
		if httpLn, err = a.listen(ctx, a.cfg.HTTP.Listen); err != nil {
			_ = ln.Close()
			return err
		}
	}

	acc := acceptor.NewWSAcceptor(a.acceptorConfig(httpLn == nil), nil)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return acc.Serve(gctx, ln, a.server)
	})
	if httpLn != nil {
		srv := &http.Server{
			Handler:           a.opsRouter(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			if err := srv.Serve(httpLn); !errors.Is(err, http.ErrServerClosed) {
				return errors.Wrap(err, "serve http")
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	a.mu.Lock()
	a.addr = ln.Addr()
	if httpLn != nil {
		a.httpAddr = httpLn.Addr()
	}
	a.mu.Unlock()
	close(a.ready)

	a.watchConfig()

	zlog.Info("relay started",
		zap.Stringer("addr", ln.Addr()),
		zap.String("path", a.cfg.Relay.Path))
	err = g.Wait()
	zlog.Info("relay stopped", zap.Error(err))
	return err
}

// Ready is closed once the listeners are bound.
func (a *Application) Ready() <-chan struct{} {
	return a.ready
}

// Addr returns the bound websocket address, nil before Ready.
func (a *Application) Addr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.addr
}

// HTTPAddr returns the bound address of the separate operational listener, if any.
func (a *Application) HTTPAddr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.httpAddr
}

// Config returns the configuration the application was created with.
func (a *Application) Config() *Config {
	return a.cfg
}

// Registry returns the session registry, nil before Run.
func (a *Application) Registry() *relay.Registry {
	return a.registry
}

// Logger returns a named logger created from configuration.
// If the name is unknown, it falls back to the global logger.
func (a *Application) Logger(name string) *zlog.MLogger {
	if lg, ok := a.loggers[name]; ok && lg != nil {
		return lg
	}
	return zlog.With(zlog.FieldModule(name))
}

// listen binds addr, retrying while the address is still held by a previous process.
func (a *Application) listen(ctx context.Context, addr string) (net.Listener, error) {
	var ln net.Listener
	err := retry.Do(ctx, func() error {
		var err error
		ln, err = net.Listen("tcp", addr)
		return err
	}, retry.Attempts(a.cfg.Relay.ListenAttempts), retry.Sleep(200*time.Millisecond))
	if err != nil {
		return nil, errors.Wrapf(err, "listen on %s", addr)
	}
	return ln, nil
}

func (a *Application) acceptorConfig(withOps bool) acceptor.Config {
	rc := a.cfg.Relay
	cfg := acceptor.DefaultConfig()
	cfg.Path = rc.Path
	cfg.Session = session.Options{
		SendQueueSize: rc.SendQueueSize,
		WriteTimeout:  rc.WriteTimeout,
		PongWait:      rc.PongWait,
		PingPeriod:    rc.PingPeriod,
		ReadLimit:     rc.ReadLimit,
	}
	if rc.RateLimit > 0 {
		cfg.RateLimit = rate.Limit(rc.RateLimit)
		cfg.RateBurst = max(rc.RateBurst, 1)
	}
	cfg.EnableCompression = rc.EnableCompression
	if withOps {
		cfg.Routes = a.opsRoutes()
	}
	return cfg
}

// opsRoutes lists the operational HTTP routes: metrics, health and optionally pprof.
func (a *Application) opsRoutes() []acceptor.Route {
	hc := a.cfg.HTTP
	var routes []acceptor.Route
	if hc.MetricsPath != "" {
		routes = append(routes, acceptor.Route{
			Method:  http.MethodGet,
			Path:    hc.MetricsPath,
			Handler: promhttp.HandlerFor(a.prom, promhttp.HandlerOpts{Registry: a.prom}),
		})
	}
	if hc.HealthPath != "" {
		routes = append(routes, acceptor.Route{
			Method:  http.MethodGet,
			Path:    hc.HealthPath,
			Handler: http.HandlerFunc(a.serveHealth),
		})
	}
	if hc.EnablePprof {
		routes = append(routes, acceptor.Route{
			Method:  http.MethodGet,
			Path:    "/debug/pprof/*item",
			Handler: http.DefaultServeMux,
		})
	}
	return routes
}

func (a *Application) opsRouter() http.Handler {
	router := httprouter.New()
	for _, route := range a.opsRoutes() {
		router.Handler(route.Method, route.Path, route.Handler)
	}
	return router
}

type healthStatus struct {
	Status      string `json:"status"`
	Connections int    `json:"connections"`
	Namespaces  int    `json:"namespaces"`
}

func (a *Application) serveHealth(w http.ResponseWriter, _ *http.Request) {
	body, err := json.Marshal(healthStatus{
		Status:      "ok",
		Connections: a.server.ConnectedChannels(),
		Namespaces:  a.registry.NamespaceCount(),
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}

func (a *Application) initMetrics() {
	a.prom = prometheus.NewRegistry()
	a.prom.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics.Register(a.prom)
}

// initLogging initializes global and module-level loggers.
func (a *Application) initLogging() error {
	logger, props, err := zlog.InitLogger(&a.cfg.Log)
	if err != nil {
		return errors.Wrap(err, "init global logger")
	}
	zlog.ReplaceGlobals(logger, props)

	if len(a.cfg.Logging) == 0 {
		return nil
	}
	a.loggers = make(map[string]*zlog.MLogger, len(a.cfg.Logging))
	for name, lc := range a.cfg.Logging {
		cfgCopy := lc
		logger, _, err := zlog.InitLogger(&cfgCopy)
		if err != nil {
			return errors.Wrapf(err, "init module logger %q", name)
		}
		a.loggers[name] = &zlog.MLogger{Logger: logger}
	}
	return nil
}

// watchConfig reloads log.level whenever the loaded config file changes.
// Other keys require a restart.
func (a *Application) watchConfig() {
	if a.v == nil || a.v.ConfigFileUsed() == "" {
		return
	}
	a.v.WatchConfig(func(c *zviper.Config) {
		level, err := parseLevel(c.GetString("log.level"))
		if err != nil {
			zlog.Warn("ignore invalid log level on reload", zap.Error(err))
			return
		}
		zlog.SetLevel(level)
		zlog.Info("log level reloaded", zap.Stringer("level", level))
	})
}

func parseLevel(s string) (zapcore.Level, error) {
	if strings.EqualFold(s, "trace") {
		s = "debug"
	}
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return level, err
	}
	return level, nil
}
