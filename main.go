package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/crypto/acme/autocert"
	"golang.org/x/sync/errgroup"

	"github.com/contentsquare/hitcounter/config"
	"github.com/contentsquare/hitcounter/internal/heartbeat"
	"github.com/contentsquare/hitcounter/internal/service"
	"github.com/contentsquare/hitcounter/internal/store"
	"github.com/contentsquare/hitcounter/log"
	"github.com/contentsquare/hitcounter/middleware"
)

var configFile = flag.String("config", "config.yml", "Counter configuration filename")

// shutdownTimeout bounds the time in-flight requests get to finish.
const shutdownTimeout = 10 * time.Second

func main() {
	flag.Parse()

	log.Infof("Loading config: %s", *configFile)
	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("error while loading config: %s", err)
	}
	registerMetrics(cfg.Server.Metrics.Namespace)
	log.Infof("Loading config %q: successful", *configFile)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = run(ctx, cfg)
	stop()
	if err != nil {
		log.Fatalf("%s", err)
	}
	log.Infof("Stopped")
}

// run serves the counter until ctx is done or a listener fails.
// The store is closed before run returns.
func run(ctx context.Context, cfg *config.Config) error {
	st, err := store.New(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("cannot open %s store: %w", cfg.Store.Kind, err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Errorf("cannot close %s store: %s", st.Name(), err)
		}
	}()
	log.Infof("Using %s store", st.Name())
	return serveStore(ctx, cfg, st)
}

func serveStore(ctx context.Context, cfg *config.Config, st store.Store) error {
	monitor := heartbeat.NewMonitor(heartbeat.NewHeartbeat(cfg.Store.Heartbeat, st), st.Name(), reportStoreHealth)
	h := newCounterHandler(service.New(st), monitor.IsHealthy)
	h.applyConfig(cfg)

	handler := otelhttp.NewHandler(middleware.NewClientAddr(cfg.Server.Proxy, h), "hitcounter")
	servers, listeners, err := listen(cfg.Server, handler)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		monitor.Start(ctx)
		return nil
	})
	g.Go(func() error {
		watchReload(ctx, h)
		return nil
	})
	for i := range servers {
		srv, ln := servers[i], listeners[i]
		g.Go(func() error { return serve(srv, ln) })
	}
	g.Go(func() error {
		<-ctx.Done()
		log.Infof("Shutting down")
		if _, err := sdNotifyStopping(); err != nil {
			log.Errorf("cannot notify systemd: %s", err)
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Errorf("cannot gracefully stop server on %q: %s", srv.Addr, err)
			}
		}
		return nil
	})

	if ok, err := sdNotifyReady(); err != nil {
		log.Errorf("cannot notify systemd: %s", err)
	} else if ok {
		log.Debugf("systemd notified about readiness")
	}

	return g.Wait()
}

// listen opens every configured listener. On failure the ones already
// opened are closed.
func listen(cfg config.Server, h http.Handler) ([]*http.Server, []net.Listener, error) {
	var (
		servers   []*http.Server
		listeners []net.Listener
	)
	closeAll := func() {
		for _, ln := range listeners {
			ln.Close()
		}
	}

	if len(cfg.HTTPS.ListenAddr) != 0 {
		srv, ln, err := newTLSServer(cfg, h)
		if err != nil {
			return nil, nil, err
		}
		servers, listeners = append(servers, srv), append(listeners, ln)
		log.Infof("Serving https on %q", cfg.HTTPS.ListenAddr)
	}
	if len(cfg.HTTP.ListenAddr) != 0 {
		srv, ln, err := newServer(cfg, h)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		servers, listeners = append(servers, srv), append(listeners, ln)
		log.Infof("Serving http on %q", cfg.HTTP.ListenAddr)
	}
	if len(servers) == 0 {
		panic("BUG: broken config validation - `listen_addr` is not configured")
	}
	return servers, listeners, nil
}

func serve(srv *http.Server, ln net.Listener) error {
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error on %q: %w", srv.Addr, err)
	}
	return nil
}

func newServer(cfg config.Server, h http.Handler) (*http.Server, net.Listener, error) {
	ln, err := net.Listen("tcp", cfg.HTTP.ListenAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("cannot listen for %q: %w", cfg.HTTP.ListenAddr, err)
	}
	return newHTTPServer(cfg.HTTP, cfg.HTTP.ListenAddr, h), ln, nil
}

func newTLSServer(cfg config.Server, h http.Handler) (*http.Server, net.Listener, error) {
	tlsCfg, err := newTLSConfig(cfg.HTTPS)
	if err != nil {
		return nil, nil, err
	}
	ln, err := net.Listen("tcp", cfg.HTTPS.ListenAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("cannot listen for %q: %w", cfg.HTTPS.ListenAddr, err)
	}
	srv := newHTTPServer(cfg.HTTP, cfg.HTTPS.ListenAddr, h)
	return srv, tls.NewListener(ln, tlsCfg), nil
}

func newHTTPServer(cfg config.HTTP, addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      h,
		ReadTimeout:  time.Duration(cfg.ReadTimeout),
		WriteTimeout: time.Duration(cfg.WriteTimeout),
		IdleTimeout:  time.Duration(cfg.IdleTimeout),
		ErrorLog:     log.ErrorLogger,
	}
}

func newTLSConfig(cfg config.HTTPS) (*tls.Config, error) {
	tlsCfg := tls.Config{
		MinVersion: tls.VersionTLS12,
		CurvePreferences: []tls.CurveID{
			tls.CurveP256,
			tls.X25519,
		},
	}
	if len(cfg.KeyFile) > 0 && len(cfg.CertFile) > 0 {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("cannot load cert for `https.cert_file`=%q, `https.key_file`=%q: %w",
				cfg.CertFile, cfg.KeyFile, err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
		return &tlsCfg, nil
	}

	if err := os.MkdirAll(cfg.Autocert.CacheDir, 0700); err != nil {
		return nil, fmt.Errorf("error while creating folder %q: %w", cfg.Autocert.CacheDir, err)
	}
	var hp autocert.HostPolicy
	if len(cfg.Autocert.AllowedHosts) != 0 {
		hp = autocert.HostWhitelist(cfg.Autocert.AllowedHosts...)
	}
	m := autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		Cache:      autocert.DirCache(cfg.Autocert.CacheDir),
		HostPolicy: hp,
	}
	tlsCfg.GetCertificate = m.GetCertificate
	return &tlsCfg, nil
}

// watchReload reloads the config on SIGHUP until ctx is done.
func watchReload(ctx context.Context, h *counterHandler) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGHUP)
	defer signal.Stop(c)
	for {
		select {
		case <-ctx.Done():
			return
		case <-c:
			log.Infof("SIGHUP received. Going to reload config %s ...", *configFile)
			cfg, err := loadConfig()
			if err != nil {
				log.Errorf("error while reloading config: %s", err)
				continue
			}
			h.applyConfig(cfg)
			log.Infof("Reloading config %s: successful", *configFile)
		}
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadFile(*configFile)
	if err != nil {
		return nil, fmt.Errorf("can't load config %q: %w", *configFile, err)
	}
	log.SetDebug(cfg.LogDebug)
	log.Infof("Loaded config:\n%s", cfg)
	return cfg, nil
}
