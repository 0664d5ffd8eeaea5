package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contentsquare/hitcounter/config"
	"github.com/contentsquare/hitcounter/internal/store"
)

func TestServeAndShutdown(t *testing.T) {
	h, _ := newTestHandler(t)
	cfg := config.Default().Server
	cfg.HTTP.ListenAddr = "127.0.0.1:0"

	srv, ln, err := newServer(cfg, h)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, srv.ReadTimeout)
	assert.Equal(t, 10*time.Minute, srv.IdleTimeout)

	done := make(chan error, 1)
	go func() { done <- serve(srv, ln) }()

	resp, err := http.Post(fmt.Sprintf("http://%s/hit", ln.Addr()), "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))
	assert.NoError(t, <-done)
}

func TestNewServerBusyAddr(t *testing.T) {
	h, _ := newTestHandler(t)
	cfg := config.Default().Server
	cfg.HTTP.ListenAddr = "127.0.0.1:0"

	_, ln, err := newServer(cfg, h)
	require.NoError(t, err)
	defer ln.Close()

	cfg.HTTP.ListenAddr = ln.Addr().String()
	_, _, err = newServer(cfg, h)
	assert.ErrorContains(t, err, "cannot listen for")
}

func TestNewTLSConfig(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "certs")
	tlsCfg, err := newTLSConfig(config.HTTPS{
		ListenAddr: ":8443",
		Autocert: config.Autocert{
			CacheDir:     dir,
			AllowedHosts: []string{"counter.example.org"},
		},
	})
	require.NoError(t, err)
	assert.NotNil(t, tlsCfg.GetCertificate)
	assert.DirExists(t, dir)

	_, err = newTLSConfig(config.HTTPS{
		ListenAddr: ":8443",
		CertFile:   "testdata/missing.crt",
		KeyFile:    "testdata/missing.key",
	})
	assert.ErrorContains(t, err, "cannot load cert for `https.cert_file`")
}

func TestShippedConfig(t *testing.T) {
	cfg, err := config.LoadFile("config.yml")
	require.NoError(t, err)
	assert.Equal(t, config.KindBadger, cfg.Store.Kind)
	assert.Equal(t, ":8000", cfg.Server.HTTP.ListenAddr)
	assert.Empty(t, cfg.Server.HTTPS.ListenAddr)
}

func badgerConfig(t *testing.T, listenAddr string) *config.Config {
	cfg := config.Default()
	cfg.Store.Kind = config.KindBadger
	cfg.Store.Badger = config.Badger{Path: t.TempDir()}
	cfg.Server.HTTP.ListenAddr = listenAddr
	return cfg
}

// assertStoreReleased opens the badger directory again, which fails
// while another handle still holds its lock.
func assertStoreReleased(t *testing.T, cfg *config.Config) {
	t.Helper()
	st, err := store.NewBadger(cfg.Store.Badger)
	require.NoError(t, err, "badger directory is still locked")
	assert.NoError(t, st.Close())
}

func TestRunClosesStoreOnListenFailure(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	cfg := badgerConfig(t, busy.Addr().String())
	err = run(context.Background(), cfg)
	assert.ErrorContains(t, err, "cannot listen for")

	assertStoreReleased(t, cfg)
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg := badgerConfig(t, "127.0.0.1:0")

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	require.NoError(t, run(ctx, cfg))

	assertStoreReleased(t, cfg)
}
