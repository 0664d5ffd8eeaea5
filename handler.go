package main

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/contentsquare/hitcounter/config"
	"github.com/contentsquare/hitcounter/internal/service"
	"github.com/contentsquare/hitcounter/internal/store"
	"github.com/contentsquare/hitcounter/log"
)

const (
	hitPath     = "/hit"
	currentPath = "/current"

	corsMethods = "GET, POST, OPTIONS"
)

var (
	errRateLimited      = errors.New("too many requests, retry later")
	errStoreUnreachable = errors.New("counter store is unreachable")
)

var promHandler = promhttp.Handler()

// counterHandler serves the counter operations plus the
// service endpoints (/metrics, /favicon.ico).
type counterHandler struct {
	svc *service.Service

	// ready reports whether the store answered the latest heartbeat
	ready func() bool

	// highest value handed out by /hit, exported as counter_value
	valueMu   sync.Mutex
	lastValue int64

	limiter                *rate.Limiter
	allowedNetworksMetrics atomic.Pointer[config.Networks]
}

// newCounterHandler returns a handler answering /ready with ready().
// A nil ready always reports ready.
func newCounterHandler(svc *service.Service, ready func() bool) *counterHandler {
	if ready == nil {
		ready = func() bool { return true }
	}
	h := &counterHandler{
		svc:     svc,
		ready:   ready,
		limiter: rate.NewLimiter(rate.Inf, 1),
	}
	h.allowedNetworksMetrics.Store(&config.Networks{})
	return h
}

// applyConfig updates the parts of cfg that can change without restart.
func (h *counterHandler) applyConfig(cfg *config.Config) {
	networks := cfg.Server.Metrics.AllowedNetworks
	h.allowedNetworksMetrics.Store(&networks)

	rps := cfg.Server.HTTP.MaxRequestsPerSecond
	if rps <= 0 {
		h.limiter.SetLimit(rate.Inf)
		return
	}
	h.limiter.SetLimit(rate.Limit(rps))
	h.limiter.SetBurst(int(math.Max(1, math.Ceil(rps))))
}

func (h *counterHandler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/favicon.ico":
	case "/ready":
		if !h.ready() {
			respondWith(rw, errStoreUnreachable, http.StatusServiceUnavailable)
			return
		}
		fmt.Fprintln(rw, "Ok.")
	case "/metrics":
		an := h.allowedNetworksMetrics.Load()
		if !an.Contains(r.RemoteAddr) {
			err := fmt.Errorf("connections to /metrics are not allowed from %s", r.RemoteAddr)
			rw.Header().Set("Connection", "close")
			respondWith(rw, err, http.StatusForbidden)
			return
		}
		promHandler.ServeHTTP(rw, r)
	case hitPath, currentPath:
		h.serveCounter(rw, r)
	default:
		badRequest.Inc()
		err := fmt.Errorf("Unsupported path: %s", r.URL.Path)
		log.Debugf("%s", err)
		respondWith(rw, err, http.StatusNotFound)
	}
}

// resolveOp maps method and path to a counter operation.
func resolveOp(method, path string) (service.Op, bool) {
	switch {
	case path == hitPath && (method == http.MethodPost || method == http.MethodGet):
		return service.OpIncrement, true
	case path == currentPath && method == http.MethodGet:
		return service.OpRead, true
	default:
		return 0, false
	}
}

func allowedMethods(path string) string {
	if path == hitPath {
		return "GET, POST, OPTIONS"
	}
	return "GET, OPTIONS"
}

func setCORSHeaders(rw http.ResponseWriter, r *http.Request) {
	h := rw.Header()
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", corsMethods)
	if reqHeaders := r.Header.Get("Access-Control-Request-Headers"); len(reqHeaders) > 0 {
		h.Set("Access-Control-Allow-Headers", reqHeaders)
	} else {
		h.Set("Access-Control-Allow-Headers", "*")
	}
}

func (h *counterHandler) serveCounter(rw http.ResponseWriter, r *http.Request) {
	setCORSHeaders(rw, r)
	if r.Method == http.MethodOptions {
		rw.WriteHeader(http.StatusNoContent)
		return
	}

	op, ok := resolveOp(r.Method, r.URL.Path)
	if !ok {
		badRequest.Inc()
		rw.Header().Set("Allow", allowedMethods(r.URL.Path))
		err := fmt.Errorf("method %s is not allowed for %s", r.Method, r.URL.Path)
		respondWith(rw, err, http.StatusMethodNotAllowed)
		return
	}

	if !h.limiter.Allow() {
		rateLimited.Inc()
		log.Debugf("%s %s from %s rejected by rate limiter", r.Method, r.URL.Path, r.RemoteAddr)
		respondWith(rw, errRateLimited, http.StatusTooManyRequests)
		return
	}

	startTime := time.Now()
	srw := newStatResponseWriter(rw)
	h.serveOp(srw, r, op)
	duration := time.Since(startTime)

	requestsTotal.WithLabelValues(op.String(), strconv.Itoa(srw.statusCode)).Inc()
	requestDuration.WithLabelValues(op.String()).Observe(duration.Seconds())
	log.Accessf("%s %s from %s: %d in %s", r.Method, r.URL.Path, r.RemoteAddr, srw.statusCode, duration)
}

func (h *counterHandler) serveOp(rw http.ResponseWriter, r *http.Request, op service.Op) {
	v, err := h.svc.Do(r.Context(), op)
	if err != nil {
		storeErrors.WithLabelValues(op.String()).Inc()
		log.Errorf("%s failed: %s", op, err)
		status := http.StatusInternalServerError
		if errors.Is(err, store.ErrUnavailable) {
			status = http.StatusServiceUnavailable
		}
		respondWith(rw, err, status)
		return
	}
	if op == service.OpIncrement {
		h.observeValue(v.Value)
	}
	respondWithJSON(rw, v)
}

// observeValue raises counter_value to v. Concurrent increments finish
// in any order, so an older value never overwrites a newer one.
func (h *counterHandler) observeValue(v int64) {
	h.valueMu.Lock()
	defer h.valueMu.Unlock()
	if v <= h.lastValue {
		return
	}
	h.lastValue = v
	counterValue.Set(float64(v))
}
