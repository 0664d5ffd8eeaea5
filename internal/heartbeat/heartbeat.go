package heartbeat

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/contentsquare/hitcounter/config"
	"github.com/contentsquare/hitcounter/log"
)

// Pinger is anything whose reachability can be checked.
type Pinger interface {
	Ping(ctx context.Context) error
	Name() string
}

type HeartBeat interface {
	IsHealthy(ctx context.Context) error
	Interval() time.Duration
}

type heartBeat struct {
	interval time.Duration
	timeout  time.Duration
	target   Pinger
}

func NewHeartbeat(c config.HeartBeat, target Pinger) HeartBeat {
	return &heartBeat{
		interval: time.Duration(c.Interval),
		timeout:  time.Duration(c.Timeout),
		target:   target,
	}
}

func (hb *heartBeat) IsHealthy(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, hb.timeout)
	defer cancel()

	startTime := time.Now()
	if err := hb.target.Ping(ctx); err != nil {
		return fmt.Errorf("cannot ping %s store in %s: %w", hb.target.Name(), time.Since(startTime), err)
	}
	return nil
}

func (hb *heartBeat) Interval() time.Duration {
	return hb.interval
}

// Monitor tracks the result of the latest heartbeat.
type Monitor struct {
	hb     HeartBeat
	name   string
	report func(healthy bool)

	healthy atomic.Bool
	checked atomic.Bool
}

// NewMonitor returns a monitor calling report after every check.
// report may be nil.
func NewMonitor(hb HeartBeat, name string, report func(healthy bool)) *Monitor {
	if report == nil {
		report = func(bool) {}
	}
	return &Monitor{hb: hb, name: name, report: report}
}

// Start runs the heartbeat until ctx is done. A ping in flight is
// cancelled together with ctx.
func (m *Monitor) Start(ctx context.Context) {
	for {
		m.Check(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(m.hb.Interval()):
		}
	}
}

// Check runs a single heartbeat and records its outcome.
// A check interrupted by ctx is not recorded.
func (m *Monitor) Check(ctx context.Context) {
	err := m.hb.IsHealthy(ctx)
	if ctx.Err() != nil {
		return
	}
	healthy := err == nil
	wasHealthy := m.healthy.Swap(healthy)
	firstCheck := !m.checked.Swap(true)

	switch {
	case !healthy:
		log.Errorf("error while health-checking %q store: %s", m.name, err)
	case firstCheck || !wasHealthy:
		log.Infof("%q store is reachable", m.name)
	}
	m.report(healthy)
}

// IsHealthy reports the outcome of the latest check.
// It is false until the first check completes.
func (m *Monitor) IsHealthy() bool {
	return m.healthy.Load()
}
