package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/samber/lo"
	vegeta "github.com/tsenart/vegeta/v12/lib"

	"github.com/contentsquare/hitcounter/client"
	"github.com/contentsquare/hitcounter/log"
)

type options struct {
	rate     vegeta.Rate
	duration time.Duration
	workers  uint64
}

// report compares the counter movement with what the hits returned.
type report struct {
	before, after int64
	successful    int64
	failed        int64
	duplicates    []int64
	outOfRange    []int64
	latencyP99    time.Duration
	statusCodes   map[string]int
}

func (r *report) ok() bool {
	return r.after-r.before == r.successful && len(r.duplicates) == 0 && len(r.outOfRange) == 0
}

func (r *report) print() {
	log.Infof("counter before: %s, after: %s, moved by %s",
		humanize.Comma(r.before), humanize.Comma(r.after), humanize.Comma(r.after-r.before))
	log.Infof("hits: %s successful, %s failed, p99 latency %s, status codes %v",
		humanize.Comma(r.successful), humanize.Comma(r.failed), r.latencyP99, r.statusCodes)
	if len(r.duplicates) > 0 {
		log.Errorf("values returned more than once: %v", r.duplicates)
	}
	if len(r.outOfRange) > 0 {
		log.Errorf("values outside of (before, after]: %v", r.outOfRange)
	}
	if r.after-r.before != r.successful {
		log.Errorf("counter moved by %d while %d hits succeeded", r.after-r.before, r.successful)
	}
	if r.ok() {
		log.Infof("OK: every successful hit was counted exactly once")
	}
}

func run(ctx context.Context, c *client.Client, opts options) (*report, error) {
	before, err := c.Current(ctx)
	if err != nil {
		return nil, fmt.Errorf("cannot read counter before the test: %w", err)
	}

	targeter := vegeta.NewStaticTargeter(vegeta.Target{
		Method: http.MethodPost,
		URL:    c.URL("/hit"),
	})
	attacker := vegeta.NewAttacker(vegeta.Workers(opts.workers))

	var (
		metrics vegeta.Metrics
		values  []int64
		failed  int64
	)
	results := attacker.Attack(targeter, opts.rate, opts.duration, "hitload")
	done := ctx.Done()
loop:
	for {
		select {
		case <-done:
			attacker.Stop()
			done = nil
		case res, ok := <-results:
			if !ok {
				break loop
			}
			metrics.Add(res)
			v, err := decodeHit(res)
			if err != nil {
				log.Debugf("hit #%d failed: %s", res.Seq, err)
				failed++
				continue
			}
			values = append(values, v)
		}
	}
	metrics.Close()

	after, err := c.Current(context.Background())
	if err != nil {
		return nil, fmt.Errorf("cannot read counter after the test: %w", err)
	}

	return &report{
		before:      before,
		after:       after,
		successful:  int64(len(values)),
		failed:      failed,
		duplicates:  lo.FindDuplicates(values),
		outOfRange:  lo.Filter(values, func(v int64, _ int) bool { return v <= before || v > after }),
		latencyP99:  metrics.Latencies.P99,
		statusCodes: metrics.StatusCodes,
	}, nil
}

func decodeHit(res *vegeta.Result) (int64, error) {
	if len(res.Error) > 0 {
		return 0, fmt.Errorf("%s", res.Error)
	}
	if res.Code != http.StatusOK {
		return 0, fmt.Errorf("unexpected status code %d", res.Code)
	}
	var v struct {
		Value *int64 `json:"value"`
	}
	if err := json.Unmarshal(res.Body, &v); err != nil {
		return 0, fmt.Errorf("cannot decode %q: %w", res.Body, err)
	}
	if v.Value == nil {
		return 0, fmt.Errorf("no value in %q", res.Body)
	}
	return *v.Value, nil
}
