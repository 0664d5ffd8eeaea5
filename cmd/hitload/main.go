// hitload fires increments at a running service and checks that every
// successful hit is reflected in the counter exactly once.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	vegeta "github.com/tsenart/vegeta/v12/lib"

	"github.com/contentsquare/hitcounter/client"
	"github.com/contentsquare/hitcounter/log"
)

var (
	optURL      = flag.String("url", "", "Base URL of the service. Defaults to $HITCOUNTER_URL or http://127.0.0.1:8000")
	optRate     = flag.Int("rate", 50, "Number of hits per second")
	optDuration = flag.Duration("duration", 10*time.Second, "Duration of the test")
	optWorkers  = flag.Uint64("workers", vegeta.DefaultWorkers, "Number of initial workers")
	optDebug    = flag.Bool("debug", false, "Whether to print debug logs")
)

func main() {
	// .env is optional
	_ = godotenv.Load()
	flag.Parse()
	log.SetDebug(*optDebug)

	baseURL := *optURL
	if len(baseURL) == 0 {
		baseURL = os.Getenv("HITCOUNTER_URL")
	}
	if len(baseURL) == 0 {
		baseURL = "http://127.0.0.1:8000"
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r, err := run(ctx, client.New(baseURL, nil), options{
		rate:     vegeta.Rate{Freq: *optRate, Per: time.Second},
		duration: *optDuration,
		workers:  *optWorkers,
	})
	if err != nil {
		log.Fatalf("load test against %s failed: %s", baseURL, err)
	}
	r.print()
	if !r.ok() {
		os.Exit(1)
	}
}
