// Package main drives a small fleet of demo tasks against a pulseboard
// server, exercising the client library end to end.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pulseboard/pulseboard/internal/client"
	"github.com/pulseboard/pulseboard/internal/config"
	"github.com/pulseboard/pulseboard/internal/logging"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	serverFlag := flag.String("server", "", "Progress endpoint URL (overrides config)")
	tokenFlag := flag.String("token", "", "API token (overrides config)")
	bars := flag.Int("bars", 3, "Number of concurrent tasks to simulate")
	total := flag.Float64("total", 50, "Units of work per task")
	stepDelay := flag.Duration("step-delay", 150*time.Millisecond, "Base delay between work steps")
	pushInterval := flag.Duration("push-interval", 0, "Minimum spacing between deliveries (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Must(cfg.Logging.Development)
	defer func() { _ = logger.Sync() }()

	serverURL := cfg.Client.ServerURL
	if *serverFlag != "" {
		serverURL = *serverFlag
	}
	token := cfg.Client.APIToken
	if *tokenFlag != "" {
		token = *tokenFlag
	}
	interval := cfg.Client.PushInterval()
	if *pushInterval > 0 {
		interval = *pushInterval
	}

	logger.Info("demo starting",
		zap.String("server", serverURL),
		zap.Int("bars", *bars),
		zap.Float64("total", *total))

	var wg sync.WaitGroup
	for i := 0; i < *bars; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			runTask(taskParams{
				worker:         worker,
				serverURL:      serverURL,
				token:          token,
				total:          *total,
				stepDelay:      *stepDelay,
				pushInterval:   interval,
				requestTimeout: cfg.Client.RequestTimeout(),
			}, logger)
		}(i + 1)
	}
	wg.Wait()

	logger.Info("demo complete")
}

type taskParams struct {
	worker         int
	serverURL      string
	token          string
	total          float64
	stepDelay      time.Duration
	pushInterval   time.Duration
	requestTimeout time.Duration
}

// runTask walks one bar from start to close with jittered sleeps between
// steps, switching the description at the halfway mark.
func runTask(p taskParams, logger *zap.Logger) {
	bar, err := client.New(client.Config{
		ServerURL:      p.serverURL,
		Token:          p.token,
		PushInterval:   p.pushInterval,
		RequestTimeout: p.requestTimeout,
		Desc:           fmt.Sprintf("demo task %d: warming up", p.worker),
		Total:          p.total,
		Unit:           "steps",
		Meta:           map[string]any{"worker": p.worker},
		HostMeta:       true,
		Logger:         logger.Named("bar"),
	})
	if err != nil {
		logger.Error("bar init failed", zap.Int("worker", p.worker), zap.Error(err))
		return
	}

	logger.Info("task started",
		zap.Int("worker", p.worker),
		zap.String("task_id", bar.TaskID()))

	for done := 0.0; done < p.total; done++ {
		time.Sleep(jitter(p.stepDelay))
		bar.Add(1)
		if done+1 == p.total/2 {
			bar.SetDescription(fmt.Sprintf("demo task %d: second half", p.worker))
		}
	}

	_ = bar.Close()
	logger.Info("task finished",
		zap.Int("worker", p.worker),
		zap.String("task_id", bar.TaskID()))
}

// jitter returns a duration between base/2 and 3*base/2.
func jitter(base time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	return base/2 + time.Duration(rand.Int63n(int64(base)))
}
