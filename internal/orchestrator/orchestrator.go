// Package orchestrator runs the two periodic loops the daemon needs once
// its CAN transport and decoder are wired up: the vehicle evaluator tick
// (one UDS request per tick, round-robin) and the data broker drain tick
// (subscriber callbacks fire on published updates).
package orchestrator

import (
	"context"
	"time"

	"github.com/LoveWonYoung/obdtelemetry/internal/logging"
	"github.com/LoveWonYoung/obdtelemetry/internal/metrics"
)

// Evaluator is the narrow interface the orchestrator drives — satisfied by
// *vehicle.Manager.
type Evaluator interface {
	Eval(ctx context.Context) error
}

// Drainer is the narrow interface the orchestrator drives — satisfied by
// *broker.Broker.
type Drainer interface {
	Drain()
}

// Config controls the two loops' tick intervals.
type Config struct {
	EvalInterval  time.Duration
	DrainInterval time.Duration
}

// Run starts both periodic loops and blocks until ctx is cancelled. A
// failed Eval is logged and the loop continues — matching the firmware's
// main loop, which never stops polling just because one request timed out.
func Run(ctx context.Context, cfg Config, eval Evaluator, drain Drainer) {
	done := make(chan struct{}, 2)

	go func() {
		defer func() { done <- struct{}{} }()
		runEvalLoop(ctx, cfg.EvalInterval, eval)
	}()

	go func() {
		defer func() { done <- struct{}{} }()
		runDrainLoop(ctx, cfg.DrainInterval, drain)
	}()

	<-done
	<-done
}

func runEvalLoop(ctx context.Context, interval time.Duration, eval Evaluator) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := eval.Eval(ctx); err != nil {
				logging.L().Debug("vehicle_eval_error", "error", err)
				continue
			}
			metrics.RequestsSent.Inc()
		}
	}
}

func runDrainLoop(ctx context.Context, interval time.Duration, drain Drainer) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			timer := prometheusTimer()
			drain.Drain()
			timer()
		}
	}
}

// prometheusTimer returns a function that, when called, records the
// elapsed time since prometheusTimer was called into the broker drain
// latency histogram.
func prometheusTimer() func() {
	start := time.Now()
	return func() {
		metrics.BrokerDrainLatency.Observe(time.Since(start).Seconds())
	}
}
