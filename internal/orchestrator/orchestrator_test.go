package orchestrator

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type countingEvaluator struct {
	calls atomic.Int32
}

func (e *countingEvaluator) Eval(ctx context.Context) error {
	e.calls.Add(1)
	return nil
}

type countingDrainer struct {
	calls atomic.Int32
}

func (d *countingDrainer) Drain() {
	d.calls.Add(1)
}

func TestRunTicksBothLoopsUntilCancelled(t *testing.T) {
	eval := &countingEvaluator{}
	drain := &countingDrainer{}

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()

	Run(ctx, Config{EvalInterval: 10 * time.Millisecond, DrainInterval: 20 * time.Millisecond}, eval, drain)

	require.Greater(t, eval.calls.Load(), int32(1))
	require.Greater(t, drain.calls.Load(), int32(1))
}

type erroringEvaluator struct {
	calls atomic.Int32
}

func (e *erroringEvaluator) Eval(ctx context.Context) error {
	e.calls.Add(1)
	return context.DeadlineExceeded
}

func TestRunContinuesAfterEvalError(t *testing.T) {
	eval := &erroringEvaluator{}
	drain := &countingDrainer{}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	Run(ctx, Config{EvalInterval: 10 * time.Millisecond, DrainInterval: 10 * time.Millisecond}, eval, drain)

	require.Greater(t, eval.calls.Load(), int32(1))
}
