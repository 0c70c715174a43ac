//go:build !windows

// Package bench adapts the teacher's PCAN-Basic binding into a second, real
// canio.Backend for running the telemetry engine against a desktop CAN
// interface instead of the embedded on-chip controller. The PCANBasic.dll
// binding is Windows-only, so non-Windows builds get a stub that reports
// itself unsupported rather than failing to compile.
package bench

import (
	"context"
	"fmt"

	"github.com/LoveWonYoung/obdtelemetry/internal/canio"
)

type stub struct{}

// New constructs the bench backend. On non-Windows platforms it always
// returns a stub whose Start fails, since PCANBasic.dll only loads on
// Windows.
func New(channel byte) *stub {
	return &stub{}
}

func (stub) Start(ctx context.Context) error { return fmt.Errorf("bench: pcan backend requires windows") }
func (stub) Stop() error                     { return nil }
func (stub) Write(ctx context.Context, f canio.Frame) error {
	return fmt.Errorf("bench: pcan backend requires windows")
}
func (stub) RxChan() <-chan canio.Frame     { return nil }
func (stub) Errors() <-chan canio.ErrorKind { return nil }
