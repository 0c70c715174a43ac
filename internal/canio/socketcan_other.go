//go:build !linux

package canio

import (
	"context"
	"errors"
)

// ErrUnsupportedPlatform is returned by NewSocketCAN on non-Linux builds;
// raw AF_CAN sockets are a Linux-only facility.
var ErrUnsupportedPlatform = errors.New("socketcan: not supported on this platform")

type socketCANStub struct{}

// NewSocketCAN on non-Linux platforms returns a Backend whose Start always
// fails, so daemon wiring does not need a second build-tagged call site.
func NewSocketCAN(iface string) Backend {
	return socketCANStub{}
}

func (socketCANStub) Start(ctx context.Context) error { return ErrUnsupportedPlatform }
func (socketCANStub) Stop() error                     { return nil }
func (socketCANStub) Write(ctx context.Context, f Frame) error {
	return ErrUnsupportedPlatform
}
func (socketCANStub) RxChan() <-chan Frame       { return nil }
func (socketCANStub) Errors() <-chan ErrorKind   { return nil }
