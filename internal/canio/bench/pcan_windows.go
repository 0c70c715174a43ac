//go:build windows

// Package bench adapts the teacher's PCAN-Basic binding into a second, real
// canio.Backend for running the telemetry engine against a desktop CAN
// interface instead of the embedded on-chip controller. It speaks classic
// CAN only; the FD/multi-vendor SDK breadth of the original driver package
// is dropped (see the project's design notes for why).
package bench

import (
	"context"
	"fmt"
	"syscall"
	"unsafe"

	"github.com/LoveWonYoung/obdtelemetry/internal/canio"
)

const (
	pcanDefaultChannel = 0x51 // PCAN_USBBUS1
	pcanBaud500K       = 0x001C
	pcanErrorOK        = 0x00000
	pcanErrorQRCVEmpty = 0x00020
	pcanMessageStandard = 0x00
	pcanMessageExtended = 0x02
)

type pcanMsg struct {
	ID      uint32
	MsgType uint8
	Len     uint8
	Data    [8]byte
}

// PCAN is a bench-only Backend: a Windows desktop CAN interface behind the
// PCANBasic.dll API, used to exercise the daemon against real traffic off
// the embedded target.
type PCAN struct {
	channel byte

	dll        *syscall.LazyDLL
	initProc   *syscall.LazyProc
	uninitProc *syscall.LazyProc
	readProc   *syscall.LazyProc
	writeProc  *syscall.LazyProc

	rx  chan canio.Frame
	err chan canio.ErrorKind
}

// New constructs the bench backend against the given PCAN channel (0 selects
// PCAN_USBBUS1).
func New(channel byte) *PCAN {
	if channel == 0 {
		channel = pcanDefaultChannel
	}
	return &PCAN{
		channel: channel,
		rx:      make(chan canio.Frame, canio.RxChannelBufferSize),
		err:     make(chan canio.ErrorKind, canio.ErrorChannelBufferSize),
	}
}

func (p *PCAN) Start(ctx context.Context) error {
	p.dll = syscall.NewLazyDLL("PCANBasic.dll")
	p.initProc = p.dll.NewProc("CAN_Initialize")
	p.uninitProc = p.dll.NewProc("CAN_Uninitialize")
	p.readProc = p.dll.NewProc("CAN_Read")
	p.writeProc = p.dll.NewProc("CAN_Write")

	status, _, _ := p.initProc.Call(uintptr(p.channel), uintptr(pcanBaud500K), 0, 0, 0)
	if uint32(status) != pcanErrorOK {
		return fmt.Errorf("bench: pcan init failed: status=0x%X", uint32(status))
	}

	go p.readLoop(ctx)
	return nil
}

func (p *PCAN) readLoop(ctx context.Context) {
	defer close(p.rx)
	var msg pcanMsg
	var ts [3]uint32
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		status, _, _ := p.readProc.Call(
			uintptr(p.channel),
			uintptr(unsafe.Pointer(&msg)),
			uintptr(unsafe.Pointer(&ts)),
		)
		switch uint32(status) {
		case pcanErrorOK:
			frame := canio.Frame{
				ID:       msg.ID,
				Extended: msg.MsgType&pcanMessageExtended != 0,
				Data:     append([]byte(nil), msg.Data[:msg.Len]...),
			}
			select {
			case p.rx <- frame:
			case <-ctx.Done():
				return
			}
		case pcanErrorQRCVEmpty:
			continue
		default:
			select {
			case p.err <- canio.ErrorLinkLost:
			default:
			}
		}
	}
}

func (p *PCAN) Stop() error {
	if p.uninitProc != nil {
		p.uninitProc.Call(uintptr(p.channel))
	}
	return nil
}

func (p *PCAN) Write(ctx context.Context, f canio.Frame) error {
	var msg pcanMsg
	msg.ID = f.ID
	if f.Extended {
		msg.MsgType = pcanMessageExtended
	} else {
		msg.MsgType = pcanMessageStandard
	}
	msg.Len = byte(len(f.Data))
	copy(msg.Data[:], f.Data)

	status, _, _ := p.writeProc.Call(uintptr(p.channel), uintptr(unsafe.Pointer(&msg)))
	if uint32(status) != pcanErrorOK {
		return fmt.Errorf("bench: pcan write failed: status=0x%X", uint32(status))
	}
	return nil
}

func (p *PCAN) RxChan() <-chan canio.Frame     { return p.rx }
func (p *PCAN) Errors() <-chan canio.ErrorKind { return p.err }
