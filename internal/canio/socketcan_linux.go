//go:build linux

package canio

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"sync"

	"golang.org/x/sys/unix"
)

// socketCAN is the on-chip CAN controller backend: a raw AF_CAN socket bound
// to one interface. This is the production backend for the embedded target;
// everywhere else (bench, desktop) the other Backend implementations stand
// in for it.
type socketCAN struct {
	iface string

	mu     sync.Mutex
	fd     int
	closed bool

	rx  chan Frame
	err chan ErrorKind
}

// NewSocketCAN builds the on-chip CAN backend bound to the named interface
// (e.g. "can0"). The link must already be brought up (ip link set can0 up)
// by whatever owns the network namespace; this backend only opens a raw
// socket against it.
func NewSocketCAN(iface string) Backend {
	return &socketCAN{
		iface: iface,
		fd:    -1,
		rx:    make(chan Frame, RxChannelBufferSize),
		err:   make(chan ErrorKind, ErrorChannelBufferSize),
	}
}

func (s *socketCAN) Start(ctx context.Context) error {
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return fmt.Errorf("socketcan: open raw socket: %w", err)
	}

	// CAN FD frames are opt-in; tolerate kernels/interfaces that don't
	// support the option at all.
	if err := unix.SetsockoptInt(fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FD_FRAMES, 1); err != nil {
		if err != unix.ENOPROTOOPT {
			unix.Close(fd)
			return fmt.Errorf("socketcan: enable fd frames: %w", err)
		}
	}

	ifc, err := net.InterfaceByName(s.iface)
	if err != nil {
		unix.Close(fd)
		return fmt.Errorf("socketcan: lookup interface %s: %w", s.iface, err)
	}

	addr := &unix.SockaddrCAN{Ifindex: ifc.Index}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return fmt.Errorf("socketcan: bind %s: %w", s.iface, err)
	}

	s.mu.Lock()
	s.fd = fd
	s.mu.Unlock()

	go s.readLoop(ctx, fd)
	return nil
}

func (s *socketCAN) readLoop(ctx context.Context, fd int) {
	defer close(s.rx)
	buf := make([]byte, unix.CANFD_MTU)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, _, err := unix.Recvfrom(fd, buf, 0)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			select {
			case s.err <- ErrorLinkLost:
			default:
			}
			return
		}
		frame, ok := decodeCANFrame(buf[:n])
		if !ok {
			continue
		}
		select {
		case s.rx <- frame:
		case <-ctx.Done():
			return
		}
	}
}

func decodeCANFrame(buf []byte) (Frame, bool) {
	if len(buf) < 8 {
		return Frame{}, false
	}
	canID := binary.LittleEndian.Uint32(buf[0:4])
	length := buf[4]
	fd := len(buf) == unix.CANFD_MTU
	extended := canID&unix.CAN_EFF_FLAG != 0
	id := canID & unix.CAN_EFF_MASK
	if !extended {
		id = canID & unix.CAN_SFF_MASK
	}

	dataOffset := 8
	if int(length) > len(buf)-dataOffset {
		return Frame{}, false
	}
	data := make([]byte, length)
	copy(data, buf[dataOffset:dataOffset+int(length)])
	return Frame{ID: id, Extended: extended, FD: fd, Data: data}, true
}

func encodeCANFrame(f Frame) []byte {
	mtu := unix.CAN_MTU
	if f.FD {
		mtu = unix.CANFD_MTU
	}
	buf := make([]byte, mtu)
	id := f.ID
	if f.Extended {
		id |= unix.CAN_EFF_FLAG
	}
	binary.LittleEndian.PutUint32(buf[0:4], id)
	buf[4] = byte(len(f.Data))
	copy(buf[8:], f.Data)
	return buf
}

func (s *socketCAN) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.fd < 0 {
		return nil
	}
	s.closed = true
	return unix.Close(s.fd)
}

func (s *socketCAN) Write(ctx context.Context, f Frame) error {
	s.mu.Lock()
	fd := s.fd
	closed := s.closed
	s.mu.Unlock()
	if closed || fd < 0 {
		return ErrNotConnected
	}
	buf := encodeCANFrame(f)
	return unix.Send(fd, buf, 0)
}

func (s *socketCAN) RxChan() <-chan Frame { return s.rx }

func (s *socketCAN) Errors() <-chan ErrorKind { return s.err }
