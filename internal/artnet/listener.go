package artnet

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jsimonetti/go-artnet/packet"
)

const (
	// DefaultPort is the Art-Net UDP port.
	DefaultPort = 6454

	// readBufferSize holds the largest Art-Net packet (ArtDmx is 530 bytes).
	readBufferSize = 1024

	// maxDMXLength is the DMX-512 payload size.
	maxDMXLength = 512

	// readTimeout lets the receive loop notice Close on platforms where
	// closing the socket does not unblock a pending read.
	readTimeout = time.Second

	// DefaultRetryDelay is the pause after a socket read error before the
	// loop reads again.
	DefaultRetryDelay = 5 * time.Second

	// ArtDmx layout: 8-byte ID, OpCode, ProtVer, Sequence, Physical,
	// SubUni, Net, then the big-endian Length and the data.
	dmxLengthOffset = 16
	dmxHeaderSize   = 18
)

// Handler receives each ArtDmx payload with its 15-bit Port-Address.
// The data slice is only valid for the duration of the call.
type Handler func(address uint16, data []byte)

// Logger defines the logging interface for the listener.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Stats holds receive counters.
type Stats struct {
	Packets      uint64    `json:"packets"`
	DMXPackets   uint64    `json:"dmx_packets"`
	OtherPackets uint64    `json:"other_packets"`
	DecodeErrors uint64    `json:"decode_errors"`
	ReadErrors   uint64    `json:"read_errors"`
	Panics       uint64    `json:"panics"`
	LastActivity time.Time `json:"last_activity"`
}

// Listener receives Art-Net over UDP and hands ArtDmx payloads to a Handler.
//
// Packet decoding is delegated to go-artnet. Packets other than ArtDmx
// (ArtPoll, ArtSync and so on) are counted and ignored.
//
// Thread Safety: Close may be called from any goroutine. Serve runs the
// handler on its own goroutine, one packet at a time.
type Listener struct {
	conn       net.PacketConn
	handler    Handler
	logger     Logger
	retryDelay time.Duration

	closeOnce sync.Once
	done      chan struct{}

	packets      atomic.Uint64
	dmxPackets   atomic.Uint64
	otherPackets atomic.Uint64
	decodeErrors atomic.Uint64
	readErrors   atomic.Uint64
	panics       atomic.Uint64
	lastActivity atomic.Int64
}

// Listen opens a UDP socket on address (host:port).
func Listen(ctx context.Context, address string, handler Handler) (*Listener, error) {
	if handler == nil {
		return nil, fmt.Errorf("%w: handler is required", ErrListenFailed)
	}

	var lc net.ListenConfig
	conn, err := lc.ListenPacket(ctx, "udp4", address)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrListenFailed, address, err)
	}

	return newListener(conn, handler), nil
}

func newListener(conn net.PacketConn, handler Handler) *Listener {
	return &Listener{
		conn:       conn,
		handler:    handler,
		logger:     noopLogger{},
		retryDelay: DefaultRetryDelay,
		done:       make(chan struct{}),
	}
}

// SetLogger sets the logger for the listener.
func (l *Listener) SetLogger(logger Logger) {
	l.logger = logger
}

// Addr returns the bound local address.
func (l *Listener) Addr() net.Addr {
	return l.conn.LocalAddr()
}

// Serve reads packets until Close is called or ctx is cancelled, and then
// returns nil.
//
// Socket read errors other than the polling timeout are logged and
// counted, and the loop retries after a pause. A bad packet or a failing
// handler never stops the loop.
func (l *Listener) Serve(ctx context.Context) error {
	l.logger.Info("art-net listener started", "address", l.conn.LocalAddr().String())

	stop := context.AfterFunc(ctx, func() { l.Close() }) //nolint:errcheck // close error logged by caller
	defer stop()

	buf := make([]byte, readBufferSize)
	for {
		if l.isClosed() {
			return nil
		}

		//nolint:errcheck // Best-effort deadline; read error handled below
		l.conn.SetReadDeadline(time.Now().Add(readTimeout))

		n, src, err := l.conn.ReadFrom(buf)
		if err != nil {
			if l.isClosed() {
				return nil
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			l.readErrors.Add(1)
			l.logger.Error("art-net read failed, retrying",
				"error", err,
				"retry_in", l.retryDelay,
			)
			if !l.pause(l.retryDelay) {
				return nil
			}
			continue
		}

		l.handlePacket(buf[:n], src)
	}
}

// pause waits for d. It returns false if the listener was closed meanwhile.
func (l *Listener) pause(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-l.done:
		return false
	case <-timer.C:
		return true
	}
}

// handlePacket decodes one datagram and dispatches ArtDmx payloads.
// A panic in the decoder or the handler is counted and logged.
func (l *Listener) handlePacket(b []byte, src net.Addr) {
	defer func() {
		if r := recover(); r != nil {
			l.panics.Add(1)
			l.logger.Error("art-net packet handler panic recovered", "source", addrString(src), "panic", r)
		}
	}()

	l.packets.Add(1)
	l.lastActivity.Store(time.Now().Unix())

	p, err := packet.Unmarshal(b)
	if err != nil {
		l.decodeErrors.Add(1)
		l.logger.Debug("discarding undecodable packet", "source", addrString(src), "error", err)
		return
	}

	dmx, ok := p.(*packet.ArtDMXPacket)
	if !ok {
		l.otherPackets.Add(1)
		return
	}
	l.dmxPackets.Add(1)

	l.handler(PortAddress(dmx.Net, dmx.SubUni), dmxData(b))
}

// dmxData returns the DMX payload of a raw ArtDmx datagram: Length bytes
// after the header, trimmed to what was received and to 512 channels.
func dmxData(b []byte) []byte {
	if len(b) < dmxHeaderSize {
		return nil
	}
	n := int(binary.BigEndian.Uint16(b[dmxLengthOffset:dmxHeaderSize]))
	n = min(n, len(b)-dmxHeaderSize, maxDMXLength)
	return b[dmxHeaderSize : dmxHeaderSize+n]
}

func addrString(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}

// PortAddress combines the ArtDmx Net and SubUni fields into the 15-bit
// Port-Address: net<<8 | subnet<<4 | universe.
func PortAddress(netNum, subUni uint8) uint16 {
	return uint16(netNum&0x7F)<<8 | uint16(subUni)
}

// Close stops Serve and releases the socket. Safe to call more than once.
func (l *Listener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.done)
		err = l.conn.Close()
		l.logger.Info("art-net listener closed")
	})
	return err
}

func (l *Listener) isClosed() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

// Stats returns the receive counters.
func (l *Listener) Stats() Stats {
	return Stats{
		Packets:      l.packets.Load(),
		DMXPackets:   l.dmxPackets.Load(),
		OtherPackets: l.otherPackets.Load(),
		DecodeErrors: l.decodeErrors.Load(),
		ReadErrors:   l.readErrors.Load(),
		Panics:       l.panics.Load(),
		LastActivity: time.Unix(l.lastActivity.Load(), 0),
	}
}
