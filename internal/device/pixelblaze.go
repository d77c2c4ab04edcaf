package device

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Pixelblaze defaults used when PixelblazeOptions leaves a field zero.
const (
	DefaultPixelblazePort     = 81
	defaultDialTimeout        = time.Second
	defaultReconnectInterval  = 2 * time.Second
	defaultPixelblazeDeadline = time.Second
)

// Logger is the logging interface used by drivers.
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

// PixelblazeOptions configures a PixelblazeDriver.
type PixelblazeOptions struct {
	// Address is the controller's host or IP.
	Address string

	// Port is the controller's websocket port. Default: 81.
	Port int

	// ChannelsPerPixel is reported to the pattern alongside each frame.
	ChannelsPerPixel int

	DialTimeout       time.Duration
	ReconnectInterval time.Duration

	Logger Logger
}

// PixelblazeDriver pushes frames to a Pixelblaze controller over its
// websocket API.
//
// The connection is dialled lazily on the first Send and re-dialled after
// a failure, at most once per ReconnectInterval. Frames are written as a
// setVars text message which the running pattern reads from its exported
// "frame" array.
//
// Thread Safety: All methods are safe for concurrent use.
type PixelblazeDriver struct {
	url       string
	channels  int
	dialer    *websocket.Dialer
	reconnect time.Duration
	logger    Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	lastDial time.Time
	closed   bool
}

// NewPixelblazeDriver creates a driver. No connection is made until Send.
func NewPixelblazeDriver(opts PixelblazeOptions) *PixelblazeDriver {
	if opts.Port == 0 {
		opts.Port = DefaultPixelblazePort
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = defaultDialTimeout
	}
	if opts.ReconnectInterval <= 0 {
		opts.ReconnectInterval = defaultReconnectInterval
	}
	if opts.ChannelsPerPixel <= 0 {
		opts.ChannelsPerPixel = 3
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}

	u := url.URL{
		Scheme: "ws",
		Host:   net.JoinHostPort(opts.Address, strconv.Itoa(opts.Port)),
		Path:   "/",
	}

	return &PixelblazeDriver{
		url:      u.String(),
		channels: opts.ChannelsPerPixel,
		dialer: &websocket.Dialer{
			HandshakeTimeout: opts.DialTimeout,
		},
		reconnect: opts.ReconnectInterval,
		logger:    opts.Logger,
	}
}

// URL returns the websocket endpoint the driver dials.
func (p *PixelblazeDriver) URL() string {
	return p.url
}

// Connected reports whether the driver currently holds an open connection.
func (p *PixelblazeDriver) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn != nil
}

// Send writes one frame, dialling first if needed.
func (p *PixelblazeDriver) Send(ctx context.Context, frame []byte) error {
	msg, err := EncodePixelblazeFrame(frame, p.channels)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrDriverClosed
	}

	if p.conn == nil {
		if err := p.dialLocked(ctx); err != nil {
			return err
		}
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultPixelblazeDeadline)
	}
	conn := p.conn
	//nolint:errcheck // Best-effort deadline; write error caught below
	conn.SetWriteDeadline(deadline)

	// Cancellation expires the deadline so a stalled write returns at once.
	stop := context.AfterFunc(ctx, func() {
		conn.SetWriteDeadline(time.Now()) //nolint:errcheck // best effort
	})
	defer stop()

	if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		p.logger.Debug("pixelblaze write failed, dropping connection", "url", p.url, "error", err)
		p.conn.Close()
		p.conn = nil
		return fmt.Errorf("writing frame: %w", err)
	}
	return nil
}

// dialLocked opens the connection, honouring the reconnect interval.
// Caller must hold p.mu.
func (p *PixelblazeDriver) dialLocked(ctx context.Context) error {
	if !p.lastDial.IsZero() && time.Since(p.lastDial) < p.reconnect {
		return ErrReconnectBackoff
	}
	p.lastDial = time.Now()

	conn, resp, err := p.dialer.DialContext(ctx, p.url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrConnectionFailed, p.url, err)
	}

	p.logger.Info("pixelblaze connected", "url", p.url)
	p.conn = conn
	go p.drain(conn)
	return nil
}

// drain discards inbound messages (the controller pushes stats and
// preview frames) so control frames are processed. It exits when the
// connection closes.
func (p *PixelblazeDriver) drain(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			p.mu.Lock()
			if p.conn == conn {
				p.conn = nil
				conn.Close()
			}
			p.mu.Unlock()
			return
		}
	}
}

// Close sends a close frame and releases the connection. Later Sends fail
// with ErrDriverClosed.
func (p *PixelblazeDriver) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	if p.conn == nil {
		return nil
	}
	conn := p.conn
	p.conn = nil

	//nolint:errcheck // Best-effort close message
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(defaultPixelblazeDeadline))
	return conn.Close()
}

// pixelblazeMessage is the setVars envelope understood by the Pixelblaze
// websocket API.
type pixelblazeMessage struct {
	SetVars pixelblazeVars `json:"setVars"`
}

type pixelblazeVars struct {
	Channels int       `json:"channels"`
	Frame    []float64 `json:"frame"`
}

// EncodePixelblazeFrame packs a byte buffer into a setVars message.
//
// Every three bytes become one number a + b/256 + c/65536, which is exact
// in the controller's 16.16 fixed-point format. A trailing partial triple
// is zero-padded.
func EncodePixelblazeFrame(frame []byte, channelsPerPixel int) ([]byte, error) {
	packed := make([]float64, 0, (len(frame)+2)/3)
	for i := 0; i < len(frame); i += 3 {
		var b [3]byte
		copy(b[:], frame[i:])
		packed = append(packed, float64(b[0])+float64(b[1])/256+float64(b[2])/65536)
	}

	data, err := json.Marshal(pixelblazeMessage{
		SetVars: pixelblazeVars{Channels: channelsPerPixel, Frame: packed},
	})
	if err != nil {
		return nil, fmt.Errorf("encoding frame: %w", err)
	}
	return data, nil
}
