// Package channel implements an in-process transport.Link backed by Go
// channels, the default substrate for simulated neighbor connections when
// no physical link (serial, MQTT) is configured. Grounded on the teacher's
// transport.mqtt.Transport lifecycle (Start/Stop, SetPacketHandler,
// SetStateHandler) with the broker replaced by a pair of byte channels.
package channel

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/kabili207/dronenet-go/core/wire"
	"github.com/kabili207/dronenet-go/transport"
)

// ErrClosed is returned by SendPacket once the link has been stopped, and
// also when the outbound buffer is full.
var ErrClosed = errors.New("channel: link closed")

// Link is an in-process transport.Link. Out carries encoded packets to the
// neighbor; In carries encoded packets arriving from the neighbor.
type Link struct {
	out chan<- []byte
	in  <-chan []byte

	logger *slog.Logger

	mu           sync.Mutex
	connected    bool
	cancel       context.CancelFunc
	packetFn     transport.PacketHandler
	stateFn      transport.StateHandler
}

// New returns a Link that writes to out and reads from in.
func New(in <-chan []byte, out chan<- []byte, logger *slog.Logger) *Link {
	if logger == nil {
		logger = slog.Default()
	}
	return &Link{in: in, out: out, logger: logger.WithGroup("channel")}
}

// Pair constructs two Links wired to each other, simulating a direct
// neighbor connection between two clients in the same process.
func Pair(logger *slog.Logger) (a, b *Link) {
	ab := make(chan []byte, 64)
	ba := make(chan []byte, 64)
	return New(ba, ab, logger), New(ab, ba, logger)
}

// Start begins the read loop in a goroutine and returns at once. The loop
// ends when ctx is canceled, Stop is called, or the inbound channel closes.
func (l *Link) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	l.mu.Lock()
	l.cancel = cancel
	l.connected = true
	l.mu.Unlock()
	l.notifyState(transport.EventConnected)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case data, ok := <-l.in:
				if !ok {
					return
				}
				p, err := wire.ReadFrom(data)
				if err != nil {
					l.logger.Error("decode failed", "err", err)
					continue
				}
				l.mu.Lock()
				handler := l.packetFn
				l.mu.Unlock()
				if handler != nil {
					handler(p)
				}
			}
		}
	}()
	return nil
}

// Stop terminates the read loop.
func (l *Link) Stop() error {
	l.mu.Lock()
	cancel := l.cancel
	l.connected = false
	l.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	l.notifyState(transport.EventDisconnected)
	return nil
}

// IsConnected reports whether Start has been called without a matching Stop.
func (l *Link) IsConnected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected
}

// SetPacketHandler registers fn to receive decoded inbound packets.
func (l *Link) SetPacketHandler(fn transport.PacketHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.packetFn = fn
}

// SetStateHandler registers fn to receive connection state transitions.
func (l *Link) SetStateHandler(fn transport.StateHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stateFn = fn
}

func (l *Link) notifyState(e transport.Event) {
	l.mu.Lock()
	fn := l.stateFn
	l.mu.Unlock()
	if fn != nil {
		fn(e)
	}
}

// SendPacket encodes p and writes it to the neighbor without blocking. It
// returns ErrClosed if the link is stopped or the outbound buffer is full.
func (l *Link) SendPacket(p *wire.Packet) error {
	if !l.IsConnected() {
		return ErrClosed
	}
	data, err := p.WriteTo()
	if err != nil {
		return err
	}
	select {
	case l.out <- data:
		return nil
	default:
		return ErrClosed
	}
}
