// Package serial implements a transport.Link over a physical serial
// connection to a drone, framing packets with a simple magic-prefixed,
// length-delimited, checksummed envelope. Adapted from the teacher's
// transport/serial.Transport (go.bug.st/serial, RS232 frame assembly loop,
// magic-byte resync on a corrupt frame), replacing MeshCore's Fletcher-16
// RS232 framing with one sized for the wire.Packet codec.
package serial

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/kabili207/dronenet-go/core/wire"
	"github.com/kabili207/dronenet-go/transport"
	bugst "go.bug.st/serial"
)

var _ transport.Link = (*Link)(nil)

const (
	// DefaultBaudRate matches the teacher's MeshCore default.
	DefaultBaudRate = 115200

	readBufSize = 1024
	headerSize  = 6 // 2 magic + 4 length

	magicHi byte = 0xDE
	magicLo byte = 0xAD
)

var (
	errIncompleteFrame = errors.New("serial: incomplete frame")
	errBadChecksum     = errors.New("serial: checksum mismatch")
)

// Config holds the configuration for a serial Link.
type Config struct {
	Port     string
	BaudRate int
	Logger   *slog.Logger
}

// Link implements transport.Link over a serial connection.
type Link struct {
	cfg Config
	log *slog.Logger

	mu            sync.RWMutex
	port          bugst.Port
	connected     bool
	cancel        context.CancelFunc
	done          chan struct{}
	packetHandler transport.PacketHandler
	stateHandler  transport.StateHandler
}

// New creates a serial Link with the given configuration.
func New(cfg Config) *Link {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Link{cfg: cfg, log: cfg.Logger.WithGroup("serial")}
}

// Start opens the serial port and begins the read loop.
func (l *Link) Start(ctx context.Context) error {
	if l.cfg.Port == "" {
		return errors.New("serial: port is required")
	}
	port, err := bugst.Open(l.cfg.Port, &bugst.Mode{BaudRate: l.cfg.BaudRate})
	if err != nil {
		return fmt.Errorf("opening serial port: %w", err)
	}

	l.mu.Lock()
	l.port = port
	l.connected = true
	l.done = make(chan struct{})
	l.mu.Unlock()

	readCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	go l.readLoop(readCtx)

	l.log.Info("connected to serial port", "port", l.cfg.Port, "baud", l.cfg.BaudRate)
	l.notifyState(transport.EventConnected)
	return nil
}

// Stop closes the serial port and stops the read loop.
func (l *Link) Stop() error {
	if l.cancel != nil {
		l.cancel()
	}

	l.mu.Lock()
	l.connected = false
	port := l.port
	l.port = nil
	done := l.done
	l.mu.Unlock()

	var err error
	if port != nil {
		err = port.Close()
	}
	if done != nil {
		<-done
	}
	l.notifyState(transport.EventDisconnected)
	return err
}

// IsConnected reports whether the serial port is currently open.
func (l *Link) IsConnected() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.connected
}

// SetPacketHandler registers fn to receive decoded inbound packets.
func (l *Link) SetPacketHandler(fn transport.PacketHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.packetHandler = fn
}

// SetStateHandler registers fn to receive connection state transitions.
func (l *Link) SetStateHandler(fn transport.StateHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stateHandler = fn
}

func (l *Link) notifyState(e transport.Event) {
	l.mu.RLock()
	fn := l.stateHandler
	l.mu.RUnlock()
	if fn != nil {
		fn(e)
	}
}

// SendPacket frames and writes a packet to the serial port.
func (l *Link) SendPacket(p *wire.Packet) error {
	l.mu.RLock()
	port := l.port
	connected := l.connected
	l.mu.RUnlock()
	if !connected || port == nil {
		return errors.New("serial: not connected")
	}

	data, err := p.WriteTo()
	if err != nil {
		return err
	}
	frame := encodeFrame(data)
	if _, err := port.Write(frame); err != nil {
		return fmt.Errorf("writing to serial port: %w", err)
	}
	return nil
}

func encodeFrame(payload []byte) []byte {
	frame := make([]byte, 0, headerSize+len(payload)+1)
	frame = append(frame, magicHi, magicLo)
	frame = binary.BigEndian.AppendUint32(frame, uint32(len(payload)))
	frame = append(frame, payload...)
	frame = append(frame, checksum(payload))
	return frame
}

func checksum(payload []byte) byte {
	var sum byte
	for _, b := range payload {
		sum += b
	}
	return sum
}

// decodeFrame extracts one complete frame from data, returning the payload
// and remaining bytes. errIncompleteFrame means the caller should wait for
// more data; any other error means the frame was corrupt and the caller
// should resync on the next magic sequence.
func decodeFrame(data []byte) (payload []byte, remaining []byte, err error) {
	if len(data) < headerSize {
		return nil, data, errIncompleteFrame
	}
	if data[0] != magicHi || data[1] != magicLo {
		return nil, data, errors.New("serial: bad magic")
	}
	length := binary.BigEndian.Uint32(data[2:6])
	total := headerSize + int(length) + 1
	if len(data) < total {
		return nil, data, errIncompleteFrame
	}
	body := data[headerSize : headerSize+int(length)]
	if data[total-1] != checksum(body) {
		return nil, data[1:], errBadChecksum
	}
	return body, data[total:], nil
}

func findMagic(data []byte) int {
	for i := 0; i+1 < len(data); i++ {
		if data[i] == magicHi && data[i+1] == magicLo {
			return i
		}
	}
	return -1
}

func (l *Link) readLoop(ctx context.Context) {
	defer close(l.done)

	buf := make([]byte, readBufSize)
	var assembly []byte

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		l.mu.RLock()
		port := l.port
		l.mu.RUnlock()
		if port == nil {
			return
		}

		n, err := port.Read(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, io.EOF) {
				l.handleDisconnect(err)
				return
			}
			l.log.Error("serial read error", "err", err)
			l.handleDisconnect(err)
			return
		}
		if n == 0 {
			continue
		}

		assembly = append(assembly, buf[:n]...)
		assembly = l.processFrames(assembly)
	}
}

func (l *Link) processFrames(data []byte) []byte {
	for len(data) >= headerSize {
		payload, remaining, err := decodeFrame(data)
		if err != nil {
			if errors.Is(err, errIncompleteFrame) {
				return data
			}
			if idx := findMagic(data[1:]); idx >= 0 {
				data = data[1+idx:]
				continue
			}
			return nil
		}
		data = remaining

		p, err := wire.ReadFrom(payload)
		if err != nil {
			l.log.Debug("failed to parse packet from frame", "err", err)
			continue
		}

		l.mu.RLock()
		handler := l.packetHandler
		l.mu.RUnlock()
		if handler != nil {
			handler(p)
		}
	}
	return data
}

func (l *Link) handleDisconnect(err error) {
	l.mu.Lock()
	l.connected = false
	l.mu.Unlock()
	if err != nil {
		l.log.Error("serial disconnected", "err", err)
	}
	l.notifyState(transport.EventDisconnected)
}
