// Package mqtt implements a transport.Link over an MQTT broker, adapted
// from the teacher's transport/mqtt.Transport: base64-encoded packets
// published and subscribed on a per-neighbor topic, auto-reconnect, and
// connect/lost callbacks wired to transport.StateHandler.
package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/kabili207/dronenet-go/core/wire"
	"github.com/kabili207/dronenet-go/transport"
)

var _ transport.Link = (*Link)(nil)

// DefaultTopicPrefix is the value New stores in Config.TopicPrefix when it
// is empty.
const DefaultTopicPrefix = "dronenet"

// Config holds the configuration for an MQTT Link. Unlike a mesh-wide
// MQTT topic, each Link here corresponds to exactly one neighbor: it
// publishes to LocalTopic and subscribes to PeerTopic, both used exactly
// as given. TopicPrefix is kept in the configuration but is not applied
// to either topic.
type Config struct {
	Broker      string
	Username    string
	Password    string
	UseTLS      bool
	ClientID    string
	TopicPrefix string
	LocalTopic  string
	PeerTopic   string
	Logger      *slog.Logger
}

// Link implements transport.Link over MQTT.
type Link struct {
	cfg    Config
	client paho.Client
	log    *slog.Logger

	mu            sync.RWMutex
	connected     bool
	packetHandler transport.PacketHandler
	stateHandler  transport.StateHandler
}

// New creates an MQTT Link with the given configuration.
func New(cfg Config) *Link {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = DefaultTopicPrefix
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Link{cfg: cfg, log: cfg.Logger.WithGroup("mqtt")}
}

// Start connects to the broker and subscribes to the peer's topic.
func (l *Link) Start(ctx context.Context) error {
	if l.cfg.Broker == "" {
		return errors.New("mqtt: broker URL is required")
	}
	if l.cfg.PeerTopic == "" {
		return errors.New("mqtt: peer topic is required")
	}

	clientID := l.cfg.ClientID
	if clientID == "" {
		clientID = "dronenet-" + randomString(16)
	}

	opts := paho.NewClientOptions().
		AddBroker(l.cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetMaxReconnectInterval(2 * time.Minute).
		SetKeepAlive(60 * time.Second).
		SetPingTimeout(10 * time.Second).
		SetCleanSession(true).
		SetOrderMatters(false).
		SetOnConnectHandler(l.onConnected).
		SetConnectionLostHandler(l.onConnectionLost)

	if l.cfg.Username != "" {
		opts.SetUsername(l.cfg.Username)
	}
	if l.cfg.Password != "" {
		opts.SetPassword(l.cfg.Password)
	}
	if l.cfg.UseTLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	l.client = paho.NewClient(opts)

	token := l.client.Connect()
	if !token.WaitTimeout(30 * time.Second) {
		return errors.New("mqtt: connection timeout")
	}
	if token.Error() != nil {
		return fmt.Errorf("connecting to broker: %w", token.Error())
	}
	return nil
}

// Stop disconnects from the broker.
func (l *Link) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.client != nil {
		l.client.Disconnect(1000)
		l.connected = false
	}
	return nil
}

// IsConnected reports whether the broker connection is live.
func (l *Link) IsConnected() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.connected && l.client != nil && l.client.IsConnected()
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

// SendPacket encodes p and publishes it to the local topic.
func (l *Link) SendPacket(p *wire.Packet) error {
	if !l.IsConnected() {
		return errors.New("mqtt: not connected")
	}
	data, err := p.WriteTo()
	if err != nil {
		return err
	}
	payload := base64.StdEncoding.EncodeToString(data)

	token := l.client.Publish(l.cfg.LocalTopic, 0, false, payload)
	if !token.WaitTimeout(10 * time.Second) {
		return errors.New("mqtt: timeout publishing")
	}
	return token.Error()
}

func (l *Link) handleMessage(_ paho.Client, message paho.Message) {
	l.mu.RLock()
	handler := l.packetHandler
	l.mu.RUnlock()
	if handler == nil {
		return
	}

	raw, err := base64.StdEncoding.DecodeString(string(message.Payload()))
	if err != nil {
		l.log.Debug("failed to decode base64 payload", "err", err)
		return
	}
	p, err := wire.ReadFrom(raw)
	if err != nil {
		l.log.Debug("failed to parse packet", "err", err)
		return
	}
	handler(p)
}

func (l *Link) onConnected(_ paho.Client) {
	l.mu.Lock()
	l.connected = true
	handler := l.stateHandler
	l.mu.Unlock()

	l.client.Subscribe(l.cfg.PeerTopic, 0, l.handleMessage)
	l.log.Info("connected to MQTT broker", "broker", l.cfg.Broker, "topic", l.cfg.PeerTopic)
	if handler != nil {
		handler(transport.EventConnected)
	}
}

func (l *Link) onConnectionLost(_ paho.Client, err error) {
	l.mu.Lock()
	l.connected = false
	handler := l.stateHandler
	l.mu.Unlock()

	l.log.Error("MQTT connection lost", "err", err)
	if handler != nil {
		handler(transport.EventDisconnected)
	}
}

func randomString(n int) string {
	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	b := make([]byte, n)
	for i := range b {
		b[i] = alphabet[rand.IntN(len(alphabet))]
	}
	return string(b)
}
