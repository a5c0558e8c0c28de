// Command droneclient is a thin process entry point: load configuration,
// build a droneclient.Client with the configured application profile, bring
// up its neighbor links, and run until interrupted or told to shut down.
// New relative to the teacher, which ships only as a library (spec §1 calls
// process bootstrap an external collaborator).
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/kabili207/dronenet-go/adapter/browser"
	"github.com/kabili207/dronenet-go/adapter/chat"
	"github.com/kabili207/dronenet-go/config"
	"github.com/kabili207/dronenet-go/device/droneclient"
	"github.com/kabili207/dronenet-go/transport"
	"github.com/kabili207/dronenet-go/transport/mqtt"
	"github.com/kabili207/dronenet-go/transport/serial"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to a dronenet config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger := newLogger(cfg.Logging)

	newAdapter, err := adapterFactory(cfg.Profile, logger)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	commands := make(chan droneclient.Command)
	events := make(chan droneclient.Event, 32)

	client := droneclient.New(droneclient.Config{
		SelfID:           cfg.SelfID,
		MinFloodInterval: cfg.MinFloodInterval,
		Commands:         commands,
		Events:           events,
		NewAdapter:       newAdapter,
		Logger:           logger,
	})

	for _, n := range cfg.Neighbors {
		link, err := buildLink(n, logger)
		if err != nil {
			return fmt.Errorf("neighbor %v: %w", n.ID, err)
		}
		if err := client.AddNeighbor(ctx, n.ID, link); err != nil {
			return fmt.Errorf("starting link to neighbor %v: %w", n.ID, err)
		}
	}

	go logEvents(ctx, events, logger)

	logger.Info("droneclient starting",
		"self_id", cfg.SelfID, "profile", cfg.Profile, "neighbors", len(cfg.Neighbors))
	return client.RunGroup(ctx)
}

func adapterFactory(profile config.Profile, logger *slog.Logger) (func(droneclient.Ops) droneclient.Adapter, error) {
	switch profile {
	case config.ProfileChat:
		return chat.NewFactory(logger), nil
	case config.ProfileBrowser:
		return browser.NewFactory(logger), nil
	default:
		return nil, fmt.Errorf("unsupported profile %q", profile)
	}
}

func buildLink(n config.NeighborConfig, logger *slog.Logger) (transport.Link, error) {
	switch n.Transport {
	case config.TransportSerial:
		return serial.New(serial.Config{Port: n.Serial.Port, BaudRate: n.Serial.BaudRate, Logger: logger}), nil
	case config.TransportMQTT:
		return mqtt.New(mqtt.Config{
			Broker:      n.MQTT.Broker,
			Username:    n.MQTT.Username,
			Password:    n.MQTT.Password,
			UseTLS:      n.MQTT.UseTLS,
			TopicPrefix: n.MQTT.TopicPrefix,
			LocalTopic:  n.MQTT.LocalTopic,
			PeerTopic:   n.MQTT.PeerTopic,
			Logger:      logger,
		}), nil
	default:
		// transport/channel.Link is an in-process pairing (spec §5's
		// simulation substrate); it has no standalone process wiring.
		return nil, fmt.Errorf("transport %q is not usable from a standalone process", n.Transport)
	}
}

func logEvents(ctx context.Context, events <-chan droneclient.Event, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-events:
			logger.Info("event", "type", fmt.Sprintf("%T", e))
		}
	}
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
