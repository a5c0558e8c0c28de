// Package config loads process-level configuration for a droneclient
// binary: this node's identity, its application profile, transport/neighbor
// wiring, and logging. Grounded on firestige-Otus's spf13/viper + yaml.v3
// loader pattern (the teacher has no config package of its own since it is
// a library, not a process).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/kabili207/dronenet-go/core"
)

// Profile names the application adapter a client runs.
type Profile string

const (
	ProfileChat    Profile = "chat"
	ProfileBrowser Profile = "browser"
)

// TransportKind names a neighbor link implementation.
type TransportKind string

const (
	TransportChannel TransportKind = "channel"
	TransportSerial  TransportKind = "serial"
	TransportMQTT    TransportKind = "mqtt"
)

// Config is the full process configuration.
type Config struct {
	SelfID           core.NodeId      `mapstructure:"self_id" yaml:"self_id"`
	Profile          Profile          `mapstructure:"profile" yaml:"profile"`
	MinFloodInterval time.Duration    `mapstructure:"min_flood_interval" yaml:"min_flood_interval"`
	Logging          LoggingConfig    `mapstructure:"logging" yaml:"logging"`
	Neighbors        []NeighborConfig `mapstructure:"neighbors" yaml:"neighbors"`
}

// LoggingConfig controls the process-wide slog handler.
type LoggingConfig struct {
	// Level: debug, info, warn, error. Default: info.
	Level string `mapstructure:"level" yaml:"level"`
	// Format: text or json. Default: text.
	Format string `mapstructure:"format" yaml:"format"`
}

// NeighborConfig describes one direct link to bring up at startup.
type NeighborConfig struct {
	ID        core.NodeId   `mapstructure:"id" yaml:"id"`
	Transport TransportKind `mapstructure:"transport" yaml:"transport"`
	Serial    *SerialConfig `mapstructure:"serial" yaml:"serial,omitempty"`
	MQTT      *MQTTConfig   `mapstructure:"mqtt" yaml:"mqtt,omitempty"`
}

// SerialConfig configures a transport/serial.Link.
type SerialConfig struct {
	Port     string `mapstructure:"port" yaml:"port"`
	BaudRate int    `mapstructure:"baud_rate" yaml:"baud_rate,omitempty"`
}

// MQTTConfig configures a transport/mqtt.Link.
type MQTTConfig struct {
	Broker      string `mapstructure:"broker" yaml:"broker"`
	Username    string `mapstructure:"username" yaml:"username,omitempty"`
	Password    string `mapstructure:"password" yaml:"password,omitempty"`
	UseTLS      bool   `mapstructure:"use_tls" yaml:"use_tls,omitempty"`
	TopicPrefix string `mapstructure:"topic_prefix" yaml:"topic_prefix,omitempty"`
	LocalTopic  string `mapstructure:"local_topic" yaml:"local_topic"`
	PeerTopic   string `mapstructure:"peer_topic" yaml:"peer_topic"`
}

// Load reads configuration from configPath (if non-empty), environment
// variables prefixed DRONENET_, and defaults. An environment variable
// overrides the file's value for the same key, and the file overrides the
// defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)
	applyDefaults(v)

	if configPath != "" {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	} else if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("DRONENET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}
	v.SetConfigName("dronenet")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/dronenet")
}

func applyDefaults(v *viper.Viper) {
	v.SetDefault("profile", string(ProfileChat))
	v.SetDefault("min_flood_interval", "300ms")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// Validate rejects configurations no droneclient.Client could use.
func Validate(cfg *Config) error {
	switch cfg.Profile {
	case ProfileChat, ProfileBrowser:
	default:
		return fmt.Errorf("unknown profile %q", cfg.Profile)
	}
	for _, n := range cfg.Neighbors {
		switch n.Transport {
		case TransportChannel:
		case TransportSerial:
			if n.Serial == nil || n.Serial.Port == "" {
				return fmt.Errorf("neighbor %v: serial transport requires serial.port", n.ID)
			}
		case TransportMQTT:
			if n.MQTT == nil || n.MQTT.Broker == "" {
				return fmt.Errorf("neighbor %v: mqtt transport requires mqtt.broker", n.ID)
			}
		default:
			return fmt.Errorf("neighbor %v: unknown transport %q", n.ID, n.Transport)
		}
	}
	return nil
}
