package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/NodePath81/fblink/internal/util"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPort = 9877

	defaultNetwork     = "tcp"
	defaultDialTimeout = 10 * time.Second

	defaultThroughputPayload  = 1024
	defaultThroughputDuration = 60 * time.Second
	defaultThroughputEnabled  = true

	defaultLatencyCount   = 200
	defaultLatencyPayload = 64
	defaultLatencyTimeout = 2 * time.Second
	defaultLatencyEnabled = true

	defaultBulkTotal = 1_000_000
	defaultBulkChunk = 1024

	defaultResponderBindAddr = "0.0.0.0"
	defaultResponderBuffer   = 4096

	defaultLogDir   = "."
	defaultLogLevel = "info"

	defaultPreflightRoute = true

	defaultControlAddr = "127.0.0.1"
	defaultControlPort = 9878

	minLatencyPayload = 8
	maxPayload        = 4 * 1024 * 1024
)

type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be a scalar")
	}
	switch value.Tag {
	case "!!int", "!!float":
		var secs float64
		if err := value.Decode(&secs); err != nil {
			return err
		}
		*d = Duration(time.Duration(secs * float64(time.Second)))
		return nil
	default:
		var raw string
		if err := value.Decode(&raw); err != nil {
			return err
		}
		if raw == "" {
			*d = 0
			return nil
		}
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}
		*d = Duration(parsed)
		return nil
	}
}

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

type Config struct {
	Peer       PeerConfig       `yaml:"peer"`
	Throughput ThroughputConfig `yaml:"throughput"`
	Latency    LatencyConfig    `yaml:"latency"`
	Bulk       BulkConfig       `yaml:"bulk"`
	Responder  ResponderConfig  `yaml:"responder"`
	Log        LogConfig        `yaml:"log"`
	Preflight  PreflightConfig  `yaml:"preflight"`
	Control    ControlConfig    `yaml:"control"`
}

// PeerConfig describes the remote echo (or sink) endpoint. Port is the
// channel selector and is ignored for unix sockets.
type PeerConfig struct {
	Network     string   `yaml:"network"`
	Address     string   `yaml:"address"`
	Port        int      `yaml:"port"`
	DialTimeout Duration `yaml:"dial_timeout"`
	// IOTimeout bounds reads and writes without an explicit deadline.
	// Zero leaves them unbounded.
	IOTimeout Duration `yaml:"io_timeout"`
	GeoIPDB   string   `yaml:"geoip_db"`
}

type ThroughputConfig struct {
	Enabled     *bool `yaml:"enabled"`
	PayloadSize Size  `yaml:"payload_size"`
	// Duration is a pointer so an explicit 0 (no iterations) survives defaults.
	Duration *Duration `yaml:"duration"`
}

type LatencyConfig struct {
	Enabled     *bool     `yaml:"enabled"`
	Count       *int      `yaml:"count"`
	PayloadSize Size      `yaml:"payload_size"`
	Delay       Duration  `yaml:"delay"`
	Timeout     *Duration `yaml:"timeout"`
}

type BulkConfig struct {
	TotalSize Size `yaml:"total_size"`
	ChunkSize Size `yaml:"chunk_size"`
	// Delay paces chunks on links that drop bursts.
	Delay Duration `yaml:"delay"`
}

type ResponderConfig struct {
	Network    string `yaml:"network"`
	BindAddr   string `yaml:"bind_addr"`
	BindPort   int    `yaml:"bind_port"`
	Relisten   bool   `yaml:"relisten"`
	BufferSize Size   `yaml:"buffer_size"`
}

type LogConfig struct {
	Dir      string `yaml:"dir"`
	Compress bool   `yaml:"compress"`
	SQLite   string `yaml:"sqlite"`
	Level    string `yaml:"level"`
}

type PreflightConfig struct {
	Route     *bool    `yaml:"route"`
	ICMPCount int      `yaml:"icmp_count"`
	ICMPWait  Duration `yaml:"icmp_timeout"`
}

type ControlConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BindAddr string `yaml:"bind_addr"`
	BindPort int    `yaml:"bind_port"`
}

func (t ThroughputConfig) IsEnabled() bool {
	return util.BoolValue(t.Enabled, defaultThroughputEnabled)
}

func (t ThroughputConfig) DurationValue() time.Duration {
	if t.Duration == nil {
		return defaultThroughputDuration
	}
	return t.Duration.Duration()
}

func (l LatencyConfig) IsEnabled() bool {
	return util.BoolValue(l.Enabled, defaultLatencyEnabled)
}

func (l LatencyConfig) CountValue() int {
	if l.Count == nil {
		return defaultLatencyCount
	}
	return *l.Count
}

func (l LatencyConfig) TimeoutValue() time.Duration {
	if l.Timeout == nil {
		return defaultLatencyTimeout
	}
	return l.Timeout.Duration()
}

func (p PreflightConfig) RouteEnabled() bool {
	return util.BoolValue(p.Route, defaultPreflightRoute)
}

// Default returns a config with every default applied.
func Default() Config {
	var cfg Config
	cfg.setDefaults()
	return cfg
}

func LoadConfig(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(raw)
}

func Parse(raw []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, err
	}
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) setDefaults() {
	c.Peer.Network = strings.ToLower(strings.TrimSpace(c.Peer.Network))
	if c.Peer.Network == "" {
		c.Peer.Network = defaultNetwork
	}
	if c.Peer.Port == 0 && c.Peer.Network != "unix" {
		c.Peer.Port = DefaultPort
	}
	if c.Peer.DialTimeout == 0 {
		c.Peer.DialTimeout = Duration(defaultDialTimeout)
	}

	if c.Throughput.PayloadSize == 0 {
		c.Throughput.PayloadSize = defaultThroughputPayload
	}

	if c.Latency.PayloadSize == 0 {
		c.Latency.PayloadSize = defaultLatencyPayload
	}

	if c.Bulk.TotalSize == 0 {
		c.Bulk.TotalSize = defaultBulkTotal
	}
	if c.Bulk.ChunkSize == 0 {
		c.Bulk.ChunkSize = defaultBulkChunk
	}

	c.Responder.Network = strings.ToLower(strings.TrimSpace(c.Responder.Network))
	if c.Responder.Network == "" {
		c.Responder.Network = defaultNetwork
	}
	if c.Responder.BindAddr == "" && c.Responder.Network != "unix" {
		c.Responder.BindAddr = defaultResponderBindAddr
	}
	if c.Responder.BindPort == 0 && c.Responder.Network != "unix" {
		c.Responder.BindPort = DefaultPort
	}
	if c.Responder.BufferSize == 0 {
		c.Responder.BufferSize = defaultResponderBuffer
	}

	if c.Log.Dir == "" {
		c.Log.Dir = defaultLogDir
	}
	if c.Log.Level == "" {
		c.Log.Level = defaultLogLevel
	}

	if c.Preflight.ICMPWait == 0 {
		c.Preflight.ICMPWait = Duration(time.Second)
	}

	if c.Control.BindAddr == "" {
		c.Control.BindAddr = defaultControlAddr
	}
	if c.Control.BindPort == 0 {
		c.Control.BindPort = defaultControlPort
	}
}

func (c *Config) validate() error {
	if err := validateNetwork("peer.network", c.Peer.Network); err != nil {
		return err
	}
	if err := validateNetwork("responder.network", c.Responder.Network); err != nil {
		return err
	}
	c.Peer.Address = strings.TrimSpace(c.Peer.Address)
	if c.Peer.Network != "unix" && (c.Peer.Port <= 0 || c.Peer.Port > 65535) {
		return errors.New("peer.port must be in 1..65535")
	}
	if c.Peer.DialTimeout.Duration() < 0 || c.Peer.IOTimeout.Duration() < 0 {
		return errors.New("peer.dial_timeout and peer.io_timeout must be >= 0")
	}

	if c.Throughput.PayloadSize <= 0 || c.Throughput.PayloadSize > maxPayload {
		return fmt.Errorf("throughput.payload_size must be in 1..%d", maxPayload)
	}

	if c.Latency.CountValue() < 0 {
		return errors.New("latency.count must be >= 0")
	}
	if c.Latency.PayloadSize < minLatencyPayload || c.Latency.PayloadSize > maxPayload {
		return fmt.Errorf("latency.payload_size must be in %d..%d", minLatencyPayload, maxPayload)
	}
	if c.Latency.Delay.Duration() < 0 || c.Latency.TimeoutValue() < 0 {
		return errors.New("latency.delay and latency.timeout must be >= 0")
	}

	if c.Bulk.ChunkSize <= 0 || c.Bulk.ChunkSize > maxPayload {
		return fmt.Errorf("bulk.chunk_size must be in 1..%d", maxPayload)
	}
	if c.Bulk.TotalSize < 0 || c.Bulk.Delay.Duration() < 0 {
		return errors.New("bulk.total_size and bulk.delay must be >= 0")
	}

	if c.Responder.Network != "unix" && (c.Responder.BindPort <= 0 || c.Responder.BindPort > 65535) {
		return errors.New("responder.bind_port must be in 1..65535")
	}
	if c.Responder.Network == "unix" && c.Responder.BindAddr == "" {
		return errors.New("responder.bind_addr must name a socket path for unix")
	}
	if c.Responder.BufferSize <= 0 {
		return errors.New("responder.buffer_size must be > 0")
	}

	if _, err := util.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}

	if c.Preflight.ICMPCount < 0 {
		return errors.New("preflight.icmp_count must be >= 0")
	}

	if c.Control.Enabled && (c.Control.BindPort <= 0 || c.Control.BindPort > 65535) {
		return errors.New("control.bind_port must be in 1..65535")
	}
	return nil
}

// ValidatePeer reports whether the config names a peer to connect to.
func (c *Config) ValidatePeer() error {
	if c.Peer.Address == "" {
		return errors.New("peer.address must not be empty")
	}
	return nil
}

func validateNetwork(field, network string) error {
	switch network {
	case "tcp", "tcp4", "tcp6", "unix":
		return nil
	default:
		return fmt.Errorf("%s must be tcp, tcp4, tcp6 or unix (got %q)", field, network)
	}
}
