// Package config loads a LOOM node's YAML configuration: node identity,
// mesh transport, pool sizing, logging, and the static device list.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Transport selections.
const (
	TransportMem = "mem"
	TransportUDP = "udp"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "50ms" or "2s", or from a plain integer nanosecond count.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	// Integers first: yaml.v3 also decodes an integer scalar into a
	// string, which time.ParseDuration would then reject.
	var n int64
	if err := value.Decode(&n); err == nil {
		*d = Duration(n)
		return nil
	}
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("config: bad duration %q", value.Value)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: bad duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the root node configuration.
type Config struct {
	Node    NodeConfig     `yaml:"node"`
	Mesh    MeshConfig     `yaml:"mesh"`
	Pool    PoolConfig     `yaml:"pool"`
	Log     LogConfig      `yaml:"log"`
	Devices []DeviceConfig `yaml:"devices"`
}

// NodeConfig identifies the node and its runtime cadence.
type NodeConfig struct {
	// Name is the human-readable node name.
	Name string `yaml:"name"`

	// Addr is the node's physical mesh address. Required, nonzero.
	Addr uint32 `yaml:"addr"`

	// TickInterval drives the periodic subscription update. Should be
	// at most the finest subscription period in use.
	TickInterval Duration `yaml:"tick_interval"`

	// StateDir is where preserved device properties live. Empty keeps
	// state in memory only.
	StateDir string `yaml:"state_dir"`
}

// MeshConfig selects and configures the mesh transport.
type MeshConfig struct {
	// Transport is "udp" or "mem".
	Transport string `yaml:"transport"`

	// Listen is the UDP listen address (udp transport only).
	Listen string `yaml:"listen"`

	// Discovery enables mDNS peer discovery (udp transport only).
	Discovery bool `yaml:"discovery"`
}

// PoolConfig sizes the packet pool.
type PoolConfig struct {
	SlotSize  int `yaml:"slot_size"`
	SlotCount int `yaml:"slot_count"`
}

// LogConfig configures protocol event logging.
type LogConfig struct {
	// Level is the slog level for console output: debug, info, warn,
	// error.
	Level string `yaml:"level"`

	// File, when set, appends CBOR-encoded protocol events to this
	// path.
	File string `yaml:"file"`
}

// DeviceConfig declares one statically hosted device.
type DeviceConfig struct {
	// Type selects the device class: "button", "relay", "temperature".
	Type string `yaml:"type"`

	// Port is the device's logical port.
	Port uint16 `yaml:"port"`

	// Name is the device name announced in HELLO_WORLD.
	Name string `yaml:"name"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Node: NodeConfig{
			Name:         "loom-node",
			TickInterval: Duration(50 * time.Millisecond),
		},
		Mesh: MeshConfig{
			Transport: TransportUDP,
			Listen:    ":0",
			Discovery: true,
		},
		Pool: PoolConfig{SlotSize: 256, SlotCount: 8},
		Log:  LogConfig{Level: "info"},
	}
}

// Load reads a YAML configuration file over the defaults and validates
// the result.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configurations the node cannot run with.
func (c *Config) Validate() error {
	if c.Node.Addr == 0 || c.Node.Addr == 0xFFFFFFFF {
		return fmt.Errorf("config: node.addr must be nonzero and not the broadcast address")
	}
	if c.Node.TickInterval <= 0 {
		return fmt.Errorf("config: node.tick_interval must be positive")
	}
	switch c.Mesh.Transport {
	case TransportMem, TransportUDP:
	default:
		return fmt.Errorf("config: unknown mesh.transport %q", c.Mesh.Transport)
	}

	ports := make(map[uint16]string, len(c.Devices))
	for _, d := range c.Devices {
		if d.Port == 0xFFFF {
			return fmt.Errorf("config: device %q uses the reserved broadcast port", d.Name)
		}
		if other, dup := ports[d.Port]; dup {
			return fmt.Errorf("config: devices %q and %q share port %d", other, d.Name, d.Port)
		}
		ports[d.Port] = d.Name
	}
	return nil
}
