package volley

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the on-disk configuration document read by the daemon. Every
// section is optional; missing values keep their defaults.
type File struct {
	Scheduler Config      `yaml:"scheduler"`
	Fleet     FleetConfig `yaml:"fleet"`
	API       APIConfig   `yaml:"api"`
	Log       LogConfig   `yaml:"log"`
}

// FleetConfig selects and configures the execution and capacity backends.
type FleetConfig struct {
	// Backend is the execution collaborator: "sim" or "redis".
	Backend string `yaml:"backend"`

	// Capacity overrides where node capacity is read from. Empty means the
	// execution backend also reports capacity; "k8s" reads it from the
	// cluster's nodes.
	Capacity string `yaml:"capacity"`

	// Costs are the unit costs of one thread of each kind.
	Costs Costs `yaml:"costs"`

	Redis RedisConfig `yaml:"redis"`
	K8s   K8sConfig   `yaml:"k8s"`
	Sim   SimConfig   `yaml:"sim"`
}

// RedisConfig configures the Redis fleet ledger.
type RedisConfig struct {
	Addr   string `yaml:"addr"`
	DB     int    `yaml:"db"`
	Prefix string `yaml:"prefix"`
}

// K8sConfig configures the Kubernetes capacity source.
type K8sConfig struct {
	Kubeconfig    string `yaml:"kubeconfig"`
	LabelSelector string `yaml:"label_selector"`
}

// SimConfig describes the simulated fleet used by the "sim" backend.
type SimConfig struct {
	// AccessLevel gates which simulated targets are authorized.
	AccessLevel int       `yaml:"access_level"`
	Nodes       []SimNode `yaml:"nodes"`
}

// SimNode is one simulated compute node.
type SimNode struct {
	ID       string  `yaml:"id"`
	Capacity float64 `yaml:"capacity"`
}

// APIConfig configures the HTTP status API.
type APIConfig struct {
	Addr      string `yaml:"addr"`
	JWTSecret string `yaml:"jwt_secret"`
}

// LogConfig configures the daemon logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`

	// Audit writes every scheduler decision to the log as an audit event.
	Audit bool `yaml:"audit"`
}

// DefaultFile returns a File populated with defaults.
func DefaultFile() File {
	return File{
		Scheduler: DefaultConfig(),
		Fleet: FleetConfig{
			Backend: "sim",
			Costs:   Costs{Extract: 1.70, Replenish: 1.75, Stabilize: 1.75},
			Redis:   RedisConfig{Addr: "localhost:6379", Prefix: "volley:"},
			Sim: SimConfig{AccessLevel: 10, Nodes: []SimNode{
				{ID: "node-1", Capacity: 64},
				{ID: "node-2", Capacity: 32},
				{ID: "node-3", Capacity: 16},
			}},
		},
		API: APIConfig{Addr: ":8088"},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// ReadFile reads and decodes the configuration file at path.
func ReadFile(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("volley: read config: %w", err)
	}
	return ParseFile(data)
}

// ParseFile decodes a YAML configuration document over the defaults and
// validates it.
func ParseFile(data []byte) (File, error) {
	f := DefaultFile()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return File{}, fmt.Errorf("volley: parse config: %w", err)
	}
	if err := f.Validate(); err != nil {
		return File{}, err
	}
	return f, nil
}

// Validate checks the scheduler section and the fleet's unit costs.
func (f File) Validate() error {
	if err := f.Scheduler.Validate(); err != nil {
		return err
	}
	return f.Fleet.Costs.Validate()
}
