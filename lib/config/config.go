// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/swarm/lib/classify"
	"github.com/bureau-foundation/swarm/lib/schema/fleet"
	"github.com/bureau-foundation/swarm/lib/worker"
)

// EnvVar names the environment variable Load reads.
const EnvVar = "SWARM_CONFIG"

// ErrNoConfig is returned by Load when SWARM_CONFIG is unset.
var ErrNoConfig = errors.New(EnvVar + " environment variable not set; " +
	"set it to the path of your swarm.yaml, or use --config")

// Backend selects the process and inventory implementation.
type Backend string

const (
	// BackendSim runs an in-memory simulated fleet.
	BackendSim Backend = "sim"
	// BackendDocker treats Docker engines as fleet members.
	BackendDocker Backend = "docker"
)

// TopologySource selects where neighbor lists come from.
type TopologySource string

const (
	// TopologyStatic reads adjacency from topology.static, or from the
	// backend itself when that is empty and the backend is sim.
	TopologyStatic TopologySource = "static"
	// TopologyEtcd reads adjacency and rented membership from etcd.
	TopologyEtcd TopologySource = "etcd"
)

// Config is the complete swarm configuration.
type Config struct {
	Fleet       FleetConfig        `yaml:"fleet"`
	Backend     Backend            `yaml:"backend"`
	Topology    TopologyConfig     `yaml:"topology"`
	Docker      DockerConfig       `yaml:"docker"`
	Etcd        EtcdConfig         `yaml:"etcd"`
	Simulation  SimulationConfig   `yaml:"simulation"`
	Reconcilers []ReconcilerConfig `yaml:"reconcilers"`
	Ledger      LedgerConfig       `yaml:"ledger"`

	// Socket is the daemon's status socket address.
	// Default: ${XDG_RUNTIME_DIR:-/tmp}/swarm/fleetd.sock
	Socket string `yaml:"socket"`

	// OperatorSocket, when set, serves the "perform" action backed by
	// the simulated fleet. Docker workers reach it over TCP.
	OperatorSocket string `yaml:"operator_socket"`

	// LockPath guards against two daemons managing the same fleet.
	LockPath string `yaml:"lock_path"`

	Log LogConfig `yaml:"log"`
}

// FleetConfig holds settings shared by every reconciler.
type FleetConfig struct {
	// Root is the node discovery starts from.
	Root string `yaml:"root"`

	// Home is the canonical binary source. Default: Root.
	Home string `yaml:"home"`

	// MinCapacity is the smallest maximum capacity an eligible host
	// has.
	MinCapacity float64 `yaml:"min_capacity"`

	// ThreadCosts is the capacity one thread of each program uses.
	// Backends charge launches against it, and reconcilers without an
	// explicit thread_cost inherit it.
	ThreadCosts map[string]float64 `yaml:"thread_costs"`
}

// TopologyConfig selects and configures the topology source.
type TopologyConfig struct {
	Source TopologySource `yaml:"source"`

	// Static maps each host to its neighbors.
	Static map[string][]string `yaml:"static"`

	// Undirected adds the reverse of every static edge.
	Undirected bool `yaml:"undirected"`
}

// DockerConfig configures the Docker backend.
type DockerConfig struct {
	Hosts []DockerHost `yaml:"hosts"`

	// ImageCache is the directory holding compressed image archives
	// saved from the home engine.
	ImageCache string `yaml:"image_cache"`

	// Compression is "zstd" or "lz4". Default: zstd.
	Compression string `yaml:"compression"`

	// OperatorAddress is passed to worker containers in SWARM_OPERATOR
	// so they can reach the operator socket.
	OperatorAddress string `yaml:"operator_address"`

	// Network is the Docker network worker containers join.
	Network string `yaml:"network"`
}

// DockerHost is one fleet member backed by a Docker engine.
type DockerHost struct {
	ID string `yaml:"id"`

	// Endpoint is the engine address, for example
	// unix:///var/run/docker.sock or tcp://10.0.0.5:2375.
	Endpoint string `yaml:"endpoint"`

	Root   bool `yaml:"root"`
	Rented bool `yaml:"rented"`
}

// EtcdConfig configures the etcd topology registry.
type EtcdConfig struct {
	Endpoints   []string      `yaml:"endpoints"`
	Prefix      string        `yaml:"prefix"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// SimulationConfig describes the simulated fleet.
type SimulationConfig struct {
	Nodes []SimNode `yaml:"nodes"`

	// Durations overrides how long each operation kind takes, keyed
	// by kind name.
	Durations map[string]time.Duration `yaml:"durations"`

	// WorkerProgram is the binary name that starts an in-process
	// worker when launched. Default: swarm-worker.
	WorkerProgram string `yaml:"worker_program"`
}

// SimNode is one simulated host.
type SimNode struct {
	ID          string   `yaml:"id"`
	Neighbors   []string `yaml:"neighbors"`
	MaxCapacity float64  `yaml:"max_capacity"`
	BaseUsage   float64  `yaml:"base_usage"`
	Root        bool     `yaml:"root"`
	Rented      bool     `yaml:"rented"`
	Binaries    []string `yaml:"binaries"`
}

// ReconcilerConfig is one reconciler variant.
type ReconcilerConfig struct {
	Name string `yaml:"name"`

	// Scope is a comma-separated pool list (home, rented, unowned) or
	// "all".
	Scope string `yaml:"scope"`

	Program string `yaml:"program"`
	Target  string `yaml:"target"`
	Mode    string `yaml:"mode"`

	// ThreadCost defaults to fleet.thread_costs[program].
	ThreadCost float64 `yaml:"thread_cost"`

	Reserve  float64       `yaml:"reserve"`
	Interval time.Duration `yaml:"interval"`
}

// LedgerConfig configures deployment record persistence.
type LedgerConfig struct {
	// Path is the SQLite database. Empty keeps records in memory.
	Path string `yaml:"path"`
}

// LogConfig configures daemon logging.
type LogConfig struct {
	// Level is debug, info, warn, or error. Default: info.
	Level string `yaml:"level"`
	// Format is json or text. Default: json.
	Format string `yaml:"format"`
}

// Default returns the zero-value-filling base configuration that a
// file is loaded on top of.
func Default() *Config {
	runtime := "${XDG_RUNTIME_DIR:-/tmp}/swarm"
	return &Config{
		Backend:  BackendSim,
		Topology: TopologyConfig{Source: TopologyStatic},
		Docker: DockerConfig{
			Compression: "zstd",
		},
		Etcd: EtcdConfig{
			Prefix:      "/swarm/",
			DialTimeout: 5 * time.Second,
		},
		Simulation: SimulationConfig{
			WorkerProgram: "swarm-worker",
		},
		Socket:   filepath.Join(runtime, "fleetd.sock"),
		LockPath: filepath.Join(runtime, "fleetd.lock"),
		Log:      LogConfig{Level: "info", Format: "json"},
	}
}

// Load loads the file named by SWARM_CONFIG.
func Load() (*Config, error) {
	path := os.Getenv(EnvVar)
	if path == "" {
		return nil, ErrNoConfig
	}
	return LoadFile(path)
}

// LoadFile loads path on top of Default and expands path variables.
// It does not validate.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes a YAML document on top of Default. Unknown fields are
// rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	// An empty file loads as pure defaults.
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	cfg.expandVariables()
	return cfg, nil
}

// Home returns the canonical binary source.
func (c *Config) Home() string {
	if c.Fleet.Home == "" {
		return c.Fleet.Root
	}
	return c.Fleet.Home
}

// ThreadCost resolves the per-thread cost of a reconciler's program.
func (c *Config) ThreadCost(r ReconcilerConfig) float64 {
	if r.ThreadCost > 0 {
		return r.ThreadCost
	}
	return c.Fleet.ThreadCosts[r.Program]
}

func (c *Config) expandVariables() {
	c.Socket = expandVars(c.Socket)
	c.OperatorSocket = expandVars(c.OperatorSocket)
	c.LockPath = expandVars(c.LockPath)
	c.Ledger.Path = expandVars(c.Ledger.Path)
	c.Docker.ImageCache = expandVars(c.Docker.ImageCache)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default}.
func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		return parts[2]
	})
}

// Validate reports every structural problem at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Fleet.Root == "" {
		errs = append(errs, errors.New("fleet.root is required"))
	}
	if c.Fleet.MinCapacity < 0 {
		errs = append(errs, errors.New("fleet.min_capacity must not be negative"))
	}
	for program, cost := range c.Fleet.ThreadCosts {
		if cost <= 0 {
			errs = append(errs, fmt.Errorf("fleet.thread_costs[%s] must be positive", program))
		}
	}

	switch c.Backend {
	case BackendSim:
		errs = append(errs, c.validateSimulation()...)
	case BackendDocker:
		errs = append(errs, c.validateDocker()...)
	default:
		errs = append(errs, fmt.Errorf("backend must be sim or docker, got %q", c.Backend))
	}

	switch c.Topology.Source {
	case TopologyStatic:
		if c.Backend == BackendDocker && len(c.Topology.Static) == 0 {
			errs = append(errs, errors.New("topology.static is required with the docker backend"))
		}
	case TopologyEtcd:
		if len(c.Etcd.Endpoints) == 0 {
			errs = append(errs, errors.New("etcd.endpoints is required with topology.source etcd"))
		}
	default:
		errs = append(errs, fmt.Errorf("topology.source must be static or etcd, got %q", c.Topology.Source))
	}

	names := make(map[string]bool)
	scopes := make(map[string]classify.Scope)
	for i, r := range c.Reconcilers {
		label := fmt.Sprintf("reconcilers[%d]", i)
		if r.Name != "" {
			label = fmt.Sprintf("reconciler %q", r.Name)
		}
		if r.Name == "" {
			errs = append(errs, fmt.Errorf("%s: name is required", label))
		} else if names[r.Name] {
			errs = append(errs, fmt.Errorf("%s: duplicate name", label))
		}
		names[r.Name] = true

		scope, err := classify.ParseScope(r.Scope)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", label, err))
		} else {
			for other, otherScope := range scopes {
				if classify.Overlaps(scope, otherScope) {
					errs = append(errs, fmt.Errorf("%s: scope %s overlaps reconciler %q", label, scope, other))
				}
			}
			scopes[r.Name] = scope
		}
		if r.Program == "" {
			errs = append(errs, fmt.Errorf("%s: program is required", label))
		}
		if r.Target == "" {
			errs = append(errs, fmt.Errorf("%s: target is required", label))
		}
		if r.Mode != "" {
			if _, err := worker.ModeKinds(r.Mode); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", label, err))
			}
		}
		if c.ThreadCost(r) <= 0 {
			errs = append(errs, fmt.Errorf("%s: thread_cost is required (directly or via fleet.thread_costs)", label))
		}
		if r.Reserve < 0 {
			errs = append(errs, fmt.Errorf("%s: reserve must not be negative", label))
		}
	}

	if c.Socket == "" {
		errs = append(errs, errors.New("socket is required"))
	}
	if c.LockPath == "" {
		errs = append(errs, errors.New("lock_path is required"))
	}
	if !contains([]string{"debug", "info", "warn", "error"}, c.Log.Level) {
		errs = append(errs, fmt.Errorf("log.level must be debug, info, warn, or error, got %q", c.Log.Level))
	}
	if !contains([]string{"json", "text"}, c.Log.Format) {
		errs = append(errs, fmt.Errorf("log.format must be json or text, got %q", c.Log.Format))
	}

	return errors.Join(errs...)
}

func (c *Config) validateSimulation() []error {
	var errs []error
	if len(c.Simulation.Nodes) == 0 {
		errs = append(errs, errors.New("simulation.nodes is required with the sim backend"))
	}
	seen := make(map[string]bool)
	for i, node := range c.Simulation.Nodes {
		switch {
		case node.ID == "":
			errs = append(errs, fmt.Errorf("simulation.nodes[%d]: id is required", i))
		case seen[node.ID]:
			errs = append(errs, fmt.Errorf("simulation.nodes[%d]: duplicate id %q", i, node.ID))
		}
		seen[node.ID] = true
	}
	for name, d := range c.Simulation.Durations {
		if _, err := fleet.ParseOperationKind(name); err != nil {
			errs = append(errs, fmt.Errorf("simulation.durations: %w", err))
		}
		if d <= 0 {
			errs = append(errs, fmt.Errorf("simulation.durations[%s] must be positive", name))
		}
	}
	return errs
}

func (c *Config) validateDocker() []error {
	var errs []error
	if len(c.Docker.Hosts) == 0 {
		errs = append(errs, errors.New("docker.hosts is required with the docker backend"))
	}
	seen := make(map[string]bool)
	for i, host := range c.Docker.Hosts {
		if host.ID == "" || host.Endpoint == "" {
			errs = append(errs, fmt.Errorf("docker.hosts[%d]: id and endpoint are required", i))
		}
		if seen[host.ID] {
			errs = append(errs, fmt.Errorf("docker.hosts[%d]: duplicate id %q", i, host.ID))
		}
		seen[host.ID] = true
	}
	if c.Docker.ImageCache == "" {
		errs = append(errs, errors.New("docker.image_cache is required with the docker backend"))
	}
	if !contains([]string{"zstd", "lz4"}, c.Docker.Compression) {
		errs = append(errs, fmt.Errorf("docker.compression must be zstd or lz4, got %q", c.Docker.Compression))
	}
	return errs
}

func contains(values []string, s string) bool {
	for _, v := range values {
		if v == s {
			return true
		}
	}
	return false
}
