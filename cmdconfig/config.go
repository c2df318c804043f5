// Package cmdconfig reads the provider, consumer and registry config files
// used by the command line and turns them into component configs.
package cmdconfig

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/PwzXxm/nrpc-lite/client"
	"github.com/PwzXxm/nrpc-lite/heartbeat"
	"github.com/PwzXxm/nrpc-lite/registry"
	"github.com/PwzXxm/nrpc-lite/rpccore"
	"github.com/PwzXxm/nrpc-lite/server"
	"github.com/PwzXxm/nrpc-lite/utils"
	"github.com/gofrs/flock"
	"github.com/pkg/errors"
)

const (
	DefaultApplication  = "default"
	DefaultPort         = 8088
	DefaultRegistryPort = 9088
	DefaultGroup        = "default"
	DefaultSerializer   = "gob"
	DefaultCompressor   = "gzip"
	DefaultLoadBalancer = "roundrobin"
	DefaultRegistry     = "memory://"
	DefaultHeartbeat    = 2 * time.Second
	DefaultFlush        = 2 * time.Second
)

// Duration accepts "10s" style strings in both TOML and JSON files
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return errors.Wrapf(err, "invalid duration %q", string(text))
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

func orDuration(d Duration, def time.Duration) Duration {
	if d.Duration <= 0 {
		return Duration{def}
	}
	return d
}

type LogConfig struct {
	Level string
	// File is empty for stdout, otherwise a rotated log file
	File       string
	MaxSizeMB  int
	MaxAgeDays int
	MaxBackups int
}

func (l *LogConfig) Defaults() {
	if l.Level == "" {
		l.Level = "info"
	}
	if l.MaxSizeMB <= 0 {
		l.MaxSizeMB = 100
	}
	if l.MaxAgeDays <= 0 {
		l.MaxAgeDays = 7
	}
}

// ProviderConfig of one provider process
type ProviderConfig struct {
	Application string
	Host        string
	Port        int
	// Advertise is the "host:port" registered instead of Host:Port
	Advertise string
	Group     string
	Registry  string
	// Services lists the built-in services to publish: greeter, ledger
	Services []string
	// LedgerFile keeps the ledger state across restarts when set
	LedgerFile string

	LimiterCapacity int
	LimiterRate     int
	MaxDrainWait    Duration
	KeepAlive       Duration

	Log LogConfig
}

func (p *ProviderConfig) Defaults() {
	if p.Application == "" {
		p.Application = DefaultApplication
	}
	if p.Host == "" {
		p.Host = "127.0.0.1"
	}
	if p.Port == 0 {
		p.Port = DefaultPort
	}
	if p.Group == "" {
		p.Group = DefaultGroup
	}
	if p.Registry == "" {
		p.Registry = DefaultRegistry
	}
	if len(p.Services) == 0 {
		p.Services = []string{"greeter"}
	}
	if p.LimiterCapacity <= 0 {
		p.LimiterCapacity = server.DefaultLimiterCapacity
	}
	if p.LimiterRate <= 0 {
		p.LimiterRate = server.DefaultLimiterRate
	}
	p.MaxDrainWait = orDuration(p.MaxDrainWait, 10*time.Second)
	p.KeepAlive = orDuration(p.KeepAlive, 30*time.Second)
	p.Log.Defaults()
}

// ServerConfig builds the provider config on top of network and reg
func (p *ProviderConfig) ServerConfig(network rpccore.Network, reg registry.Registry) (server.Config, error) {
	config := server.Config{
		Network:         network,
		Listen:          rpccore.Endpoint{Host: p.Host, Port: p.Port},
		Registry:        reg,
		LimiterCapacity: p.LimiterCapacity,
		LimiterRate:     p.LimiterRate,
		MaxDrainWait:    p.MaxDrainWait.Duration,
	}
	if p.Advertise != "" {
		ep, err := rpccore.ParseEndpoint(p.Advertise)
		if err != nil {
			return config, err
		}
		config.Advertise = ep
	}
	return config, nil
}

// ConsumerConfig of one consumer process
type ConsumerConfig struct {
	Application  string
	Group        string
	Registry     string
	Serializer   string
	Compressor   string
	LoadBalancer string

	CallTimeout   Duration
	DialTimeout   Duration
	Heartbeat     Duration
	Retries       int
	RetryInterval Duration

	BreakerMaxErrors    int
	BreakerMaxErrorRate float64
	BreakerCooldown     Duration

	DataCenter int
	Machine    int

	Log LogConfig
}

func (c *ConsumerConfig) Defaults() {
	if c.Application == "" {
		c.Application = DefaultApplication
	}
	if c.Group == "" {
		c.Group = DefaultGroup
	}
	if c.Registry == "" {
		c.Registry = DefaultRegistry
	}
	if c.Serializer == "" {
		c.Serializer = DefaultSerializer
	}
	if c.Compressor == "" {
		c.Compressor = DefaultCompressor
	}
	if c.LoadBalancer == "" {
		c.LoadBalancer = DefaultLoadBalancer
	}
	c.CallTimeout = orDuration(c.CallTimeout, client.DefaultCallTimeout)
	c.DialTimeout = orDuration(c.DialTimeout, 3*time.Second)
	c.Heartbeat = orDuration(c.Heartbeat, DefaultHeartbeat)
	c.RetryInterval = orDuration(c.RetryInterval, 100*time.Millisecond)
	if c.Retries < 0 {
		c.Retries = 0
	}
	if c.BreakerMaxErrors <= 0 {
		c.BreakerMaxErrors = client.DefaultBreakerMaxErrors
	}
	if c.BreakerMaxErrorRate <= 0 {
		c.BreakerMaxErrorRate = client.DefaultBreakerMaxErrorRate
	}
	c.BreakerCooldown = orDuration(c.BreakerCooldown, client.DefaultBreakerCooldown)
	c.Log.Defaults()
}

func (c *ConsumerConfig) ClientConfig(network rpccore.Network, reg registry.Registry) client.Config {
	return client.Config{
		Network:      network,
		Registry:     reg,
		Serializer:   c.Serializer,
		Compressor:   c.Compressor,
		LoadBalancer: c.LoadBalancer,
		CallTimeout:  c.CallTimeout.Duration,
		DialTimeout:  c.DialTimeout.Duration,
		Heartbeat: heartbeat.Config{
			Period: c.Heartbeat.Duration,
		},
		BreakerMaxErrors:    c.BreakerMaxErrors,
		BreakerMaxErrorRate: c.BreakerMaxErrorRate,
		BreakerCooldown:     c.BreakerCooldown.Duration,
		DataCenter:          c.DataCenter,
		Machine:             c.Machine,
	}
}

func (c *ConsumerConfig) RetryPolicy() client.RetryPolicy {
	return client.RetryPolicy{MaxRetries: c.Retries, Interval: c.RetryInterval.Duration}
}

// RegistryConfig of the standalone registry process
type RegistryConfig struct {
	Listen string
	// StorageFile keeps the table across restarts
	StorageFile   string
	FlushInterval Duration

	Log LogConfig
}

func (r *RegistryConfig) Defaults() {
	if r.Listen == "" {
		r.Listen = ":9088"
	}
	if r.StorageFile == "" {
		r.StorageFile = "nrpc-registry/table.gob"
	}
	r.FlushInterval = orDuration(r.FlushInterval, DefaultFlush)
	r.Log.Defaults()
}

type defaulter interface {
	Defaults()
}

// Load decodes the file at path into v and fills the defaults. Files
// ending in .toml are TOML, everything else JSON.
func Load(path string, v defaulter) error {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.DecodeFile(path, v); err != nil {
			return errors.Wrapf(err, "parse %v", path)
		}
	} else if err := utils.ReadFromJSON(v, path); err != nil {
		return err
	}
	v.Defaults()
	return nil
}

// Lock takes an exclusive lock on the config file so only one process runs
// with it. The returned func releases the lock.
func Lock(path string) (func(), error) {
	fl := flock.New(path)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if !locked {
		return nil, errors.New("Unable to lock the config file," +
			" make sure there isn't another instance running.")
	}
	return func() {
		_ = fl.Unlock()
	}, nil
}
