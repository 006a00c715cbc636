// Package config defines the Config struct shared by seed and peer
// processes: a defaulted struct with mapstructure tags that CLI flags bind
// into, rather than parsing flags ad hoc.
package config

import (
	"net"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gossipmesh/gossipmesh/internal/eventlog"
)

// Default configuration values.
const (
	DefaultLogLevel        = "info"
	DefaultEventLogPath    = "events.log"
	DefaultTCPTimeout      = 2 * time.Second
	DefaultProposalTimeout = 3 * time.Second
	DefaultGossipInterval  = 5 * time.Second
	DefaultMaxGossip       = 10
	DefaultPingInterval    = 5 * time.Second
	DefaultPingTimeout     = 2 * time.Second
	DefaultMissThreshold   = 3
	DefaultSyncInterval    = 10 * time.Second
	DefaultMaxPool         = 4
	DefaultStatusInterval  = 15 * time.Second
)

// Config holds every tunable a node (seed or peer) needs. CLI flags bind
// into it 1:1 with the `mapstructure` tags via viper.
type Config struct {
	// Host is the local advertise/bind host.
	Host string `mapstructure:"host"`

	// Port is the local bind port.
	Port int `mapstructure:"port"`

	// SeedListPath points at the text file listing the seed cluster.
	SeedListPath string `mapstructure:"config"`

	// LogLevel is one of debug/info/warn/error/fatal/panic.
	LogLevel string `mapstructure:"log"`

	// EventLogPath is the append-only structured event log file.
	EventLogPath string `mapstructure:"event-log"`

	// TCPTimeout is the dial timeout, the per-frame read deadline on
	// accepted connections, and the I/O deadline of gossip forwards, seed
	// sync pushes and peer registration. Accept itself has no deadline.
	TCPTimeout time.Duration `mapstructure:"tcp-timeout"`

	// ProposalTimeout is T_prop: how long a consensus proposal waits for
	// votes before it is REJECTED.
	ProposalTimeout time.Duration `mapstructure:"proposal-timeout"`

	// GossipInterval is T_gossip: the cadence of outbound gossip
	// generation.
	GossipInterval time.Duration `mapstructure:"gossip-interval"`

	// MaxGossip is the hard per-origin generation cap.
	MaxGossip int `mapstructure:"max-gossip"`

	// PingInterval is T_ping: the liveness probe cadence.
	PingInterval time.Duration `mapstructure:"ping-interval"`

	// PingTimeout is T_ping_timeout: how long a single PING waits for PONG.
	PingTimeout time.Duration `mapstructure:"ping-timeout"`

	// MissThreshold is the number of consecutive missed pings before a
	// neighbor becomes a suspect.
	MissThreshold int `mapstructure:"miss-threshold"`

	// SyncInterval is T_sync: the seed anti-entropy cadence.
	SyncInterval time.Duration `mapstructure:"sync-interval"`

	// MaxPool bounds pooled connections per gossip/liveness target.
	MaxPool int `mapstructure:"max-pool"`

	// StatusInterval is the cadence of the ambient status reporter.
	StatusInterval time.Duration `mapstructure:"status-interval"`

	// RNGSeed seeds the overlay builder's weighted sampler so runs are
	// reproducible. Zero means "derive one from the process clock".
	RNGSeed int64 `mapstructure:"rng-seed"`

	logger *logrus.Entry
}

// NewDefaultConfig returns a Config with every default populated.
func NewDefaultConfig() *Config {
	return &Config{
		LogLevel:        DefaultLogLevel,
		EventLogPath:    DefaultEventLogPath,
		TCPTimeout:      DefaultTCPTimeout,
		ProposalTimeout: DefaultProposalTimeout,
		GossipInterval:  DefaultGossipInterval,
		MaxGossip:       DefaultMaxGossip,
		PingInterval:    DefaultPingInterval,
		PingTimeout:     DefaultPingTimeout,
		MissThreshold:   DefaultMissThreshold,
		SyncInterval:    DefaultSyncInterval,
		MaxPool:         DefaultMaxPool,
		StatusInterval:  DefaultStatusInterval,
	}
}

// BindAddr is the local "host:port" this node listens on.
func (c *Config) BindAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Logger lazily builds the event-logger for role, caching the result on
// the Config.
func (c *Config) Logger(role eventlog.Role) (*logrus.Entry, error) {
	if c.logger == nil {
		logger, err := eventlog.New(role, c.Port, c.LogLevel, c.EventLogPath)
		if err != nil {
			return nil, err
		}
		c.logger = logger
	}
	return c.logger, nil
}
