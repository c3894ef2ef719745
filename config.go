package transport

import (
	"log/slog"
	"time"

	"github.com/kadewire/transport/internal/kademlia"
	"github.com/kadewire/transport/internal/router"
	"github.com/kadewire/transport/pkg/txerrors"
	"github.com/kadewire/transport/pkg/types"
)

// DifferentVersionHandler is invoked whenever a remote peer's declared
// AppProtocolVersion is rejected by the compatibility predicate.
type DifferentVersionHandler func(remote types.Peer)

// MessageHandler is invoked for every valid inbound message.
type MessageHandler func(env types.Envelope)

// Config holds every option recognized by spec §6, populated through
// functional Options and validated by Validate before Start.
type Config struct {
	PrivateKey     types.PrivateKey
	AppVersion     types.AppProtocolVersion
	TrustedSigners types.TrustedSigners

	TableSize  int
	BucketSize int
	Workers    int

	Host        string
	ListenPort  uint16
	ICEServers  []string
	TURNUser    string
	TURNPass    string
	TURNRealm   string

	RelayProxyWorkers int
	ReplyTimeout      time.Duration
	PreDisposeDelay   time.Duration

	// BootstrapSeeds are the seeds for the immediate bootstrap-retry
	// that fires the first time the table goes from empty to non-empty
	// (spec §4 SUPPLEMENT). Start does not call Bootstrap with them.
	BootstrapSeeds []types.BoundPeer

	DifferentVersionHandler DifferentVersionHandler
	MessageHandler          MessageHandler

	Logger *slog.Logger

	compatibility types.CompatibilityPredicate
}

// Option is a functional option over Config, mirroring the teacher's
// Option func(*options) error construction style.
type Option func(*Config) error

func newConfig() *Config {
	return &Config{
		TableSize:         kademlia.DefaultTableSize,
		BucketSize:        kademlia.DefaultBucketSize,
		Workers:           4,
		RelayProxyWorkers: 3,
		ReplyTimeout:      router.DefaultReplyTimeout,
		PreDisposeDelay:   100 * time.Millisecond,
		compatibility:     types.DefaultCompatibility,
	}
}

// WithPrivateKey sets the node's identity and signing key. Required.
func WithPrivateKey(key types.PrivateKey) Option {
	return func(c *Config) error {
		c.PrivateKey = key
		return nil
	}
}

// WithAppVersion sets the local AppProtocolVersion. Required.
func WithAppVersion(v types.AppProtocolVersion) Option {
	return func(c *Config) error {
		c.AppVersion = v
		return nil
	}
}

// WithTrustedSigners sets the set of public keys whose foreign
// versions are accepted by the default compatibility predicate.
func WithTrustedSigners(signers types.TrustedSigners) Option {
	return func(c *Config) error {
		c.TrustedSigners = signers
		return nil
	}
}

// WithCompatibilityPredicate overrides the default version
// compatibility check.
func WithCompatibilityPredicate(pred types.CompatibilityPredicate) Option {
	return func(c *Config) error {
		c.compatibility = pred
		return nil
	}
}

// WithTableSize overrides the Kademlia table size (bucket count).
func WithTableSize(n int) Option {
	return func(c *Config) error {
		c.TableSize = n
		return nil
	}
}

// WithBucketSize overrides the Kademlia k-bucket size.
func WithBucketSize(n int) Option {
	return func(c *Config) error {
		c.BucketSize = n
		return nil
	}
}

// WithWorkers sets the dealer worker pool size.
func WithWorkers(n int) Option {
	return func(c *Config) error {
		c.Workers = n
		return nil
	}
}

// WithHost sets the public DNS/IP this node advertises, as an
// alternative to ICE/TURN traversal.
func WithHost(host string) Option {
	return func(c *Config) error {
		c.Host = host
		return nil
	}
}

// WithListenPort sets the router socket's bind port. If unset, Start
// binds a random port.
func WithListenPort(port uint16) Option {
	return func(c *Config) error {
		c.ListenPort = port
		return nil
	}
}

// WithICEServers sets the TURN/STUN server list used for NAT traversal
// when Host is absent.
func WithICEServers(servers []string) Option {
	return func(c *Config) error {
		c.ICEServers = servers
		return nil
	}
}

// WithTURNCredentials sets the long-term TURN credentials.
func WithTURNCredentials(username, password, realm string) Option {
	return func(c *Config) error {
		c.TURNUser = username
		c.TURNPass = password
		c.TURNRealm = realm
		return nil
	}
}

// WithRelayProxyWorkers overrides the relay-proxy worker count (spec
// §9 FIXME: hard-coded to 3 in the source this was distilled from).
func WithRelayProxyWorkers(n int) Option {
	return func(c *Config) error {
		c.RelayProxyWorkers = n
		return nil
	}
}

// WithReplyTimeout overrides the router's reply-send timeout (spec §9
// FIXME: arbitrary 1s default).
func WithReplyTimeout(d time.Duration) Option {
	return func(c *Config) error {
		c.ReplyTimeout = d
		return nil
	}
}

// WithPreDisposeDelay overrides the dealer pool's pause before closing
// a dealer socket after its last use (spec §9 FIXME: arbitrary 100ms
// default).
func WithPreDisposeDelay(d time.Duration) Option {
	return func(c *Config) error {
		c.PreDisposeDelay = d
		return nil
	}
}

// WithBootstrapSeeds sets the seed peers used for the first-peer
// bootstrap-retry supplement. An initial bootstrap is a separate
// Transport.Bootstrap call.
func WithBootstrapSeeds(seeds []types.BoundPeer) Option {
	return func(c *Config) error {
		c.BootstrapSeeds = seeds
		return nil
	}
}

// WithDifferentVersionHandler registers the cross-version callback.
func WithDifferentVersionHandler(fn DifferentVersionHandler) Option {
	return func(c *Config) error {
		c.DifferentVersionHandler = fn
		return nil
	}
}

// WithMessageHandler registers the inbound-message callback.
func WithMessageHandler(fn MessageHandler) Option {
	return func(c *Config) error {
		c.MessageHandler = fn
		return nil
	}
}

// WithLogger sets the base logger every component derives its
// component-tagged logger from. The core never reads a process-global
// logger (spec §9).
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) error {
		c.Logger = logger
		return nil
	}
}

// Validate enforces the Start-time constraints from spec §6.
func (c *Config) Validate() error {
	var violations []string

	if c.PrivateKey.Raw() == nil {
		violations = append(violations, "private_key is required")
	}
	if c.AppVersion.Signer.IsZero() {
		violations = append(violations, "app_version is required")
	}
	if c.Host == "" && len(c.ICEServers) == 0 {
		violations = append(violations, "one of host or ice_servers is required")
	}
	if c.Workers <= 0 {
		violations = append(violations, "workers must be positive")
	}

	if len(violations) > 0 {
		return &txerrors.InvalidConfigError{Violations: violations}
	}
	return nil
}

func (c *Config) localPeer() types.Peer {
	return types.Peer{Identity: c.PrivateKey.Identity(), AppVersion: c.AppVersion}
}

// compatibilityGate adapts Config into router.VersionGate.
type compatibilityGate struct {
	cfg *Config
}

func (g compatibilityGate) Compatible(remote types.AppProtocolVersion) bool {
	return g.cfg.compatibility(g.cfg.AppVersion, remote, g.cfg.TrustedSigners)
}
