// Package config holds sshsocks settings, loaded from an optional YAML file
// and overridden by command-line flags.
package config

import (
	"errors"
	"fmt"
	"io"
	"maps"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/die-net/sshsocks/internal/ssh"
)

// Config is the complete process configuration. It is not modified after
// startup.
type Config struct {
	SSH      SSHConfig      `yaml:"ssh"`
	Forward  ForwardConfig  `yaml:"forward"`
	Listen   ListenConfig   `yaml:"listen"`
	SOCKS5   SOCKS5Config   `yaml:"socks5"`
	Outbound OutboundConfig `yaml:"outbound"`

	DrainTimeout time.Duration `yaml:"drain_timeout"`
	DebugListen  string        `yaml:"debug_listen"`
	Verbose      bool          `yaml:"verbose"`
}

// SSHConfig describes the SSH server carrying the remote forward.
type SSHConfig struct {
	Address           string        `yaml:"address"` // host:port
	User              string        `yaml:"user"`
	Password          string        `yaml:"password"`
	Key               string        `yaml:"key"` // "agent", a key file, or empty
	KeyPassphrase     string        `yaml:"key_passphrase"`
	KnownHosts        string        `yaml:"known_hosts"`
	HandshakeTimeout  time.Duration `yaml:"handshake_timeout"`
	KeepAliveInterval time.Duration `yaml:"keepalive_interval"`
	KeepAliveMax      int           `yaml:"keepalive_max"`
}

// ForwardConfig is the address the SSH server listens on for the remote peer.
type ForwardConfig struct {
	RemoteHost string `yaml:"remote_host"`
	RemotePort int    `yaml:"remote_port"`
}

// ListenConfig is the local SOCKS5 listener.
type ListenConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	ReusePort bool   `yaml:"reuse_port"`
}

type SOCKS5Config struct {
	Sentinel           string        `yaml:"sentinel"`
	LegacyReplies      bool          `yaml:"legacy_replies"`
	BindHost           string        `yaml:"bind_host"`
	BindTimeout        time.Duration `yaml:"bind_timeout"`
	UDPIdleTimeout     time.Duration `yaml:"udp_idle_timeout"`
	NegotiationTimeout time.Duration `yaml:"negotiation_timeout"`
	RelayRateLimit     string        `yaml:"relay_rate_limit"` // bytes per second, e.g. "1MiB"; empty is unlimited
}

type OutboundConfig struct {
	Upstream     string        `yaml:"upstream"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	DNSServer    string        `yaml:"dns_server"`
	TCPKeepAlive string        `yaml:"tcp_keepalive"` // on|off|keepidle:keepintvl:keepcnt
}

// Default returns a Config with default values. A few defaults come from the
// environment: the SSH agent, $USER, $HOME and $ALL_PROXY.
func Default() *Config {
	return &Config{
		SSH: SSHConfig{
			User:              os.Getenv("USER"),
			Key:               defaultSSHKey(),
			KnownHosts:        defaultKnownHosts(),
			HandshakeTimeout:  15 * time.Second,
			KeepAliveInterval: 30 * time.Second,
			KeepAliveMax:      3,
		},
		Forward: ForwardConfig{
			RemoteHost: "127.0.0.1",
			RemotePort: 1080,
		},
		Listen: ListenConfig{
			Host: "127.0.0.1",
			Port: 1080,
		},
		SOCKS5: SOCKS5Config{
			NegotiationTimeout: 10 * time.Second,
		},
		Outbound: OutboundConfig{
			Upstream:     defaultUpstream(),
			DialTimeout:  10 * time.Second,
			TCPKeepAlive: "45:45:3",
		},
		DrainTimeout: 10 * time.Second,
	}
}

// Load reads and parses a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // Path is from the command line.
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return Parse(data)
}

// Parse expands environment references in data and decodes it over Default.
// Keys absent from data keep their defaults. Parse does not validate, since
// flags may still supply required values.
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(strings.NewReader(expandEnvVars(string(data))))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return cfg, nil
}

// envVarRegex matches ${VAR}, ${VAR:-default} and $VAR.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// expandEnvVars replaces environment references with their values. Unset
// variables without a default are left as written.
func expandEnvVars(s string) string {
	return envVarRegex.ReplaceAllStringFunc(s, func(match string) string {
		var name string
		if strings.HasPrefix(match, "${") {
			name = match[2 : len(match)-1]
		} else {
			name = match[1:]
		}

		if idx := strings.Index(name, ":-"); idx != -1 {
			if val, ok := os.LookupEnv(name[:idx]); ok && val != "" {
				return val
			}
			return name[idx+2:]
		}

		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return match
	})
}

// Validate checks the configuration for errors, reporting all of them.
func (c *Config) Validate() error {
	var errs []string

	if c.SSH.Address == "" {
		errs = append(errs, "ssh.address is required")
	} else if _, _, err := net.SplitHostPort(c.SSH.Address); err != nil {
		errs = append(errs, fmt.Sprintf("ssh.address: %v", err))
	}
	if c.SSH.User == "" {
		errs = append(errs, "ssh.user is required")
	}
	if c.SSH.Password == "" && c.SSH.Key == "" {
		errs = append(errs, "one of ssh.password or ssh.key is required")
	}
	if c.SSH.KeepAliveMax < 0 {
		errs = append(errs, "ssh.keepalive_max must not be negative")
	}

	if !validPort(c.Forward.RemotePort) {
		errs = append(errs, fmt.Sprintf("forward.remote_port: %d out of range", c.Forward.RemotePort))
	}
	if !validPort(c.Listen.Port) {
		errs = append(errs, fmt.Sprintf("listen.port: %d out of range", c.Listen.Port))
	}

	durations := map[string]time.Duration{
		"ssh.handshake_timeout":      c.SSH.HandshakeTimeout,
		"ssh.keepalive_interval":     c.SSH.KeepAliveInterval,
		"socks5.bind_timeout":        c.SOCKS5.BindTimeout,
		"socks5.udp_idle_timeout":    c.SOCKS5.UDPIdleTimeout,
		"socks5.negotiation_timeout": c.SOCKS5.NegotiationTimeout,
		"outbound.dial_timeout":      c.Outbound.DialTimeout,
		"drain_timeout":              c.DrainTimeout,
	}
	for _, name := range slices.Sorted(maps.Keys(durations)) {
		if durations[name] < 0 {
			errs = append(errs, name+" must not be negative")
		}
	}

	if _, err := c.SOCKS5.RateLimit(); err != nil {
		errs = append(errs, fmt.Sprintf("socks5.relay_rate_limit: %v", err))
	}
	if _, err := ParseTCPKeepAlive(c.Outbound.TCPKeepAlive); err != nil {
		errs = append(errs, fmt.Sprintf("outbound.tcp_keepalive: %v", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// RateLimit returns the relay cap in bytes per second, or 0 for unlimited.
func (c SOCKS5Config) RateLimit() (int64, error) {
	if strings.TrimSpace(c.RelayRateLimit) == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(c.RelayRateLimit)
	if err != nil {
		return 0, err
	}
	if n > 1<<62 {
		return 0, errors.New("too large")
	}
	return int64(n), nil //nolint:gosec // Bounded above.
}

// ParseTCPKeepAlive parses on|off|keepidle:keepintvl:keepcnt, with idle and
// interval in seconds.
func ParseTCPKeepAlive(s string) (net.KeepAliveConfig, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	switch s {
	case "":
		return net.KeepAliveConfig{}, errors.New("empty")
	case "on":
		return net.KeepAliveConfig{Enable: true}, nil
	case "off":
		return net.KeepAliveConfig{Enable: false}, nil
	}

	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return net.KeepAliveConfig{}, errors.New("expected on|off|keepidle:keepintvl:keepcnt")
	}
	keepIdle, err := parsePositiveInt(parts[0])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepidle: %w", err)
	}
	keepIntvl, err := parsePositiveInt(parts[1])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepintvl: %w", err)
	}
	keepCnt, err := parsePositiveInt(parts[2])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepcnt: %w", err)
	}

	return net.KeepAliveConfig{
		Enable:   true,
		Idle:     time.Duration(keepIdle) * time.Second,
		Interval: time.Duration(keepIntvl) * time.Second,
		Count:    keepCnt,
	}, nil
}

func parsePositiveInt(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, errors.New("must be > 0")
	}
	return n, nil
}

func validPort(p int) bool {
	return p >= 0 && p <= 65535
}

// redactedValue is the placeholder for sensitive values.
const redactedValue = "[REDACTED]"

// Redacted returns a copy with secrets replaced, safe to log.
func (c *Config) Redacted() *Config {
	r := *c
	if r.SSH.Password != "" {
		r.SSH.Password = redactedValue
	}
	if r.SSH.KeyPassphrase != "" {
		r.SSH.KeyPassphrase = redactedValue
	}
	if strings.Contains(r.Outbound.Upstream, "@") {
		r.Outbound.Upstream = redactUserinfo(r.Outbound.Upstream)
	}
	return &r
}

// String renders the redacted configuration as YAML.
func (c *Config) String() string {
	data, err := yaml.Marshal(c.Redacted())
	if err != nil {
		return err.Error()
	}
	return string(data)
}

func redactUserinfo(rawURL string) string {
	scheme, rest, ok := strings.Cut(rawURL, "://")
	if !ok {
		return rawURL
	}
	at := strings.LastIndex(rest, "@")
	if at < 0 {
		return rawURL
	}
	return scheme + "://" + redactedValue + rest[at:]
}

func defaultSSHKey() string {
	if ssh.AgentAvailable() {
		return ssh.AgentAuthType
	}
	return ""
}

func defaultKnownHosts() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".ssh", "known_hosts")
}

func defaultUpstream() string {
	if p := os.Getenv("ALL_PROXY"); p != "" {
		return p
	}
	if p := os.Getenv("all_proxy"); p != "" {
		return p
	}
	return "direct://"
}
