package config

import "time"

// Config holds every globally-configured section of the relay daemon. It is
// loaded once at startup and hot-reloaded on file change; the Instances
// section is a bootstrap seed only — once the instance manager is running it
// owns persistence for the live instance set (see internal/app/persist).
type Config struct {
	Log       LogConfig      `yaml:"log" toml:"log" mapstructure:"log"`
	DNS       DNSConfig      `yaml:"dns" toml:"dns" mapstructure:"dns"`
	Network   NetworkConfig  `yaml:"network" toml:"network" mapstructure:"network"`
	API       APIConfig      `yaml:"api" toml:"api" mapstructure:"api"`
	Endpoints []EndpointConf `yaml:"endpoints" toml:"endpoints" mapstructure:"endpoints"`
	Instances []InstanceConf `yaml:"instances" toml:"instances" mapstructure:"instances"`
}

type LogConfig struct {
	Level      string `yaml:"level" toml:"level" mapstructure:"level"`
	Dir        string `yaml:"dir" toml:"dir" mapstructure:"dir"`
	FileOutput bool   `yaml:"file_output" toml:"file_output" mapstructure:"file_output"`
}

type DNSConfig struct {
	CacheTTL time.Duration `yaml:"cache_ttl" toml:"cache_ttl" mapstructure:"cache_ttl"`
}

// NetworkConfig carries the per-connection timing defaults every endpoint
// inherits unless it overrides them explicitly.
type NetworkConfig struct {
	TCPTimeoutMs       int  `yaml:"tcp_timeout_ms" toml:"tcp_timeout_ms" mapstructure:"tcp_timeout_ms"`
	AssociateTimeoutMs int  `yaml:"associate_timeout_ms" toml:"associate_timeout_ms" mapstructure:"associate_timeout_ms"`
	TCPKeepaliveS      int  `yaml:"tcp_keepalive_s" toml:"tcp_keepalive_s" mapstructure:"tcp_keepalive_s"`
	SendMptcp          bool `yaml:"send_mptcp" toml:"send_mptcp" mapstructure:"send_mptcp"`
}

type APIConfig struct {
	Listen string `yaml:"listen" toml:"listen" mapstructure:"listen"`
}

// EndpointConf is the serialisable form of a relay endpoint, mirroring the
// JSON/TOML shape exposed over the instance manager's HTTP API. Grounded on
// realm's conf::endpoint::EndpointConf.
type EndpointConf struct {
	Listen          string   `yaml:"listen" toml:"listen" json:"listen" mapstructure:"listen"`
	Remote          string   `yaml:"remote" toml:"remote" json:"remote" mapstructure:"remote"`
	ExtraRemotes    []string `yaml:"extra_remotes,omitempty" toml:"extra_remotes,omitempty" json:"extra_remotes,omitempty" mapstructure:"extra_remotes"`
	Balance         string   `yaml:"balance,omitempty" toml:"balance,omitempty" json:"balance,omitempty" mapstructure:"balance"`
	Through         string   `yaml:"through,omitempty" toml:"through,omitempty" json:"through,omitempty" mapstructure:"through"`
	Interface       string   `yaml:"interface,omitempty" toml:"interface,omitempty" json:"interface,omitempty" mapstructure:"interface"`
	ListenInterface string   `yaml:"listen_interface,omitempty" toml:"listen_interface,omitempty" json:"listen_interface,omitempty" mapstructure:"listen_interface"`
	Network         *struct {
		UseTCP             *bool `yaml:"tcp,omitempty" toml:"tcp,omitempty" json:"tcp,omitempty" mapstructure:"tcp"`
		UseUDP             *bool `yaml:"udp,omitempty" toml:"udp,omitempty" json:"udp,omitempty" mapstructure:"udp"`
		TCPTimeoutMs       *int  `yaml:"tcp_timeout_ms,omitempty" toml:"tcp_timeout_ms,omitempty" json:"tcp_timeout_ms,omitempty" mapstructure:"tcp_timeout_ms"`
		AssociateTimeoutMs *int  `yaml:"associate_timeout_ms,omitempty" toml:"associate_timeout_ms,omitempty" json:"associate_timeout_ms,omitempty" mapstructure:"associate_timeout_ms"`
		TCPKeepaliveS      *int  `yaml:"tcp_keepalive_s,omitempty" toml:"tcp_keepalive_s,omitempty" json:"tcp_keepalive_s,omitempty" mapstructure:"tcp_keepalive_s"`
		Mptcp              *bool `yaml:"mptcp,omitempty" toml:"mptcp,omitempty" json:"mptcp,omitempty" mapstructure:"mptcp"`
	} `yaml:"network,omitempty" toml:"network,omitempty" json:"network,omitempty" mapstructure:"network"`
}

// InstanceConf is a persisted CRUD-managed instance: an EndpointConf plus
// the manager-owned bookkeeping fields.
type InstanceConf struct {
	ID         string       `yaml:"id" toml:"id" json:"id" mapstructure:"id"`
	ExternalID string       `yaml:"external_id,omitempty" toml:"external_id,omitempty" json:"external_id,omitempty" mapstructure:"external_id"`
	AutoStart  bool         `yaml:"auto_start" toml:"auto_start" json:"auto_start" mapstructure:"auto_start"`
	Status     string       `yaml:"status" toml:"status" json:"status" mapstructure:"status"`
	Config     EndpointConf `yaml:",inline" toml:",inline" json:"config" mapstructure:",squash"`
}

func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Level:      "info",
			Dir:        "./logs",
			FileOutput: false,
		},
		DNS: DNSConfig{
			CacheTTL: 2 * time.Second,
		},
		Network: NetworkConfig{
			TCPTimeoutMs:       5000,
			AssociateTimeoutMs: 30000,
			TCPKeepaliveS:      15,
		},
		API: APIConfig{
			Listen: "127.0.0.1:7890",
		},
	}
}
