package config

import (
	"path/filepath"
	"time"
)

// ConfigDefaults gathers every default value in one place.
type ConfigDefaults struct {
	Node      NodeDefaults
	Onion     OnionDefaults
	Transport TransportDefaults
	Metrics   MetricsDefaults
}

// NodeDefaults contains defaults for the node process.
type NodeDefaults struct {
	// ListenAddress is the UDP address relays accept packets on.
	// Default: 0.0.0.0:33445
	ListenAddress string

	// WorkingDir holds the identity keystore.
	// Default: $HOME/.go-onion/config
	WorkingDir string
}

// OnionDefaults contains defaults for the packet layer.
type OnionDefaults struct {
	// KeyCacheSize is the LRU capacity of each per-hop shared-key cache.
	// Default: 256
	KeyCacheSize int

	// RotationInterval is how long a return-tag secret stays current.
	// Tags survive for up to twice this long.
	// Default: 2 hours
	RotationInterval time.Duration
}

// TransportDefaults contains defaults for the UDP transport.
type TransportDefaults struct {
	// RateLimit is packets per second accepted from one source IP.
	// Default: 200
	RateLimit float64

	// RateBurst is the token bucket depth per source IP.
	// Default: 400
	RateBurst int

	// SourceIdleTimeout is when an idle source's bucket is forgotten.
	// Default: 5 minutes
	SourceIdleTimeout time.Duration
}

// MetricsDefaults contains defaults for the Prometheus endpoint.
type MetricsDefaults struct {
	// ListenAddress serves /metrics. Empty disables the endpoint.
	// Default: "" (disabled)
	ListenAddress string
}

// Defaults returns the built-in configuration.
func Defaults() ConfigDefaults {
	return ConfigDefaults{
		Node: NodeDefaults{
			ListenAddress: "0.0.0.0:33445",
			WorkingDir:    filepath.Join(BuildOnionDirPath(), "config"),
		},
		Onion: OnionDefaults{
			KeyCacheSize:     256,
			RotationInterval: 2 * time.Hour,
		},
		Transport: TransportDefaults{
			RateLimit:         200,
			RateBurst:         400,
			SourceIdleTimeout: 5 * time.Minute,
		},
		Metrics: MetricsDefaults{
			ListenAddress: "",
		},
	}
}
