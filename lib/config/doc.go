// Package config loads node configuration through viper.
//
// Values come from, in increasing priority: the built-in defaults in
// Defaults(), the YAML config file ($HOME/.go-onion/config.yaml unless
// CfgFile is set), and GO_ONION_* environment variables. Command-line
// flags bound by the caller override all of them.
//
// Keys:
//
//	listen_address            UDP listen address
//	working_dir               where the identity key lives
//	onion.key_cache_size      shared-key cache entries per hop
//	onion.rotation_interval   return-tag secret lifetime
//	transport.rate_limit      packets per second per source IP (0 disables)
//	transport.rate_burst      token bucket burst per source IP
//	metrics.listen_address    Prometheus endpoint, empty disables
package config
