// Package config loads settings for the urlsync command.
//
// Settings come from, in increasing priority: built-in defaults, the
// urlsync.yaml file, a .env file in the working directory, and URLSYNC_*
// environment variables.
//
// # Configuration File Structure
//
//	sync:
//	  min_interval: 50ms
//	  rate_limit_factor: 2
//	server:
//	  addr: localhost:8080
//	  write_timeout: 10s
//	  allowed_origins: [https://app.example.com]
//	log:
//	  level: debug
//	  format: json
//	metrics:
//	  enabled: true
//	  path: /metrics
//
// # Environment Overrides
//
//	URLSYNC_MIN_INTERVAL       sync.min_interval
//	URLSYNC_RATE_LIMIT_FACTOR  sync.rate_limit_factor
//	URLSYNC_ADDR               server.addr
//	URLSYNC_LOG_LEVEL          log.level
//	URLSYNC_LOG_FORMAT         log.format
//	URLSYNC_METRICS            metrics.enabled
//
// Errors are internal/errors values (U001-U004) and carry the line of the
// offending field when it came from the file.
package config
