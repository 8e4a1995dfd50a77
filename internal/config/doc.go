// Package config handles configuration loading for fraudgate.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  proof_secret: "${FRAUDGATE_PROOF_SECRET}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	paywall:
//	  proof_ttl: "1h"
//	  signal_ttl: "24h"
//	escalation:
//	  retry_backoff: "500ms"
//	  agent_timeout: "30s"
//
// # Configuration Sections
//
// Server and persistence:
//
//	server:
//	  http_addr: "0.0.0.0:8402"
//	database:
//	  path: "/var/lib/fraudgate/fraudgate.db"
//	catalog:
//	  path: "/etc/fraudgate/catalog.yaml"
//
// Escalation pipeline:
//
//	escalation:
//	  budget_ceiling: 1.00   # max signal spend per case, USD
//	  max_retries: 3
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
package config
