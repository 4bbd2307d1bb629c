// Package config handles configuration loading for panel-gateway.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable
// expansion. The package provides validation and sensible defaults. The
// deployment environment (stg or prod) selects the ANF authorization-service
// address and the restrictive/permissive behavior of the relay; an invalid
// environment prevents startup entirely.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  base_url: "${ANF_BASE_URL}"
//
// Syntax: ${VAR_NAME}
//
// # Configuration Sections
//
// Environment and server settings:
//
//	environment: "prod"   # stg or prod; falls back to $API_ENV
//	server:
//	  http_addr: "0.0.0.0:8080"
//
// AWS (device certs and service key):
//
//	aws:
//	  region: "us-east-1"
//	  certs_bucket: "keyme-calibration"
//	  service_key_secret_id: "/prod/key-scanner/env"
//	  service_key_field: "KEY_SCANNER_API_KEY"
//
// Relay timing (Go time.ParseDuration syntax):
//
//	relay:
//	  dial_timeout: "10s"
//	  gate_timeout: "8s"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Restrictive Mode
//
// Config.Restrictive reports whether the gateway runs the deployed-kiosk
// handshake gate and relaxed per-command authorization. Staging is
// restrictive; production is permissive. The switch is fixed for the process
// lifetime.
//
// # Usage
//
//	cfg, err := config.Load("/etc/panel-gateway/gateway.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
