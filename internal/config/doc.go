// ABOUTME: Package documentation for configuration loading
// ABOUTME: Describes the YAML format, env expansion, and the secret overlay

// Package config handles configuration loading for relay-server.
//
// # Overview
//
// Configuration is loaded from a YAML file with environment variable
// expansion. The package provides validation and sensible defaults.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	database:
//	  path: "${RELAY_DB_PATH}"
//
// Unset variables expand to the empty string.
//
// # Secret Overlay
//
// Credentials can be supplied entirely through the environment and win over
// file values when set:
//
//	RELAY_JWT_SECRET     auth.jwt_secret
//	RELAY_SMTP_PASSWORD  notifications.email.password
//	RELAY_SMS_TOKEN      notifications.sms.token
//	RELAY_PUSH_TOKEN     notifications.push.token
//
// # Durations
//
// Duration fields use Go duration syntax, for example "3s" or "1m30s".
package config
