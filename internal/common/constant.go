// Package common contains shared constants and sentinel errors used across
// gateway components.
package common

// AuthorizationHeaderName carries the bearer access token on inbound requests.
const AuthorizationHeaderName = "Authorization"

// BearerPrefix precedes the access token in the Authorization header.
const BearerPrefix = "Bearer "

// Roles known to the gateway.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// Audit statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// RedactedValue replaces sensitive values in audited request bodies.
const RedactedValue = "[REDACTED]"
