// Package integration contains integration tests for the shop session service.
//
// These tests use testcontainers to spin up real dependencies (Redis) and test
// the complete functionality of the session cache in an environment that
// closely matches production.
package integration
