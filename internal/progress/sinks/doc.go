// Package sinks implements progress consumers: structured logging, Prometheus
// collectors and batch completion notifications.
package sinks
