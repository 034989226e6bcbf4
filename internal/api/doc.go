// Package api serves the read-only admin HTTP surface of the plugin daemon:
// plugin listings, health results, Prometheus metrics and liveness probes.
package api
