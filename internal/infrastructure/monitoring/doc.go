/*
Package monitoring provides Prometheus metrics for termcore.

# Overview

Metrics are registered with a private registry rather than the global
default, so several instances can coexist in one process and tests stay
isolated. The registry also carries the Go runtime and process collectors.

# Metrics

- HTTP requests by route template and status
- Sessions open and lines submitted
- Built-in invocations by name
- Jobs spawned by kind, spawn failures by failing primitive, jobs reaped by outcome
- Live jobs by state and bytes read per stream
- WebSocket connections and messages

# Usage

	metrics := monitoring.NewMetrics()
	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	metrics.RecordSpawn("pty")
*/
package monitoring
