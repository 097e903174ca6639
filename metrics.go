package main

import (
	"net/http"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type LoomMetrics struct {
	Recon *ReconMetrics
}

type ReconMetrics struct {
	Events   metrics.Counter
	Rejected metrics.Counter
	Rounds   metrics.Counter
	DeltaOps metrics.Counter
}

func NewLoomMetrics(prometheusAddr string) *LoomMetrics {

	m := &LoomMetrics{}

	if prometheusAddr == "" {
		m.Recon = &ReconMetrics{
			Events:   discard.NewCounter(),
			Rejected: discard.NewCounter(),
			Rounds:   discard.NewCounter(),
			DeltaOps: discard.NewCounter(),
		}
	} else {
		m.Recon = &ReconMetrics{
			Events: prometheus.NewCounterFrom(prom.CounterOpts{
				Namespace: "loom",
				Subsystem: "recon",
				Name:      "events_total",
				Help:      "Number of operations fed into the replica",
			}, nil),
			Rejected: prometheus.NewCounterFrom(prom.CounterOpts{
				Namespace: "loom",
				Subsystem: "recon",
				Name:      "rejected_total",
				Help:      "Number of permanently rejected operations",
			}, nil),
			Rounds: prometheus.NewCounterFrom(prom.CounterOpts{
				Namespace: "loom",
				Subsystem: "recon",
				Name:      "reconciliation_rounds_total",
				Help:      "Number of answered reconciliation requests",
			}, nil),
			DeltaOps: prometheus.NewCounterFrom(prom.CounterOpts{
				Namespace: "loom",
				Subsystem: "recon",
				Name:      "delta_ops_total",
				Help:      "Number of operations shipped in reconciliation deltas",
			}, nil),
		}
	}

	return m
}

func runPromHTTP(logger log.Logger, addr string) {

	if addr == "" {
		level.Debug(logger).Log("msg", "prometheus addr is empty, not exposing prometheus metrics")
		return
	}

	http.Handle("/metrics", promhttp.Handler())

	level.Info(logger).Log("msg", "prometheus handler listening", "addr", addr)
	if err := http.ListenAndServe(addr, nil); err != nil {
		level.Warn(logger).Log("msg", "failed to serve prometheus metrics", "err", err)
	}
}
