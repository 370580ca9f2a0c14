// Package stats exposes the daemon's core-accounting and frame-cache state
// as Prometheus metrics, scraped over the configured metrics listener.
/*
 * Copyright (c) 2018-2026, OpenCue Contributors. All rights reserved.
 */
package stats

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opencue/rqd/core"
)

const namespace = "rqd"

// Collector owns a private Prometheus registry — never the global
// DefaultRegisterer — so metric names never collide with anything else
// linked into the binary (spec §9 supplement).
type Collector struct {
	registry *prometheus.Registry

	coresTotal  prometheus.Gauge
	coresLocked prometheus.Gauge
	coresIdle   prometheus.Gauge
	coresBooked prometheus.Gauge

	framesRunning prometheus.Gauge
	idleLocked    prometheus.Gauge

	framesAdmitted prometheus.Counter
	framesRejected *prometheus.CounterVec
}

// NewCollector constructs a Collector labeled with hostName as a constant
// label on every metric, so a single Prometheus instance scraping many
// render hosts through a shared service discovery target can still
// distinguish them.
func NewCollector(hostName string) *Collector {
	constLabels := prometheus.Labels{"host": hostName}
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		coresTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "cores_total", Help: "Total centi-cores on this host.", ConstLabels: constLabels,
		}),
		coresLocked: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "cores_locked", Help: "Centi-cores withheld from booking.", ConstLabels: constLabels,
		}),
		coresIdle: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "cores_idle", Help: "Centi-cores available to book.", ConstLabels: constLabels,
		}),
		coresBooked: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "cores_booked", Help: "Centi-cores reserved by running frames.", ConstLabels: constLabels,
		}),
		framesRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "frames_running", Help: "Number of frames currently in the frame cache.", ConstLabels: constLabels,
		}),
		idleLocked: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "idle_locked", Help: "1 when the idle lock is engaged, else 0.", ConstLabels: constLabels,
		}),
		framesAdmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "frames_admitted_total", Help: "Launch requests admitted by the supervisor.", ConstLabels: constLabels,
		}),
		framesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "frames_rejected_total", Help: "Launch requests rejected, by reason kind.", ConstLabels: constLabels,
		}, []string{"kind"}),
	}

	registry.MustRegister(
		c.coresTotal, c.coresLocked, c.coresIdle, c.coresBooked,
		c.framesRunning, c.idleLocked,
		c.framesAdmitted, c.framesRejected,
	)
	return c
}

// UpdateLedger sets the four core-accounting gauges from a point-in-time
// snapshot.
func (c *Collector) UpdateLedger(snap core.LedgerSnapshot) {
	c.coresTotal.Set(float64(snap.Total))
	c.coresLocked.Set(float64(snap.Locked))
	c.coresIdle.Set(float64(snap.Idle))
	c.coresBooked.Set(float64(snap.Booked))
}

func (c *Collector) SetFramesRunning(n int) { c.framesRunning.Set(float64(n)) }

func (c *Collector) SetIdleLocked(locked bool) {
	if locked {
		c.idleLocked.Set(1)
		return
	}
	c.idleLocked.Set(0)
}

func (c *Collector) IncFramesAdmitted() { c.framesAdmitted.Inc() }

// IncFramesRejected increments the rejection counter for the admission
// failure's error kind (spec §4.3's rejection table).
func (c *Collector) IncFramesRejected(kind string) { c.framesRejected.WithLabelValues(kind).Inc() }

// Handler exposes the registry at the configured metrics listener's /metrics
// endpoint (spec §9 supplement).
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{ErrorHandling: promhttp.ContinueOnError})
}
