// Copyright 2023 The scopehal Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scpi

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Stats counts link-level events for an Engine.
type Stats struct {
	exchanges prometheus.Counter
	timeouts  prometheus.Counter
	resyncs   prometheus.Counter
}

// NewStats creates the link counters and registers them with reg.
func NewStats(reg prometheus.Registerer) (*Stats, error) {
	stats := &Stats{
		exchanges: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scpi_exchanges_total",
			Help: "Total command/query exchanges issued on the link.",
		}),
		timeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scpi_timeouts_total",
			Help: "Exchanges that timed out or returned a malformed reply.",
		}),
		resyncs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scpi_resyncs_total",
			Help: "Resynchronization sequences started.",
		}),
	}
	for _, c := range []prometheus.Collector{stats.exchanges, stats.timeouts, stats.resyncs} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return stats, nil
}
