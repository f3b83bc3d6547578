// Copyright 2024 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package hmapmetrics provides hmap.Observer implementations that export
// the resize activity of a Map as Prometheus metrics or log lines.
package hmapmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/cockroachdb/hmap"
)

// Metrics is an hmap.Observer that records resizes in Prometheus metrics.
// Each metric carries a constant "table" label so that several maps can
// share a registerer; registering two Metrics with the same table name on
// the same registerer panics.
type Metrics struct {
	resizes      *prometheus.CounterVec
	failures     *prometheus.CounterVec
	pathological prometheus.Counter
	buckets      prometheus.Gauge
}

var _ hmap.Observer = (*Metrics)(nil)

// NewMetrics creates and registers the metrics for the map named table. A
// nil registerer creates unregistered metrics.
func NewMetrics(registerer prometheus.Registerer, table string) *Metrics {
	labels := prometheus.Labels{"table": table}
	return &Metrics{
		resizes: promauto.With(registerer).NewCounterVec(prometheus.CounterOpts{
			Name:        "hmap_resizes_total",
			Help:        "Total number of bucket array rebuilds, by reason.",
			ConstLabels: labels,
		}, []string{"reason"}),
		failures: promauto.With(registerer).NewCounterVec(prometheus.CounterOpts{
			Name:        "hmap_resize_failures_total",
			Help:        "Total number of resizes abandoned because no bucket array could be allocated.",
			ConstLabels: labels,
		}, []string{"reason"}),
		pathological: promauto.With(registerer).NewCounter(prometheus.CounterOpts{
			Name:        "hmap_pathological_buckets_total",
			Help:        "Total number of over-long bucket chains seen while resizing.",
			ConstLabels: labels,
		}),
		buckets: promauto.With(registerer).NewGauge(prometheus.GaugeOpts{
			Name:        "hmap_buckets",
			Help:        "Number of buckets after the most recent resize.",
			ConstLabels: labels,
		}),
	}
}

func (m *Metrics) Resized(reason hmap.ResizeReason, oldMask, newMask uint64) {
	m.resizes.WithLabelValues(reason.String()).Inc()
	m.buckets.Set(float64(newMask + 1))
}

func (m *Metrics) ResizeFailed(reason hmap.ResizeReason, err error) {
	m.failures.WithLabelValues(reason.String()).Inc()
}

func (m *Metrics) Pathological(bucket uint64, length int) {
	m.pathological.Inc()
}
