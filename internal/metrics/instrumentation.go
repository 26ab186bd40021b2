/*
Copyright 2025 The visiontrain Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Instrumentation owns the Prometheus collectors of a training session.
// All collectors live in a private registry so concurrent sessions in one
// process never collide on registration.
type Instrumentation struct {
	registry *prometheus.Registry

	epoch         prometheus.Gauge
	samplesTotal  *prometheus.CounterVec
	batchesTotal  *prometheus.CounterVec
	batchDuration *prometheus.HistogramVec
	metricValue   *prometheus.GaugeVec
}

func NewInstrumentation() *Instrumentation {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)
	return &Instrumentation{
		registry: registry,
		epoch: factory.NewGauge(prometheus.GaugeOpts{
			Name: "visiontrain_epoch",
			Help: "Current training epoch.",
		}),
		samplesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "visiontrain_samples_total",
			Help: "Samples consumed, by split.",
		}, []string{"split"}),
		batchesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "visiontrain_batches_total",
			Help: "Batches consumed, by split.",
		}, []string{"split"}),
		batchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "visiontrain_batch_duration_seconds",
			Help:    "Wall time spent loading and processing one batch.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"split"}),
		metricValue: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "visiontrain_metric_value",
			Help: "Latest value of each evaluation metric, by split.",
		}, []string{"split", "metric"}),
	}
}

// Registry exposes the session registry for scraping or push gateways.
func (m *Instrumentation) Registry() *prometheus.Registry { return m.registry }

// SetEpoch records the epoch currently being processed.
func (m *Instrumentation) SetEpoch(epoch int) { m.epoch.Set(float64(epoch)) }

// ObserveBatch records one consumed batch.
func (m *Instrumentation) ObserveBatch(split string, samples int, elapsed time.Duration) {
	m.samplesTotal.WithLabelValues(split).Add(float64(samples))
	m.batchesTotal.WithLabelValues(split).Inc()
	m.batchDuration.WithLabelValues(split).Observe(elapsed.Seconds())
}

// SetMetricValue mirrors an evaluation metric value.
func (m *Instrumentation) SetMetricValue(split, metric string, value float64) {
	m.metricValue.WithLabelValues(split, metric).Set(value)
}
