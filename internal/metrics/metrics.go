/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics stores Prometheus collectors used across the engine. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	JobRuns         *prometheus.CounterVec
	JobDuration     *prometheus.HistogramVec
	BatchRecords    *prometheus.CounterVec
	LedgerAdjusts   *prometheus.CounterVec
	Observations    *prometheus.CounterVec
	EmailDeliveries *prometheus.CounterVec
	PriceLookups    *prometheus.CounterVec
	HTTPRequests    *prometheus.CounterVec
	HTTPLatency     *prometheus.HistogramVec
	LedgerExportSeq prometheus.Gauge
}

var (
	regOnce         sync.Once
	metricsInstance *Metrics
)

// Registry builds and registers the metrics singleton with optional namespace.
func Registry(namespace string) *Metrics {
	regOnce.Do(func() {
		metricsInstance = &Metrics{
			JobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scheduler_job_runs_total",
				Help:      "Scheduled job runs by job and outcome.",
			}, []string{"job", "status"}),
			JobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "scheduler_job_duration_seconds",
				Help:      "Duration of scheduled job runs.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"job"}),
			BatchRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batch_records_total",
				Help:      "Records handled by batch jobs by outcome.",
			}, []string{"job", "outcome"}),
			LedgerAdjusts: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ledger_adjustments_total",
				Help:      "Ledger adjustments posted by source and outcome.",
			}, []string{"source", "status"}),
			Observations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transaction_observations_total",
				Help:      "Chain observations applied by resulting status.",
			}, []string{"status"}),
			EmailDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "email_deliveries_total",
				Help:      "Email delivery attempts by template and outcome.",
			}, []string{"template", "outcome"}),
			PriceLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "price_lookups_total",
				Help:      "Price oracle lookups by source and outcome.",
			}, []string{"source", "status"}),
			HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests by route and status code.",
			}, []string{"method", "route", "code"}),
			HTTPLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Latency distribution for HTTP requests.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method", "route"}),
			LedgerExportSeq: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "ledger_export_sequence",
				Help:      "Last ledger entry sequence exported to the external ledger.",
			}),
		}

		prometheus.MustRegister(
			metricsInstance.JobRuns,
			metricsInstance.JobDuration,
			metricsInstance.BatchRecords,
			metricsInstance.LedgerAdjusts,
			metricsInstance.Observations,
			metricsInstance.EmailDeliveries,
			metricsInstance.PriceLookups,
			metricsInstance.HTTPRequests,
			metricsInstance.HTTPLatency,
			metricsInstance.LedgerExportSeq,
		)
	})
	return metricsInstance
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (m *Metrics) ObserveJob(job string, took time.Duration, err error) {
	if m == nil {
		return
	}
	m.JobRuns.WithLabelValues(job, outcome(err)).Inc()
	m.JobDuration.WithLabelValues(job).Observe(took.Seconds())
}

func (m *Metrics) AddBatchRecords(job, result string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.BatchRecords.WithLabelValues(job, result).Add(float64(n))
}

func (m *Metrics) IncLedgerAdjust(source string, err error) {
	if m == nil {
		return
	}
	m.LedgerAdjusts.WithLabelValues(source, outcome(err)).Inc()
}

func (m *Metrics) IncObservation(status string) {
	if m == nil {
		return
	}
	m.Observations.WithLabelValues(status).Inc()
}

func (m *Metrics) IncEmailDelivery(template, result string) {
	if m == nil {
		return
	}
	m.EmailDeliveries.WithLabelValues(template, result).Inc()
}

func (m *Metrics) IncPriceLookup(source string, err error) {
	if m == nil {
		return
	}
	m.PriceLookups.WithLabelValues(source, outcome(err)).Inc()
}

func (m *Metrics) ObserveHTTP(method, route string, code int, took time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	m.HTTPLatency.WithLabelValues(method, route).Observe(took.Seconds())
}

func (m *Metrics) SetExportSequence(seq int64) {
	if m == nil {
		return
	}
	m.LedgerExportSeq.Set(float64(seq))
}
