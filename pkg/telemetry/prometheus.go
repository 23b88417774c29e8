package telemetry

import (
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"strings"
)

// PrometheusExporter exports metrics in Prometheus text format.
type PrometheusExporter struct {
	collector *Collector
	namespace string
}

// NewPrometheusExporter creates an exporter for collector, prefixing
// every metric name with namespace (e.g. "reliant").
func NewPrometheusExporter(c *Collector, namespace string) *PrometheusExporter {
	return &PrometheusExporter{collector: c, namespace: namespace}
}

// Handler returns an http.Handler serving Prometheus metrics.
func (e *PrometheusExporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		e.WriteMetrics(w)
	})
}

// WriteMetrics writes all metrics in Prometheus text format to w.
func (e *PrometheusExporter) WriteMetrics(w io.Writer) {
	snap := e.collector.Snapshot()
	labels := e.formatLabels(snap.Labels)

	e.writeHelp(w, "sessions_active", "Number of currently connected sessions")
	e.writeType(w, "sessions_active", "gauge")
	e.writeMetric(w, "sessions_active", labels, float64(snap.SessionsActive))

	e.writeHelp(w, "sessions_total", "Total number of sessions created")
	e.writeType(w, "sessions_total", "counter")
	e.writeMetric(w, "sessions_total", labels, float64(snap.SessionsTotal))

	e.writeHelp(w, "sessions_failed_total", "Total number of handshakes that failed to establish")
	e.writeType(w, "sessions_failed_total", "counter")
	e.writeMetric(w, "sessions_failed_total", labels, float64(snap.SessionsFailed))

	e.writeHelp(w, "sessions_expired_total", "Total number of sessions that timed out in Reconnecting")
	e.writeType(w, "sessions_expired_total", "counter")
	e.writeMetric(w, "sessions_expired_total", labels, float64(snap.SessionsExpired))

	e.writeHelp(w, "bytes_sent_total", "Total bytes sent")
	e.writeType(w, "bytes_sent_total", "counter")
	e.writeMetric(w, "bytes_sent_total", labels, float64(snap.BytesSent))

	e.writeHelp(w, "bytes_received_total", "Total bytes received")
	e.writeType(w, "bytes_received_total", "counter")
	e.writeMetric(w, "bytes_received_total", labels, float64(snap.BytesReceived))

	e.writeHelp(w, "packets_sent_total", "Total packets sent")
	e.writeType(w, "packets_sent_total", "counter")
	e.writeMetric(w, "packets_sent_total", labels, float64(snap.PacketsSent))

	e.writeHelp(w, "packets_received_total", "Total packets received")
	e.writeType(w, "packets_received_total", "counter")
	e.writeMetric(w, "packets_received_total", labels, float64(snap.PacketsRecv))

	e.writeHelp(w, "retransmits_total", "Total reliable message retransmissions")
	e.writeType(w, "retransmits_total", "counter")
	e.writeMetric(w, "retransmits_total", labels, float64(snap.Retransmits))

	e.writeHelp(w, "queue_overflows_total", "Total reliable sends rejected due to a full pending queue")
	e.writeType(w, "queue_overflows_total", "counter")
	e.writeMetric(w, "queue_overflows_total", labels, float64(snap.QueueOverflows))

	e.writeHelp(w, "reconnects_started_total", "Total transitions into the Reconnecting state")
	e.writeType(w, "reconnects_started_total", "counter")
	e.writeMetric(w, "reconnects_started_total", labels, float64(snap.ReconnectsStarted))

	e.writeHelp(w, "reconnects_completed_total", "Total successful recoveries from Reconnecting")
	e.writeType(w, "reconnects_completed_total", "counter")
	e.writeMetric(w, "reconnects_completed_total", labels, float64(snap.ReconnectsOK))

	e.writeHelp(w, "auth_failures_total", "Total handshake signature verification failures")
	e.writeType(w, "auth_failures_total", "counter")
	e.writeMetric(w, "auth_failures_total", labels, float64(snap.AuthFailures))

	e.writeHelp(w, "replays_blocked_total", "Total packets rejected as duplicates or stale sequence numbers")
	e.writeType(w, "replays_blocked_total", "counter")
	e.writeMetric(w, "replays_blocked_total", labels, float64(snap.ReplaysBlocked))

	e.writeHelp(w, "seal_errors_total", "Total AEAD seal failures")
	e.writeType(w, "seal_errors_total", "counter")
	e.writeMetric(w, "seal_errors_total", labels, float64(snap.SealErrors))

	e.writeHelp(w, "open_errors_total", "Total AEAD open failures")
	e.writeType(w, "open_errors_total", "counter")
	e.writeMetric(w, "open_errors_total", labels, float64(snap.OpenErrors))

	e.writeHelp(w, "protocol_errors_total", "Total malformed or out-of-state packets")
	e.writeType(w, "protocol_errors_total", "counter")
	e.writeMetric(w, "protocol_errors_total", labels, float64(snap.ProtocolErrors))

	e.writeHelp(w, "uptime_seconds", "Time since the collector was created")
	e.writeType(w, "uptime_seconds", "gauge")
	e.writeMetric(w, "uptime_seconds", labels, snap.Uptime.Seconds())

	e.writeHistogram(w, "handshake_duration_milliseconds", "Handshake duration in milliseconds", labels, snap.HandshakeLatency)
	e.writeHistogram(w, "seal_duration_microseconds", "AEAD seal duration in microseconds", labels, snap.SealLatency)
	e.writeHistogram(w, "open_duration_microseconds", "AEAD open duration in microseconds", labels, snap.OpenLatency)
}

func (e *PrometheusExporter) writeHelp(w io.Writer, name, help string) {
	fmt.Fprintf(w, "# HELP %s_%s %s\n", e.namespace, name, help)
}

func (e *PrometheusExporter) writeType(w io.Writer, name, typ string) {
	fmt.Fprintf(w, "# TYPE %s_%s %s\n", e.namespace, name, typ)
}

func (e *PrometheusExporter) writeMetric(w io.Writer, name, labels string, value float64) {
	if labels != "" {
		fmt.Fprintf(w, "%s_%s{%s} %g\n", e.namespace, name, labels, value)
	} else {
		fmt.Fprintf(w, "%s_%s %g\n", e.namespace, name, value)
	}
}

func (e *PrometheusExporter) writeHistogram(w io.Writer, name, help, labels string, h HistogramSummary) {
	e.writeHelp(w, name, help)
	e.writeType(w, name, "histogram")

	fullName := e.namespace + "_" + name

	for _, b := range h.Buckets {
		le := fmt.Sprintf("%g", b.UpperBound)
		if math.IsInf(b.UpperBound, 1) {
			le = "+Inf"
		}
		if labels != "" {
			fmt.Fprintf(w, "%s_bucket{%s,le=\"%s\"} %d\n", fullName, labels, le, b.Count)
		} else {
			fmt.Fprintf(w, "%s_bucket{le=\"%s\"} %d\n", fullName, le, b.Count)
		}
	}

	if labels != "" {
		fmt.Fprintf(w, "%s_sum{%s} %g\n", fullName, labels, h.Sum)
		fmt.Fprintf(w, "%s_count{%s} %d\n", fullName, labels, h.Count)
	} else {
		fmt.Fprintf(w, "%s_sum %g\n", fullName, h.Sum)
		fmt.Fprintf(w, "%s_count %d\n", fullName, h.Count)
	}
}

func (e *PrometheusExporter) formatLabels(labels Labels) string {
	if len(labels) == 0 {
		return ""
	}

	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v := escapePromValue(labels[k])
		parts = append(parts, fmt.Sprintf("%s=\"%s\"", k, v))
	}

	return strings.Join(parts, ",")
}

func escapePromValue(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "\"", "\\\"")
	s = strings.ReplaceAll(s, "\n", "\\n")
	return s
}

// ServePrometheus starts an HTTP server serving Prometheus metrics. A
// convenience wrapper for simple deployments.
func ServePrometheus(addr string, c *Collector, namespace string) error {
	exp := NewPrometheusExporter(c, namespace)
	http.Handle("/metrics", exp.Handler())
	return http.ListenAndServe(addr, nil)
}
