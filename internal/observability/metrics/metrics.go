// Package metrics aggregates in-memory counters and gauges for HTTP traffic
// and the transcode pipeline, exported in Prometheus text format.
package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type requestLabel struct {
	method string
	path   string
	status string
}

// Recorder coordinates concurrent writers via a RWMutex while exposing
// atomic gauges for queue depth and the active encode job.
type Recorder struct {
	mu              sync.RWMutex
	requestCount    map[requestLabel]uint64
	requestDuration map[requestLabel]time.Duration
	encodeEvents    map[string]uint64
	encodeDuration  time.Duration
	queueDepth      atomic.Int64
	activeEncodes   atomic.Int64
}

var defaultRecorder = New()

// New constructs an empty Recorder with initialized backing maps so callers
// can immediately record metrics without additional setup.
func New() *Recorder {
	return &Recorder{
		requestCount:    make(map[requestLabel]uint64),
		requestDuration: make(map[requestLabel]time.Duration),
		encodeEvents:    make(map[string]uint64),
	}
}

// Default returns the singleton Recorder shared by packages that do not
// require a custom instrumentation pipeline.
func Default() *Recorder {
	return defaultRecorder
}

// ObserveRequest accumulates request count and cumulative duration by HTTP
// method, path, and status code.
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	label := requestLabel{
		method: strings.ToUpper(method),
		path:   path,
		status: fmt.Sprintf("%d", status),
	}
	r.mu.Lock()
	r.requestCount[label]++
	r.requestDuration[label] += duration
	r.mu.Unlock()
}

// JobEnqueued increments the pending-job gauge.
func (r *Recorder) JobEnqueued() {
	r.queueDepth.Add(1)
	r.recordEncodeEvent("enqueued")
}

// EncodeStarted marks the beginning of an encode attempt and moves one job
// from the queue gauge to the active gauge.
func (r *Recorder) EncodeStarted() {
	r.decrementGauge(&r.queueDepth)
	r.activeEncodes.Add(1)
	r.recordEncodeEvent("started")
}

// EncodeSucceeded records a successful encode and its wall-clock duration.
func (r *Recorder) EncodeSucceeded(duration time.Duration) {
	r.decrementGauge(&r.activeEncodes)
	r.mu.Lock()
	r.encodeEvents["successful"]++
	r.encodeDuration += duration
	r.mu.Unlock()
}

// EncodeFailed records a failed encode attempt.
func (r *Recorder) EncodeFailed() {
	r.decrementGauge(&r.activeEncodes)
	r.recordEncodeEvent("failed")
}

func (r *Recorder) recordEncodeEvent(event string) {
	r.mu.Lock()
	r.encodeEvents[event]++
	r.mu.Unlock()
}

func (r *Recorder) decrementGauge(gauge *atomic.Int64) {
	for {
		current := gauge.Load()
		if current <= 0 {
			return
		}
		if gauge.CompareAndSwap(current, current-1) {
			return
		}
	}
}

// QueueDepth exposes the current number of jobs waiting to be encoded.
func (r *Recorder) QueueDepth() int64 {
	return r.queueDepth.Load()
}

// ActiveEncodes exposes the number of encodes currently running. The queue
// admits one job at a time, so this gauge is 0 or 1 in practice.
func (r *Recorder) ActiveEncodes() int64 {
	return r.activeEncodes.Load()
}

// EncodeCounts returns a copy of the encode event counters.
func (r *Recorder) EncodeCounts() map[string]uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	events := make(map[string]uint64, len(r.encodeEvents))
	for k, v := range r.encodeEvents {
		events[k] = v
	}
	return events
}

// Reset clears all counters and gauges. It is intended for test setups.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.requestCount = make(map[requestLabel]uint64)
	r.requestDuration = make(map[requestLabel]time.Duration)
	r.encodeEvents = make(map[string]uint64)
	r.encodeDuration = 0
	r.mu.Unlock()
	r.queueDepth.Store(0)
	r.activeEncodes.Store(0)
}

// Handler exposes the Recorder as an http.Handler writing Prometheus text
// exposition data.
func (r *Recorder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		r.Write(w)
	})
}

// Write renders the metrics in Prometheus text format with label sets sorted
// for stable scrapes and tests.
func (r *Recorder) Write(w io.Writer) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	requestLabels := r.sortedRequestLabels()
	encodeEvents := r.sortedEncodeEvents()

	fmt.Fprintln(w, "# HELP chirpstream_http_requests_total Total number of HTTP requests processed by the API")
	fmt.Fprintln(w, "# TYPE chirpstream_http_requests_total counter")
	for _, label := range requestLabels {
		fmt.Fprintf(w, "chirpstream_http_requests_total{method=%q,path=%q,status=%q} %d\n", label.method, label.path, label.status, r.requestCount[label])
	}

	fmt.Fprintln(w, "# HELP chirpstream_http_request_duration_seconds_sum Cumulative duration of HTTP requests in seconds")
	fmt.Fprintln(w, "# TYPE chirpstream_http_request_duration_seconds_sum counter")
	for _, label := range requestLabels {
		fmt.Fprintf(w, "chirpstream_http_request_duration_seconds_sum{method=%q,path=%q,status=%q} %f\n", label.method, label.path, label.status, r.requestDuration[label].Seconds())
	}

	fmt.Fprintln(w, "# HELP chirpstream_encode_jobs_total Transcode job events by type")
	fmt.Fprintln(w, "# TYPE chirpstream_encode_jobs_total counter")
	for _, event := range encodeEvents {
		fmt.Fprintf(w, "chirpstream_encode_jobs_total{event=%q} %d\n", event, r.encodeEvents[event])
	}

	fmt.Fprintln(w, "# HELP chirpstream_encode_duration_seconds_sum Cumulative wall-clock time spent on successful encodes")
	fmt.Fprintln(w, "# TYPE chirpstream_encode_duration_seconds_sum counter")
	fmt.Fprintf(w, "chirpstream_encode_duration_seconds_sum %f\n", r.encodeDuration.Seconds())

	fmt.Fprintln(w, "# HELP chirpstream_encode_queue_depth Current number of jobs waiting for the encoder")
	fmt.Fprintln(w, "# TYPE chirpstream_encode_queue_depth gauge")
	fmt.Fprintf(w, "chirpstream_encode_queue_depth %d\n", r.queueDepth.Load())

	fmt.Fprintln(w, "# HELP chirpstream_encode_active_jobs Current number of running encodes")
	fmt.Fprintln(w, "# TYPE chirpstream_encode_active_jobs gauge")
	fmt.Fprintf(w, "chirpstream_encode_active_jobs %d\n", r.activeEncodes.Load())
}

func (r *Recorder) sortedRequestLabels() []requestLabel {
	labels := make([]requestLabel, 0, len(r.requestCount))
	for label := range r.requestCount {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].method != labels[j].method {
			return labels[i].method < labels[j].method
		}
		if labels[i].path != labels[j].path {
			return labels[i].path < labels[j].path
		}
		return labels[i].status < labels[j].status
	})
	return labels
}

func (r *Recorder) sortedEncodeEvents() []string {
	events := make([]string, 0, len(r.encodeEvents))
	for event := range r.encodeEvents {
		events = append(events, event)
	}
	sort.Strings(events)
	return events
}
