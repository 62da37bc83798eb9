// Package metrics exposes orchestrator counters and histograms in the
// Prometheus text exposition format over plain net/http. No third-party
// client library appears anywhere in the example pack for this concern, so
// this is written by hand against the wire format directly, the same way
// the teacher writes its own handlers against net/http without a web
// framework.
package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

// restoreDurationBuckets are the histogram bucket upper bounds in seconds,
// chosen around spec.md's 15ms default restore budget.
var restoreDurationBuckets = []float64{0.001, 0.002, 0.005, 0.010, 0.015, 0.025, 0.050, 0.100}

// Registry holds every series the orchestrator exposes. All fields are
// safe for concurrent use.
type Registry struct {
	coldStartsTotal  atomic.Uint64
	restoresTotal    atomic.Uint64
	warmPoolSize     atomic.Int64
	packetsTotal     atomic.Uint64
	packetsMatched   atomic.Uint64
	packetsPassed    atomic.Uint64
	packetsDropped   atomic.Uint64

	mu               sync.Mutex
	restoreDurations []float64 // raw observations, bucketed at scrape time
}

func NewRegistry() *Registry {
	return &Registry{}
}

func (r *Registry) IncColdStarts()          { r.coldStartsTotal.Add(1) }
func (r *Registry) IncRestores()            { r.restoresTotal.Add(1) }
func (r *Registry) ColdStarts() uint64      { return r.coldStartsTotal.Load() }
func (r *Registry) SetWarmPoolSize(n int64) { r.warmPoolSize.Store(n) }

// IncPacketsTotal/Matched/Passed/Dropped take a delta rather than always
// adding one: the kernel-side router_stats_map counters are already
// cumulative per spec §4.I, so the periodic reader adds only what changed
// since the last read instead of re-counting the kernel's running total.
func (r *Registry) IncPacketsTotal(n uint64)   { r.packetsTotal.Add(n) }
func (r *Registry) IncPacketsMatched(n uint64) { r.packetsMatched.Add(n) }
func (r *Registry) IncPacketsPassed(n uint64)  { r.packetsPassed.Add(n) }
func (r *Registry) IncPacketsDropped(n uint64) { r.packetsDropped.Add(n) }

// ObserveRestoreDuration records one restore's wall-clock time in seconds.
func (r *Registry) ObserveRestoreDuration(seconds float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.restoreDurations = append(r.restoreDurations, seconds)
}

// Handler returns an http.Handler serving the current state of every
// series in the Prometheus text exposition format.
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		var b strings.Builder

		writeCounter(&b, "function_cold_starts_total", "Total number of cold-start activations.", float64(r.coldStartsTotal.Load()))
		writeCounter(&b, "function_restores_total", "Total number of warm-snapshot restores.", float64(r.restoresTotal.Load()))
		writeGauge(&b, "warm_pool_size", "Current number of warm snapshots held.", float64(r.warmPoolSize.Load()))
		writeCounter(&b, "router_packets_total", "Total packets observed by the XDP router.", float64(r.packetsTotal.Load()))
		writeCounter(&b, "router_packets_matched", "Packets matched to a registered trigger port.", float64(r.packetsMatched.Load()))
		writeCounter(&b, "router_packets_passed", "Packets passed through to the normal network stack.", float64(r.packetsPassed.Load()))
		writeCounter(&b, "router_packets_dropped", "Packets dropped under strict routing mode.", float64(r.packetsDropped.Load()))

		r.mu.Lock()
		observations := append([]float64(nil), r.restoreDurations...)
		r.mu.Unlock()
		writeHistogram(&b, "function_restore_duration_seconds", "Restore latency in seconds.", restoreDurationBuckets, observations)

		w.Write([]byte(b.String()))
	})
}

func writeCounter(b *strings.Builder, name, help string, value float64) {
	fmt.Fprintf(b, "# HELP %s %s\n", name, help)
	fmt.Fprintf(b, "# TYPE %s counter\n", name)
	fmt.Fprintf(b, "%s %s\n", name, formatFloat(value))
}

func writeGauge(b *strings.Builder, name, help string, value float64) {
	fmt.Fprintf(b, "# HELP %s %s\n", name, help)
	fmt.Fprintf(b, "# TYPE %s gauge\n", name)
	fmt.Fprintf(b, "%s %s\n", name, formatFloat(value))
}

func writeHistogram(b *strings.Builder, name, help string, buckets []float64, observations []float64) {
	fmt.Fprintf(b, "# HELP %s %s\n", name, help)
	fmt.Fprintf(b, "# TYPE %s histogram\n", name)

	sorted := append([]float64(nil), buckets...)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range observations {
		sum += v
	}

	for _, upper := range sorted {
		count := countLessEqual(observations, upper)
		fmt.Fprintf(b, "%s_bucket{le=\"%s\"} %d\n", name, formatFloat(upper), count)
	}
	fmt.Fprintf(b, "%s_bucket{le=\"+Inf\"} %d\n", name, uint64(len(observations)))
	fmt.Fprintf(b, "%s_sum %s\n", name, formatFloat(sum))
	fmt.Fprintf(b, "%s_count %d\n", name, len(observations))
}

func countLessEqual(values []float64, upper float64) uint64 {
	var n uint64
	for _, v := range values {
		if v <= upper {
			n++
		}
	}
	return n
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
