package gateway

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SystemMetrics is the dashboard's process and pipeline snapshot. Process
// figures come from the Prometheus registry's Go and process collectors.
type SystemMetrics struct {
	CPUSeconds   float64 `json:"cpu_seconds"`
	RSSMB        float64 `json:"rss_mb"`
	HeapAllocMB  float64 `json:"heap_alloc_mb"`
	OpenFDs      int     `json:"open_fds"`
	Goroutines   int     `json:"goroutines"`
	GCRuns       uint64  `json:"gc_runs"`
	UptimeSec    int64   `json:"uptime_sec"`
	Ticks        uint64  `json:"ticks"`
	ActiveAlerts int     `json:"active_alerts"`
	Triggered    uint64  `json:"alerts_triggered"`
	TS           string  `json:"ts"`

	// Tick timestamp to dashboard push, ms.
	LatencyP50 float64 `json:"latency_p50_ms"`
	LatencyP95 float64 `json:"latency_p95_ms"`
	LatencyP99 float64 `json:"latency_p99_ms"`
	WSClients  int     `json:"ws_clients"`
}

// CollectMetrics reads a snapshot from g. Series with several label sets are
// summed; summaries and histograms contribute their sample count. A nil
// gatherer yields only the timestamp.
func CollectMetrics(g prometheus.Gatherer, now time.Time) (SystemMetrics, error) {
	m := SystemMetrics{TS: now.UTC().Format(time.RFC3339Nano)}
	if g == nil {
		return m, nil
	}
	families, err := g.Gather()
	if err != nil {
		return m, err
	}

	v := make(map[string]float64, len(families))
	for _, mf := range families {
		for _, s := range mf.GetMetric() {
			switch {
			case s.GetCounter() != nil:
				v[mf.GetName()] += s.GetCounter().GetValue()
			case s.GetGauge() != nil:
				v[mf.GetName()] += s.GetGauge().GetValue()
			case s.GetSummary() != nil:
				v[mf.GetName()] += float64(s.GetSummary().GetSampleCount())
			case s.GetHistogram() != nil:
				v[mf.GetName()] += float64(s.GetHistogram().GetSampleCount())
			}
		}
	}

	const mb = 1024 * 1024
	m.CPUSeconds = v["process_cpu_seconds_total"]
	m.RSSMB = v["process_resident_memory_bytes"] / mb
	m.HeapAllocMB = v["go_memstats_heap_alloc_bytes"] / mb
	m.OpenFDs = int(v["process_open_fds"])
	m.Goroutines = int(v["go_goroutines"])
	m.GCRuns = uint64(v["go_gc_duration_seconds"])
	if start := v["process_start_time_seconds"]; start > 0 {
		m.UptimeSec = now.Unix() - int64(start)
	}
	m.Ticks = uint64(v["alertd_ticks_total"])
	m.ActiveAlerts = int(v["alertd_active_alerts"])
	m.Triggered = uint64(v["alertd_alerts_triggered_total"])
	return m, nil
}
