// Package diagnostics implements infrastructure probes for identifying
// deployment bottlenecks: DNS resolution timing, HTTP round-trip latency to
// internal services, process resource counters, cgroup limits, and a scratch
// write+read+delete round-trip characterizing local IO.
//
// Diagnostics never mutate application state and never return an error:
// failures are embedded in the JSON-serializable report.
package diagnostics

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/depictio/depictio/common"
)

// Config names the services to probe.
type Config struct {
	// Hostnames resolved by the DNS probe.
	Hostnames []string
	// ServiceURLs probed for HTTP round-trip latency, keyed by service name.
	ServiceURLs map[string]string
	// ScratchDir for the IO probe; defaults to the OS temp dir.
	ScratchDir string
	// LatencySamples per service; defaults to 5.
	LatencySamples int
	// Timeout per outbound probe call.
	Timeout time.Duration
}

// Report is the full diagnostics result.
type Report struct {
	GeneratedAt string                   `json:"generated_at"`
	DNS         map[string]DNSResult     `json:"dns"`
	Latency     map[string]LatencyResult `json:"latency"`
	Resources   ResourceResult           `json:"resources"`
	IO          IOResult                 `json:"io"`
}

// DNSResult is the outcome of resolving one hostname.
type DNSResult struct {
	Status            string   `json:"status"`
	ResolutionTimeMs  float64  `json:"resolution_time_ms"`
	ResolvedAddresses []string `json:"resolved_addresses,omitempty"`
	Error             string   `json:"error,omitempty"`
}

// LatencyResult aggregates repeated HTTP round-trips to one service.
type LatencyResult struct {
	SuccessfulRequests int      `json:"successful_requests"`
	FailedRequests     int      `json:"failed_requests"`
	AvgLatencyMs       *float64 `json:"avg_latency_ms"`
	MinLatencyMs       *float64 `json:"min_latency_ms"`
	MaxLatencyMs       *float64 `json:"max_latency_ms"`
}

// ResourceResult carries process and host resource counters.
type ResourceResult struct {
	CPUCount            int    `json:"cpu_count"`
	GoroutineCount      int    `json:"goroutine_count"`
	MemoryTotalBytes    uint64 `json:"memory_total_bytes,omitempty"`
	MemoryAvailBytes    uint64 `json:"memory_available_bytes,omitempty"`
	DiskFreeBytes       uint64 `json:"disk_free_bytes,omitempty"`
	CgroupMemLimitBytes uint64 `json:"cgroup_memory_limit_bytes,omitempty"`
	Error               string `json:"error,omitempty"`
}

// IOResult characterizes a scratch write+read+delete round trip.
type IOResult struct {
	Status      string  `json:"status"`
	WriteTimeMs float64 `json:"write_time_ms"`
	ReadTimeMs  float64 `json:"read_time_ms"`
	Error       string  `json:"error,omitempty"`
}

var probeClient = &http.Client{
	Transport: &http.Transport{
		MaxIdleConns:    10,
		IdleConnTimeout: 30 * time.Second,
	},
}

// Run executes every probe and assembles the report.
func Run(ctx context.Context, cfg Config) *Report {
	if cfg.LatencySamples <= 0 {
		cfg.LatencySamples = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.ScratchDir == "" {
		cfg.ScratchDir = os.TempDir()
	}

	return &Report{
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		DNS:         probeDNS(ctx, cfg),
		Latency:     probeLatency(ctx, cfg),
		Resources:   probeResources(),
		IO:          probeIO(cfg.ScratchDir),
	}
}

func probeDNS(ctx context.Context, cfg Config) map[string]DNSResult {
	results := make(map[string]DNSResult, len(cfg.Hostnames))
	resolver := &net.Resolver{}

	for _, host := range cfg.Hostnames {
		start := time.Now()
		lookupCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		addrs, err := resolver.LookupHost(lookupCtx, host)
		cancel()
		elapsed := float64(time.Since(start).Microseconds()) / 1000

		if err != nil {
			results[host] = DNSResult{Status: "failed", ResolutionTimeMs: elapsed, Error: err.Error()}
			common.Logger.Errorf("DNS %s: %v", host, err)
			continue
		}
		if len(addrs) > 3 {
			addrs = addrs[:3]
		}
		results[host] = DNSResult{Status: "success", ResolutionTimeMs: elapsed, ResolvedAddresses: addrs}
		common.Logger.Infof("🔍 DNS %s: %.2fms -> %s", host, elapsed, strings.Join(addrs, ", "))
	}
	return results
}

func probeLatency(ctx context.Context, cfg Config) map[string]LatencyResult {
	results := make(map[string]LatencyResult, len(cfg.ServiceURLs))

	for name, url := range cfg.ServiceURLs {
		var latencies []float64
		failed := 0

		for i := 0; i < cfg.LatencySamples; i++ {
			start := time.Now()
			reqCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
			req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
			if err == nil {
				var resp *http.Response
				resp, err = probeClient.Do(req)
				if err == nil {
					resp.Body.Close()
				}
			}
			cancel()

			elapsed := float64(time.Since(start).Microseconds()) / 1000
			if err != nil {
				failed++
				common.Logger.Warnf("Latency %s #%d: %v", name, i+1, err)
			} else {
				latencies = append(latencies, elapsed)
				common.Logger.Infof("🔍 Latency %s #%d: %.2fms", name, i+1, elapsed)
			}
			time.Sleep(100 * time.Millisecond)
		}

		result := LatencyResult{
			SuccessfulRequests: len(latencies),
			FailedRequests:     failed,
		}
		if len(latencies) > 0 {
			minL, maxL, sum := latencies[0], latencies[0], 0.0
			for _, l := range latencies {
				if l < minL {
					minL = l
				}
				if l > maxL {
					maxL = l
				}
				sum += l
			}
			avg := sum / float64(len(latencies))
			result.AvgLatencyMs = &avg
			result.MinLatencyMs = &minL
			result.MaxLatencyMs = &maxL
		}
		results[name] = result
	}
	return results
}

func probeResources() ResourceResult {
	result := ResourceResult{
		CPUCount:       runtime.NumCPU(),
		GoroutineCount: runtime.NumGoroutine(),
	}

	if total, avail, err := readMeminfo(); err == nil {
		result.MemoryTotalBytes = total
		result.MemoryAvailBytes = avail
	} else {
		result.Error = err.Error()
	}

	var stat syscall.Statfs_t
	if err := syscall.Statfs("/", &stat); err == nil {
		result.DiskFreeBytes = stat.Bavail * uint64(stat.Bsize)
	}

	// Cgroup v2 memory limit, when applicable.
	if data, err := os.ReadFile("/sys/fs/cgroup/memory.max"); err == nil {
		if limit, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64); err == nil {
			result.CgroupMemLimitBytes = limit
		}
	}
	return result
}

// readMeminfo parses MemTotal and MemAvailable from /proc/meminfo.
func readMeminfo() (total, available uint64, err error) {
	data, err := os.ReadFile("/proc/meminfo")
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read meminfo: %w", err)
	}
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		kb, parseErr := strconv.ParseUint(fields[1], 10, 64)
		if parseErr != nil {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			total = kb * 1024
		case "MemAvailable:":
			available = kb * 1024
		}
	}
	return total, available, nil
}

func probeIO(scratchDir string) IOResult {
	path := filepath.Join(scratchDir, "depictio-io-probe-"+uuid.NewString())
	payload := make([]byte, 1<<20)

	start := time.Now()
	if err := os.WriteFile(path, payload, 0o600); err != nil {
		return IOResult{Status: "failed", Error: err.Error()}
	}
	writeMs := float64(time.Since(start).Microseconds()) / 1000

	start = time.Now()
	if _, err := os.ReadFile(path); err != nil {
		os.Remove(path)
		return IOResult{Status: "failed", WriteTimeMs: writeMs, Error: err.Error()}
	}
	readMs := float64(time.Since(start).Microseconds()) / 1000

	if err := os.Remove(path); err != nil {
		return IOResult{Status: "failed", WriteTimeMs: writeMs, ReadTimeMs: readMs, Error: err.Error()}
	}
	return IOResult{Status: "success", WriteTimeMs: writeMs, ReadTimeMs: readMs}
}
