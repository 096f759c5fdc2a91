// Command loadtest drives the Pipeline Coordinator concurrently to
// measure throughput and latency under the resource model spec §5
// describes (per-request goroutine, per-tenant admission queue).
//
// Adapted from the teacher's economic-barrier load test: same worker-
// pool/stats/percentile shape, re-targeted from escrow.Gate.Sequester/
// AwaitRelease onto coordinator.Coordinator.Govern.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ocx/governance-core/internal/config"
	"github.com/ocx/governance-core/internal/coordinator"
	"github.com/ocx/governance-core/internal/escrow"
	"github.com/ocx/governance-core/internal/ghoststate"
	"github.com/ocx/governance-core/internal/gov"
	"github.com/ocx/governance-core/internal/jsonlogic"
	"github.com/ocx/governance-core/internal/jury"
	"github.com/ocx/governance-core/internal/ledger"
	"github.com/ocx/governance-core/internal/policy"
	"github.com/ocx/governance-core/internal/reputation"
	"github.com/ocx/governance-core/internal/signals"
)

type loadTestConfig struct {
	NumRequests    int
	Concurrency    int
	ReportInterval time.Duration
}

type loadTestStats struct {
	TotalRequests uint64
	Allowed       uint64
	Held          uint64
	Blocked       uint64
	MinLatency    time.Duration
	MaxLatency    time.Duration
	AvgLatency    time.Duration
	P95Latency    time.Duration
	P99Latency    time.Duration
	Throughput    float64
}

func main() {
	numReqs := flag.Int("requests", 2000, "Number of governance requests to simulate")
	concurrency := flag.Int("concurrency", 100, "Number of concurrent workers")
	reportInterval := flag.Duration("report", 5*time.Second, "Stats reporting interval")
	flag.Parse()

	cfg := loadTestConfig{NumRequests: *numReqs, Concurrency: *concurrency, ReportInterval: *reportInterval}
	slog.Info("loadtest: starting", "requests", cfg.NumRequests, "concurrency", cfg.Concurrency)
	stats := run(cfg)
	printResults(stats)
}

func buildHarness() *coordinator.Coordinator {
	policies := policy.NewHierarchy(policy.NewMemoryStore())
	panel := []jury.Weighted{
		{Name: "consistency", Weight: 0.3, Juror: jury.ConsistencyAuditor{}},
		{Name: "safety", Weight: 0.3, Juror: jury.SafetyAuditor{}},
		{Name: "security", Weight: 0.25, Juror: jury.SecurityAuditor{}},
		{Name: "hallucination", Weight: 0.15, Juror: jury.HallucinationAuditor{}},
	}
	juryPanel := jury.New(panel, jury.DefaultConfig())
	cfgCache := config.NewCache(nil, config.TenantDefaults{
		QuorumThreshold: 0.66, JurorTimeoutMs: 200, RequestDeadlineMs: 2000,
		PayloadEntropyClean: 6.0, PayloadEntropySuspect: 7.5, VelocityMultiplier: 3.0, FailMode: "closed",
	})
	return coordinator.New(policies, ghoststate.NewEngine(), coordinator.NewSnapshotStore(), juryPanel, nil,
		signals.NewCollector(time.Minute), escrow.NewEscrowStore(escrow.NewMemoryStore(), nil, time.Hour),
		ledger.New(ledger.NewMemoryStore()), reputation.NewManager(), cfgCache, nil)
}

func run(cfg loadTestConfig) *loadTestStats {
	c := buildHarness()

	stats := &loadTestStats{MinLatency: time.Hour}
	var latencies []time.Duration
	var mu sync.Mutex

	reqChan := make(chan int, cfg.NumRequests)
	var wg sync.WaitGroup

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go reportStats(ctx, stats, cfg.ReportInterval)

	start := time.Now()
	for w := 0; w < cfg.Concurrency; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for reqID := range reqChan {
				processRequest(ctx, c, workerID, reqID, stats, &latencies, &mu)
			}
		}(w)
	}
	for i := 0; i < cfg.NumRequests; i++ {
		reqChan <- i
	}
	close(reqChan)
	wg.Wait()

	stats.Throughput = float64(stats.TotalRequests) / time.Since(start).Seconds()
	mu.Lock()
	if len(latencies) > 0 {
		stats.AvgLatency = average(latencies)
		stats.P95Latency = percentile(latencies, 95)
		stats.P99Latency = percentile(latencies, 99)
	}
	mu.Unlock()
	return stats
}

func processRequest(ctx context.Context, c *coordinator.Coordinator, workerID, reqID int,
	stats *loadTestStats, latencies *[]time.Duration, mu *sync.Mutex) {
	agentID := fmt.Sprintf("agent-%d", workerID%10)
	tenantID := fmt.Sprintf("tenant-%d", workerID%4)

	start := time.Now()
	v := c.Govern(ctx, coordinator.Request{
		TenantID: tenantID, AgentID: agentID, ToolName: "send_message",
		Arguments:  jsonlogic.Object(map[string]jsonlogic.Value{"seq": jsonlogic.Number(float64(reqID))}),
		RawPayload: []byte(fmt.Sprintf("load-test request %d from %s", reqID, agentID)),
	})
	latency := time.Since(start)

	atomic.AddUint64(&stats.TotalRequests, 1)
	switch v.VerdictClass {
	case gov.Allow:
		atomic.AddUint64(&stats.Allowed, 1)
	case gov.Hold:
		atomic.AddUint64(&stats.Held, 1)
	default:
		atomic.AddUint64(&stats.Blocked, 1)
	}

	mu.Lock()
	*latencies = append(*latencies, latency)
	if latency > stats.MaxLatency {
		stats.MaxLatency = latency
	}
	if latency < stats.MinLatency {
		stats.MinLatency = latency
	}
	mu.Unlock()
}

func reportStats(ctx context.Context, stats *loadTestStats, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			slog.Info("loadtest: progress",
				"total", atomic.LoadUint64(&stats.TotalRequests),
				"allowed", atomic.LoadUint64(&stats.Allowed),
				"held", atomic.LoadUint64(&stats.Held),
				"blocked", atomic.LoadUint64(&stats.Blocked))
		case <-ctx.Done():
			return
		}
	}
}

func printResults(stats *loadTestStats) {
	sep := "--------------------------------------------------------------------------------"
	fmt.Println(sep)
	fmt.Println("GOVERNANCE PIPELINE LOAD TEST RESULTS")
	fmt.Println(sep)
	fmt.Printf("Total requests:   %d\n", stats.TotalRequests)
	fmt.Printf("Allowed:          %d\n", stats.Allowed)
	fmt.Printf("Held:             %d\n", stats.Held)
	fmt.Printf("Blocked:          %d\n", stats.Blocked)
	fmt.Println(sep)
	fmt.Printf("Throughput:       %.2f req/sec\n", stats.Throughput)
	fmt.Printf("Latency min/avg/p95/p99/max: %v / %v / %v / %v / %v\n",
		stats.MinLatency, stats.AvgLatency, stats.P95Latency, stats.P99Latency, stats.MaxLatency)
	fmt.Println(sep)
}

func average(latencies []time.Duration) time.Duration {
	var total time.Duration
	for _, l := range latencies {
		total += l
	}
	return total / time.Duration(len(latencies))
}

func percentile(latencies []time.Duration, p int) time.Duration {
	sorted := make([]time.Duration, len(latencies))
	copy(sorted, latencies)
	for i := range sorted {
		for j := i + 1; j < len(sorted); j++ {
			if sorted[i] > sorted[j] {
				sorted[i], sorted[j] = sorted[j], sorted[i]
			}
		}
	}
	idx := int(float64(len(sorted)) * float64(p) / 100.0)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
