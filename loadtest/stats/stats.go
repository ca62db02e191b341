// Package stats provides a goroutine-safe metrics collector that
// aggregates performance data from multiple load test clients and
// prints a summary report with percentile distributions.
package stats

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"
)

// Collector aggregates metrics from multiple load test clients. All
// methods are goroutine-safe and can be called concurrently from many
// client goroutines.
type Collector struct {
	mu               sync.Mutex
	requestLatencies []time.Duration
	verdicts         map[string]int
	requests         int
	errors           int
	rateLimited      int
	startTime        time.Time
	scraper          *Scraper
}

// NewCollector creates a new Collector with the start time set to now.
func NewCollector() *Collector {
	return &Collector{
		verdicts:  make(map[string]int),
		startTime: time.Now(),
	}
}

// SetScraper attaches a Prometheus metrics scraper to this collector.
// When set, Report() also prints server-side metrics collected by the
// scraper.
func (c *Collector) SetScraper(s *Scraper) {
	c.mu.Lock()
	c.scraper = s
	c.mu.Unlock()
}

// AddRequest records a successful analyze request: its round-trip
// latency and the verdicts it returned.
func (c *Collector) AddRequest(d time.Duration, verdicts []string) {
	c.mu.Lock()
	c.requestLatencies = append(c.requestLatencies, d)
	c.requests++
	for _, v := range verdicts {
		c.verdicts[v]++
	}
	c.mu.Unlock()
}

// AddError increments the error counter.
func (c *Collector) AddError() {
	c.mu.Lock()
	c.errors++
	c.mu.Unlock()
}

// AddRateLimited increments the throttled-request counter.
func (c *Collector) AddRateLimited() {
	c.mu.Lock()
	c.rateLimited++
	c.mu.Unlock()
}

// RequestCount returns the current number of recorded requests.
func (c *Collector) RequestCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requests
}

// ErrorCount returns the current number of recorded errors.
func (c *Collector) ErrorCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errors
}

// Report prints a formatted summary of the collected metrics to
// stdout: total duration, request and error counts, the verdict
// distribution, and percentile latencies.
func (c *Collector) Report() {
	c.mu.Lock()
	defer c.mu.Unlock()

	elapsed := time.Since(c.startTime)

	fmt.Println("\n=== Load Test Results ===")
	fmt.Printf("Duration:      %s\n", elapsed.Round(time.Second))
	fmt.Printf("Requests:      %d\n", c.requests)
	fmt.Printf("Errors:        %d\n", c.errors)
	if c.rateLimited > 0 {
		fmt.Printf("Rate limited:  %d\n", c.rateLimited)
	}

	if c.requests > 0 {
		errorRate := float64(c.errors) / float64(c.requests+c.errors) * 100
		fmt.Printf("Error rate:    %.2f%%\n", errorRate)
		rps := float64(c.requests) / elapsed.Seconds()
		fmt.Printf("Throughput:    %.1f req/s\n", rps)
	}

	if len(c.verdicts) > 0 {
		fmt.Println("\n--- Verdicts ---")
		names := make([]string, 0, len(c.verdicts))
		for name := range c.verdicts {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Printf("  %-8s %d\n", name, c.verdicts[name])
		}
	}

	if len(c.requestLatencies) > 0 {
		fmt.Println("\n--- Request Latency ---")
		printPercentiles(c.requestLatencies)
	}

	if c.scraper != nil {
		c.scraper.Report()
	}

	fmt.Println()
}

// printPercentiles sorts the given durations and prints avg, p50, p95,
// p99, and max values along with the sample count.
func printPercentiles(durations []time.Duration) {
	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })

	n := len(durations)
	p50 := durations[n/2]
	p95 := durations[int(math.Ceil(float64(n)*0.95))-1]
	p99 := durations[int(math.Ceil(float64(n)*0.99))-1]

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}
	avg := sum / time.Duration(n)

	fmt.Printf("  avg: %v  p50: %v  p95: %v  p99: %v  max: %v  (n=%d)\n",
		avg.Round(time.Microsecond),
		p50.Round(time.Microsecond),
		p95.Round(time.Microsecond),
		p99.Round(time.Microsecond),
		durations[n-1].Round(time.Microsecond),
		n,
	)
}
