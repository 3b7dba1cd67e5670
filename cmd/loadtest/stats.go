package main

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"
)

// collector aggregates results from every simulated user. All methods are
// safe for concurrent use.
type collector struct {
	mu         sync.Mutex
	connect    []time.Duration
	match      []time.Duration
	message    []time.Duration
	matches    int
	messages   int
	rateLimits int
	errors     int
	start      time.Time
}

func newCollector() *collector {
	return &collector{start: time.Now()}
}

func (c *collector) addConnect(d time.Duration) {
	c.mu.Lock()
	c.connect = append(c.connect, d)
	c.mu.Unlock()
}

func (c *collector) addMatch(d time.Duration) {
	c.mu.Lock()
	c.match = append(c.match, d)
	c.matches++
	c.mu.Unlock()
}

func (c *collector) addMessage(d time.Duration) {
	c.mu.Lock()
	c.message = append(c.message, d)
	c.messages++
	c.mu.Unlock()
}

func (c *collector) addRateLimited() {
	c.mu.Lock()
	c.rateLimits++
	c.mu.Unlock()
}

func (c *collector) addError() {
	c.mu.Lock()
	c.errors++
	c.mu.Unlock()
}

func (c *collector) snapshot() (conns, matches, messages, errs int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.connect), c.matches, c.messages, c.errors
}

// report prints the summary with percentile distributions.
func (c *collector) report() {
	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Println("\n=== Load Test Results ===")
	fmt.Printf("Duration:     %s\n", time.Since(c.start).Round(time.Second))
	fmt.Printf("Connections:  %d\n", len(c.connect))
	fmt.Printf("Matches:      %d\n", c.matches)
	fmt.Printf("Messages:     %d\n", c.messages)
	fmt.Printf("Rate limited: %d\n", c.rateLimits)
	fmt.Printf("Errors:       %d\n", c.errors)

	for _, s := range []struct {
		name string
		d    []time.Duration
	}{
		{"Connect Latency", c.connect},
		{"Match Latency", c.match},
		{"Message Latency", c.message},
	} {
		if len(s.d) == 0 {
			continue
		}
		fmt.Printf("\n--- %s ---\n", s.name)
		fmt.Println("  " + percentiles(s.d))
	}
	fmt.Println()
}

// percentiles sorts durations in place and formats avg, p50, p95, p99 and
// max.
func percentiles(durations []time.Duration) string {
	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })

	n := len(durations)
	at := func(q float64) time.Duration {
		return durations[int(math.Ceil(float64(n)*q))-1]
	}
	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return fmt.Sprintf("avg: %v  p50: %v  p95: %v  p99: %v  max: %v  (n=%d)",
		(sum / time.Duration(n)).Round(time.Microsecond),
		durations[n/2].Round(time.Microsecond),
		at(0.95).Round(time.Microsecond),
		at(0.99).Round(time.Microsecond),
		durations[n-1].Round(time.Microsecond),
		n)
}
