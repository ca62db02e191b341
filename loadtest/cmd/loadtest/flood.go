package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/modwatch/chat-triage/loadtest/client"
	"github.com/modwatch/chat-triage/loadtest/stats"
)

// Message corpus for synthetic batches. Clean lines should come back
// as allows; dirty lines carry the structural patterns the detector
// looks for, so they produce watch and block decisions even without an
// AI provider behind the server.
var cleanLines = []string{
	"anyone up for a game tonight?",
	"that was a close round, well played",
	"the new patch notes look interesting",
	"thanks for the help earlier",
	"what server is everyone on?",
	"good morning all",
	"did you see the match yesterday",
	"brb grabbing coffee",
}

var dirtyLines = []string{
	"FREE COINS CLICK NOW http://spam.example/win http://spam.example/win2",
	"BUY CHEAP GOLD BEST PRICE VISIT http://gold.example NOW NOW NOW",
	"yooooooooooooooooooo everyone join http://troll.example",
	"THIS SERVER IS TRASH AND SO ARE ALL OF YOU LOSERS GET OUT",
	"check my channel http://promo.example subscribe subscribe subscribe",
}

// runFlood posts analyze batches at a target rate for a fixed
// duration, then prints a latency and verdict report. Usernames are
// drawn from a small pool so repeated offenders hit the decision
// cache, mirroring production traffic shape.
func runFlood(args []string) {
	fs := flag.NewFlagSet("flood", flag.ExitOnError)
	url := fs.String("url", "http://localhost:8484", "Triage server base URL")
	rps := fs.Int("rps", 20, "Analyze requests per second")
	duration := fs.Duration("duration", 30*time.Second, "Test duration")
	batchSize := fs.Int("batch", 5, "Messages per batch")
	users := fs.Int("users", 50, "Distinct usernames to cycle through")
	dirty := fs.Float64("dirty", 0.2, "Fraction of messages drawn from the dirty corpus")
	concurrency := fs.Int("concurrency", 16, "Maximum in-flight requests")
	scrape := fs.Bool("scrape", false, "Scrape server /metrics during the test")
	fs.Parse(args)

	fmt.Printf("Flood test: %d req/s to %s for %s (batch=%d, users=%d, dirty=%.0f%%)\n",
		*rps, *url, *duration, *batchSize, *users, *dirty*100)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := client.New(*url)
	if err := c.Health(ctx); err != nil {
		fmt.Printf("Server not reachable: %v\n", err)
		return
	}

	collector := stats.NewCollector()

	var scraper *stats.Scraper
	if *scrape {
		scraper = stats.NewScraper(*url+"/metrics", 2*time.Second)
		scraper.Start(ctx)
		collector.SetScraper(scraper)
	}

	// Progress reporting every 2 seconds.
	progressStop := make(chan struct{})
	var progressWg sync.WaitGroup
	progressWg.Add(1)
	go func() {
		defer progressWg.Done()
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		lastCount := 0
		lastTime := time.Now()
		for {
			select {
			case <-ticker.C:
				now := time.Now()
				current := collector.RequestCount()
				errs := collector.ErrorCount()
				dt := now.Sub(lastTime).Seconds()
				rate := float64(current-lastCount) / dt
				fmt.Printf("  [flood] requests: %d  errors: %d  rate: %.1f req/s\n",
					current, errs, rate)
				lastCount = current
				lastTime = now
			case <-progressStop:
				return
			}
		}
	}()

	interval := time.Second / time.Duration(*rps)
	if interval <= 0 {
		interval = time.Millisecond
	}

	sem := make(chan struct{}, *concurrency)
	var wg sync.WaitGroup

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	deadline := time.NewTimer(*duration)
	ticker := time.NewTicker(interval)

floodLoop:
	for {
		select {
		case <-ctx.Done():
			fmt.Println("\nInterrupted.")
			break floodLoop
		case <-deadline.C:
			break floodLoop
		case <-ticker.C:
			batch := makeBatch(rng, *batchSize, *users, *dirty)
			wg.Add(1)
			sem <- struct{}{}
			go func() {
				defer wg.Done()
				defer func() { <-sem }()

				reqCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
				defer cancel()

				decisions, latency, err := c.Analyze(reqCtx, batch)
				if err != nil {
					if errors.Is(err, client.ErrRateLimited) {
						collector.AddRateLimited()
					} else {
						collector.AddError()
					}
					return
				}
				verdicts := make([]string, len(decisions))
				for i, d := range decisions {
					verdicts[i] = d.Verdict
				}
				collector.AddRequest(latency, verdicts)
			}()
		}
	}

	ticker.Stop()
	deadline.Stop()

	// Wait for in-flight requests before reporting.
	wg.Wait()
	close(progressStop)
	progressWg.Wait()

	if scraper != nil {
		scraper.Stop()
	}

	m := c.GetMetrics()
	fmt.Printf("\nFlood complete: %d requests sent (%d errors, %d throttled)\n",
		m.RequestsSent, m.Errors, m.RateLimited)
	collector.Report()
}

// makeBatch builds one synthetic analyze batch. Usernames repeat
// across batches so the server's per-user cache and history paths get
// exercised.
func makeBatch(rng *rand.Rand, size, users int, dirty float64) []client.ChatMessage {
	batch := make([]client.ChatMessage, size)
	for i := range batch {
		text := cleanLines[rng.Intn(len(cleanLines))]
		if rng.Float64() < dirty {
			text = dirtyLines[rng.Intn(len(dirtyLines))]
		}
		batch[i] = client.ChatMessage{
			Username: fmt.Sprintf("user-%d", rng.Intn(users)),
			Text:     text,
		}
	}
	return batch
}
