package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/subcommands"
	"github.com/google/uuid"
	"github.com/opensource-finance/liquidity/internal/domain"
)

// benchCmd replays a line item batch against a running liquidity API as many
// independent submissions and reports verdict counts and latency.
type benchCmd struct {
	itemsPath   string
	baseURL     string
	tenantID    string
	ratio       string
	date        string
	submissions int
	workers     int
	verbose     bool
}

func (*benchCmd) Name() string     { return "bench" }
func (*benchCmd) Synopsis() string { return "load a running API with line item submissions and runs" }
func (*benchCmd) Usage() string {
	return `liquidity bench -items <batch.json> [-url http://localhost:8080] [-submissions 100] [-workers 10]

  Each submission uploads the batch line items under a fresh submission ID
  and requests a synchronous run.
`
}

func (c *benchCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.itemsPath, "items", "", "Line item batch file (JSON).")
	f.StringVar(&c.baseURL, "url", "http://localhost:8080", "Liquidity base URL.")
	f.StringVar(&c.tenantID, "tenant", "benchmark-test", "Tenant ID for requests.")
	f.StringVar(&c.ratio, "ratio", string(domain.RatioLCR), "Ratio to calculate (LCR, NSFR).")
	f.StringVar(&c.date, "date", "", "Reporting date YYYY-MM-DD (overrides the batch).")
	f.IntVar(&c.submissions, "submissions", 100, "Number of submissions to run.")
	f.IntVar(&c.workers, "workers", 10, "Number of concurrent workers.")
	f.BoolVar(&c.verbose, "verbose", false, "Print each run result.")
}

// benchStats tracks benchmark results.
type benchStats struct {
	Passed  int64
	Warning int64
	Failed  int64
	Errors  int64

	TotalProcessed   int64
	ProcessingTimeMs int64
}

func (c *benchCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.itemsPath == "" {
		fmt.Fprintln(os.Stderr, "-items is required")
		return subcommands.ExitUsageError
	}
	if c.workers < 1 || c.submissions < 1 {
		fmt.Fprintln(os.Stderr, "-workers and -submissions must be positive")
		return subcommands.ExitUsageError
	}

	client := &http.Client{Timeout: 30 * time.Second}
	if err := checkHealth(ctx, client, c.baseURL); err != nil {
		fmt.Fprintf(os.Stderr, "liquidity not reachable at %s: %v\n", c.baseURL, err)
		return subcommands.ExitFailure
	}

	batch, err := readBatch(c.itemsPath, "", c.date)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read batch: %v\n", err)
		return subcommands.ExitFailure
	}
	c.date = batch.ReportingDate
	items := batch.Items
	fmt.Printf("Loaded %d line items from %s\n", len(items), c.itemsPath)
	fmt.Printf("Running %d submissions with %d workers against %s\n", c.submissions, c.workers, c.baseURL)

	start := time.Now()
	stats := c.run(ctx, client, items)
	printBenchResults(stats, time.Since(start))

	if stats.Errors > 0 {
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func (c *benchCmd) run(ctx context.Context, client *http.Client, items []*domain.LineItem) *benchStats {
	stats := &benchStats{}
	prefix := "bench-" + uuid.NewString()[:8]

	work := make(chan int, c.workers)
	var wg sync.WaitGroup

	for i := 0; i < c.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := range work {
				submissionID := fmt.Sprintf("%s-%05d", prefix, n)

				started := time.Now()
				result, err := c.submit(ctx, client, submissionID, items)
				atomic.AddInt64(&stats.ProcessingTimeMs, time.Since(started).Milliseconds())
				atomic.AddInt64(&stats.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&stats.Errors, 1)
					if c.verbose {
						fmt.Printf("ERROR %s: %v\n", submissionID, err)
					}
					continue
				}

				switch result.Status {
				case domain.StatusPassed:
					atomic.AddInt64(&stats.Passed, 1)
				case domain.StatusWarning:
					atomic.AddInt64(&stats.Warning, 1)
				default:
					atomic.AddInt64(&stats.Failed, 1)
				}

				if c.verbose {
					ratio := "undefined"
					if result.RatioValue != nil {
						ratio = fmt.Sprintf("%.4f", *result.RatioValue)
					}
					fmt.Printf("%s | %s %s | %-7s | compliant=%v\n",
						submissionID, result.Ratio, ratio, result.Status, result.Compliant)
				}
			}
		}()
	}

send:
	for n := 0; n < c.submissions; n++ {
		select {
		case work <- n:
		case <-ctx.Done():
			break send
		}
	}
	close(work)
	wg.Wait()

	return stats
}

// submit uploads one submission and runs the ratio over it.
func (c *benchCmd) submit(ctx context.Context, client *http.Client, submissionID string, items []*domain.LineItem) (*domain.ValidationResult, error) {
	batch := domain.LineItemBatch{
		SubmissionID:  submissionID,
		ReportingDate: c.date,
		Items:         items,
	}
	if err := c.post(ctx, client, "/line-items", batch, http.StatusCreated, nil); err != nil {
		return nil, fmt.Errorf("ingest: %w", err)
	}

	req := domain.RunRequest{
		SubmissionID:  submissionID,
		ReportingDate: c.date,
		Ratio:         domain.RatioType(c.ratio),
	}
	var run domain.Run
	if err := c.post(ctx, client, "/runs", req, http.StatusCreated, &run); err != nil {
		return nil, fmt.Errorf("run: %w", err)
	}
	if run.Result == nil {
		return nil, fmt.Errorf("run: response has no result")
	}
	return run.Result, nil
}

func (c *benchCmd) post(ctx context.Context, client *http.Client, path string, body any, want int, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.baseURL, "/")+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", c.tenantID)

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		var apiErr map[string]string
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return fmt.Errorf("status %d: %s", resp.StatusCode, apiErr["error"])
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func checkHealth(ctx context.Context, client *http.Client, baseURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func printBenchResults(s *benchStats, duration time.Duration) {
	fmt.Println()
	fmt.Println("VERDICTS")
	fmt.Printf("   Passed:           %d\n", s.Passed)
	fmt.Printf("   Warning:          %d\n", s.Warning)
	fmt.Printf("   Failed:           %d\n", s.Failed)
	fmt.Printf("   Errors:           %d\n", s.Errors)

	fmt.Println()
	fmt.Println("PERFORMANCE")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if s.TotalProcessed > 0 {
		avgMs := float64(s.ProcessingTimeMs) / float64(s.TotalProcessed)
		fmt.Printf("   Avg Latency:      %.2f ms (ingest + run)\n", avgMs)
		fmt.Printf("   Throughput:       %.2f submissions/sec\n", float64(s.TotalProcessed)/duration.Seconds())
	}
	fmt.Println()
}
