package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/faucetdb/licensor/internal/license"
)

type benchmarkOptions struct {
	url         string
	apiKey      string
	keyHeader   string
	licenses    int
	duration    time.Duration
	concurrency int
	activateMix int
	revoke      bool
}

func newBenchmarkCmd() *cobra.Command {
	var opts benchmarkOptions

	cmd := &cobra.Command{
		Use:   "benchmark",
		Short: "Load-test activate and sync against a running server",
		Long: `Provision a batch of licenses through the admin API, bind each one, then run
concurrent sync and re-activation traffic against them for the given duration.
Workers share the licenses, so every sync competes for the same revision and
exercises the store's conditional writes under contention.

The client endpoints are rate limited per IP; set server.rate_limit.client_rpm
to 0 on the target server before benchmarking.`,
		Example: `  licensor benchmark --api-key lic_... --duration 30s --concurrency 50
  licensor benchmark --url https://licenses.internal --licenses 10 --concurrency 200`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.apiKey == "" {
				opts.apiKey = os.Getenv("LICENSOR_API_KEY")
			}
			if opts.apiKey == "" {
				return fmt.Errorf("an API key with the bulk_generate operation is required (--api-key or LICENSOR_API_KEY)")
			}
			if opts.licenses < 1 || opts.concurrency < 1 {
				return fmt.Errorf("--licenses and --concurrency must be positive")
			}
			return runBenchmark(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.url, "url", "http://127.0.0.1:8080", "Base URL of the Licensor server")
	cmd.Flags().StringVar(&opts.apiKey, "api-key", "", "API key used to provision (and optionally revoke) licenses")
	cmd.Flags().StringVar(&opts.keyHeader, "api-key-header", "X-API-Key", "Header carrying the API key")
	cmd.Flags().IntVar(&opts.licenses, "licenses", 20, "Number of licenses to provision and share between workers")
	cmd.Flags().DurationVar(&opts.duration, "duration", 30*time.Second, "Test duration")
	cmd.Flags().IntVar(&opts.concurrency, "concurrency", 10, "Number of concurrent workers")
	cmd.Flags().IntVar(&opts.activateMix, "activate-percent", 10, "Share of requests that re-activate instead of sync (0-100)")
	cmd.Flags().BoolVar(&opts.revoke, "revoke", false, "Revoke the provisioned licenses afterwards")

	return cmd
}

// benchClient posts JSON to the license API.
type benchClient struct {
	base      string
	apiKey    string
	keyHeader string
	http      *http.Client
}

func (c *benchClient) post(ctx context.Context, path string, body, out interface{}, authenticated bool) (int, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(b))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "licensor-benchmark/"+versionString())
	if authenticated {
		req.Header.Set(c.keyHeader, c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil
	}
	return resp.StatusCode, json.NewDecoder(resp.Body).Decode(out)
}

// benchLicense is one provisioned key and the device bound to it.
type benchLicense struct {
	key      string
	hwid     string
	revision atomic.Int64
}

// latencyLog collects per-operation samples from all workers.
type latencyLog struct {
	mu      sync.Mutex
	samples map[string][]time.Duration
	counts  map[string]int64
}

func newLatencyLog() *latencyLog {
	return &latencyLog{samples: make(map[string][]time.Duration), counts: make(map[string]int64)}
}

func (l *latencyLog) add(op, outcome string, d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.samples[op] = append(l.samples[op], d)
	l.counts[op+" "+outcome]++
}

func printBanner(opts benchmarkOptions) {
	fmt.Print(banner)
	fmt.Println("Licensor Benchmark")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("Target: %s\n", opts.url)
	fmt.Printf("Duration: %s | Concurrency: %d | Licenses: %d\n", opts.duration, opts.concurrency, opts.licenses)
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()
}

// memStats captures a snapshot of memory statistics for reporting.
type memStats struct {
	HeapAlloc uint64
	Sys       uint64
}

func captureMemStats() memStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return memStats{HeapAlloc: m.HeapAlloc, Sys: m.Sys}
}

func formatBytes(b uint64) string {
	const (
		kb = 1024
		mb = kb * 1024
		gb = mb * 1024
	)
	switch {
	case b >= gb:
		return fmt.Sprintf("%.2f GB", float64(b)/float64(gb))
	case b >= mb:
		return fmt.Sprintf("%.2f MB", float64(b)/float64(mb))
	case b >= kb:
		return fmt.Sprintf("%.2f KB", float64(b)/float64(kb))
	default:
		return fmt.Sprintf("%d B", b)
	}
}

// percentile returns the p-th percentile of sorted samples.
func percentile(sorted []time.Duration, p int) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	i := len(sorted) * p / 100
	if i >= len(sorted) {
		i = len(sorted) - 1
	}
	return sorted[i]
}

func runBenchmark(ctx context.Context, opts benchmarkOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	printBanner(opts)
	memBefore := captureMemStats()

	client := &benchClient{
		base:      strings.TrimRight(opts.url, "/"),
		apiKey:    opts.apiKey,
		keyHeader: opts.keyHeader,
		http: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        opts.concurrency * 2,
				MaxIdleConnsPerHost: opts.concurrency * 2,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}

	// Provision
	fmt.Printf("Provisioning %d licenses... ", opts.licenses)
	var bulk license.BulkGenerateResponse
	code, err := client.post(ctx, "/api/v1/system/license/bulk", license.BulkGenerateRequest{
		Count:      opts.licenses,
		ExpiryDays: 30,
		Edition:    "BASIC",
		KeyPrefix:  "BENCH",
	}, &bulk, true)
	if err != nil {
		return fmt.Errorf("provision licenses: %w", err)
	}
	if bulk.Status != license.StatusOK {
		return fmt.Errorf("provision licenses: HTTP %d %s %s", code, bulk.Status, bulk.Message)
	}
	fmt.Println("ok")

	// Bind every license to its own device.
	fmt.Print("Activating... ")
	pool := make([]*benchLicense, len(bulk.Keys))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.concurrency)
	for i, key := range bulk.Keys {
		bl := &benchLicense{key: key, hwid: fmt.Sprintf("bench-device-%04d", i)}
		pool[i] = bl
		g.Go(func() error {
			var res license.ActivateResponse
			if _, err := client.post(gctx, "/api/v1/license/activate", license.ActivateRequest{LicenseKey: bl.key, HWID: bl.hwid}, &res, false); err != nil {
				return err
			}
			if res.Status != license.StatusOK {
				return fmt.Errorf("activate %s: %s", bl.key, res.Status)
			}
			bl.revision.Store(res.ServerRevision)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("activation failed: %w", err)
	}
	fmt.Println("ok")
	fmt.Println()
	fmt.Println("Running benchmark...")
	fmt.Println()

	var (
		total   atomic.Int64
		errors  atomic.Int64
		limited atomic.Int64
		next    atomic.Int64
		log     = newLatencyLog()
	)

	runCtx, cancel := context.WithTimeout(ctx, opts.duration)
	defer cancel()

	workers, wctx := errgroup.WithContext(runCtx)
	for w := 0; w < opts.concurrency; w++ {
		workers.Go(func() error {
			for wctx.Err() == nil {
				n := next.Add(1)
				bl := pool[int(n)%len(pool)]
				activate := opts.activateMix > 0 && int(n%100) < opts.activateMix

				start := time.Now()
				var (
					op     string
					status license.Status
					code   int
					err    error
				)
				if activate {
					op = "activate"
					var res license.ActivateResponse
					code, err = client.post(wctx, "/api/v1/license/activate", license.ActivateRequest{LicenseKey: bl.key, HWID: bl.hwid}, &res, false)
					status = res.Status
				} else {
					op = "sync"
					rev := bl.revision.Load()
					var res license.SyncResponse
					code, err = client.post(wctx, "/api/v1/license/sync", license.SyncRequest{LicenseKey: bl.key, HWID: bl.hwid, LocalRevision: &rev}, &res, false)
					status = res.Status
					if status == license.StatusUpdate {
						bl.revision.Store(res.ServerRevision)
					}
				}
				elapsed := time.Since(start)

				switch {
				case err != nil:
					if wctx.Err() != nil {
						return nil
					}
					errors.Add(1)
					continue
				case code == http.StatusTooManyRequests:
					limited.Add(1)
					continue
				}
				total.Add(1)
				log.add(op, string(status), elapsed)
			}
			return nil
		})
	}
	workers.Wait()

	memAfter := captureMemStats()

	fmt.Println("Results")
	fmt.Println("-------")
	fmt.Printf("  Total requests: %d\n", total.Load())
	fmt.Printf("  Errors:         %d\n", errors.Load())
	fmt.Printf("  Rate limited:   %d\n", limited.Load())
	fmt.Printf("  RPS:            %.1f\n", float64(total.Load())/opts.duration.Seconds())

	ops := make([]string, 0, len(log.samples))
	for op := range log.samples {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	for _, op := range ops {
		lat := log.samples[op]
		sort.Slice(lat, func(i, j int) bool { return lat[i] < lat[j] })
		fmt.Println()
		fmt.Printf("  %s (%d)\n", op, len(lat))
		fmt.Printf("    p50: %-12s p95: %-12s p99: %-12s max: %s\n",
			percentile(lat, 50), percentile(lat, 95), percentile(lat, 99), lat[len(lat)-1])
	}

	fmt.Println()
	fmt.Println("Outcomes")
	fmt.Println("--------")
	outcomes := make([]string, 0, len(log.counts))
	for k := range log.counts {
		outcomes = append(outcomes, k)
	}
	sort.Strings(outcomes)
	for _, k := range outcomes {
		fmt.Printf("  %-28s %d\n", k, log.counts[k])
	}

	fmt.Println()
	fmt.Println("Memory (client)")
	fmt.Println("---------------")
	fmt.Printf("  Heap before:    %s\n", formatBytes(memBefore.HeapAlloc))
	fmt.Printf("  Heap after:     %s\n", formatBytes(memAfter.HeapAlloc))
	fmt.Printf("  Sys before:     %s\n", formatBytes(memBefore.Sys))
	fmt.Printf("  Sys after:      %s\n", formatBytes(memAfter.Sys))

	if opts.revoke {
		fmt.Println()
		fmt.Print("Revoking benchmark licenses... ")
		rg, rctx := errgroup.WithContext(ctx)
		rg.SetLimit(opts.concurrency)
		for _, bl := range pool {
			rg.Go(func() error {
				var res license.RevokeResponse
				if _, err := client.post(rctx, "/api/v1/system/license/revoke", license.RevokeRequest{LicenseKey: bl.key, Reason: "benchmark"}, &res, true); err != nil {
					return err
				}
				if res.Status != license.StatusOK {
					return fmt.Errorf("revoke %s: %s", bl.key, res.Status)
				}
				return nil
			})
		}
		if err := rg.Wait(); err != nil {
			return fmt.Errorf("revoke failed: %w", err)
		}
		fmt.Println("ok")
	}

	return nil
}
