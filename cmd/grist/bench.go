package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"github.com/gristmill-dev/grist/internal/config"
	"github.com/gristmill-dev/grist/internal/errors"
	"github.com/gristmill-dev/grist/pkg/grist"
)

type benchOptions struct {
	profile     string
	writers     int
	readers     int
	iterations  int
	subscribers int
	jsonOutput  string
}

func benchCmd(flags *globalFlags) *cobra.Command {
	var opts benchOptions

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Hammer a shared counter and verify the result",
		Long: `Run writers and readers against one shared counter.

Each writer holds its own strong handle and increments the counter under a
write guard. Readers poll the version like a frame loop, take a read guard
whenever it changed, and check that the value never goes backwards.

When every writer is done the command checks that the value, the version
and every subscriber's notification count all equal writers*iterations,
and exits non-zero if any of them differ.

Examples:
  grist bench
  grist bench --profile stress
  grist bench --writers 4 --iterations 100000 --json report.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			name := opts.profile
			if name == "" {
				name = cfg.Bench.Profile
			}
			p, err := cfg.Profile(name)
			if err != nil {
				return err
			}
			p = opts.override(p)

			slog.Info("bench starting",
				"profile", name,
				"writers", p.Writers,
				"readers", p.Readers,
				"iterations", p.Iterations,
				"subscribers", p.Subscribers)

			report := runBench(name, p, nil)
			writeSummary(cmd.OutOrStdout(), report)
			if opts.jsonOutput != "" {
				if err := writeJSON(opts.jsonOutput, report); err != nil {
					return err
				}
			}
			if !report.OK {
				return errors.New(errors.CodeBenchMismatch).
					WithDetail(strings.Join(report.Failures, "; "))
			}
			success("All invariants held")
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.profile, "profile", "p", "", "Bench profile: fast, standard, stress or one from grist.json")
	cmd.Flags().IntVarP(&opts.writers, "writers", "w", 0, "Override writer goroutines")
	cmd.Flags().IntVarP(&opts.readers, "readers", "r", -1, "Override reader goroutines")
	cmd.Flags().IntVarP(&opts.iterations, "iterations", "n", 0, "Override increments per writer")
	cmd.Flags().IntVar(&opts.subscribers, "subscribers", -1, "Override subscriber count")
	cmd.Flags().StringVar(&opts.jsonOutput, "json", "", "Write a JSON report to this path (\"-\" for stdout)")

	return cmd
}

func (o benchOptions) override(p config.BenchProfile) config.BenchProfile {
	if o.writers > 0 {
		p.Writers = o.writers
	}
	if o.readers >= 0 {
		p.Readers = o.readers
	}
	if o.iterations > 0 {
		p.Iterations = o.iterations
	}
	if o.subscribers >= 0 {
		p.Subscribers = o.subscribers
	}
	return p
}

type benchReport struct {
	Version    string         `json:"version"`
	Run        runInfo        `json:"run"`
	Workload   workloadInfo   `json:"workload"`
	WaitUS     latencyInfo    `json:"write_wait_us"`
	Throughput throughputInfo `json:"throughput"`
	Final      finalInfo      `json:"final"`
	OK         bool           `json:"ok"`
	Failures   []string       `json:"failures,omitempty"`
}

type runInfo struct {
	Timestamp string `json:"timestamp"`
	Go        string `json:"go"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
	CPUCount  int    `json:"cpu_count"`
}

type workloadInfo struct {
	Profile     string `json:"profile"`
	Writers     int    `json:"writers"`
	Readers     int    `json:"readers"`
	Iterations  int    `json:"iterations"`
	Subscribers int    `json:"subscribers"`
	DurationMS  int64  `json:"duration_ms"`
}

type latencyInfo struct {
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
	Max float64 `json:"max"`
}

type throughputInfo struct {
	WritesTotal  uint64  `json:"writes_total"`
	WritesPerSec float64 `json:"writes_per_sec"`
	ReadsTotal   uint64  `json:"reads_total"`
	ReadsPerSec  float64 `json:"reads_per_sec"`
}

type finalInfo struct {
	Value         int      `json:"value"`
	Version       uint64   `json:"version"`
	Notifications []uint64 `json:"notifications"`
	Dropped       bool     `json:"dropped"`
}

// runBench runs the counter scenario described by p. obs, if non-nil,
// observes the counter.
func runBench(name string, p config.BenchProfile, obs grist.Observer) benchReport {
	opts := []grist.Option{grist.WithName("bench")}
	if obs != nil {
		opts = append(opts, grist.WithObserver(obs))
	}
	counter := grist.New(0, opts...)
	weak := counter.Downgrade()
	defer weak.Release()

	notifications := make([]atomic.Uint64, p.Subscribers)
	for i := range notifications {
		n := &notifications[i]
		counter.SubscribeFunc(func() { n.Add(1) })
	}

	total := p.Writers * p.Iterations

	var (
		writersWG, readersWG sync.WaitGroup
		writersDone          = make(chan struct{})
		reads                atomic.Uint64
		regressions          atomic.Uint64
		overruns             atomic.Uint64
		waits                = make([][]time.Duration, p.Writers)
	)

	start := time.Now()

	for i := 0; i < p.Readers; i++ {
		h := counter.Clone()
		readersWG.Add(1)
		go func() {
			defer readersWG.Done()
			defer h.Release()

			tr := grist.NewTracker(h)
			last := -1
			for {
				select {
				case <-writersDone:
					return
				default:
				}
				if _, changed := tr.Observe(); !changed {
					runtime.Gosched()
					continue
				}
				g := h.Read()
				v := g.Value()
				g.Release()
				if v < last {
					regressions.Add(1)
				}
				if v > total {
					overruns.Add(1)
				}
				last = v
				reads.Add(1)
				runtime.Gosched()
			}
		}()
	}

	for i := 0; i < p.Writers; i++ {
		h := counter.Clone()
		samples := make([]time.Duration, 0, p.Iterations)
		writersWG.Add(1)
		go func(i int) {
			defer writersWG.Done()
			defer h.Release()
			for j := 0; j < p.Iterations; j++ {
				t0 := time.Now()
				g := h.Write()
				samples = append(samples, time.Since(t0))
				*g.Ptr()++
				g.Release()
			}
			waits[i] = samples
		}(i)
	}

	writersWG.Wait()
	elapsed := time.Since(start)
	close(writersDone)
	readersWG.Wait()

	final := finalInfo{
		Value:         counter.Get(),
		Version:       counter.Version(),
		Notifications: make([]uint64, len(notifications)),
	}
	for i := range notifications {
		final.Notifications[i] = notifications[i].Load()
	}

	var failures []string
	if final.Value != total {
		failures = append(failures, fmt.Sprintf("value %d, want %d", final.Value, total))
	}
	if final.Version != uint64(total) {
		failures = append(failures, fmt.Sprintf("version %d, want %d", final.Version, total))
	}
	for i, n := range final.Notifications {
		if n != uint64(total) {
			failures = append(failures, fmt.Sprintf("subscriber %d notified %d times, want %d", i, n, total))
		}
	}
	if n := regressions.Load(); n > 0 {
		failures = append(failures, fmt.Sprintf("%d reads saw the value go backwards", n))
	}
	if n := overruns.Load(); n > 0 {
		failures = append(failures, fmt.Sprintf("%d reads saw a value above %d", n, total))
	}
	if c := counter.StrongCount(); c != 1 {
		failures = append(failures, fmt.Sprintf("strong count %d after workers exited, want 1", c))
	}

	counter.Release()
	final.Dropped = !weak.Exists()
	if !final.Dropped {
		failures = append(failures, "value still alive after the last strong handle was released")
	}

	var all []time.Duration
	for _, w := range waits {
		all = append(all, w...)
	}
	sort.Slice(all, func(i, j int) bool { return all[i] < all[j] })

	secs := elapsed.Seconds()
	if secs <= 0 {
		secs = math.SmallestNonzeroFloat64
	}

	return benchReport{
		Version: version,
		Run: runInfo{
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Go:        runtime.Version(),
			OS:        runtime.GOOS,
			Arch:      runtime.GOARCH,
			CPUCount:  runtime.NumCPU(),
		},
		Workload: workloadInfo{
			Profile:     name,
			Writers:     p.Writers,
			Readers:     p.Readers,
			Iterations:  p.Iterations,
			Subscribers: p.Subscribers,
			DurationMS:  elapsed.Milliseconds(),
		},
		WaitUS: latencyInfo{
			P50: us(percentile(all, 0.50)),
			P95: us(percentile(all, 0.95)),
			P99: us(percentile(all, 0.99)),
			Max: us(percentile(all, 1)),
		},
		Throughput: throughputInfo{
			WritesTotal:  uint64(total),
			WritesPerSec: float64(total) / secs,
			ReadsTotal:   reads.Load(),
			ReadsPerSec:  float64(reads.Load()) / secs,
		},
		Final:    final,
		OK:       len(failures) == 0,
		Failures: failures,
	}
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[len(sorted)-1]
	}
	idx := int(math.Ceil(float64(len(sorted))*p)) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func us(d time.Duration) float64 {
	return float64(d) / float64(time.Microsecond)
}

func writeSummary(w io.Writer, report benchReport) {
	fmt.Fprintln(w, "=== grist bench ===")
	fmt.Fprintf(w, "Profile: %s\n", report.Workload.Profile)
	fmt.Fprintf(w, "Writers: %d x %d iterations\n", report.Workload.Writers, report.Workload.Iterations)
	fmt.Fprintf(w, "Readers: %d\n", report.Workload.Readers)
	fmt.Fprintf(w, "Subscribers: %d\n", report.Workload.Subscribers)
	fmt.Fprintf(w, "Duration: %s\n", time.Duration(report.Workload.DurationMS)*time.Millisecond)
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Writes: %d (%.0f/s)\n", report.Throughput.WritesTotal, report.Throughput.WritesPerSec)
	fmt.Fprintf(w, "Reads:  %d (%.0f/s)\n", report.Throughput.ReadsTotal, report.Throughput.ReadsPerSec)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Write guard wait:")
	fmt.Fprintf(w, "  p50: %.2f µs\n", report.WaitUS.P50)
	fmt.Fprintf(w, "  p95: %.2f µs\n", report.WaitUS.P95)
	fmt.Fprintf(w, "  p99: %.2f µs\n", report.WaitUS.P99)
	fmt.Fprintf(w, "  max: %.2f µs\n", report.WaitUS.Max)
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Final value: %d, version: %d\n", report.Final.Value, report.Final.Version)
	for _, f := range report.Failures {
		fmt.Fprintf(w, "FAIL: %s\n", f)
	}
}

func writeJSON(path string, report benchReport) error {
	var out io.Writer
	if path == "-" {
		out = os.Stdout
	} else {
		file, err := os.Create(path)
		if err != nil {
			return err
		}
		defer file.Close()
		out = file
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
