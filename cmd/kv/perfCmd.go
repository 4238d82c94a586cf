package kv

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	gometrics "github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bitdegrade/bdkv/cmd/util"
	"github.com/bitdegrade/bdkv/lib/db"
)

var (
	perfTestCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Performance testing tool for a local database",
		RunE:    runPerf,
		PreRunE: processPerfConfig,
	}
	perfKeyPrefix    = "__perf"
	perfValueSizeB   = 128
	perfNumWorkers   = 8
	perfKeySpread    = 1000
	perfSkip         = make([]string, 0)
)

func init() {
	// add flags
	key := "skip"
	perfTestCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. put,get)"))
	key = "workers"
	perfTestCmd.Flags().Int(key, 8, util.WrapString("Number of worker goroutines"))
	key = "value-size"
	perfTestCmd.Flags().Int(key, 128, util.WrapString("Value size in bytes"))
	key = "keys"
	perfTestCmd.Flags().Int(key, 1000, util.WrapString("How many different keys to use"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	perfValueSizeB = viper.GetInt("value-size")
	perfKeySpread = viper.GetInt("keys")
	perfNumWorkers = viper.GetInt("workers")
	perfSkip = strings.Split(viper.GetString("skip"), ",")

	return nil
}

func shouldSkip(name string) bool {
	for _, s := range perfSkip {
		if s == name {
			return true
		}
	}
	return false
}

// sample is one timed operation, streamed from the workers to the reporter.
type sample struct {
	worker  int
	elapsed time.Duration
}

// runTimed hammers op from perfNumWorkers goroutines for the given number of
// operations. A single reporter goroutine drains the per-op latencies into
// the histogram; the buffered channel keeps workers off each other's backs
// without the histogram needing its own lock.
func runTimed(total int, op func(i int) error) (gometrics.Histogram, []float64, error) {
	hist := gometrics.NewHistogram(gometrics.NewUniformSample(total))
	samples := make(chan sample, 16*perfNumWorkers)
	perWorker := make([]float64, perfNumWorkers)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for s := range samples {
			hist.Update(int64(s.elapsed))
			perWorker[s.worker]++
		}
	}()

	var wg sync.WaitGroup
	var firstErr error
	var errOnce sync.Once
	for w := 0; w < perfNumWorkers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := w; i < total; i += perfNumWorkers {
				start := time.Now()
				if err := op(i); err != nil {
					errOnce.Do(func() { firstErr = err })
					return
				}
				samples <- sample{worker: w, elapsed: time.Since(start)}
			}
		}(w)
	}
	wg.Wait()
	close(samples)
	<-done

	return hist, perWorker, firstErr
}

// workerSpread reports how evenly the operations landed across workers:
// the ratio of the laziest worker's op count to the busiest's, 1.0 being a
// perfectly even split.
func workerSpread(perWorker []float64) float64 {
	if len(perWorker) == 0 {
		return 1
	}
	min, max := perWorker[0], perWorker[0]
	for _, n := range perWorker[1:] {
		if n < min {
			min = n
		}
		if n > max {
			max = n
		}
	}
	if max == 0 {
		return 1
	}
	return min / max
}

func printHistogram(name string, hist gometrics.Histogram, result testing.BenchmarkResult, spread []float64) {
	ps := hist.Percentiles([]float64{0.5, 0.9, 0.99})
	fmt.Printf("%-12s %12v/op   p50=%-10v p90=%-10v p99=%-10v spread=%.2f\n",
		name,
		time.Duration(result.NsPerOp()),
		time.Duration(int64(ps[0])),
		time.Duration(int64(ps[1])),
		time.Duration(int64(ps[2])),
		workerSpread(spread),
	)
}

func runPerf(_ *cobra.Command, _ []string) error {
	fmt.Println("Performance testing tool for bdKV")
	fmt.Println()
	fmt.Printf("Directory:  %s\n", util.GetDir())
	fmt.Printf("Workers:    %d\n", perfNumWorkers)
	fmt.Printf("Keys:       %d\n", perfKeySpread)
	fmt.Printf("Value size: %d bytes\n", perfValueSizeB)
	fmt.Println()

	value := make([]byte, perfValueSizeB)
	for i := range value {
		value[i] = byte('a' + i%26)
	}
	keyOf := func(i int) []byte {
		return []byte(fmt.Sprintf("%s-%08d", perfKeyPrefix, i%perfKeySpread))
	}

	if !shouldSkip("put") {
		var hist gometrics.Histogram
		var spread []float64
		var opErr error
		result := testing.Benchmark(func(b *testing.B) {
			hist, spread, opErr = runTimed(b.N, func(i int) error {
				return store.Put(db.WriteOptions{}, keyOf(i), value)
			})
		})
		if opErr != nil {
			return opErr
		}
		printHistogram("put", hist, result, spread)
	}

	if !shouldSkip("get") {
		// ensure every key exists
		for i := 0; i < perfKeySpread; i++ {
			if err := store.Put(db.WriteOptions{}, keyOf(i), value); err != nil {
				return err
			}
		}
		var hist gometrics.Histogram
		var spread []float64
		var opErr error
		result := testing.Benchmark(func(b *testing.B) {
			hist, spread, opErr = runTimed(b.N, func(i int) error {
				_, _, err := store.Get(db.ReadOptions{}, keyOf(i))
				return err
			})
		})
		if opErr != nil {
			return opErr
		}
		printHistogram("get", hist, result, spread)
	}

	if !shouldSkip("mixed") {
		var hist gometrics.Histogram
		var spread []float64
		var opErr error
		result := testing.Benchmark(func(b *testing.B) {
			hist, spread, opErr = runTimed(b.N, func(i int) error {
				if i%4 == 0 {
					return store.Put(db.WriteOptions{}, keyOf(i), value)
				}
				_, _, err := store.Get(db.ReadOptions{}, keyOf(i))
				return err
			})
		})
		if opErr != nil {
			return opErr
		}
		printHistogram("mixed", hist, result, spread)
	}

	// cleanup
	for i := 0; i < perfKeySpread; i++ {
		if err := store.Remove(db.WriteOptions{}, keyOf(i)); err != nil {
			return err
		}
	}

	return nil
}
