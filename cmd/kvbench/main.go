// kvbench drives a configurable Set/Get workload against a
// running kvserver and reports throughput and average latency, in the
// spirit of the throughput-measurement harnesses used to benchmark the
// storage alternatives this project was built from.
package main

import (
	"fmt"
	"math/rand"
	"net"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"stripedkv/wire"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		addr        string
		prePopCount int
		ops         int
		goroutines  int
		writePerc   int
	)

	cmd := &cobra.Command{
		Use:   "kvbench",
		Short: "Throughput/latency benchmark harness for kvserver",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBenchmark(addr, prePopCount, ops, goroutines, writePerc)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&addr, "addr", "127.0.0.1:50051", "kvserver address")
	flags.IntVar(&prePopCount, "prepopulate", 1000, "number of keys to write before measuring")
	flags.IntVar(&ops, "ops", 10000, "total number of operations to perform during the measured phase")
	flags.IntVar(&goroutines, "goroutines", 32, "number of concurrent client connections")
	flags.IntVar(&writePerc, "write-percent", 20, "percentage of operations that are Set rather than Get")

	return cmd
}

func runBenchmark(addr string, prePopCount, ops, goroutines, writePerc int) error {
	conns := make([]net.Conn, goroutines)
	for i := range conns {
		c, err := net.DialTimeout("tcp", addr, 5*time.Second)
		if err != nil {
			return fmt.Errorf("dial %s: %w", addr, err)
		}
		defer c.Close()
		conns[i] = c
	}

	fmt.Printf("===== Benchmark Configuration =====\n")
	fmt.Printf("Pre-populated keys: %d\n", prePopCount)
	fmt.Printf("Write/read ratio: %d%% write, %d%% read\n", writePerc, 100-writePerc)
	fmt.Printf("Operations: %d (across %d connections)\n\n", ops, goroutines)

	for i := 0; i < prePopCount; i++ {
		key := strconv.Itoa(i)
		if _, err := call(conns[i%goroutines], wire.Request{Op: wire.OpSet, Key: key, Value: []byte("prepopulated")}); err != nil {
			return fmt.Errorf("prepopulate: %w", err)
		}
	}

	elapsed, errCount := opsLoop(ops, goroutines, conns, func(i, thread int) error {
		key := strconv.Itoa(rand.Intn(prePopCount))
		if rand.Intn(100) < writePerc {
			_, err := call(conns[thread], wire.Request{Op: wire.OpSet, Key: key, Value: []byte("updated")})
			return err
		}
		_, err := call(conns[thread], wire.Request{Op: wire.OpGet, Key: key})
		return err
	})

	throughput := float64(ops) / elapsed.Seconds()
	avgLatency := elapsed / time.Duration(ops/goroutines+1)

	fmt.Printf("Elapsed: %s\n", elapsed)
	fmt.Printf("Throughput: %.0f ops/sec\n", throughput)
	fmt.Printf("Avg latency per goroutine step: %s\n", avgLatency)
	if errCount > 0 {
		fmt.Printf("Errors: %d\n", errCount)
	}

	return nil
}

// opsLoop spreads ops operations evenly across goroutines concurrent
// workers, each bound to its own connection (conns[thread]), and
// returns the wall-clock time for the whole measured phase.
func opsLoop(ops, goroutines int, conns []net.Conn, fn func(i, thread int) error) (time.Duration, int64) {
	var wg sync.WaitGroup
	var errCount int64

	perGoroutine := ops / goroutines
	remainder := ops % goroutines
	start := time.Now()

	for t := 0; t < goroutines; t++ {
		t := t
		n := perGoroutine
		if t < remainder {
			n++
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < n; i++ {
				if err := fn(i, t); err != nil {
					atomic.AddInt64(&errCount, 1)
				}
			}
		}()
	}

	wg.Wait()
	return time.Since(start), errCount
}

func call(conn net.Conn, req wire.Request) (wire.Response, error) {
	if err := wire.WriteFrame(conn, wire.EncodeRequest(req)); err != nil {
		return wire.Response{}, err
	}
	payload, err := wire.ReadFrame(conn, 0)
	if err != nil {
		return wire.Response{}, err
	}
	return wire.DecodeResponse(req.Op, payload)
}
