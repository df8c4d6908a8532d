package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/sarchlab/snoopsim/mem/coherence"
	"github.com/sarchlab/snoopsim/monitoring"
	"github.com/sarchlab/snoopsim/platform"
	"github.com/sarchlab/snoopsim/sim"
	"github.com/sarchlab/snoopsim/tracing"
)

var (
	flagProtocol            string
	flagNumCores            int
	flagBlockOffsetBits     int
	flagSetBits             int
	flagCacheSizeBits       int
	flagCacheableLow        uint64
	flagCacheableHigh       uint64
	flagInvalidateThreshold int
	flagInvalidationRatio   int
	flagMaxThreshold        int
	flagMemLatency          int
	flagTraceFile           string
	flagTraceDB             string
	flagMonitor             bool
)

var rootCmd = &cobra.Command{
	Use:   "snoopsim",
	Short: "Simulate multi-core snooping caches on a serialized bus",
	Long: `snoopsim runs a cycle-driven simulation of per-core snooping
caches connected by a serialized bus. The coherence protocol, the cache
geometry, and the Hybrid/Adapt tunables are selected with flags. Without a
trace file a built-in demo workload runs.

Trace files carry one access per line:

    <core> R <addr> <bytes> <cycle>
    <core> W <addr> <hex-data> <cycle>`,
	RunE: runSimulation,
}

func init() {
	// Environment defaults can come from a .env file.
	_ = godotenv.Load()

	rootCmd.Flags().StringVar(&flagProtocol, "protocol",
		envOr("SNOOPSIM_PROTOCOL", "mesi"),
		"coherence protocol: mesi, dragon, hybrid, or adapt")
	rootCmd.Flags().IntVar(&flagNumCores, "cores",
		envIntOr("SNOOPSIM_CORES", 2), "number of cores")
	rootCmd.Flags().IntVar(&flagBlockOffsetBits, "block-offset-bits", 5,
		"log2 of the block size")
	rootCmd.Flags().IntVar(&flagSetBits, "set-bits", 4,
		"log2 of the number of sets")
	rootCmd.Flags().IntVar(&flagCacheSizeBits, "cache-size-bits", 15,
		"log2 of the cache capacity")
	rootCmd.Flags().Uint64Var(&flagCacheableLow, "cacheable-low", 0x8000,
		"start of the coherent address window")
	rootCmd.Flags().Uint64Var(&flagCacheableHigh, "cacheable-high", 0xa000,
		"end of the coherent address window")
	rootCmd.Flags().IntVar(&flagInvalidateThreshold, "invalidate-threshold",
		4, "initial Hybrid/Adapt update budget")
	rootCmd.Flags().IntVar(&flagInvalidationRatio, "invalidation-ratio", 3,
		"write-run length below which Adapt biases toward updates")
	rootCmd.Flags().IntVar(&flagMaxThreshold, "max-threshold", 16,
		"saturation point of Adapt threshold learning")
	rootCmd.Flags().IntVar(&flagMemLatency, "mem-latency", 100,
		"memory latency in cycles")
	rootCmd.Flags().StringVar(&flagTraceFile, "trace", "",
		"trace file to replay")
	rootCmd.Flags().StringVar(&flagTraceDB, "trace-db", "",
		"record bus transactions into this SQLite database")
	rootCmd.Flags().BoolVar(&flagMonitor, "monitor", false,
		"serve live counters over HTTP")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func parseProtocol(name string) (coherence.Protocol, error) {
	switch strings.ToLower(name) {
	case "mesi":
		return coherence.MESI, nil
	case "dragon":
		return coherence.Dragon, nil
	case "hybrid":
		return coherence.Hybrid, nil
	case "adapt":
		return coherence.Adapt, nil
	}
	return 0, fmt.Errorf("unknown protocol %q", name)
}

func runSimulation(_ *cobra.Command, _ []string) error {
	protocol, err := parseProtocol(flagProtocol)
	if err != nil {
		return err
	}

	p := platform.MakeBuilder().
		WithNumCores(flagNumCores).
		WithProtocol(protocol).
		WithGeometry(flagBlockOffsetBits, flagSetBits, flagCacheSizeBits).
		WithCacheableRange(flagCacheableLow, flagCacheableHigh).
		WithInvalidateThreshold(flagInvalidateThreshold).
		WithInvalidationRatio(flagInvalidationRatio).
		WithMaxThreshold(flagMaxThreshold).
		WithMemLatency(flagMemLatency).
		Build("Sim")

	if flagTraceDB != "" {
		writer := tracing.NewSQLiteTraceWriter(flagTraceDB)
		writer.Init()
		tracing.Collect(p.Bus, coherence.HookPosBusTransaction,
			"bus_transaction", writer, p.Engine)
	}

	if flagMonitor {
		monitor := monitoring.NewMonitor()
		monitor.RegisterEngine(p.Engine)
		monitor.RegisterComponent(p.Bus)
		for _, cache := range p.Caches {
			monitor.RegisterComponent(cache)
		}
		addr := monitor.StartServer("", true)
		fmt.Printf("monitoring on http://%s\n", addr)
	}

	if flagTraceFile != "" {
		err = loadTrace(p, flagTraceFile)
		if err != nil {
			return err
		}
	} else {
		loadDemoWorkload(p)
	}

	err = p.Run()
	if err != nil {
		return err
	}

	printReport(p)

	return nil
}

func loadDemoWorkload(p *platform.Platform) {
	// A small producer/consumer exchange over one shared block.
	base := flagCacheableLow

	p.Agents[0].AddWrite(cycle(0), base, []byte{1})
	p.Agents[0].AddWrite(cycle(0), base, []byte{2})

	for i := 1; i < len(p.Agents); i++ {
		p.Agents[i].AddRead(cycle(500*i), base, 1)
		p.Agents[i].AddWrite(cycle(0), base+uint64(64*i), []byte{byte(i)})
	}

	p.Agents[0].AddRead(cycle(500*len(p.Agents)), base, 1)
}

func cycle(n int) sim.VTimeInSec {
	return sim.VTimeInSec(n) * 1e-9
}

func printReport(p *platform.Platform) {
	header := color.New(color.FgCyan, color.Bold)
	value := color.New(color.FgGreen)

	header.Println("bus")
	for name, count := range p.Bus.Counters() {
		fmt.Printf("  %-22s ", name)
		value.Printf("%d\n", count)
	}

	for _, cache := range p.Caches {
		header.Println(cache.Name())
		for name, count := range cache.Counters() {
			fmt.Printf("  %-22s ", name)
			value.Printf("%d\n", count)
		}
	}
}
