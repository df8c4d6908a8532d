// Package platform assembles multi-core snooping-cache simulations: one
// serializing bus, one coherent cache and driver agent per core, and a
// fixed-latency memory controller.
package platform

import (
	"fmt"

	"github.com/sarchlab/snoopsim/mem/accessagent"
	"github.com/sarchlab/snoopsim/mem/coherence"
	"github.com/sarchlab/snoopsim/mem/idealmemcontroller"
	"github.com/sarchlab/snoopsim/sim"
)

// A Platform is a fully wired multi-core system.
type Platform struct {
	Engine sim.Engine
	Bus    *coherence.Bus
	Caches []*coherence.Cache
	Agents []*accessagent.Comp
	DRAM   *idealmemcontroller.Comp
}

// Run plays every agent's script to completion.
func (p *Platform) Run() error {
	for _, agent := range p.Agents {
		agent.KickStart()
	}

	return p.Engine.Run()
}

// A Builder can build platforms.
type Builder struct {
	freq     sim.Freq
	numCores int
	protocol coherence.Protocol

	blockOffsetBits int
	setBits         int
	cacheSizeBits   int

	cacheableLow  uint64
	cacheableHigh uint64

	invalidateThreshold int
	invalidationRatio   int
	maxThreshold        int

	memLatency int
}

// MakeBuilder returns a Builder with default parameters.
func MakeBuilder() Builder {
	return Builder{
		freq:                1 * sim.GHz,
		numCores:            2,
		protocol:            coherence.MESI,
		blockOffsetBits:     5,
		setBits:             4,
		cacheSizeBits:       15,
		cacheableLow:        0x8000,
		cacheableHigh:       0xa000,
		invalidateThreshold: 4,
		invalidationRatio:   3,
		maxThreshold:        16,
		memLatency:          10,
	}
}

// WithFreq sets the frequency of all the components.
func (b Builder) WithFreq(freq sim.Freq) Builder {
	b.freq = freq
	return b
}

// WithNumCores sets the number of cores.
func (b Builder) WithNumCores(n int) Builder {
	b.numCores = n
	return b
}

// WithProtocol selects the coherence protocol of all the caches.
func (b Builder) WithProtocol(p coherence.Protocol) Builder {
	b.protocol = p
	return b
}

// WithGeometry sets the cache geometry bits.
func (b Builder) WithGeometry(
	blockOffsetBits, setBits, cacheSizeBits int,
) Builder {
	b.blockOffsetBits = blockOffsetBits
	b.setBits = setBits
	b.cacheSizeBits = cacheSizeBits
	return b
}

// WithCacheableRange sets the coherent address window.
func (b Builder) WithCacheableRange(low, high uint64) Builder {
	b.cacheableLow = low
	b.cacheableHigh = high
	return b
}

// WithInvalidateThreshold sets the Hybrid/Adapt initial threshold.
func (b Builder) WithInvalidateThreshold(t int) Builder {
	b.invalidateThreshold = t
	return b
}

// WithInvalidationRatio sets the Adapt write-run ratio.
func (b Builder) WithInvalidationRatio(r int) Builder {
	b.invalidationRatio = r
	return b
}

// WithMaxThreshold sets the threshold saturation point.
func (b Builder) WithMaxThreshold(m int) Builder {
	b.maxThreshold = m
	return b
}

// WithMemLatency sets the memory latency in cycles.
func (b Builder) WithMemLatency(latency int) Builder {
	b.memLatency = latency
	return b
}

// Build creates the platform.
func (b Builder) Build(name string) *Platform {
	p := &Platform{}

	engine := sim.NewSerialEngine()
	p.Engine = engine

	p.Bus = coherence.MakeBusBuilder().
		WithEngine(engine).
		WithFreq(b.freq).
		WithBlockSize(1 << b.blockOffsetBits).
		Build(name + ".Bus")

	p.DRAM = idealmemcontroller.MakeBuilder().
		WithEngine(engine).
		WithFreq(b.freq).
		WithLatency(b.memLatency).
		Build(name + ".DRAM")

	p.Bus.SetLowModule(p.DRAM.TopPort())
	p.Bus.SetFunctionalStorage(p.DRAM.Storage)

	memConn := sim.NewDirectConnection(name + ".MemConn")
	memConn.PlugIn(p.Bus.MemPort())
	memConn.PlugIn(p.DRAM.TopPort())

	for i := 0; i < b.numCores; i++ {
		cache := coherence.MakeCacheBuilder().
			WithEngine(engine).
			WithFreq(b.freq).
			WithBus(p.Bus).
			WithCacheID(i).
			WithProtocol(b.protocol).
			WithGeometry(b.blockOffsetBits, b.setBits, b.cacheSizeBits).
			WithCacheableRange(b.cacheableLow, b.cacheableHigh).
			WithInvalidateThreshold(b.invalidateThreshold).
			WithInvalidationRatio(b.invalidationRatio).
			WithMaxThreshold(b.maxThreshold).
			Build(fmt.Sprintf("%s.Cache[%d]", name, i))
		p.Caches = append(p.Caches, cache)

		agent := accessagent.MakeBuilder().
			WithEngine(engine).
			WithFreq(b.freq).
			Build(fmt.Sprintf("%s.Agent[%d]", name, i))
		agent.SetLowModule(cache.TopPort())
		p.Agents = append(p.Agents, agent)

		conn := sim.NewDirectConnection(
			fmt.Sprintf("%s.CPUConn[%d]", name, i))
		conn.PlugIn(agent.MemPort())
		conn.PlugIn(cache.TopPort())
	}

	return p
}
