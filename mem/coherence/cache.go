package coherence

import (
	"log"

	"github.com/sarchlab/snoopsim/mem"
	"github.com/sarchlab/snoopsim/sim"
)

// A Protocol selects the coherence controller of a cache. It is chosen at
// construction time and cannot be swapped afterwards.
type Protocol int

// The supported coherence protocols.
const (
	MESI Protocol = iota
	Dragon
	Hybrid
	Adapt
)

func (p Protocol) String() string {
	switch p {
	case MESI:
		return "MESI"
	case Dragon:
		return "Dragon"
	case Hybrid:
		return "Hybrid"
	case Adapt:
		return "Adapt"
	}
	return "Unknown"
}

// CacheStats are the counters a coherent cache maintains.
type CacheStats struct {
	ReadAccess  uint64
	WriteAccess uint64
	Hits        uint64
	ReadMiss    uint64
	WriteMiss   uint64
}

// TotalMiss returns the total number of misses.
func (s CacheStats) TotalMiss() uint64 {
	return s.ReadMiss + s.WriteMiss
}

// A Controller implements the per-line state machine of one coherence
// protocol. Controllers share the cache front-end and differ only in how
// they react to CPU requests, bus grants, memory responses, and snoops.
type Controller interface {
	HandleCPUReq(now sim.VTimeInSec, req mem.AccessReq)
	HandleBusGrant(now sim.VTimeInSec)
	HandleMemResp(now sim.VTimeInSec, rsp sim.Msg)
	HandleSnoop(now sim.VTimeInSec, trans *Transaction)
}

// A Cache is the blocking CPU-side front-end of a snooping cache. It
// accepts one request at a time, dispatches it to the protocol controller,
// and queues responses so that they are delivered on a later tick.
type Cache struct {
	*sim.TickingComponent

	topPort sim.Port

	id         int
	bus        *Bus
	controller Controller
	store      *store

	cacheableLow  uint64
	cacheableHigh uint64

	blocked        bool
	requestPkt     mem.AccessReq
	bypassInFlight bool

	respQueue []sim.Msg

	stats CacheStats
}

// ID returns the bus-registry ID of the cache.
func (c *Cache) ID() int {
	return c.id
}

// TopPort returns the CPU-side port of the cache.
func (c *Cache) TopPort() sim.Port {
	return c.topPort
}

// Stats returns the counters of the cache.
func (c *Cache) Stats() CacheStats {
	return c.stats
}

// Counters exposes the cache counters in a format-free way.
func (c *Cache) Counters() map[string]uint64 {
	return map[string]uint64{
		"read_access":  c.stats.ReadAccess,
		"write_access": c.stats.WriteAccess,
		"hits":         c.stats.Hits,
		"read_miss":    c.stats.ReadMiss,
		"write_miss":   c.stats.WriteMiss,
		"total_miss":   c.stats.TotalMiss(),
	}
}

// StateAt returns the coherence state the cache holds a block in.
func (c *Cache) StateAt(addr uint64) State {
	ln := c.store.lookup(addr)
	if ln == nil {
		return StateInvalid
	}
	return ln.state
}

func (c *Cache) isCacheable(addr uint64) bool {
	return addr >= c.cacheableLow && addr < c.cacheableHigh
}

// Tick sends queued CPU responses and accepts the next CPU request.
func (c *Cache) Tick(now sim.VTimeInSec) bool {
	madeProgress := false

	madeProgress = c.sendCPURsp(now) || madeProgress
	madeProgress = c.processCPUReq(now) || madeProgress

	return madeProgress
}

func (c *Cache) sendCPURsp(now sim.VTimeInSec) bool {
	madeProgress := false

	for len(c.respQueue) > 0 {
		rsp := c.respQueue[0]
		rsp.Meta().SendTime = now

		err := c.topPort.Send(rsp)
		if err != nil {
			break
		}

		c.respQueue = c.respQueue[1:]
		madeProgress = true
	}

	return madeProgress
}

func (c *Cache) processCPUReq(now sim.VTimeInSec) bool {
	if c.blocked {
		return false
	}

	msg := c.topPort.Peek()
	if msg == nil {
		return false
	}

	req, ok := msg.(mem.AccessReq)
	if !ok {
		log.Panicf("cache received non-request message %T", msg)
	}
	c.topPort.Retrieve(now)

	switch req.(type) {
	case *mem.ReadReq:
		c.stats.ReadAccess++
	case *mem.WriteReq:
		c.stats.WriteAccess++
	}

	if !c.isCacheable(req.GetAddress()) {
		c.blocked = true
		c.requestPkt = req
		c.bypassInFlight = true
		c.bus.Request(now, c.id)
		return true
	}

	c.controller.HandleCPUReq(now, req)

	return true
}

func (c *Cache) handleBusGrant(now sim.VTimeInSec) {
	if c.requestPkt == nil {
		log.Panic("bus granted without a pending request")
	}

	if c.bypassInFlight {
		c.bus.SendMemReq(now, &Transaction{
			Req:             c.requestPkt,
			DeliverToMemory: true,
			bypass:          true,
		})
		return
	}

	c.controller.HandleBusGrant(now)
}

func (c *Cache) handleMemResp(now sim.VTimeInSec, rsp sim.Msg) {
	if c.bypassInFlight {
		c.completeBypass(now, rsp)
		return
	}

	c.controller.HandleMemResp(now, rsp)
}

func (c *Cache) handleSnoop(now sim.VTimeInSec, trans *Transaction) {
	if !c.isCacheable(trans.Req.GetAddress()) {
		return
	}

	c.controller.HandleSnoop(now, trans)
}

func (c *Cache) completeBypass(now sim.VTimeInSec, rsp sim.Msg) {
	switch rsp := rsp.(type) {
	case *mem.DataReadyRsp:
		c.respondRead(c.requestPkt.(*mem.ReadReq), rsp.Data)
	case *mem.WriteDoneRsp:
		c.respondWrite(c.requestPkt.(*mem.WriteReq))
	default:
		log.Panicf("cache received unexpected response %T", rsp)
	}

	c.requestPkt = nil
	c.bypassInFlight = false
	c.blocked = false
	c.bus.Release(now, c.id)
	c.TickLater(now)
}

// respondRead queues a data response for the CPU. Responses drain on a
// later tick, which keeps the bus operation ordered before the response.
func (c *Cache) respondRead(req *mem.ReadReq, data []byte) {
	rsp := mem.DataReadyRspBuilder{}.
		WithSrc(c.topPort).
		WithDst(req.Src).
		WithRspTo(req.ID).
		WithData(data).
		Build()

	c.respQueue = append(c.respQueue, rsp)
}

func (c *Cache) respondWrite(req *mem.WriteReq) {
	rsp := mem.WriteDoneRspBuilder{}.
		WithSrc(c.topPort).
		WithDst(req.Src).
		WithRspTo(req.ID).
		Build()

	c.respQueue = append(c.respQueue, rsp)
}

// A CacheBuilder can build coherent caches.
type CacheBuilder struct {
	engine sim.Engine
	freq   sim.Freq
	bus    *Bus

	cacheID  int
	protocol Protocol

	blockOffsetBits int
	setBits         int
	cacheSizeBits   int

	cacheableLow  uint64
	cacheableHigh uint64

	invalidateThreshold int
	invalidationRatio   int
	maxThreshold        int
}

// MakeCacheBuilder returns a CacheBuilder with default parameters.
func MakeCacheBuilder() CacheBuilder {
	return CacheBuilder{
		freq:                1 * sim.GHz,
		protocol:            MESI,
		blockOffsetBits:     5,
		setBits:             4,
		cacheSizeBits:       15,
		cacheableLow:        0x8000,
		cacheableHigh:       0xa000,
		invalidateThreshold: 4,
		invalidationRatio:   3,
		maxThreshold:        16,
	}
}

// WithEngine sets the engine to use.
func (b CacheBuilder) WithEngine(engine sim.Engine) CacheBuilder {
	b.engine = engine
	return b
}

// WithFreq sets the frequency of the cache.
func (b CacheBuilder) WithFreq(freq sim.Freq) CacheBuilder {
	b.freq = freq
	return b
}

// WithBus sets the bus the cache snoops on.
func (b CacheBuilder) WithBus(bus *Bus) CacheBuilder {
	b.bus = bus
	return b
}

// WithCacheID sets the bus-registry ID of the cache.
func (b CacheBuilder) WithCacheID(cacheID int) CacheBuilder {
	b.cacheID = cacheID
	return b
}

// WithProtocol selects the coherence controller.
func (b CacheBuilder) WithProtocol(p Protocol) CacheBuilder {
	b.protocol = p
	return b
}

// WithGeometry sets the block offset, set index, and total capacity bits.
func (b CacheBuilder) WithGeometry(
	blockOffsetBits, setBits, cacheSizeBits int,
) CacheBuilder {
	b.blockOffsetBits = blockOffsetBits
	b.setBits = setBits
	b.cacheSizeBits = cacheSizeBits
	return b
}

// WithCacheableRange sets the [low, high) address window that participates
// in the protocol.
func (b CacheBuilder) WithCacheableRange(low, high uint64) CacheBuilder {
	b.cacheableLow = low
	b.cacheableHigh = high
	return b
}

// WithInvalidateThreshold sets the initial invalidate counter of
// Hybrid/Adapt lines.
func (b CacheBuilder) WithInvalidateThreshold(t int) CacheBuilder {
	b.invalidateThreshold = t
	return b
}

// WithInvalidationRatio sets the write-run length below which Adapt raises
// the threshold.
func (b CacheBuilder) WithInvalidationRatio(r int) CacheBuilder {
	b.invalidationRatio = r
	return b
}

// WithMaxThreshold sets the saturation point of threshold adjustments.
func (b CacheBuilder) WithMaxThreshold(m int) CacheBuilder {
	b.maxThreshold = m
	return b
}

// Build creates the cache and registers it on the bus.
func (b CacheBuilder) Build(name string) *Cache {
	if b.bus == nil {
		log.Panic("a coherent cache requires a bus")
	}
	if b.cacheableLow >= b.cacheableHigh {
		log.Panic("cacheable range is empty")
	}

	c := &Cache{
		id:            b.cacheID,
		bus:           b.bus,
		cacheableLow:  b.cacheableLow,
		cacheableHigh: b.cacheableHigh,
	}
	c.TickingComponent = sim.NewTickingComponent(name, b.engine, b.freq, c)

	c.store = newStore(b.blockOffsetBits, b.setBits, b.cacheSizeBits)
	if c.store.blockSize != b.bus.blockSize {
		log.Panicf("cache block size %d does not match bus block size %d",
			c.store.blockSize, b.bus.blockSize)
	}

	c.topPort = sim.NewLimitNumMsgPort(c, 4, name+".TopPort")
	c.AddPort("Top", c.topPort)

	switch b.protocol {
	case MESI:
		c.controller = newMESIController(c)
	case Dragon:
		c.controller = newDragonController(c)
	case Hybrid:
		c.controller = newHybridController(c, b.invalidateThreshold)
	case Adapt:
		c.controller = newAdaptController(
			c, b.invalidateThreshold, b.invalidationRatio, b.maxThreshold)
	default:
		log.Panicf("unknown protocol %d", b.protocol)
	}

	b.bus.RegisterCache(b.cacheID, c)

	return c
}
