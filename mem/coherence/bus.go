package coherence

import (
	"fmt"
	"log"
	"sort"

	"github.com/sarchlab/snoopsim/mem"
	"github.com/sarchlab/snoopsim/sim"
)

// BusStats are the counters the bus maintains.
type BusStats struct {
	TransactionCount uint64
	BytesReadByPeers uint64
}

// A Transaction is one bus operation issued by the granted cache.
//
// The String form names the operation, the originator, and the request
// address, which is what the tracers record.
type Transaction struct {
	Op              BusOp
	Req             mem.AccessReq
	DeliverToMemory bool
	Originator      int

	// bypass marks traffic outside the cacheable range. It is forwarded to
	// memory untouched and does not participate in the protocol.
	bypass bool
}

func (t *Transaction) String() string {
	return fmt.Sprintf("%s from cache %d @0x%x",
		t.Op, t.Originator, t.Req.GetAddress())
}

// FunctionalStorage lets writebacks and functional accesses bypass the
// timing path. Writebacks carry no coherence meaning, so they do not need
// to travel through the serialized request stream.
type FunctionalStorage interface {
	Read(addr, length uint64) ([]byte, error)
	Write(addr uint64, data []byte) error
}

type busGrantEvent struct {
	*sim.EventBase
}

type busDispatchEvent struct {
	*sim.EventBase
}

// A Bus is a serializing snooping bus. Exactly one cache is granted at any
// instant. The grantee performs one bus operation; all peers snoop it
// before the memory sees it.
type Bus struct {
	*sim.TickingComponent

	memPort   sim.Port
	lowModule sim.Port

	blockSize int

	caches   map[int]*Cache
	cacheIDs []int

	requestQueue   []int
	memReqQueue    []*Transaction
	outQueue       []sim.Msg
	inflight       map[string]*Transaction
	grantScheduled bool

	// CurrentGranted is the ID of the cache holding the bus, or -1.
	CurrentGranted int

	// SharedWire is cleared before each transaction and raised by any
	// snooper holding the block in a non-Invalid state.
	SharedWire bool

	// RemoteAccessWire is raised by a snooper that accessed its copy since
	// the previous update.
	RemoteAccessWire bool

	adaptThresholds *ThresholdTable
	funcStorage     FunctionalStorage

	stats BusStats
}

// BusBuilder can build a Bus.
type BusBuilder struct {
	engine    sim.Engine
	freq      sim.Freq
	blockSize int
}

// MakeBusBuilder returns a BusBuilder with default parameters.
func MakeBusBuilder() BusBuilder {
	return BusBuilder{
		freq:      1 * sim.GHz,
		blockSize: 32,
	}
}

// WithEngine sets the engine to use.
func (b BusBuilder) WithEngine(engine sim.Engine) BusBuilder {
	b.engine = engine
	return b
}

// WithFreq sets the frequency of the bus.
func (b BusBuilder) WithFreq(freq sim.Freq) BusBuilder {
	b.freq = freq
	return b
}

// WithBlockSize sets the cache block size in bytes.
func (b BusBuilder) WithBlockSize(blockSize int) BusBuilder {
	b.blockSize = blockSize
	return b
}

// Build creates a new Bus.
func (b BusBuilder) Build(name string) *Bus {
	if b.blockSize&(b.blockSize-1) != 0 {
		log.Panic("block size must be a power of two")
	}

	bus := &Bus{
		blockSize:      b.blockSize,
		caches:         make(map[int]*Cache),
		inflight:       make(map[string]*Transaction),
		CurrentGranted: -1,
	}
	bus.TickingComponent =
		sim.NewTickingComponent(name, b.engine, b.freq, bus)

	bus.memPort = sim.NewLimitNumMsgPort(bus, 4, name+".MemPort")
	bus.AddPort("Mem", bus.memPort)

	return bus
}

// MemPort returns the memory-side port of the bus.
func (b *Bus) MemPort() sim.Port {
	return b.memPort
}

// SetLowModule sets the port of the memory module that serves requests.
func (b *Bus) SetLowModule(port sim.Port) {
	b.lowModule = port
}

// SetFunctionalStorage sets the storage that writebacks go to.
func (b *Bus) SetFunctionalStorage(fs FunctionalStorage) {
	b.funcStorage = fs
}

// RegisterCache adds a cache to the snoop domain.
func (b *Bus) RegisterCache(cacheID int, cache *Cache) {
	if _, exist := b.caches[cacheID]; exist {
		log.Panicf("cache %d already registered", cacheID)
	}

	b.caches[cacheID] = cache
	b.cacheIDs = append(b.cacheIDs, cacheID)
	sort.Ints(b.cacheIDs)
}

// Stats returns the counters of the bus.
func (b *Bus) Stats() BusStats {
	return b.stats
}

// Counters exposes the bus counters in a format-free way.
func (b *Bus) Counters() map[string]uint64 {
	return map[string]uint64{
		"transactions":        b.stats.TransactionCount,
		"bytes_read_by_peers": b.stats.BytesReadByPeers,
	}
}

// AdaptThresholds returns the global per-block threshold table, creating it
// on first use.
func (b *Bus) AdaptThresholds(initial, max int) *ThresholdTable {
	if b.adaptThresholds == nil {
		b.adaptThresholds = NewThresholdTable(initial, max)
	}
	return b.adaptThresholds
}

// Request asks for bus access on behalf of a cache. Requests are granted
// FIFO, one tick after the bus becomes idle.
func (b *Bus) Request(now sim.VTimeInSec, cacheID int) {
	b.requestQueue = append(b.requestQueue, cacheID)

	if b.CurrentGranted == -1 && !b.grantScheduled {
		b.scheduleGrant(now)
	}
}

// Release returns the bus. The protocol invariants are checked at the end
// of every transaction.
func (b *Bus) Release(now sim.VTimeInSec, cacheID int) {
	if cacheID != b.CurrentGranted {
		log.Panicf("cache %d releasing a bus granted to %d",
			cacheID, b.CurrentGranted)
	}

	b.CurrentGranted = -1
	b.checkInvariants()

	if !b.grantScheduled {
		b.scheduleGrant(now)
	}
}

func (b *Bus) scheduleGrant(now sim.VTimeInSec) {
	evt := busGrantEvent{sim.NewEventBase(b.Freq.NextTick(now), b)}
	b.Engine.Schedule(evt)
	b.grantScheduled = true
}

// SendMemReq queues one bus operation for dispatch one tick later, so that
// snoops never re-enter the call stack of the originator.
func (b *Bus) SendMemReq(now sim.VTimeInSec, trans *Transaction) {
	if b.CurrentGranted == -1 {
		log.Panic("sending a bus operation without a grant")
	}

	trans.Originator = b.CurrentGranted
	b.memReqQueue = append(b.memReqQueue, trans)

	evt := busDispatchEvent{sim.NewEventBase(b.Freq.NextTick(now), b)}
	b.Engine.Schedule(evt)
}

// SendWriteback writes a dirty block to memory. Writebacks do not grab the
// bus and are never snooped.
func (b *Bus) SendWriteback(addr uint64, data []byte) {
	if b.funcStorage == nil {
		log.Panic("no functional storage for writebacks")
	}

	err := b.funcStorage.Write(addr, data)
	if err != nil {
		log.Panic(err)
	}
}

// ReadFunctional inspects memory without going through the timing model.
func (b *Bus) ReadFunctional(addr, length uint64) []byte {
	data, err := b.funcStorage.Read(addr, length)
	if err != nil {
		log.Panic(err)
	}
	return data
}

// WriteFunctional updates memory without going through the timing model.
func (b *Bus) WriteFunctional(addr uint64, data []byte) {
	err := b.funcStorage.Write(addr, data)
	if err != nil {
		log.Panic(err)
	}
}

func (b *Bus) addPeerReadBytes(n int) {
	b.stats.BytesReadByPeers += uint64(n)
}

// Handle processes the events scheduled on the bus.
func (b *Bus) Handle(e sim.Event) error {
	switch e := e.(type) {
	case busGrantEvent:
		b.processGrant(e.Time())
	case busDispatchEvent:
		b.processDispatch(e.Time())
	case sim.TickEvent:
		return b.TickingComponent.Handle(e)
	default:
		log.Panicf("bus cannot handle event %T", e)
	}

	return nil
}

func (b *Bus) processGrant(now sim.VTimeInSec) {
	b.grantScheduled = false

	if b.CurrentGranted != -1 {
		return
	}

	if len(b.requestQueue) == 0 {
		return
	}

	cacheID := b.requestQueue[0]
	b.requestQueue = b.requestQueue[1:]
	b.CurrentGranted = cacheID

	b.caches[cacheID].handleBusGrant(now)
}

func (b *Bus) processDispatch(now sim.VTimeInSec) {
	for len(b.memReqQueue) > 0 {
		trans := b.memReqQueue[0]
		b.memReqQueue = b.memReqQueue[1:]

		if !trans.bypass {
			b.snoop(now, trans)
		}

		if trans.DeliverToMemory {
			b.forwardToMemory(now, trans)
		} else {
			b.respondWithoutMemory(now, trans)
		}
	}
}

// HookPosBusTransaction marks when the bus dispatches a coherent
// transaction to the snoopers.
var HookPosBusTransaction = &sim.HookPos{Name: "Bus Transaction"}

// snoop invokes the snoop handler of every peer, skipping the originator.
// A cache snooping its own request would invalidate its own line.
func (b *Bus) snoop(now sim.VTimeInSec, trans *Transaction) {
	b.SharedWire = false
	b.RemoteAccessWire = false
	b.stats.TransactionCount++

	b.InvokeHook(sim.HookCtx{
		Domain: b,
		Pos:    HookPosBusTransaction,
		Item:   trans,
	})

	for _, cacheID := range b.cacheIDs {
		if cacheID == trans.Originator {
			continue
		}

		b.caches[cacheID].handleSnoop(now, trans)
	}
}

func (b *Bus) forwardToMemory(now sim.VTimeInSec, trans *Transaction) {
	var reqToBottom mem.AccessReq

	switch req := trans.Req.(type) {
	case *mem.ReadReq:
		if trans.bypass {
			reqToBottom = mem.ReadReqBuilder{}.
				WithSendTime(now).
				WithSrc(b.memPort).
				WithDst(b.lowModule).
				WithAddress(req.Address).
				WithByteSize(req.AccessByteSize).
				Build()
		} else {
			reqToBottom = b.alignedFetch(now, req.Address)
		}
	case *mem.WriteReq:
		if trans.bypass {
			reqToBottom = mem.WriteReqBuilder{}.
				WithSendTime(now).
				WithSrc(b.memPort).
				WithDst(b.lowModule).
				WithAddress(req.Address).
				WithData(req.Data).
				Build()
		} else {
			// A coherent write that needs memory is a read-for-fill. The
			// write data is merged by the originator on response.
			reqToBottom = b.alignedFetch(now, req.Address)
		}
	default:
		log.Panicf("bus cannot forward request %T", trans.Req)
	}

	b.inflight[reqToBottom.Meta().ID] = trans
	b.outQueue = append(b.outQueue, reqToBottom)
	b.TickLater(now)
}

func (b *Bus) alignedFetch(now sim.VTimeInSec, addr uint64) *mem.ReadReq {
	blockAddr := addr / uint64(b.blockSize) * uint64(b.blockSize)

	return mem.ReadReqBuilder{}.
		WithSendTime(now).
		WithSrc(b.memPort).
		WithDst(b.lowModule).
		WithAddress(blockAddr).
		WithByteSize(uint64(b.blockSize)).
		Build()
}

// respondWithoutMemory synthesizes a write response for operations that do
// not touch memory, such as updates and invalidations of a block the
// originator already holds.
func (b *Bus) respondWithoutMemory(now sim.VTimeInSec, trans *Transaction) {
	if _, isRead := trans.Req.(*mem.ReadReq); isRead {
		log.Panic("a read cannot complete without memory")
	}

	rsp := mem.WriteDoneRspBuilder{}.
		WithSendTime(now).
		WithRspTo(trans.Req.Meta().ID).
		Build()

	b.caches[trans.Originator].handleMemResp(now, rsp)
}

// Tick drains the memory-side port.
func (b *Bus) Tick(now sim.VTimeInSec) bool {
	madeProgress := false

	madeProgress = b.sendToMemory(now) || madeProgress
	madeProgress = b.processMemRsp(now) || madeProgress

	return madeProgress
}

func (b *Bus) sendToMemory(now sim.VTimeInSec) bool {
	madeProgress := false

	for len(b.outQueue) > 0 {
		msg := b.outQueue[0]
		msg.Meta().SendTime = now

		err := b.memPort.Send(msg)
		if err != nil {
			break
		}

		b.outQueue = b.outQueue[1:]
		madeProgress = true
	}

	return madeProgress
}

func (b *Bus) processMemRsp(now sim.VTimeInSec) bool {
	msg := b.memPort.Retrieve(now)
	if msg == nil {
		return false
	}

	rsp, ok := msg.(sim.Rsp)
	if !ok {
		log.Panicf("bus received non-response message %T", msg)
	}

	trans, found := b.inflight[rsp.GetRspTo()]
	if !found {
		log.Panicf("response %s does not match any bus transaction",
			rsp.GetRspTo())
	}
	delete(b.inflight, rsp.GetRspTo())

	b.caches[trans.Originator].handleMemResp(now, msg)

	return true
}

// checkInvariants validates the protocol-wide properties after every
// transaction. A violation is a simulator bug and aborts the run.
func (b *Bus) checkInvariants() {
	type blockStates struct {
		numModified  int
		numExclusive int
		numSharedMod int
	}

	perBlock := make(map[uint64]*blockStates)

	for _, cacheID := range b.cacheIDs {
		cache := b.caches[cacheID]
		cache.store.forEachLine(func(addr uint64, ln *line) {
			if ln.dirty &&
				ln.state != StateModified && ln.state != StateSharedMod {
				log.Panicf(
					"cache %d holds dirty block 0x%x in state %s",
					cacheID, addr, ln.state)
			}

			bs := perBlock[addr]
			if bs == nil {
				bs = &blockStates{}
				perBlock[addr] = bs
			}

			switch ln.state {
			case StateModified:
				bs.numModified++
			case StateExclusive:
				bs.numExclusive++
			case StateSharedMod:
				bs.numSharedMod++
			}
		})
	}

	for addr, bs := range perBlock {
		if bs.numModified+bs.numExclusive > 1 {
			log.Panicf(
				"block 0x%x is owned exclusively by multiple caches", addr)
		}

		if bs.numSharedMod > 0 && (bs.numModified > 0 || bs.numExclusive > 0) {
			log.Panicf(
				"block 0x%x has both a shared-modified and an exclusive owner",
				addr)
		}
	}
}
