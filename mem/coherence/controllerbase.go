package coherence

import (
	"log"

	"github.com/sarchlab/snoopsim/mem"
	"github.com/sarchlab/snoopsim/sim"
)

// controllerBase carries the plumbing shared by all the protocol
// controllers. Controllers compose over the cache and its store; they do
// not form an inheritance hierarchy.
type controllerBase struct {
	cache *Cache
}

func (b *controllerBase) store() *store {
	return b.cache.store
}

func (b *controllerBase) bus() *Bus {
	return b.cache.bus
}

func (b *controllerBase) blockSize() int {
	return b.cache.store.blockSize
}

// applyWrite merges the written bytes of a request into the block data.
func (b *controllerBase) applyWrite(ln *line, req *mem.WriteReq) {
	offset := req.Address - b.store().blockAddrOf(req.Address)
	if int(offset)+len(req.Data) > b.blockSize() {
		log.Panic("write crosses the block boundary")
	}

	copy(ln.data[offset:], req.Data)
}

// respond queues the CPU response for a request served by the given line.
func (b *controllerBase) respond(req mem.AccessReq, ln *line) {
	switch req := req.(type) {
	case *mem.ReadReq:
		offset := req.Address - b.store().blockAddrOf(req.Address)
		data := make([]byte, req.AccessByteSize)
		copy(data, ln.data[offset:offset+req.AccessByteSize])
		b.cache.respondRead(req, data)
	case *mem.WriteReq:
		b.cache.respondWrite(req)
	default:
		log.Panicf("cannot respond to request %T", req)
	}
}

// requestBus stores the pending request and asks for bus access.
func (b *controllerBase) requestBus(now sim.VTimeInSec, req mem.AccessReq) {
	b.cache.blocked = true
	b.cache.requestPkt = req
	b.bus().Request(now, b.cache.id)
}

// completeWithBus finishes a bus-assisted request: responds, releases the
// bus, and unblocks the front-end.
func (b *controllerBase) completeWithBus(
	now sim.VTimeInSec,
	req mem.AccessReq,
	ln *line,
) {
	b.respond(req, ln)
	b.cache.requestPkt = nil
	b.cache.blocked = false
	b.bus().Release(now, b.cache.id)
	b.cache.TickLater(now)
}

// flushForSnoop writes a dirty block back to memory because a peer asked
// for it. The flushed bytes count as read by peers.
func (b *controllerBase) flushForSnoop(addr uint64, ln *line) {
	data := make([]byte, b.blockSize())
	copy(data, ln.data)
	b.bus().SendWriteback(b.store().blockAddrOf(addr), data)
	b.bus().addPeerReadBytes(b.blockSize())
	ln.dirty = false
}

// writebackEvicted flushes a dirty victim that left the cache.
func (b *controllerBase) writebackEvicted(ev *eviction) {
	if ev == nil || !ev.dirty {
		return
	}

	b.bus().SendWriteback(ev.addr, ev.data)
}

// isFullBlockWrite reports whether the write overwrites the whole block, in
// which case the fill from memory can be skipped.
func (b *controllerBase) isFullBlockWrite(req mem.AccessReq) bool {
	write, ok := req.(*mem.WriteReq)
	if !ok {
		return false
	}

	return write.Address == b.store().blockAddrOf(write.Address) &&
		len(write.Data) == b.blockSize()
}

// installFetch copies a memory fill into the line.
func (b *controllerBase) installFetch(ln *line, data []byte) {
	if len(data) != b.blockSize() {
		log.Panic("memory fill is not one block")
	}

	copy(ln.data, data)
}

// lineForInstall finds the ghost line of the block, or evicts and
// allocates a fresh slot.
func (b *controllerBase) lineForInstall(
	addr uint64,
	invalidateThreshold int,
) (*line, *eviction) {
	if ln, present := b.store().find(addr); present {
		if ln.state != StateInvalid {
			log.Panic("installing over a live line")
		}
		ln.refBit = true
		return ln, nil
	}

	ev := b.store().evict(addr)
	ln := b.store().allocate(addr, invalidateThreshold)

	return ln, ev
}
