package coherence

import (
	"log"

	"github.com/sarchlab/snoopsim/mem"
	"github.com/sarchlab/snoopsim/sim"
)

// adaptController extends the hybrid protocol by learning the invalidate
// threshold per block. The length of each write run decides whether
// updates were useful: short runs bias the block toward updates, long
// soliloquies bias it toward invalidation. The thresholds live in a global
// table on the bus, keyed by block number within the shared window.
type adaptController struct {
	controllerBase

	invalidationRatio int
	thresholds        *ThresholdTable
}

func newAdaptController(
	c *Cache,
	invalidateThreshold, invalidationRatio, maxThreshold int,
) *adaptController {
	if invalidateThreshold < 0 {
		log.Panic("invalidate threshold must not be negative")
	}
	if invalidationRatio <= 0 {
		log.Panic("invalidation ratio must be positive")
	}

	return &adaptController{
		controllerBase:    controllerBase{cache: c},
		invalidationRatio: invalidationRatio,
		thresholds:        c.bus.AdaptThresholds(invalidateThreshold, maxThreshold),
	}
}

func (a *adaptController) blockNumber(addr uint64) uint64 {
	offsetBits := a.store().blockOffsetBits
	return (addr >> offsetBits) - (a.cache.cacheableLow >> offsetBits)
}

func (a *adaptController) threshold(addr uint64) int {
	return a.thresholds.Threshold(a.blockNumber(addr))
}

// endWriteRun closes a write run and tunes the block's threshold. A short
// run means readers interrupted quickly, so updates were useful.
func (a *adaptController) endWriteRun(addr uint64, ln *line) {
	if ln.writeRunCounter == 0 {
		return
	}

	a.adjustThreshold(addr, ln.writeRunCounter)
	ln.writeRunCounter = 0
}

func (a *adaptController) adjustThreshold(addr uint64, runLength int) {
	if runLength < a.invalidationRatio {
		a.thresholds.Raise(a.blockNumber(addr))
	} else {
		a.thresholds.Lower(a.blockNumber(addr))
	}
}

func (a *adaptController) HandleCPUReq(
	now sim.VTimeInSec,
	req mem.AccessReq,
) {
	ln := a.store().lookup(req.GetAddress())

	if ln == nil {
		switch req.(type) {
		case *mem.ReadReq:
			a.cache.stats.ReadMiss++
		case *mem.WriteReq:
			a.cache.stats.WriteMiss++
		}

		a.requestBus(now, req)
		return
	}

	a.cache.stats.Hits++
	ln.refBit = true

	switch req := req.(type) {
	case *mem.ReadReq:
		ln.accessedSinceUpd = true
		a.respond(req, ln)
	case *mem.WriteReq:
		a.handleWriteHit(now, req, ln)
	}
}

func (a *adaptController) handleWriteHit(
	now sim.VTimeInSec,
	req *mem.WriteReq,
	ln *line,
) {
	switch ln.state {
	case StateExclusive:
		ln.state = StateModified
		ln.dirty = true
		ln.writeRunCounter++
		a.applyWrite(ln, req)
		a.respond(req, ln)
	case StateModified:
		ln.writeRunCounter++
		a.applyWrite(ln, req)
		a.respond(req, ln)
	case StateSharedClean, StateSharedMod:
		a.requestBus(now, req)
	default:
		log.Panicf("write hit in state %s", ln.state)
	}
}

func (a *adaptController) HandleBusGrant(now sim.VTimeInSec) {
	req := a.cache.requestPkt
	addr := req.GetAddress()
	ln := a.store().lookup(addr)

	if ln != nil {
		op := BusUpd
		if ln.invalidateCounter <= 0 {
			op = BusRdX
		}

		a.bus().SendMemReq(now, &Transaction{
			Op:              op,
			Req:             req,
			DeliverToMemory: false,
		})
		return
	}

	switch req.(type) {
	case *mem.ReadReq:
		a.bus().SendMemReq(now, &Transaction{
			Op:              BusRd,
			Req:             req,
			DeliverToMemory: true,
		})
	case *mem.WriteReq:
		op := BusRdUpd
		if a.threshold(addr) <= 0 {
			op = BusRdX
		}

		a.bus().SendMemReq(now, &Transaction{
			Op:              op,
			Req:             req,
			DeliverToMemory: !a.isFullBlockWrite(req),
		})
	}
}

func (a *adaptController) HandleMemResp(now sim.VTimeInSec, rsp sim.Msg) {
	req := a.cache.requestPkt
	addr := req.GetAddress()

	if ln := a.store().lookup(addr); ln != nil {
		a.completeSharedWrite(now, req.(*mem.WriteReq), ln)
		return
	}

	ln, ev := a.lineForInstall(addr, a.threshold(addr))
	if ev != nil {
		a.writebackEvicted(ev)
		if ev.writeRun > 0 {
			a.adjustThreshold(ev.addr, ev.writeRun)
		}
	}

	switch req := req.(type) {
	case *mem.ReadReq:
		if a.bus().SharedWire {
			ln.state = StateSharedClean
		} else {
			ln.state = StateExclusive
		}
		a.installFetch(ln, rsp.(*mem.DataReadyRsp).Data)
	case *mem.WriteReq:
		if a.bus().SharedWire {
			ln.state = StateSharedMod
			ln.invalidateCounter--
		} else {
			ln.state = StateModified
		}
		ln.dirty = true
		ln.writeRunCounter = 1
		if fetch, ok := rsp.(*mem.DataReadyRsp); ok {
			a.installFetch(ln, fetch.Data)
		}
		a.applyWrite(ln, req)
	}

	a.completeWithBus(now, req, ln)
}

func (a *adaptController) completeSharedWrite(
	now sim.VTimeInSec,
	req *mem.WriteReq,
	ln *line,
) {
	addr := req.GetAddress()
	shared := a.bus().SharedWire

	if ln.state == StateSharedClean {
		// The first write of a new run.
		ln.writeRunCounter = 1
		if shared {
			ln.invalidateCounter--
		}
	} else {
		if shared {
			if a.bus().RemoteAccessWire {
				// A reader consumed the updates; the run ends here and a
				// new one starts.
				a.endWriteRun(addr, ln)
				ln.invalidateCounter = a.threshold(addr)
			}
			ln.invalidateCounter--
			ln.writeRunCounter++
		} else {
			ln.invalidateCounter = a.threshold(addr)
			ln.writeRunCounter++
		}
	}

	if shared {
		ln.state = StateSharedMod
	} else {
		ln.state = StateModified
	}
	ln.dirty = true
	ln.refBit = true
	a.applyWrite(ln, req)

	a.completeWithBus(now, req, ln)
}

func (a *adaptController) HandleSnoop(
	now sim.VTimeInSec,
	trans *Transaction,
) {
	addr := trans.Req.GetAddress()
	ln := a.store().lookup(addr)
	if ln == nil {
		return
	}

	if trans.Op != BusRdX {
		a.bus().SharedWire = true
	}
	if ln.accessedSinceUpd {
		a.bus().RemoteAccessWire = true
	}

	switch ln.state {
	case StateModified:
		a.flushForSnoop(addr, ln)
		a.endWriteRun(addr, ln)
		if trans.Op == BusRdX {
			ln.state = StateInvalid
			return
		}
		ln.state = StateSharedMod
		if trans.Op.HasUpdate() {
			a.applyPeerWrite(ln, trans)
			ln.state = StateSharedClean
			ln.accessedSinceUpd = false
		}
		ln.invalidateCounter = a.threshold(addr)
	case StateSharedMod:
		if trans.Op == BusRdX {
			if ln.dirty {
				a.flushForSnoop(addr, ln)
			}
			ln.state = StateInvalid
		} else {
			if trans.Op.HasRead() && ln.dirty {
				a.flushForSnoop(addr, ln)
			}
			if trans.Op.HasUpdate() {
				a.applyPeerWrite(ln, trans)
				ln.state = StateSharedClean
				ln.dirty = false
				ln.accessedSinceUpd = false
			}
		}

		a.endWriteRun(addr, ln)
		ln.invalidateCounter = a.threshold(addr)
	case StateExclusive:
		if trans.Op == BusRdX {
			ln.state = StateInvalid
			return
		}
		ln.state = StateSharedClean
		if trans.Op.HasUpdate() {
			a.applyPeerWrite(ln, trans)
			ln.accessedSinceUpd = false
		}
	case StateSharedClean:
		if trans.Op == BusRdX {
			ln.state = StateInvalid
			return
		}
		if trans.Op.HasUpdate() {
			a.applyPeerWrite(ln, trans)
			ln.accessedSinceUpd = false
		}
	}
}

func (a *adaptController) applyPeerWrite(ln *line, trans *Transaction) {
	write, ok := trans.Req.(*mem.WriteReq)
	if !ok {
		log.Panicf("%s transaction without write data", trans.Op)
	}

	a.applyWrite(ln, write)
}
