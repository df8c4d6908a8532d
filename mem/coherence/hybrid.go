package coherence

import (
	"log"

	"github.com/sarchlab/snoopsim/mem"
	"github.com/sarchlab/snoopsim/sim"
)

// hybridController is Dragon with an escape hatch. Each line carries a
// budget of consecutive updates. While the budget lasts, writes on shared
// lines broadcast BusUpd; once it reaches zero the next write issues BusRdX
// and migrates the line to Modified, after which writes are silent.
type hybridController struct {
	controllerBase

	invalidateThreshold int
}

func newHybridController(c *Cache, invalidateThreshold int) *hybridController {
	if invalidateThreshold < 0 {
		log.Panic("invalidate threshold must not be negative")
	}

	return &hybridController{
		controllerBase:      controllerBase{cache: c},
		invalidateThreshold: invalidateThreshold,
	}
}

func (h *hybridController) HandleCPUReq(
	now sim.VTimeInSec,
	req mem.AccessReq,
) {
	ln := h.store().lookup(req.GetAddress())

	if ln == nil {
		switch req.(type) {
		case *mem.ReadReq:
			h.cache.stats.ReadMiss++
		case *mem.WriteReq:
			h.cache.stats.WriteMiss++
		}

		h.requestBus(now, req)
		return
	}

	h.cache.stats.Hits++
	ln.refBit = true

	switch req := req.(type) {
	case *mem.ReadReq:
		// Remembered so that snoops can report whether updates were
		// actually consumed.
		ln.accessedSinceUpd = true
		h.respond(req, ln)
	case *mem.WriteReq:
		h.handleWriteHit(now, req, ln)
	}
}

func (h *hybridController) handleWriteHit(
	now sim.VTimeInSec,
	req *mem.WriteReq,
	ln *line,
) {
	switch ln.state {
	case StateExclusive:
		ln.state = StateModified
		ln.dirty = true
		h.applyWrite(ln, req)
		h.respond(req, ln)
	case StateModified:
		h.applyWrite(ln, req)
		h.respond(req, ln)
	case StateSharedClean, StateSharedMod:
		h.requestBus(now, req)
	default:
		log.Panicf("write hit in state %s", ln.state)
	}
}

func (h *hybridController) HandleBusGrant(now sim.VTimeInSec) {
	req := h.cache.requestPkt
	ln := h.store().lookup(req.GetAddress())

	if ln != nil {
		// Shared-line write: update while the budget lasts, invalidate
		// once it is spent.
		op := BusUpd
		if ln.invalidateCounter <= 0 {
			op = BusRdX
		}

		h.bus().SendMemReq(now, &Transaction{
			Op:              op,
			Req:             req,
			DeliverToMemory: false,
		})
		return
	}

	switch req.(type) {
	case *mem.ReadReq:
		h.bus().SendMemReq(now, &Transaction{
			Op:              BusRd,
			Req:             req,
			DeliverToMemory: true,
		})
	case *mem.WriteReq:
		op := BusRdUpd
		if h.invalidateThreshold <= 0 {
			op = BusRdX
		}

		h.bus().SendMemReq(now, &Transaction{
			Op:              op,
			Req:             req,
			DeliverToMemory: !h.isFullBlockWrite(req),
		})
	}
}

func (h *hybridController) HandleMemResp(now sim.VTimeInSec, rsp sim.Msg) {
	req := h.cache.requestPkt
	addr := req.GetAddress()

	if ln := h.store().lookup(addr); ln != nil {
		h.completeSharedWrite(now, req.(*mem.WriteReq), ln)
		return
	}

	ln, ev := h.lineForInstall(addr, h.invalidateThreshold)
	h.writebackEvicted(ev)

	switch req := req.(type) {
	case *mem.ReadReq:
		if h.bus().SharedWire {
			ln.state = StateSharedClean
		} else {
			ln.state = StateExclusive
		}
		h.installFetch(ln, rsp.(*mem.DataReadyRsp).Data)
	case *mem.WriteReq:
		if h.bus().SharedWire {
			ln.state = StateSharedMod
			// The BusRdUpd already spent one update.
			ln.invalidateCounter--
		} else {
			ln.state = StateModified
		}
		ln.dirty = true
		if fetch, ok := rsp.(*mem.DataReadyRsp); ok {
			h.installFetch(ln, fetch.Data)
		}
		h.applyWrite(ln, req)
	}

	h.completeWithBus(now, req, ln)
}

// completeSharedWrite finishes a write on a line that was Sc or Sm when the
// bus operation was issued. The snoop result decides where the line lands
// and how the update budget moves.
func (h *hybridController) completeSharedWrite(
	now sim.VTimeInSec,
	req *mem.WriteReq,
	ln *line,
) {
	shared := h.bus().SharedWire

	if ln.state == StateSharedClean {
		if shared {
			ln.invalidateCounter--
		}
	} else {
		if shared {
			if h.bus().RemoteAccessWire {
				// A reader consumed the previous update; the budget
				// refills.
				ln.invalidateCounter = h.invalidateThreshold
			}
			ln.invalidateCounter--
		} else {
			ln.invalidateCounter = h.invalidateThreshold
		}
	}

	if shared {
		ln.state = StateSharedMod
	} else {
		ln.state = StateModified
	}
	ln.dirty = true
	ln.refBit = true
	h.applyWrite(ln, req)

	h.completeWithBus(now, req, ln)
}

func (h *hybridController) HandleSnoop(
	now sim.VTimeInSec,
	trans *Transaction,
) {
	addr := trans.Req.GetAddress()
	ln := h.store().lookup(addr)
	if ln == nil {
		return
	}

	// BusRdX keeps the shared wire low so the writer learns it is now
	// exclusive.
	if trans.Op != BusRdX {
		h.bus().SharedWire = true
	}
	if ln.accessedSinceUpd {
		h.bus().RemoteAccessWire = true
	}

	switch ln.state {
	case StateModified:
		h.flushForSnoop(addr, ln)
		if trans.Op == BusRdX {
			ln.state = StateInvalid
			return
		}
		ln.state = StateSharedMod
		if trans.Op.HasUpdate() {
			h.applyPeerWrite(ln, trans)
			ln.state = StateSharedClean
			ln.accessedSinceUpd = false
			ln.invalidateCounter = h.invalidateThreshold
		}
	case StateSharedMod:
		if trans.Op == BusRdX {
			if ln.dirty {
				h.flushForSnoop(addr, ln)
			}
			ln.state = StateInvalid
			return
		}
		if trans.Op.HasRead() && ln.dirty {
			h.flushForSnoop(addr, ln)
		}
		if trans.Op.HasUpdate() {
			h.applyPeerWrite(ln, trans)
			ln.state = StateSharedClean
			ln.dirty = false
			ln.accessedSinceUpd = false
		}
		// Any snoop interrupts the writer's run and restores the budget.
		ln.invalidateCounter = h.invalidateThreshold
	case StateExclusive:
		if trans.Op == BusRdX {
			ln.state = StateInvalid
			return
		}
		ln.state = StateSharedClean
		if trans.Op.HasUpdate() {
			h.applyPeerWrite(ln, trans)
			ln.accessedSinceUpd = false
		}
	case StateSharedClean:
		if trans.Op == BusRdX {
			ln.state = StateInvalid
			return
		}
		if trans.Op.HasUpdate() {
			h.applyPeerWrite(ln, trans)
			ln.accessedSinceUpd = false
		}
	}
}

func (h *hybridController) applyPeerWrite(ln *line, trans *Transaction) {
	write, ok := trans.Req.(*mem.WriteReq)
	if !ok {
		log.Panicf("%s transaction without write data", trans.Op)
	}

	h.applyWrite(ln, write)
}
