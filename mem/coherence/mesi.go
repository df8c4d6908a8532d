package coherence

import (
	"log"

	"github.com/sarchlab/snoopsim/mem"
	"github.com/sarchlab/snoopsim/sim"
)

// mesiController is the baseline write-invalidate controller. Writes to
// shared lines invalidate all peer copies with BusRdX; subsequent writes
// are then silent.
type mesiController struct {
	controllerBase
}

func newMESIController(c *Cache) *mesiController {
	return &mesiController{controllerBase{cache: c}}
}

func (m *mesiController) HandleCPUReq(
	now sim.VTimeInSec,
	req mem.AccessReq,
) {
	ln := m.store().lookup(req.GetAddress())

	if ln == nil {
		switch req.(type) {
		case *mem.ReadReq:
			m.cache.stats.ReadMiss++
		case *mem.WriteReq:
			m.cache.stats.WriteMiss++
		}

		m.requestBus(now, req)
		return
	}

	m.cache.stats.Hits++
	ln.refBit = true

	switch req := req.(type) {
	case *mem.ReadReq:
		m.respond(req, ln)
	case *mem.WriteReq:
		m.handleWriteHit(now, req, ln)
	}
}

func (m *mesiController) handleWriteHit(
	now sim.VTimeInSec,
	req *mem.WriteReq,
	ln *line,
) {
	switch ln.state {
	case StateExclusive:
		ln.state = StateModified
		ln.dirty = true
		m.applyWrite(ln, req)
		m.respond(req, ln)
	case StateModified:
		m.applyWrite(ln, req)
		m.respond(req, ln)
	case StateSharedClean, StateSharedMod:
		// Peers must be invalidated before the write completes.
		m.requestBus(now, req)
	default:
		log.Panicf("write hit in state %s", ln.state)
	}
}

func (m *mesiController) HandleBusGrant(now sim.VTimeInSec) {
	req := m.cache.requestPkt
	ln := m.store().lookup(req.GetAddress())

	if ln != nil {
		// Write upgrade: invalidate peers, no memory involvement.
		m.bus().SendMemReq(now, &Transaction{
			Op:              BusRdX,
			Req:             req,
			DeliverToMemory: false,
		})
		return
	}

	switch req.(type) {
	case *mem.ReadReq:
		m.bus().SendMemReq(now, &Transaction{
			Op:              BusRd,
			Req:             req,
			DeliverToMemory: true,
		})
	case *mem.WriteReq:
		m.bus().SendMemReq(now, &Transaction{
			Op:              BusRdX,
			Req:             req,
			DeliverToMemory: !m.isFullBlockWrite(req),
		})
	}
}

func (m *mesiController) HandleMemResp(now sim.VTimeInSec, rsp sim.Msg) {
	req := m.cache.requestPkt
	addr := req.GetAddress()

	if ln := m.store().lookup(addr); ln != nil {
		// The upgrade finished; all peers are now Invalid.
		write := req.(*mem.WriteReq)
		ln.state = StateModified
		ln.dirty = true
		ln.refBit = true
		m.applyWrite(ln, write)
		m.completeWithBus(now, req, ln)
		return
	}

	ln, ev := m.lineForInstall(addr, 0)
	m.writebackEvicted(ev)

	switch req := req.(type) {
	case *mem.ReadReq:
		if m.bus().SharedWire {
			ln.state = StateSharedClean
		} else {
			ln.state = StateExclusive
		}
		m.installFetch(ln, rsp.(*mem.DataReadyRsp).Data)
	case *mem.WriteReq:
		ln.state = StateModified
		ln.dirty = true
		if fetch, ok := rsp.(*mem.DataReadyRsp); ok {
			m.installFetch(ln, fetch.Data)
		}
		m.applyWrite(ln, req)
	}

	m.completeWithBus(now, req, ln)
}

func (m *mesiController) HandleSnoop(
	now sim.VTimeInSec,
	trans *Transaction,
) {
	addr := trans.Req.GetAddress()
	ln := m.store().lookup(addr)
	if ln == nil {
		return
	}

	switch trans.Op {
	case BusRd:
		m.bus().SharedWire = true
		switch ln.state {
		case StateModified, StateSharedMod:
			m.flushForSnoop(addr, ln)
			ln.state = StateSharedClean
		case StateExclusive:
			ln.state = StateSharedClean
		case StateSharedClean:
		}
	case BusRdX:
		// The shared wire stays low so the writer learns it is now
		// exclusive.
		switch ln.state {
		case StateModified, StateSharedMod:
			m.flushForSnoop(addr, ln)
		case StateExclusive, StateSharedClean:
		}
		ln.state = StateInvalid
	default:
		log.Panicf("mesi cache snooped unexpected operation %s", trans.Op)
	}
}
