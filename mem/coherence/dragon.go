package coherence

import (
	"log"

	"github.com/sarchlab/snoopsim/mem"
	"github.com/sarchlab/snoopsim/sim"
)

// dragonController is the write-update controller. Writes on shared lines
// broadcast the new data with BusUpd instead of invalidating the sharers.
// Lines leave the cache only through capacity eviction.
type dragonController struct {
	controllerBase
}

func newDragonController(c *Cache) *dragonController {
	return &dragonController{controllerBase{cache: c}}
}

func (d *dragonController) HandleCPUReq(
	now sim.VTimeInSec,
	req mem.AccessReq,
) {
	ln := d.store().lookup(req.GetAddress())

	if ln == nil {
		switch req.(type) {
		case *mem.ReadReq:
			d.cache.stats.ReadMiss++
		case *mem.WriteReq:
			d.cache.stats.WriteMiss++
		}

		d.requestBus(now, req)
		return
	}

	d.cache.stats.Hits++
	ln.refBit = true

	switch req := req.(type) {
	case *mem.ReadReq:
		// A read hit never needs the bus; sharers already have the latest
		// data through updates.
		d.respond(req, ln)
	case *mem.WriteReq:
		d.handleWriteHit(now, req, ln)
	}
}

func (d *dragonController) handleWriteHit(
	now sim.VTimeInSec,
	req *mem.WriteReq,
	ln *line,
) {
	switch ln.state {
	case StateExclusive:
		ln.state = StateModified
		ln.dirty = true
		d.applyWrite(ln, req)
		d.respond(req, ln)
	case StateModified:
		d.applyWrite(ln, req)
		d.respond(req, ln)
	case StateSharedClean, StateSharedMod:
		// The write may need to update other sharers.
		d.requestBus(now, req)
	default:
		log.Panicf("write hit in state %s", ln.state)
	}
}

func (d *dragonController) HandleBusGrant(now sim.VTimeInSec) {
	req := d.cache.requestPkt
	ln := d.store().lookup(req.GetAddress())

	if ln != nil {
		if ln.state != StateSharedClean && ln.state != StateSharedMod {
			log.Panicf("bus-assisted write hit in state %s", ln.state)
		}

		d.bus().SendMemReq(now, &Transaction{
			Op:              BusUpd,
			Req:             req,
			DeliverToMemory: false,
		})
		return
	}

	switch req.(type) {
	case *mem.ReadReq:
		d.bus().SendMemReq(now, &Transaction{
			Op:              BusRd,
			Req:             req,
			DeliverToMemory: true,
		})
	case *mem.WriteReq:
		d.bus().SendMemReq(now, &Transaction{
			Op:              BusRdUpd,
			Req:             req,
			DeliverToMemory: !d.isFullBlockWrite(req),
		})
	}
}

func (d *dragonController) HandleMemResp(now sim.VTimeInSec, rsp sim.Msg) {
	req := d.cache.requestPkt
	addr := req.GetAddress()

	if ln := d.store().lookup(addr); ln != nil {
		// A write to a shared line finished its BusUpd. The snoop result
		// decides whether anyone still shares the block.
		write := req.(*mem.WriteReq)
		if d.bus().SharedWire {
			ln.state = StateSharedMod
		} else {
			ln.state = StateModified
		}
		ln.dirty = true
		ln.refBit = true
		d.applyWrite(ln, write)
		d.completeWithBus(now, req, ln)
		return
	}

	ln, ev := d.lineForInstall(addr, 0)
	d.writebackEvicted(ev)

	switch req := req.(type) {
	case *mem.ReadReq:
		if d.bus().SharedWire {
			ln.state = StateSharedClean
		} else {
			ln.state = StateExclusive
		}
		d.installFetch(ln, rsp.(*mem.DataReadyRsp).Data)
	case *mem.WriteReq:
		if d.bus().SharedWire {
			ln.state = StateSharedMod
		} else {
			ln.state = StateModified
		}
		ln.dirty = true
		if fetch, ok := rsp.(*mem.DataReadyRsp); ok {
			d.installFetch(ln, fetch.Data)
		}
		d.applyWrite(ln, req)
	}

	d.completeWithBus(now, req, ln)
}

func (d *dragonController) HandleSnoop(
	now sim.VTimeInSec,
	trans *Transaction,
) {
	addr := trans.Req.GetAddress()
	ln := d.store().lookup(addr)
	if ln == nil {
		return
	}

	d.bus().SharedWire = true

	switch ln.state {
	case StateModified:
		d.flushForSnoop(addr, ln)
		ln.state = StateSharedMod
		if trans.Op.HasUpdate() {
			// The writer has published new data; this cache becomes a
			// reader.
			d.applyPeerWrite(ln, trans)
			ln.state = StateSharedClean
		}
	case StateSharedMod:
		if trans.Op.HasRead() && ln.dirty {
			d.flushForSnoop(addr, ln)
		}
		if trans.Op.HasUpdate() {
			d.applyPeerWrite(ln, trans)
			ln.state = StateSharedClean
			ln.dirty = false
		}
	case StateExclusive:
		ln.state = StateSharedClean
		if trans.Op.HasUpdate() {
			d.applyPeerWrite(ln, trans)
		}
	case StateSharedClean:
		if trans.Op.HasUpdate() {
			d.applyPeerWrite(ln, trans)
		}
	}
}

func (d *dragonController) applyPeerWrite(ln *line, trans *Transaction) {
	write, ok := trans.Req.(*mem.WriteReq)
	if !ok {
		log.Panicf("%s transaction without write data", trans.Op)
	}

	d.applyWrite(ln, write)
}
