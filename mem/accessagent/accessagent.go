// Package accessagent provides a scripted CPU-side driver. It plays a list
// of timed reads and writes against a cache port, one access in flight at a
// time, and records the responses.
package accessagent

import (
	"log"

	"github.com/sarchlab/snoopsim/mem"
	"github.com/sarchlab/snoopsim/sim"
)

// An Access is one scripted memory operation.
type Access struct {
	IsWrite  bool
	Address  uint64
	Data     []byte
	ByteSize uint64

	// At is the earliest time the access may be issued.
	At sim.VTimeInSec

	// Result holds the data returned for a read.
	Result []byte

	// CompletedAt records when the response arrived.
	CompletedAt sim.VTimeInSec

	Done bool
}

// Comp is the agent component.
type Comp struct {
	*sim.TickingComponent

	memPort   sim.Port
	lowModule sim.Port

	script   []*Access
	nextIdx  int
	inflight *Access
	pending  sim.Msg
	reqID    string
}

// MemPort returns the port the agent drives accesses through.
func (c *Comp) MemPort() sim.Port {
	return c.memPort
}

// SetLowModule sets the port of the cache that serves the agent.
func (c *Comp) SetLowModule(port sim.Port) {
	c.lowModule = port
}

// AddRead schedules a read at the given time.
func (c *Comp) AddRead(at sim.VTimeInSec, addr, byteSize uint64) *Access {
	a := &Access{Address: addr, ByteSize: byteSize, At: at}
	c.script = append(c.script, a)
	return a
}

// AddWrite schedules a write at the given time.
func (c *Comp) AddWrite(at sim.VTimeInSec, addr uint64, data []byte) *Access {
	a := &Access{IsWrite: true, Address: addr, Data: data, At: at}
	c.script = append(c.script, a)
	return a
}

// AllDone returns true when every scripted access has completed.
func (c *Comp) AllDone() bool {
	return c.inflight == nil && c.nextIdx == len(c.script)
}

// KickStart schedules the first tick so that the script starts playing.
func (c *Comp) KickStart() {
	c.TickLater(0)
}

// Tick issues the next due access and collects responses.
func (c *Comp) Tick(now sim.VTimeInSec) bool {
	madeProgress := false

	madeProgress = c.processRsp(now) || madeProgress
	madeProgress = c.issueNext(now) || madeProgress

	if c.waitingForStartTime(now) {
		// Keep ticking until the next access becomes due.
		return true
	}

	return madeProgress
}

func (c *Comp) waitingForStartTime(now sim.VTimeInSec) bool {
	return c.inflight == nil &&
		c.nextIdx < len(c.script) &&
		now < c.script[c.nextIdx].At
}

func (c *Comp) processRsp(now sim.VTimeInSec) bool {
	msg := c.memPort.Retrieve(now)
	if msg == nil {
		return false
	}

	rsp, ok := msg.(sim.Rsp)
	if !ok || c.inflight == nil || rsp.GetRspTo() != c.reqID {
		log.Panicf("agent received unexpected message %T", msg)
	}

	if dataReady, ok := msg.(*mem.DataReadyRsp); ok {
		c.inflight.Result = dataReady.Data
	}

	c.inflight.Done = true
	c.inflight.CompletedAt = now
	c.inflight = nil

	return true
}

func (c *Comp) issueNext(now sim.VTimeInSec) bool {
	if c.inflight != nil && c.pending == nil {
		return false
	}

	if c.pending == nil {
		if c.nextIdx >= len(c.script) {
			return false
		}

		access := c.script[c.nextIdx]
		if now < access.At {
			return false
		}

		c.pending = c.buildReq(now, access)
		c.reqID = c.pending.Meta().ID
		c.inflight = access
		c.nextIdx++
	}

	c.pending.Meta().SendTime = now
	err := c.memPort.Send(c.pending)
	if err != nil {
		// The cache is blocked; re-drive the request later.
		return true
	}

	c.pending = nil

	return true
}

func (c *Comp) buildReq(now sim.VTimeInSec, access *Access) sim.Msg {
	if access.IsWrite {
		return mem.WriteReqBuilder{}.
			WithSendTime(now).
			WithSrc(c.memPort).
			WithDst(c.lowModule).
			WithAddress(access.Address).
			WithData(access.Data).
			Build()
	}

	return mem.ReadReqBuilder{}.
		WithSendTime(now).
		WithSrc(c.memPort).
		WithDst(c.lowModule).
		WithAddress(access.Address).
		WithByteSize(access.ByteSize).
		Build()
}

// Builder can build access agents.
type Builder struct {
	engine sim.Engine
	freq   sim.Freq
}

// MakeBuilder returns a new Builder.
func MakeBuilder() Builder {
	return Builder{
		freq: 1 * sim.GHz,
	}
}

// WithEngine sets the engine of the agent.
func (b Builder) WithEngine(engine sim.Engine) Builder {
	b.engine = engine
	return b
}

// WithFreq sets the frequency of the agent.
func (b Builder) WithFreq(freq sim.Freq) Builder {
	b.freq = freq
	return b
}

// Build creates a new agent.
func (b Builder) Build(name string) *Comp {
	c := &Comp{}
	c.TickingComponent = sim.NewTickingComponent(name, b.engine, b.freq, c)

	c.memPort = sim.NewLimitNumMsgPort(c, 4, name+".MemPort")
	c.AddPort("Mem", c.memPort)

	return c
}
