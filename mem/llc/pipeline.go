package llc

import (
	"log"
)

// A cacheLine is one line of the LLC tag array.
type cacheLine struct {
	addr uint64
	tag  uint64

	// When the lock is on, the line is waiting for data from memory and is
	// immune to eviction.
	lock bool

	dirty  bool
	refBit bool
	coreID int
}

// A set groups the lines one block index maps to.
type set struct {
	lines     []*cacheLine
	clockHand int
}

func (s *set) moveToBack(ln *cacheLine) {
	for i, l := range s.lines {
		if l == ln {
			s.lines = append(s.lines[:i], s.lines[i+1:]...)
			s.lines = append(s.lines, ln)
			return
		}
	}
}

func (s *set) remove(ln *cacheLine) {
	for i, l := range s.lines {
		if l == ln {
			s.lines = append(s.lines[:i], s.lines[i+1:]...)
			return
		}
	}
}

type mshrEntry struct {
	addr  uint64
	line  *cacheLine
	dirty bool
}

// A QoSPolicy selects how the LLC shares capacity between cores.
type QoSPolicy int

// The supported QoS policies.
const (
	// Basic shares all the ways with plain LRU replacement.
	Basic QoSPolicy = iota

	// WayPartitioning gives each core a fixed share of the ways.
	WayPartitioning

	// Custom replaces LRU with a clock (second chance) policy.
	Custom
)

func (p QoSPolicy) String() string {
	switch p {
	case Basic:
		return "basic"
	case WayPartitioning:
		return "way_partitioning"
	case Custom:
		return "custom"
	}
	return "unknown"
}

// A Pipeline is the tag and MSHR engine of one cache level. Misses coalesce
// in the MSHR; lines being filled are locked placeholders.
type Pipeline struct {
	size      int
	assoc     int
	blockSize int
	numMSHR   int

	indexMask   uint64
	indexOffset uint64
	tagOffset   uint64

	sets    map[int]*set
	mshrs   []*mshrEntry
	finder  victimFinder
	retries []*Request
}

// NewPipeline creates a pipeline for one cache level. The size, block size
// and associativity must be powers of two.
func NewPipeline(
	size, assoc, blockSize, numMSHR int,
	policy QoSPolicy,
	numCores int,
) *Pipeline {
	if size&(size-1) != 0 ||
		blockSize&(blockSize-1) != 0 ||
		assoc&(assoc-1) != 0 {
		log.Panic("cache size, block size, and associativity " +
			"must be powers of two")
	}
	if size < blockSize {
		log.Panic("block size exceeds the cache size")
	}
	if numMSHR <= 0 {
		log.Panic("the cache needs at least one MSHR entry")
	}

	p := &Pipeline{
		size:      size,
		assoc:     assoc,
		blockSize: blockSize,
		numMSHR:   numMSHR,
		sets:      make(map[int]*set),
	}

	blockNum := size / (blockSize * assoc)
	p.indexMask = uint64(blockNum - 1)
	p.indexOffset = uint64(log2(blockSize))
	p.tagOffset = uint64(log2(blockNum)) + p.indexOffset

	switch policy {
	case Basic:
		p.finder = newLRUVictimFinder(assoc)
	case WayPartitioning:
		p.finder = newWaypartVictimFinder(assoc, numCores)
	case Custom:
		p.finder = newClockVictimFinder(assoc)
	default:
		log.Panicf("unknown QoS policy %d", policy)
	}

	return p
}

func log2(val int) int {
	n := 0
	for val >>= 1; val != 0; val >>= 1 {
		n++
	}
	return n
}

func (p *Pipeline) index(addr uint64) int {
	return int((addr >> p.indexOffset) & p.indexMask)
}

func (p *Pipeline) tag(addr uint64) uint64 {
	return addr >> p.tagOffset
}

func (p *Pipeline) align(addr uint64) uint64 {
	return addr &^ uint64(p.blockSize-1)
}

func (p *Pipeline) getSet(addr uint64) *set {
	index := p.index(addr)
	s, found := p.sets[index]
	if !found {
		s = &set{}
		p.sets[index] = s
	}
	return s
}

func (p *Pipeline) findLine(s *set, addr uint64) *cacheLine {
	for _, ln := range s.lines {
		if ln.tag == p.tag(addr) {
			return ln
		}
	}
	return nil
}

// Send processes one request. It returns true when the request was handled
// (hit, coalesced, or fill allocated) and false when the caller must retry
// later. The report records what happened.
func (p *Pipeline) Send(req *Request, report *StatusReport) bool {
	s := p.getSet(req.Addr)

	ln := p.findLine(s, req.Addr)
	if ln != nil && !ln.lock {
		if req.Type == ReqWrite {
			ln.dirty = true
		}
		p.finder.OnHit(s, ln)

		report.Hit = true
		return true
	}

	if req.Type == ReqWrite {
		report.WriteMiss = true
	} else {
		report.ReadMiss = true
	}

	// The fill from memory is always a read; the write intent survives in
	// the MSHR entry's dirty bit.
	dirty := req.Type == ReqWrite
	req.Type = ReqRead

	if entry := p.lookupMSHR(req.Addr); entry != nil {
		entry.dirty = entry.dirty || dirty
		report.MSHRHit = true
		return true
	}

	if len(p.mshrs) == p.numMSHR {
		report.MSHRUnavailable = true
		return false
	}

	if p.finder.NeedsEviction(s, req) {
		victim := p.finder.FindVictim(s, req)
		if victim == nil {
			report.SetUnavailable = true
			return false
		}
		p.evict(s, victim, report)
	}

	newLine := p.allocateLine(s, req)
	newLine.dirty = dirty

	p.mshrs = append(p.mshrs, &mshrEntry{
		addr:  req.Addr,
		line:  newLine,
		dirty: dirty,
	})

	report.MSHRAllocated = true

	p.assertConsistency(s)

	return true
}

// Callback completes an outstanding fill: the placeholder unlocks and the
// MSHR entry retires.
func (p *Pipeline) Callback(req *Request) {
	for i, entry := range p.mshrs {
		if p.align(entry.addr) == p.align(req.Addr) {
			entry.line.lock = false
			if entry.dirty {
				entry.line.dirty = true
			}
			p.mshrs = append(p.mshrs[:i], p.mshrs[i+1:]...)
			return
		}
	}
}

// PushRetry records a request that a lower level refused.
func (p *Pipeline) PushRetry(req *Request) {
	p.retries = append(p.retries, req)
}

// DrainRetries re-sends refused requests through the given function.
func (p *Pipeline) DrainRetries(send func(*Request) bool) {
	remaining := p.retries[:0]
	for _, req := range p.retries {
		if !send(req) {
			remaining = append(remaining, req)
		}
	}
	p.retries = remaining
}

func (p *Pipeline) lookupMSHR(addr uint64) *mshrEntry {
	for _, entry := range p.mshrs {
		if p.align(entry.addr) == p.align(addr) {
			return entry
		}
	}
	return nil
}

func (p *Pipeline) evict(s *set, victim *cacheLine, report *StatusReport) {
	report.Evictions++

	if victim.dirty {
		report.Requests = append(report.Requests, Request{
			Addr:   victim.addr,
			Type:   ReqWrite,
			CoreID: victim.coreID,
		})
	}

	s.remove(victim)
}

func (p *Pipeline) allocateLine(s *set, req *Request) *cacheLine {
	if p.findLine(s, req.Addr) != nil {
		// The MSHR coalesces all the misses to one block, so a second
		// allocation of the same tag cannot happen.
		log.Panicf("duplicate tag 0x%x in one set", p.tag(req.Addr))
	}

	ln := &cacheLine{
		addr:   req.Addr,
		tag:    p.tag(req.Addr),
		lock:   true,
		refBit: true,
		coreID: req.CoreID,
	}
	s.lines = append(s.lines, ln)

	return ln
}

// assertConsistency validates that MSHR entries and locked lines pair up
// one to one.
func (p *Pipeline) assertConsistency(s *set) {
	for _, entry := range p.mshrs {
		if !entry.line.lock {
			log.Panic("MSHR entry references an unlocked line")
		}
	}

	for _, ln := range s.lines {
		if ln.lock && p.lookupMSHR(ln.addr) == nil {
			log.Panic("locked line without an MSHR entry")
		}
	}
}
