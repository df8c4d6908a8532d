package llc

import "log"

// A Level identifies a cache level in the hierarchy.
type Level int

// The cache levels.
const (
	L1 Level = iota
	L2
	L3
	levelMax
)

func (l Level) String() string {
	switch l {
	case L1:
		return "L1"
	case L2:
		return "L2"
	case L3:
		return "L3"
	}
	return "Unknown"
}

// A Cache is one level of the hierarchy wrapped around a Pipeline.
type Cache struct {
	level  Level
	system *CacheSystem

	pipeline *Pipeline

	higher []*Cache
	lower  *Cache

	stats Stats
}

// NewCache creates a cache at the given level of a cache system.
func NewCache(
	size, assoc, blockSize, numMSHR int,
	level Level,
	system *CacheSystem,
) *Cache {
	c := &Cache{
		level:  level,
		system: system,
		pipeline: NewPipeline(
			size, assoc, blockSize, numMSHR,
			system.qos, system.numCores),
	}

	return c
}

// Stats returns the counters of this level.
func (c *Cache) Stats() Stats {
	return c.stats
}

// ConcatLower attaches the next lower level below this cache.
func (c *Cache) ConcatLower(lower *Cache) {
	if lower == nil {
		log.Panic("cannot attach a nil lower cache")
	}

	c.lower = lower
	lower.higher = append(lower.higher, c)
}

func (c *Cache) isLastLevel() bool {
	return c.lower == nil
}

// Send processes one request at this level. Hits enter the hit list with
// the accumulated latency; misses allocate an MSHR and travel down the
// hierarchy.
func (c *Cache) Send(req Request) bool {
	c.stats.TotalAccess++
	if req.Type == ReqWrite {
		c.stats.WriteAccess++
	} else {
		c.stats.ReadAccess++
	}

	report := StatusReport{}
	handled := c.pipeline.Send(&req, &report)
	c.stats.update(&report)

	if report.Hit {
		c.system.pushHit(c.cumLatency(), req)
	}

	if report.MSHRAllocated {
		if c.isLastLevel() {
			c.system.pushWait(c.cumLatency(), req)
		} else if !c.lower.Send(req) {
			retry := req
			c.pipeline.PushRetry(&retry)
		}
	}

	// Dirty victims travel to memory after this level's latency.
	for _, wbReq := range report.Requests {
		c.system.pushWait(c.cumLatency(), wbReq)
	}

	return handled
}

// Callback completes an outstanding fill at this level and at every level
// above it.
func (c *Cache) Callback(req *Request) {
	c.pipeline.Callback(req)

	for _, hc := range c.higher {
		hc.Callback(req)
	}
}

// Tick drains the retry lists down the hierarchy.
func (c *Cache) Tick() {
	if c.lower == nil {
		return
	}

	c.lower.Tick()

	c.pipeline.DrainRetries(func(req *Request) bool {
		return c.lower.Send(*req)
	})
}

func (c *Cache) cumLatency() int64 {
	total := int64(0)
	for l := L1; l <= c.level; l++ {
		total += int64(c.system.Latency[l])
	}
	return total
}
