package llc

type timedRequest struct {
	due int64
	req Request
}

// A CacheSystem orchestrates a chain of cache levels. Hits wait out their
// access latency on the hit list; requests that must reach memory wait on
// the wait list and release to the memory system when their delay elapses.
type CacheSystem struct {
	qos      QoSPolicy
	numCores int

	// Latency is the per-level access latency in cycles.
	Latency [levelMax]int

	clk      int64
	hitList  []timedRequest
	waitList []timedRequest

	sendMemory func(Request) bool

	firstCache *Cache
	lastCache  *Cache
}

// NewCacheSystem creates a cache system. sendMemory forwards a request to
// the memory model and returns false when it must be retried.
func NewCacheSystem(
	qos QoSPolicy,
	numCores int,
	sendMemory func(Request) bool,
) *CacheSystem {
	s := &CacheSystem{
		qos:        qos,
		numCores:   numCores,
		sendMemory: sendMemory,
	}

	s.Latency[L1] = 4
	s.Latency[L2] = 12
	s.Latency[L3] = 31

	return s
}

// SetHierarchy declares the top and bottom of the cache chain.
func (s *CacheSystem) SetHierarchy(first, last *Cache) {
	s.firstCache = first
	s.lastCache = last
}

// Clk returns the current cycle.
func (s *CacheSystem) Clk() int64 {
	return s.clk
}

// Send enters a request at the top of the hierarchy.
func (s *CacheSystem) Send(req Request) bool {
	return s.firstCache.Send(req)
}

// MemoryCallback completes a fill that returned from the memory system.
func (s *CacheSystem) MemoryCallback(req *Request) {
	if s.lastCache != nil {
		s.lastCache.Callback(req)
	}

	if req.Callback != nil {
		req.Callback(req)
	}
}

func (s *CacheSystem) pushHit(latency int64, req Request) {
	s.hitList = append(s.hitList, timedRequest{s.clk + latency, req})
}

func (s *CacheSystem) pushWait(latency int64, req Request) {
	s.waitList = append(s.waitList, timedRequest{s.clk + latency, req})
}

// Tick advances the clock, releases due waiters to memory, and completes
// due hits.
func (s *CacheSystem) Tick() {
	s.clk++

	remaining := s.waitList[:0]
	for _, entry := range s.waitList {
		if s.clk >= entry.due && s.sendMemory(entry.req) {
			continue
		}
		remaining = append(remaining, entry)
	}
	s.waitList = remaining

	remainingHits := s.hitList[:0]
	for _, entry := range s.hitList {
		if s.clk >= entry.due {
			if entry.req.Callback != nil {
				entry.req.Callback(&entry.req)
			}
			continue
		}
		remainingHits = append(remainingHits, entry)
	}
	s.hitList = remainingHits

	if s.firstCache != nil {
		s.firstCache.Tick()
	}
}
