package llc

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type memRecorder struct {
	requests []Request
	refuse   bool
}

func (m *memRecorder) send(req Request) bool {
	if m.refuse {
		return false
	}

	m.requests = append(m.requests, req)
	return true
}

func buildThreeLevelSystem(mem *memRecorder) (*CacheSystem, *Cache) {
	system := NewCacheSystem(Basic, 1, mem.send)

	l1 := NewCache(4096, 4, 64, 4, L1, system)
	l2 := NewCache(16384, 8, 64, 8, L2, system)
	l3 := NewCache(65536, 8, 64, 16, L3, system)

	l1.ConcatLower(l2)
	l2.ConcatLower(l3)
	system.SetHierarchy(l1, l3)

	return system, l1
}

func runCycles(system *CacheSystem, n int) {
	for i := 0; i < n; i++ {
		system.Tick()
	}
}

var _ = Describe("CacheSystem", func() {
	var (
		memory *memRecorder
		system *CacheSystem
		l1     *Cache
	)

	BeforeEach(func() {
		memory = &memRecorder{}
		system, l1 = buildThreeLevelSystem(memory)
	})

	It("should send a cold miss through every level to memory", func() {
		handled := system.Send(Request{Addr: 0x1000, Type: ReqRead})

		Expect(handled).To(BeTrue())

		// The request waits out the cumulative L1+L2+L3 latency.
		runCycles(system, 4+12+31-1)
		Expect(memory.requests).To(BeEmpty())

		runCycles(system, 1)
		Expect(memory.requests).To(HaveLen(1))
	})

	It("should complete hits after the level latency", func() {
		system.Send(Request{Addr: 0x1000, Type: ReqRead})
		runCycles(system, 100)
		req := memory.requests[0]
		system.MemoryCallback(&req)

		completed := false
		hit := Request{
			Addr: 0x1000,
			Type: ReqRead,
			Callback: func(_ *Request) {
				completed = true
			},
		}

		Expect(system.Send(hit)).To(BeTrue())
		Expect(l1.Stats().TotalMiss).To(Equal(uint64(1)))

		runCycles(system, 3)
		Expect(completed).To(BeFalse())

		runCycles(system, 2)
		Expect(completed).To(BeTrue())
	})

	It("should unlock all the levels on a memory callback", func() {
		system.Send(Request{Addr: 0x1000, Type: ReqRead})
		runCycles(system, 100)

		req := memory.requests[0]
		system.MemoryCallback(&req)

		report := &StatusReport{}
		Expect(l1.pipeline.Send(
			&Request{Addr: 0x1000, Type: ReqRead}, report)).To(BeTrue())
		Expect(report.Hit).To(BeTrue())

		l2Report := &StatusReport{}
		Expect(l1.lower.pipeline.Send(
			&Request{Addr: 0x1000, Type: ReqRead}, l2Report)).To(BeTrue())
		Expect(l2Report.Hit).To(BeTrue())
	})

	It("should issue one memory request for coalesced misses", func() {
		Expect(system.Send(Request{Addr: 0x1000, Type: ReqRead})).
			To(BeTrue())
		Expect(system.Send(Request{Addr: 0x1008, Type: ReqRead})).
			To(BeTrue())
		Expect(system.Send(Request{Addr: 0x1010, Type: ReqWrite})).
			To(BeTrue())

		Expect(l1.Stats().MSHRHit).To(Equal(uint64(2)))

		runCycles(system, 100)
		Expect(memory.requests).To(HaveLen(1))
	})

	It("should retry refused memory sends", func() {
		memory.refuse = true

		system.Send(Request{Addr: 0x1000, Type: ReqRead})
		runCycles(system, 100)
		Expect(memory.requests).To(BeEmpty())

		memory.refuse = false
		runCycles(system, 1)
		Expect(memory.requests).To(HaveLen(1))
	})
})
