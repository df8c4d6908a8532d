package coherence

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("store", func() {
	var s *store

	BeforeEach(func() {
		// 32-byte blocks, 4 sets, 256-byte capacity: 2 ways per set.
		s = newStore(5, 2, 8)
	})

	It("should decompose addresses", func() {
		addr := uint64(0x8f64)

		Expect(s.blockAddrOf(addr)).To(Equal(uint64(0x8f60)))
		Expect(s.setIndexOf(addr)).To(Equal(uint64(3)))
		Expect(s.tagOf(addr)).To(Equal(uint64(0x8f60) >> 7))
		Expect(s.addrOf(s.tagOf(addr), s.setIndexOf(addr))).
			To(Equal(uint64(0x8f60)))
	})

	It("should miss on an empty store", func() {
		Expect(s.lookup(0x8000)).To(BeNil())
	})

	It("should find allocated lines", func() {
		ln := s.allocate(0x8000, 0)
		ln.state = StateExclusive

		Expect(s.lookup(0x8000)).To(BeIdenticalTo(ln))
		Expect(s.lookup(0x8020)).To(BeNil())
	})

	It("should keep ghosts addressable but not live", func() {
		ln := s.allocate(0x8000, 0)
		ln.state = StateInvalid

		found, present := s.find(0x8000)
		Expect(present).To(BeTrue())
		Expect(found).To(BeIdenticalTo(ln))
		Expect(s.lookup(0x8000)).To(BeNil())
	})

	It("should not evict while the set has room", func() {
		s.allocate(0x8000, 0)

		Expect(s.evict(0x8100)).To(BeNil())
	})

	It("should evict with second chance", func() {
		ln1 := s.allocate(0x8000, 0)
		ln1.state = StateExclusive
		ln2 := s.allocate(0x8100, 0)
		ln2.state = StateExclusive

		// Both reference bits are set, so the hand clears them on the
		// first pass and takes the oldest on the second.
		ev := s.evict(0x8200)

		Expect(ev).NotTo(BeNil())
		Expect(ev.addr).To(Equal(uint64(0x8000)))
		Expect(ev.dirty).To(BeFalse())
		Expect(s.lookup(0x8000)).To(BeNil())
	})

	It("should spare recently referenced lines", func() {
		ln1 := s.allocate(0x8000, 0)
		ln1.state = StateExclusive
		ln2 := s.allocate(0x8100, 0)
		ln2.state = StateExclusive

		ln2.refBit = false

		ev := s.evict(0x8200)

		Expect(ev.addr).To(Equal(uint64(0x8100)))
		Expect(s.lookup(0x8000)).NotTo(BeNil())
	})

	It("should carry dirty data out on eviction", func() {
		ln := s.allocate(0x8000, 0)
		ln.state = StateModified
		ln.dirty = true
		ln.data[0] = 42
		ln.refBit = false

		s.allocate(0x8100, 0).state = StateExclusive

		ev := s.evict(0x8200)

		Expect(ev.addr).To(Equal(uint64(0x8000)))
		Expect(ev.dirty).To(BeTrue())
		Expect(ev.data[0]).To(Equal(byte(42)))
	})
})
