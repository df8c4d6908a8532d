package coherence_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/snoopsim/mem/coherence"
	"github.com/sarchlab/snoopsim/platform"
	"github.com/sarchlab/snoopsim/sim"
)

func at(cycle int) sim.VTimeInSec {
	return sim.VTimeInSec(cycle) * 1e-9
}

var _ = Describe("MESI protocol", func() {
	var p *platform.Platform

	BeforeEach(func() {
		p = platform.MakeBuilder().
			WithNumCores(2).
			WithProtocol(coherence.MESI).
			Build("MESI")
	})

	It("should serve a read-only peer after an exclusive write", func() {
		// Core 0 installs the block exclusively, writes it, and core 1's
		// later read forces the flush.
		p.Agents[0].AddRead(at(0), 0x8000, 1)
		p.Agents[0].AddWrite(at(0), 0x8000, []byte{42})
		peerRead := p.Agents[1].AddRead(at(200), 0x8000, 1)

		err := p.Run()

		Expect(err).To(BeNil())
		Expect(peerRead.Done).To(BeTrue())
		Expect(peerRead.Result).To(Equal([]byte{42}))
		Expect(p.Caches[0].StateAt(0x8000)).
			To(Equal(coherence.StateSharedClean))
		Expect(p.Caches[1].StateAt(0x8000)).
			To(Equal(coherence.StateSharedClean))
	})

	It("should install exclusively when no peer holds the block", func() {
		read := p.Agents[0].AddRead(at(0), 0x8000, 4)

		err := p.Run()

		Expect(err).To(BeNil())
		Expect(read.Done).To(BeTrue())
		Expect(p.Caches[0].StateAt(0x8000)).
			To(Equal(coherence.StateExclusive))
	})

	It("should return the written value to the writer", func() {
		p.Agents[0].AddWrite(at(0), 0x8010, []byte{7, 8, 9})
		readBack := p.Agents[0].AddRead(at(0), 0x8010, 3)

		err := p.Run()

		Expect(err).To(BeNil())
		Expect(readBack.Result).To(Equal([]byte{7, 8, 9}))
		Expect(p.Caches[0].StateAt(0x8010)).
			To(Equal(coherence.StateModified))
	})

	It("should invalidate peers on a shared write without "+
		"invalidating the writer", func() {
		p.Agents[0].AddRead(at(0), 0x8000, 1)
		p.Agents[1].AddRead(at(100), 0x8000, 1)
		p.Agents[0].AddWrite(at(200), 0x8000, []byte{5})
		readBack := p.Agents[0].AddRead(at(300), 0x8000, 1)

		err := p.Run()

		Expect(err).To(BeNil())
		Expect(readBack.Result).To(Equal([]byte{5}))
		Expect(p.Caches[0].StateAt(0x8000)).
			To(Equal(coherence.StateModified))
		Expect(p.Caches[1].StateAt(0x8000)).
			To(Equal(coherence.StateInvalid))
	})

	It("should propagate the latest value through write miss chains", func() {
		p.Agents[0].AddWrite(at(0), 0x8020, []byte{1})
		p.Agents[1].AddWrite(at(100), 0x8020, []byte{2})
		finalRead := p.Agents[0].AddRead(at(200), 0x8020, 1)

		err := p.Run()

		Expect(err).To(BeNil())
		Expect(finalRead.Result).To(Equal([]byte{2}))
	})

	It("should bypass the protocol outside the cacheable range", func() {
		p.Agents[0].AddWrite(at(0), 0x100, []byte{11, 12})
		read := p.Agents[0].AddRead(at(0), 0x100, 2)

		err := p.Run()

		Expect(err).To(BeNil())
		Expect(read.Result).To(Equal([]byte{11, 12}))
		Expect(p.Caches[0].StateAt(0x100)).
			To(Equal(coherence.StateInvalid))
	})

	It("should write back dirty victims on eviction", func() {
		small := platform.MakeBuilder().
			WithNumCores(1).
			WithProtocol(coherence.MESI).
			WithGeometry(5, 0, 6).
			Build("MESISmall")

		// Two ways only: the third block evicts the first.
		small.Agents[0].AddWrite(at(0), 0x8000, []byte{9})
		small.Agents[0].AddRead(at(0), 0x8020, 1)
		small.Agents[0].AddRead(at(0), 0x8040, 1)

		err := small.Run()

		Expect(err).To(BeNil())
		data, readErr := small.DRAM.Storage.Read(0x8000, 1)
		Expect(readErr).To(BeNil())
		Expect(data).To(Equal([]byte{9}))
	})
})
