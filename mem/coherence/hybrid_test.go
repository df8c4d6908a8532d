package coherence_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/snoopsim/mem/coherence"
	"github.com/sarchlab/snoopsim/platform"
)

var _ = Describe("Hybrid protocol", func() {
	var p *platform.Platform

	BeforeEach(func() {
		p = platform.MakeBuilder().
			WithNumCores(2).
			WithProtocol(coherence.Hybrid).
			WithInvalidateThreshold(2).
			Build("Hybrid")
	})

	It("should escape from updates to invalidation when the counter "+
		"saturates", func() {
		p.Agents[0].AddRead(at(0), 0x8000, 1)
		p.Agents[1].AddRead(at(100), 0x8000, 1)

		// Two updates spend the budget; the third write invalidates.
		p.Agents[0].AddWrite(at(200), 0x8000, []byte{1})
		p.Agents[0].AddWrite(at(0), 0x8000, []byte{2})
		p.Agents[0].AddWrite(at(0), 0x8000, []byte{3})

		err := p.Run()

		Expect(err).To(BeNil())
		Expect(p.Caches[0].StateAt(0x8000)).
			To(Equal(coherence.StateModified))
		Expect(p.Caches[1].StateAt(0x8000)).
			To(Equal(coherence.StateInvalid))
	})

	It("should keep the fourth write off the bus", func() {
		p.Agents[0].AddRead(at(0), 0x8000, 1)
		p.Agents[1].AddRead(at(100), 0x8000, 1)
		p.Agents[0].AddWrite(at(200), 0x8000, []byte{1})
		p.Agents[0].AddWrite(at(0), 0x8000, []byte{2})
		p.Agents[0].AddWrite(at(0), 0x8000, []byte{3})
		p.Agents[0].AddWrite(at(0), 0x8000, []byte{4})

		err := p.Run()

		Expect(err).To(BeNil())
		// Two reads, two updates, one invalidation. The fourth write hits
		// in Modified and is silent.
		Expect(p.Bus.Stats().TransactionCount).To(Equal(uint64(5)))
		Expect(p.Caches[0].StateAt(0x8000)).
			To(Equal(coherence.StateModified))
	})

	It("should refill the budget when a reader consumes updates", func() {
		p.Agents[0].AddRead(at(0), 0x8040, 1)
		p.Agents[1].AddRead(at(100), 0x8040, 1)

		p.Agents[0].AddWrite(at(200), 0x8040, []byte{1})
		// The peer read between updates raises the remote-access wire on
		// the next update, which restores the budget.
		p.Agents[1].AddRead(at(300), 0x8040, 1)
		p.Agents[0].AddWrite(at(400), 0x8040, []byte{2})
		p.Agents[0].AddWrite(at(0), 0x8040, []byte{3})

		err := p.Run()

		Expect(err).To(BeNil())
		// Still updating: the peer keeps its copy.
		Expect(p.Caches[1].StateAt(0x8040)).
			To(Equal(coherence.StateSharedClean))
		Expect(p.Caches[0].StateAt(0x8040)).
			To(Equal(coherence.StateSharedMod))
	})

	It("should behave like Dragon while the budget lasts", func() {
		p.Agents[0].AddRead(at(0), 0x8080, 1)
		p.Agents[1].AddRead(at(100), 0x8080, 1)
		p.Agents[0].AddWrite(at(200), 0x8080, []byte{9})
		peerRead := p.Agents[1].AddRead(at(300), 0x8080, 1)

		err := p.Run()

		Expect(err).To(BeNil())
		Expect(peerRead.Result).To(Equal([]byte{9}))
		Expect(p.Caches[1].StateAt(0x8080)).
			To(Equal(coherence.StateSharedClean))
	})
})
