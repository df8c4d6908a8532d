package coherence_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/snoopsim/mem/coherence"
	"github.com/sarchlab/snoopsim/platform"
)

var _ = Describe("Dragon protocol", func() {
	var p *platform.Platform

	BeforeEach(func() {
		p = platform.MakeBuilder().
			WithNumCores(2).
			WithProtocol(coherence.Dragon).
			Build("Dragon")
	})

	It("should keep the writer shared-modified after a peer read", func() {
		p.Agents[0].AddRead(at(0), 0x8000, 1)
		p.Agents[0].AddWrite(at(0), 0x8000, []byte{42})
		peerRead := p.Agents[1].AddRead(at(200), 0x8000, 1)

		err := p.Run()

		Expect(err).To(BeNil())
		Expect(peerRead.Result).To(Equal([]byte{42}))
		Expect(p.Caches[0].StateAt(0x8000)).
			To(Equal(coherence.StateSharedMod))
		Expect(p.Caches[1].StateAt(0x8000)).
			To(Equal(coherence.StateSharedClean))
	})

	It("should propagate updates to sharers without ownership "+
		"transfer", func() {
		p.Agents[0].AddRead(at(0), 0x8040, 1)
		p.Agents[1].AddRead(at(100), 0x8040, 1)
		p.Agents[0].AddWrite(at(200), 0x8040, []byte{7})
		p.Agents[0].AddWrite(at(0), 0x8040, []byte{8})
		peerRead := p.Agents[1].AddRead(at(400), 0x8040, 1)

		err := p.Run()

		Expect(err).To(BeNil())
		// The peer reads the latest update from its own copy.
		Expect(peerRead.Result).To(Equal([]byte{8}))
		Expect(p.Caches[0].StateAt(0x8040)).
			To(Equal(coherence.StateSharedMod))
		Expect(p.Caches[1].StateAt(0x8040)).
			To(Equal(coherence.StateSharedClean))
	})

	It("should never invalidate sharers on writes", func() {
		p.Agents[0].AddRead(at(0), 0x8060, 1)
		p.Agents[1].AddRead(at(100), 0x8060, 1)
		p.Agents[0].AddWrite(at(200), 0x8060, []byte{3})
		p.Agents[1].AddWrite(at(300), 0x8060, []byte{4})
		read0 := p.Agents[0].AddRead(at(400), 0x8060, 1)
		read1 := p.Agents[1].AddRead(at(400), 0x8060, 1)

		err := p.Run()

		Expect(err).To(BeNil())
		Expect(read0.Result).To(Equal([]byte{4}))
		Expect(read1.Result).To(Equal([]byte{4}))
		Expect(p.Caches[0].StateAt(0x8060)).
			NotTo(Equal(coherence.StateInvalid))
		Expect(p.Caches[1].StateAt(0x8060)).
			NotTo(Equal(coherence.StateInvalid))
	})

	It("should hand Sm to the later writer in an update race", func() {
		p.Agents[0].AddRead(at(0), 0x8080, 1)
		p.Agents[1].AddRead(at(100), 0x8080, 1)
		p.Agents[0].AddWrite(at(200), 0x8080, []byte{1})
		p.Agents[1].AddWrite(at(300), 0x8080, []byte{2})

		err := p.Run()

		Expect(err).To(BeNil())
		// The serialized bus orders the updates; the later winner owns the
		// block and the earlier writer becomes a plain reader.
		Expect(p.Caches[0].StateAt(0x8080)).
			To(Equal(coherence.StateSharedClean))
		Expect(p.Caches[1].StateAt(0x8080)).
			To(Equal(coherence.StateSharedMod))
	})

	It("should install a write miss as modified when alone", func() {
		write := p.Agents[0].AddWrite(at(0), 0x80a0, []byte{6})
		readBack := p.Agents[0].AddRead(at(0), 0x80a0, 1)

		err := p.Run()

		Expect(err).To(BeNil())
		Expect(write.Done).To(BeTrue())
		Expect(readBack.Result).To(Equal([]byte{6}))
		Expect(p.Caches[0].StateAt(0x80a0)).
			To(Equal(coherence.StateModified))
	})
})
