package coherence_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/snoopsim/mem/accessagent"
	"github.com/sarchlab/snoopsim/mem/coherence"
	"github.com/sarchlab/snoopsim/platform"
)

var _ = Describe("Serializing bus", func() {
	It("should serialize concurrent misses from all cores", func() {
		p := platform.MakeBuilder().
			WithNumCores(4).
			WithProtocol(coherence.MESI).
			Build("BusRace")

		reads := make([]*readback, 0)
		for i, agent := range p.Agents {
			addr := uint64(0x8000 + i*0x40)
			agent.AddWrite(at(0), addr, []byte{byte(i + 1)})
			reads = append(reads, &readback{
				access: agent.AddRead(at(0), addr, 1),
				want:   byte(i + 1),
			})
		}

		err := p.Run()

		Expect(err).To(BeNil())
		for _, r := range reads {
			Expect(r.access.Done).To(BeTrue())
			Expect(r.access.Result).To(Equal([]byte{r.want}))
		}
		Expect(p.Bus.CurrentGranted).To(Equal(-1))
	})

	It("should leave the bus idle after the last transaction", func() {
		p := platform.MakeBuilder().
			WithNumCores(2).
			WithProtocol(coherence.Dragon).
			Build("BusIdle")

		p.Agents[0].AddRead(at(0), 0x8000, 1)
		p.Agents[1].AddRead(at(50), 0x8000, 1)

		err := p.Run()

		Expect(err).To(BeNil())
		Expect(p.Bus.CurrentGranted).To(Equal(-1))
	})

	It("should count coherent transactions only", func() {
		p := platform.MakeBuilder().
			WithNumCores(2).
			WithProtocol(coherence.MESI).
			Build("BusCount")

		p.Agents[0].AddRead(at(0), 0x8000, 1)
		p.Agents[0].AddRead(at(0), 0x100, 1)

		err := p.Run()

		Expect(err).To(BeNil())
		// The uncacheable access bypasses the protocol.
		Expect(p.Bus.Stats().TransactionCount).To(Equal(uint64(1)))
	})

	It("should count the bytes peers flushed", func() {
		p := platform.MakeBuilder().
			WithNumCores(2).
			WithProtocol(coherence.MESI).
			Build("BusBytes")

		p.Agents[0].AddWrite(at(0), 0x8000, []byte{1})
		p.Agents[1].AddRead(at(100), 0x8000, 1)

		err := p.Run()

		Expect(err).To(BeNil())
		// One flush of one 32-byte block.
		Expect(p.Bus.Stats().BytesReadByPeers).To(Equal(uint64(32)))
	})
})

type readback struct {
	access *accessagent.Access
	want   byte
}
