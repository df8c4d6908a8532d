package sim

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type portTestComponent struct {
	*ComponentBase

	recvNotified bool
	freeNotified bool
}

func newPortTestComponent(name string) *portTestComponent {
	c := new(portTestComponent)
	c.ComponentBase = NewComponentBase(name)
	return c
}

func (c *portTestComponent) Handle(_ Event) error {
	return nil
}

func (c *portTestComponent) NotifyRecv(_ VTimeInSec, _ Port) {
	c.recvNotified = true
}

func (c *portTestComponent) NotifyPortFree(_ VTimeInSec, _ Port) {
	c.freeNotified = true
}

var _ = Describe("LimitNumMsgPort", func() {
	var (
		comp *portTestComponent
		port *LimitNumMsgPort
	)

	BeforeEach(func() {
		comp = newPortTestComponent("Comp")
		port = NewLimitNumMsgPort(comp, 2, "Comp.Port")
	})

	It("should buffer and retrieve messages in order", func() {
		msg1 := &sampleMsg{}
		msg2 := &sampleMsg{}

		Expect(port.Recv(msg1)).To(BeNil())
		Expect(port.Recv(msg2)).To(BeNil())
		Expect(comp.recvNotified).To(BeTrue())

		Expect(port.Peek()).To(BeIdenticalTo(Msg(msg1)))
		Expect(port.Retrieve(0)).To(BeIdenticalTo(Msg(msg1)))
		Expect(port.Retrieve(0)).To(BeIdenticalTo(Msg(msg2)))
		Expect(port.Retrieve(0)).To(BeNil())
	})

	It("should reject messages when the buffer is full", func() {
		Expect(port.Recv(&sampleMsg{})).To(BeNil())
		Expect(port.Recv(&sampleMsg{})).To(BeNil())

		err := port.Recv(&sampleMsg{})

		Expect(err).NotTo(BeNil())
	})

	It("should notify the owner when the port frees up", func() {
		port.NotifyAvailable(0)

		Expect(comp.freeNotified).To(BeTrue())
	})
})
