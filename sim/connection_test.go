package sim

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	gomock "go.uber.org/mock/gomock"
)

type sampleMsg struct {
	MsgMeta
}

func (m *sampleMsg) Meta() *MsgMeta {
	return &m.MsgMeta
}

var _ = Describe("DirectConnection", func() {
	var (
		mockCtrl *gomock.Controller
		port1    *MockPort
		port2    *MockPort
		conn     *DirectConnection
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())

		port1 = NewMockPort(mockCtrl)
		port2 = NewMockPort(mockCtrl)

		conn = NewDirectConnection("Conn")

		port1.EXPECT().SetConnection(conn)
		port2.EXPECT().SetConnection(conn)
		conn.PlugIn(port1)
		conn.PlugIn(port2)
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should deliver the message to the destination port", func() {
		msg := &sampleMsg{}
		msg.Src = port1
		msg.Dst = port2
		msg.SendTime = 1e-9

		port2.EXPECT().Recv(msg).Return(nil)

		err := conn.Send(msg)

		Expect(err).To(BeNil())
		Expect(msg.RecvTime).To(BeNumerically("~", 1e-9, 1e-12))
	})

	It("should propagate a busy destination to the sender", func() {
		msg := &sampleMsg{}
		msg.Src = port1
		msg.Dst = port2

		port2.EXPECT().Recv(msg).Return(NewSendError())

		err := conn.Send(msg)

		Expect(err).NotTo(BeNil())
	})

	It("should notify the other ports when one becomes available", func() {
		port2.EXPECT().NotifyAvailable(VTimeInSec(2e-9))

		conn.NotifyAvailable(2e-9, port1)
	})
})
