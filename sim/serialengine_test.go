package sim

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type recordingHandler struct {
	handled []Event
}

func (h *recordingHandler) Handle(e Event) error {
	h.handled = append(h.handled, e)
	return nil
}

type serialEngineTestEvent struct {
	EventBase
}

func newSerialEngineTestEvent(
	t VTimeInSec,
	handler Handler,
	secondary bool,
) *serialEngineTestEvent {
	e := new(serialEngineTestEvent)
	e.time = t
	e.handler = handler
	e.secondary = secondary
	return e
}

var _ = Describe("SerialEngine", func() {
	var (
		engine  *SerialEngine
		handler *recordingHandler
	)

	BeforeEach(func() {
		engine = NewSerialEngine()
		handler = new(recordingHandler)
	})

	It("should run events in time order", func() {
		e1 := newSerialEngineTestEvent(3e-9, handler, false)
		e2 := newSerialEngineTestEvent(1e-9, handler, false)
		e3 := newSerialEngineTestEvent(2e-9, handler, false)

		engine.Schedule(e1)
		engine.Schedule(e2)
		engine.Schedule(e3)

		err := engine.Run()

		Expect(err).To(BeNil())
		Expect(handler.handled).To(HaveLen(3))
		Expect(handler.handled[0]).To(BeIdenticalTo(Event(e2)))
		Expect(handler.handled[1]).To(BeIdenticalTo(Event(e3)))
		Expect(handler.handled[2]).To(BeIdenticalTo(Event(e1)))
	})

	It("should run same-time secondary events after primary events", func() {
		secondary := newSerialEngineTestEvent(1e-9, handler, true)
		primary := newSerialEngineTestEvent(1e-9, handler, false)

		engine.Schedule(secondary)
		engine.Schedule(primary)

		err := engine.Run()

		Expect(err).To(BeNil())
		Expect(handler.handled[0]).To(BeIdenticalTo(Event(primary)))
		Expect(handler.handled[1]).To(BeIdenticalTo(Event(secondary)))
	})

	It("should advance the current time", func() {
		e := newSerialEngineTestEvent(5e-9, handler, false)
		engine.Schedule(e)

		_ = engine.Run()

		Expect(engine.CurrentTime()).To(BeNumerically("~", 5e-9, 1e-12))
	})

	It("should panic when scheduling in the past", func() {
		e := newSerialEngineTestEvent(5e-9, handler, false)
		engine.Schedule(e)
		_ = engine.Run()

		late := newSerialEngineTestEvent(1e-9, handler, false)
		Expect(func() { engine.Schedule(late) }).To(Panic())
	})
})
