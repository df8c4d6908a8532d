package sim

import (
	"math/rand"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type queueTestEvent struct {
	EventBase
}

var _ = Describe("EventQueueImpl", func() {
	var (
		queue *EventQueueImpl
	)

	BeforeEach(func() {
		queue = NewEventQueue()
	})

	It("should pop in order", func() {
		numEvents := 100
		for i := 0; i < numEvents; i++ {
			event := new(queueTestEvent)
			event.time = VTimeInSec(rand.Float64() / 1e8)
			queue.Push(event)
		}

		now := VTimeInSec(-1)
		for i := 0; i < numEvents; i++ {
			event := queue.Pop()
			Expect(event.Time() >= now).To(BeTrue())
			now = event.Time()
		}
	})

	It("should peek the earliest event", func() {
		early := new(queueTestEvent)
		early.time = 1e-9
		late := new(queueTestEvent)
		late.time = 2e-9

		queue.Push(late)
		queue.Push(early)

		Expect(queue.Peek()).To(BeIdenticalTo(Event(early)))
		Expect(queue.Len()).To(Equal(2))
	})
})
