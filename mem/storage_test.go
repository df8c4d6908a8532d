package mem

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Storage", func() {
	var storage *Storage

	BeforeEach(func() {
		storage = NewStorage(1 * MB)
	})

	It("should read zeros from untouched memory", func() {
		data, err := storage.Read(0x1000, 8)

		Expect(err).To(BeNil())
		Expect(data).To(Equal(make([]byte, 8)))
	})

	It("should read back written data", func() {
		err := storage.Write(0x2000, []byte{1, 2, 3, 4})
		Expect(err).To(BeNil())

		data, err := storage.Read(0x2000, 4)
		Expect(err).To(BeNil())
		Expect(data).To(Equal([]byte{1, 2, 3, 4}))
	})

	It("should support accesses that cross unit boundaries", func() {
		payload := make([]byte, 8192)
		for i := range payload {
			payload[i] = byte(i)
		}

		err := storage.Write(0x0800, payload)
		Expect(err).To(BeNil())

		data, err := storage.Read(0x0800, 8192)
		Expect(err).To(BeNil())
		Expect(data).To(Equal(payload))
	})

	It("should reject accesses beyond the capacity", func() {
		_, err := storage.Read(2*MB, 4)

		Expect(err).NotTo(BeNil())
	})
})
