package events

import (
	"fmt"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("buffer", func() {
	It("pops in insertion order", func() {
		b := newBuffer()
		for i := 0; i < 3; i++ {
			b.PushBack(&message{Kind: fmt.Sprintf("kind%d", i)})
		}
		Expect(b.Size()).To(Equal(3))

		for i := 0; i < 3; i++ {
			msg := b.Pop()
			Expect(msg).NotTo(BeNil())
			Expect(msg.Kind).To(Equal(fmt.Sprintf("kind%d", i)))
		}
		Expect(b.Pop()).To(BeNil())
		Expect(b.Size()).To(Equal(0))
	})

	It("accepts concurrent pushes", func() {
		b := newBuffer()
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				b.PushBack(&message{Kind: "k"})
			}()
		}
		wg.Wait()
		Expect(b.Size()).To(Equal(50))
	})
})
