package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("producer", func() {
	Context("write", func() {
		It("writes successfully", func() {
			w := newTestWriter()
			kp := NewEventProducer(w, WithOutputTopic("jobs"))
			defer kp.Close()

			err := kp.PublishJobEvent(context.TODO(), JobCreatedKind, JobEvent{JobID: "job-1", Status: "UPLOADED"})
			Expect(err).To(BeNil())
			err = kp.PublishJobEvent(context.TODO(), JobProcessingKind, JobEvent{JobID: "job-1", Status: "PROCESSING"})
			Expect(err).To(BeNil())

			Eventually(w.Len).Should(Equal(2))
			messages := w.Messages()
			Expect(messages[0].Type()).To(Equal(JobCreatedKind))
			Expect(messages[1].Type()).To(Equal(JobProcessingKind))
			Expect(messages[0].Source()).To(Equal(defaultSource))
			Expect(w.Topics()).To(ConsistOf("jobs", "jobs"))
		})

		It("publishes a job event with the job id as subject", func() {
			w := newTestWriter()
			kp := NewEventProducer(w)
			defer kp.Close()

			err := kp.PublishJobEvent(context.TODO(), JobFailedKind, JobEvent{JobID: "job-1", OwnerID: "admin", Status: "FAILED", Reason: "worker unreachable"})
			Expect(err).To(BeNil())

			Eventually(w.Len).Should(Equal(1))
			e := w.Messages()[0]
			Expect(e.Type()).To(Equal(JobFailedKind))
			Expect(e.Subject()).To(Equal("job-1"))

			var payload JobEvent
			Expect(json.Unmarshal(e.Data(), &payload)).To(Succeed())
			Expect(payload.Status).To(Equal("FAILED"))
			Expect(payload.Reason).To(Equal("worker unreachable"))
		})

		It("keeps going when the writer fails", func() {
			w := newTestWriter()
			w.failKind = JobCompletedKind
			kp := NewEventProducer(w)
			defer kp.Close()

			Expect(kp.PublishJobEvent(context.TODO(), JobCompletedKind, JobEvent{JobID: "job-1"})).To(Succeed())
			Expect(kp.PublishJobEvent(context.TODO(), JobDeletedKind, JobEvent{JobID: "job-1"})).To(Succeed())

			Eventually(w.Len).Should(Equal(1))
			Expect(w.Messages()[0].Type()).To(Equal(JobDeletedKind))
		})
	})

	Context("close", func() {
		It("flushes pending events and closes the writer", func() {
			w := newTestWriter()
			kp := NewEventProducer(w)

			for i := 0; i < 10; i++ {
				Expect(kp.PublishJobEvent(context.TODO(), JobCreatedKind, JobEvent{JobID: fmt.Sprintf("job-%d", i)})).To(Succeed())
			}
			Expect(kp.Close()).To(Succeed())

			Expect(w.Len()).To(Equal(10))
			Expect(w.closed).To(BeTrue())
		})

		It("can be closed twice", func() {
			kp := NewEventProducer(newTestWriter())
			Expect(kp.Close()).To(Succeed())
			Expect(kp.Close()).To(Succeed())
		})
	})
})

type testwriter struct {
	lock     sync.Mutex
	messages []cloudevents.Event
	topics   []string
	failKind string
	closed   bool
}

func newTestWriter() *testwriter {
	return &testwriter{messages: []cloudevents.Event{}}
}

func (t *testwriter) Write(ctx context.Context, topic string, e cloudevents.Event) error {
	t.lock.Lock()
	defer t.lock.Unlock()
	if e.Type() == t.failKind {
		return errors.New("write failed")
	}
	t.messages = append(t.messages, e)
	t.topics = append(t.topics, topic)
	return nil
}

func (t *testwriter) Close(_ context.Context) error {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.closed = true
	return nil
}

func (t *testwriter) Len() int {
	t.lock.Lock()
	defer t.lock.Unlock()
	return len(t.messages)
}

func (t *testwriter) Messages() []cloudevents.Event {
	t.lock.Lock()
	defer t.lock.Unlock()
	return append([]cloudevents.Event{}, t.messages...)
}

func (t *testwriter) Topics() []string {
	t.lock.Lock()
	defer t.lock.Unlock()
	return append([]string{}, t.topics...)
}
