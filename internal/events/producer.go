package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultTopic  string = "masking.jobs.events"
	defaultSource string = "masking.api"
	closeTimeout         = 5 * time.Second
)

// Writer is the interface to be implemented by the underlying writer.
type Writer interface {
	Write(ctx context.Context, topic string, e cloudevents.Event) error
	Close(ctx context.Context) error
}

// EventProducer is a wrapper around a Writer with the buffer.
// Publishing only appends to the buffer, so a slow writer never blocks the caller.
type EventProducer struct {
	buffer    *buffer
	notifyCh  chan struct{}
	doneCh    chan struct{}
	stoppedCh chan struct{}
	closeOnce sync.Once
	writer    Writer
	topic     string
	source    string
}

func NewEventProducer(w Writer, opts ...ProducerOptions) *EventProducer {
	ep := &EventProducer{
		buffer:    newBuffer(),
		notifyCh:  make(chan struct{}, 1),
		doneCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
		writer:    w,
		topic:     defaultTopic,
		source:    defaultSource,
	}

	for _, o := range opts {
		o(ep)
	}

	go ep.run()
	return ep
}

// PublishJobEvent queues a job lifecycle event keyed by the job id.
func (ep *EventProducer) PublishJobEvent(ctx context.Context, kind string, event JobEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	ep.push(&message{Kind: kind, Subject: event.JobID, Data: data})
	return nil
}

func (ep *EventProducer) push(msg *message) {
	ep.buffer.PushBack(msg)

	// wake the loop up; a pending signal already covers this message
	select {
	case ep.notifyCh <- struct{}{}:
	default:
	}
}

// Close flushes the buffered events and closes the writer.
func (ep *EventProducer) Close() error {
	closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()

	var err error
	ep.closeOnce.Do(func() {
		close(ep.doneCh)

		g, ctx := errgroup.WithContext(closeCtx)
		g.Go(func() error {
			select {
			case <-ep.stoppedCh:
			case <-ctx.Done():
				return ctx.Err()
			}
			return ep.writer.Close(ctx)
		})
		if err = g.Wait(); err != nil {
			zap.S().Named("event_producer").Errorf("event producer closed with error: %s", err)
			return
		}

		zap.S().Named("event_producer").Info("event producer closed")
	})

	return err
}

func (ep *EventProducer) run() {
	defer close(ep.stoppedCh)

	for {
		ep.flush()

		select {
		case <-ep.notifyCh:
		case <-ep.doneCh:
			ep.flush()
			return
		}
	}
}

func (ep *EventProducer) flush() {
	for msg := ep.buffer.Pop(); msg != nil; msg = ep.buffer.Pop() {
		e := cloudevents.NewEvent()
		e.SetID(uuid.NewString())
		e.SetSource(ep.source)
		e.SetType(msg.Kind)
		e.SetTime(time.Now())
		if msg.Subject != "" {
			e.SetSubject(msg.Subject)
		}
		if err := e.SetData(cloudevents.ApplicationJSON, msg.Data); err != nil {
			zap.S().Named("event_producer").Errorw("failed to encode event", "error", err, "kind", msg.Kind)
			continue
		}

		if err := ep.writer.Write(context.TODO(), ep.topic, e); err != nil {
			zap.S().Named("event_producer").Errorw("failed to send message", "error", err, "event", e)
		}
	}
}
