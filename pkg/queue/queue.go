// Package queue carries review jobs from the webhook endpoint to the review
// worker. The default driver is the in-process gochannel pub/sub; brokered
// drivers let workers run out of process.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"prmonitor/internal"
)

// Job is one unit of review work: the triggering event plus any annotations
// the qualification rule extracted from the payload.
type Job struct {
	Event       internal.WebhookEvent `json:"event"`
	Annotations map[string]string     `json:"annotations,omitempty"`
}

// EncodeJob serializes a job for transport.
func EncodeJob(job Job) ([]byte, error) {
	return json.Marshal(job)
}

// DecodeJob parses a job off the wire.
func DecodeJob(payload []byte) (Job, error) {
	var job Job
	if err := json.Unmarshal(payload, &job); err != nil {
		return Job{}, fmt.Errorf("decode review job: %w", err)
	}
	return job, nil
}

// Queue is a publisher/subscriber pair over a single configured driver.
type Queue struct {
	pub     message.Publisher
	sub     message.Subscriber
	shared  bool // pub and sub are one instance (gochannel)
	closeFn func() error
}

// DriverFactory builds the pub/sub pair for a driver. sub may be nil for
// publish-only drivers.
type DriverFactory func(cfg internal.QueueConfig, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber, func() error, error)

var driverFactories = map[string]DriverFactory{}

// RegisterDriver makes a custom queue driver available by name.
func RegisterDriver(name string, factory DriverFactory) {
	if name == "" || factory == nil {
		return
	}
	driverFactories[strings.ToLower(name)] = factory
}

// Open builds the queue for the configured driver.
func Open(cfg internal.QueueConfig) (*Queue, error) {
	logger := watermill.NewStdLogger(false, false)

	driver := strings.ToLower(cfg.Driver)
	if driver == "" {
		driver = "gochannel"
	}

	if factory, ok := driverFactories[driver]; ok {
		pub, sub, closeFn, err := factory(cfg, logger)
		if err != nil {
			return nil, err
		}
		return &Queue{pub: pub, sub: sub, closeFn: closeFn}, nil
	}
	return openBuiltin(cfg, logger, driver)
}

// Publish enqueues a review job.
func (q *Queue) Publish(ctx context.Context, topic string, job Job) error {
	payload, err := EncodeJob(job)
	if err != nil {
		return err
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("event", job.Event.EventType)
	msg.Metadata.Set("repository", job.Event.Repository)
	msg.SetContext(ctx)
	return q.pub.Publish(topic, msg)
}

// Subscribe returns the stream of review jobs for a topic. It fails for
// publish-only drivers.
func (q *Queue) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	if q.sub == nil {
		return nil, errors.New("queue driver is publish-only")
	}
	return q.sub.Subscribe(ctx, topic)
}

// Close shuts down both sides of the queue.
func (q *Queue) Close() error {
	var err error
	if q.pub != nil {
		err = errors.Join(err, q.pub.Close())
	}
	// gochannel shares one instance across pub and sub; avoid double close.
	if q.sub != nil && !q.shared {
		err = errors.Join(err, q.sub.Close())
	}
	if q.closeFn != nil {
		err = errors.Join(err, q.closeFn())
	}
	return err
}
