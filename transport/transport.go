// Package transport implements the distributed, point-to-point byte-stream
// collaborator SPEC_FULL.md keeps outside the core engine: it hands a
// serialized value produced in one process to another, and nothing in the
// graphflow, internal/rtqueue, internal/rtnode, or internal/pool packages
// imports it.
//
// It is built on github.com/twmb/franz-go, the teacher's core domain
// dependency, the same way the teacher's worker.go builds a kgo.Client -
// generalized from "one client per Kafka consumer-group worker" into "one
// client per transport Endpoint".
package transport

import (
	"context"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/birdayz/graphflow/kserde"
)

// Endpoint is a point-to-point byte-stream connection to a single broker
// set, addressed by label (used as the Kafka topic name under the hood -
// an implementation detail the caller never needs to know).
type Endpoint struct {
	client *kgo.Client
}

// NewEndpoint dials brokers. The caller owns the returned Endpoint's
// lifetime and must call Close.
func NewEndpoint(brokers []string) (*Endpoint, error) {
	client, err := kgo.NewClient(kgo.SeedBrokers(brokers...))
	if err != nil {
		return nil, fmt.Errorf("transport: dial: %w", err)
	}
	return &Endpoint{client: client}, nil
}

// Close releases the underlying client.
func (e *Endpoint) Close() {
	e.client.Close()
}

// Send transmits b to dest, blocking until the broker has acknowledged it.
func (e *Endpoint) Send(ctx context.Context, dest string, b []byte) error {
	results := e.client.ProduceSync(ctx, &kgo.Record{Topic: dest, Value: b})
	return results.FirstErr()
}

// TryRecv polls label once without blocking past ctx's deadline. It returns
// ok == false with a nil error if the poll comes back with no record; if ctx
// ends first, the poll's context error is returned.
func (e *Endpoint) TryRecv(ctx context.Context, label string) ([]byte, bool, error) {
	e.client.AddConsumeTopics(label)
	fetches := e.client.PollFetches(ctx)
	if errs := fetches.Errors(); len(errs) > 0 {
		return nil, false, fmt.Errorf("transport: recv: %w", errs[0].Err)
	}
	it := fetches.RecordIter()
	if it.Done() {
		return nil, false, nil
	}
	return it.Next().Value, true, nil
}

// SendValue serializes v with ser and sends it, a thin convenience wrapper
// over Send matching the teacher's kserde.Serializer[T] function-type
// pattern.
func SendValue[T any](ctx context.Context, e *Endpoint, dest string, ser kserde.Serializer[T], v T) error {
	b, err := ser(v)
	if err != nil {
		return fmt.Errorf("transport: serialize: %w", err)
	}
	return e.Send(ctx, dest, b)
}

// TryRecvValue polls label and deserializes the next value with deser.
func TryRecvValue[T any](ctx context.Context, e *Endpoint, label string, deser kserde.Deserializer[T]) (T, bool, error) {
	var zero T
	b, ok, err := e.TryRecv(ctx, label)
	if err != nil || !ok {
		return zero, ok, err
	}
	v, err := deser(b)
	if err != nil {
		return zero, false, fmt.Errorf("transport: deserialize: %w", err)
	}
	return v, true, nil
}
