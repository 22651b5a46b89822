// Package publish delivers accepted sensor records to the message bus.
//
// Delivery is best effort: sinks never wait for broker acknowledgement and
// nothing is persisted for retry. Async decouples the serial supervisor from
// the sink so a slow or disconnected broker cannot stall ingestion.
package publish

import (
	"context"
	"errors"

	"github.com/bytedance/sonic"

	"github.com/banshee-data/sensorbridge/internal/monitoring"
	"github.com/banshee-data/sensorbridge/internal/record"
)

// Sink accepts validated records.
type Sink interface {
	Publish(ctx context.Context, rec record.Record) error
	Close() error
}

// Payload encodes rec as the JSON object published on the bus:
// {"temperature":23.5,"humidity":61.2}.
func Payload(rec record.Record) ([]byte, error) {
	return sonic.Marshal(rec)
}

// Multi publishes every record to each sink in turn.
type Multi []Sink

func (m Multi) Publish(ctx context.Context, rec record.Record) error {
	var errs []error
	for _, s := range m {
		if err := s.Publish(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogSink writes records to the log. It stands in for the broker in dev mode.
type LogSink struct {
	Topic string
}

func (l LogSink) Publish(_ context.Context, rec record.Record) error {
	payload, err := Payload(rec)
	if err != nil {
		return err
	}
	monitoring.Logf("[publish] %s %s", l.Topic, payload)
	return nil
}

func (LogSink) Close() error { return nil }
