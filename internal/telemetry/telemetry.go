// Package telemetry streams readings and pump transitions to Kafka.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/sweeney/circ-pump/internal/logic"
)

// DefaultTopic is the topic records are written to.
const DefaultTopic = "circpump.telemetry"

// Record kinds.
const (
	KindTemperature = "temperature"
	KindPump        = "pump"
)

// Record is one telemetry entry.
type Record struct {
	Kind      string    `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	BootID    string    `json:"boot_id,omitempty"`

	// Temperature records.
	Channel string   `json:"channel,omitempty"`
	Celsius *float64 `json:"celsius,omitempty"`

	// Pump records.
	Event        string  `json:"event,omitempty"`
	Filtered     int32   `json:"filtered,omitempty"`
	Differential float64 `json:"differential,omitempty"`
	RunSeconds   int64   `json:"run_seconds,omitempty"`
}

// TemperatureRecord builds a record for a channel reading.
func TemperatureRecord(ts time.Time, channel string, t logic.Temperature) Record {
	r := Record{Kind: KindTemperature, Timestamp: ts.UTC(), Channel: channel}
	if t.Present() {
		c := t.Celsius()
		r.Celsius = &c
	}
	return r
}

// PumpRecord builds a record for a pump transition.
func PumpRecord(ts time.Time, e logic.Event) Record {
	return Record{
		Kind:         KindPump,
		Timestamp:    ts.UTC(),
		Event:        string(e.Type),
		Filtered:     e.Filtered,
		Differential: e.Differential.Celsius(),
		RunSeconds:   int64(e.RunTime / 1000),
	}
}

// Sink receives telemetry records.
type Sink interface {
	Send(ctx context.Context, r Record) error
	Close() error
}

// Encode converts a record to a Kafka message. Temperature records are keyed
// by channel so a channel's readings stay ordered within one partition.
func Encode(r Record) (kafka.Message, error) {
	value, err := json.Marshal(r)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode record: %w", err)
	}
	key := r.Kind
	if r.Channel != "" {
		key = r.Channel
	}
	return kafka.Message{Key: []byte(key), Value: value, Time: r.Timestamp}, nil
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink writes records to a Kafka topic.
type KafkaSink struct {
	w      messageWriter
	bootID string
}

// NewKafkaSink creates an asynchronous writer for topic. Delivery failures are
// logged; Send never waits for the brokers.
func NewKafkaSink(brokers []string, topic, bootID string) *KafkaSink {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		BatchTimeout: 250 * time.Millisecond,
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				log.Printf("telemetry: failed to deliver %d records: %v", len(msgs), err)
			}
		},
	}
	return &KafkaSink{w: w, bootID: bootID}
}

// Send queues a record for delivery.
func (s *KafkaSink) Send(ctx context.Context, r Record) error {
	if r.BootID == "" {
		r.BootID = s.bootID
	}
	msg, err := Encode(r)
	if err != nil {
		return err
	}
	if err := s.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write telemetry: %w", err)
	}
	return nil
}

// Close flushes pending records and closes the writer.
func (s *KafkaSink) Close() error {
	return s.w.Close()
}

// Nop discards every record. Used when no brokers are configured.
type Nop struct{}

// Send does nothing.
func (Nop) Send(context.Context, Record) error { return nil }

// Close does nothing.
func (Nop) Close() error { return nil }
