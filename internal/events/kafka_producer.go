package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/fleet-dispatch/internal/models"
)

// KafkaProducer publishes domain events and driver snapshots. Events key on
// job id and snapshots on driver id so per-entity ordering is preserved
// within a partition.
type KafkaProducer struct {
	events    *kafka.Writer
	snapshots *kafka.Writer
}

func NewKafkaProducer(brokers []string, eventsTopic, snapshotsTopic string) *KafkaProducer {
	return &KafkaProducer{
		events:    kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: eventsTopic, Balancer: &kafka.LeastBytes{}}),
		snapshots: kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: snapshotsTopic, Balancer: &kafka.LeastBytes{}}),
	}
}

func (k *KafkaProducer) Publish(ev Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	b, _ := json.Marshal(ev)
	key := ev.JobID
	if key == "" {
		key = ev.DriverID
	}
	return k.events.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: b})
}

// PublishSnapshot forwards a driver snapshot to the ingest topic consumed by
// the position-index consumer.
func (k *KafkaProducer) PublishSnapshot(d models.Driver) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	b, _ := json.Marshal(d)
	return k.snapshots.WriteMessages(ctx, kafka.Message{Key: []byte(d.ID), Value: b})
}

func (k *KafkaProducer) Close() error {
	var first error
	for _, w := range []*kafka.Writer{k.events, k.snapshots} {
		if w == nil {
			continue
		}
		if err := w.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
