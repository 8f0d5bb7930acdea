package handoff

import (
	"context"
	"errors"
	"fmt"

	"github.com/IBM/sarama"
)

// KafkaConfig names the topic partition the handoff travels through.
type KafkaConfig struct {
	Brokers   []string
	Topic     string
	Partition int32

	// Offset is "oldest" or "newest"; consumers only.
	Offset string
}

// KafkaPublisher sends records synchronously, keyed by filename.
type KafkaPublisher struct {
	topic     string
	partition int32
	p         sarama.SyncProducer
}

// NewKafkaPublisher connects a sync producer that waits for all in-sync
// replicas.
func NewKafkaPublisher(cfg KafkaConfig) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, errors.New("handoff: kafka needs brokers and a topic")
	}
	sc := sarama.NewConfig()
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Return.Successes = true
	sc.Producer.Partitioner = sarama.NewManualPartitioner

	p, err := sarama.NewSyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("handoff: kafka producer: %w", err)
	}
	return newKafkaPublisher(p, cfg.Topic, cfg.Partition), nil
}

func newKafkaPublisher(p sarama.SyncProducer, topic string, partition int32) *KafkaPublisher {
	return &KafkaPublisher{topic: topic, partition: partition, p: p}
}

// Publish sends r and waits for the broker ack.
func (k *KafkaPublisher) Publish(ctx context.Context, r Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := Marshal(r)
	if err != nil {
		return err
	}
	_, _, err = k.p.SendMessage(&sarama.ProducerMessage{
		Topic:     k.topic,
		Partition: k.partition,
		Key:       sarama.StringEncoder(r.Filename),
		Value:     sarama.ByteEncoder(b),
	})
	if err != nil {
		return fmt.Errorf("handoff: kafka send: %w", err)
	}
	return nil
}

func (k *KafkaPublisher) Close() error { return k.p.Close() }

// KafkaConsumer reads one record per Receive from a single partition.
type KafkaConsumer struct {
	cfg KafkaConfig
	c   sarama.Consumer
	pc  sarama.PartitionConsumer
}

// NewKafkaConsumer connects a partition consumer.
func NewKafkaConsumer(cfg KafkaConfig) (*KafkaConsumer, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, errors.New("handoff: kafka needs brokers and a topic")
	}
	sc := sarama.NewConfig()
	sc.Consumer.Return.Errors = true

	c, err := sarama.NewConsumer(cfg.Brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("handoff: kafka consumer: %w", err)
	}
	return newKafkaConsumer(c, cfg), nil
}

func newKafkaConsumer(c sarama.Consumer, cfg KafkaConfig) *KafkaConsumer {
	return &KafkaConsumer{cfg: cfg, c: c}
}

func startOffset(s string) int64 {
	if s == "newest" {
		return sarama.OffsetNewest
	}
	return sarama.OffsetOldest
}

// Receive blocks until a message arrives or ctx ends. A message that does not
// decode is an error; the next Receive moves past it.
func (k *KafkaConsumer) Receive(ctx context.Context) (Record, error) {
	if k.pc == nil {
		pc, err := k.c.ConsumePartition(k.cfg.Topic, k.cfg.Partition, startOffset(k.cfg.Offset))
		if err != nil {
			return Record{}, fmt.Errorf("handoff: consume %s/%d: %w", k.cfg.Topic, k.cfg.Partition, err)
		}
		k.pc = pc
	}

	select {
	case <-ctx.Done():
		return Record{}, ctx.Err()
	case cerr, ok := <-k.pc.Errors():
		if !ok {
			return Record{}, errors.New("handoff: kafka consumer closed")
		}
		return Record{}, fmt.Errorf("handoff: kafka: %w", cerr)
	case msg, ok := <-k.pc.Messages():
		if !ok {
			return Record{}, errors.New("handoff: kafka consumer closed")
		}
		r, err := Unmarshal(msg.Value)
		if err != nil {
			return Record{}, fmt.Errorf("offset %d: %w", msg.Offset, err)
		}
		return r, nil
	}
}

func (k *KafkaConsumer) Close() error {
	var err error
	if k.pc != nil {
		err = k.pc.Close()
	}
	if cerr := k.c.Close(); err == nil {
		err = cerr
	}
	return err
}
