package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// MessageWriter is the subset of *kafka.Writer the sink needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaWriter builds a writer that keys messages by user so one user's
// events stay ordered within a partition.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
}

// KafkaSink forwards ledger events from the bus to a Kafka topic.
type KafkaSink struct {
	bus    *Bus
	writer MessageWriter
	log    zerolog.Logger
	done   chan struct{}
	start  sync.Once
}

// NewKafkaSink creates a sink; call Start to begin forwarding.
func NewKafkaSink(bus *Bus, writer MessageWriter, log zerolog.Logger) *KafkaSink {
	return &KafkaSink{
		bus:    bus,
		writer: writer,
		log:    log.With().Str("component", "kafka_sink").Logger(),
		done:   make(chan struct{}),
	}
}

// Start subscribes to every ledger topic and writes until ctx is cancelled.
func (k *KafkaSink) Start(ctx context.Context) {
	k.start.Do(func() { k.run(ctx) })
}

func (k *KafkaSink) run(ctx context.Context) {
	stream, unsub := k.bus.Subscribe(1024, LedgerTopics...)
	go func() {
		defer close(k.done)
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-stream:
				if !ok {
					return
				}
				k.forward(ctx, msg)
			}
		}
	}()
	k.log.Info().Msg("kafka sink started")
}

func (k *KafkaSink) forward(ctx context.Context, msg any) {
	ev, ok := msg.(LedgerEvent)
	if !ok {
		return
	}
	body, err := json.Marshal(ev)
	if err != nil {
		k.log.Error().Err(err).Str("type", string(ev.Type)).Msg("marshal event")
		return
	}
	err = k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.UserID),
		Value: body,
		Time:  ev.At,
	})
	if err != nil && ctx.Err() == nil {
		k.log.Error().Err(err).Str("type", string(ev.Type)).Str("entity_id", ev.EntityID).Msg("write event")
	}
}

// Close waits for the forwarding loop to stop (its context must already be
// cancelled) and closes the writer.
func (k *KafkaSink) Close() error {
	k.start.Do(func() { close(k.done) })
	<-k.done
	return k.writer.Close()
}
