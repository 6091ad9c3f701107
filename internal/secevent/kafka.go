package secevent

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
)

// Writer é o subconjunto de *kafka.Writer usado aqui.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaSink struct {
	w Writer
}

func NewKafkaSink(brokers []string, topic string) (*KafkaSink, error) {
	if len(brokers) == 0 || topic == "" {
		return nil, errors.New("secevent: kafka brokers and topic are required")
	}
	return NewKafkaSinkWithWriter(&kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           50 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}), nil
}

func NewKafkaSinkWithWriter(w Writer) *KafkaSink {
	return &KafkaSink{w: w}
}

// Record publica o evento em JSON; a chave é o IP para manter a ordem por cliente.
func (k *KafkaSink) Record(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return k.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.IP),
		Value: payload,
		Time:  ev.At,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(ev.Kind)},
		},
	})
}

func (k *KafkaSink) Close() error {
	return k.w.Close()
}
