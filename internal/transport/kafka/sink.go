package kafka

import (
	"fmt"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/k-code-yt/gogo-lamp/internal/payment/domain"
	"github.com/sirupsen/logrus"
)

const flushTimeoutMs = 5000

type producer interface {
	Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error
	Events() chan kafka.Event
	Flush(timeoutMs int) int
	Close()
}

// Sink is a hub session that republishes every payment event to a
// Kafka topic, keyed by payment id.
type Sink struct {
	id       string
	topic    string
	producer producer
	encoder  Encoder
	doneCH   chan struct{}
}

func NewSink(brokers, topic string, encoder Encoder) (*Sink, error) {
	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": brokers,
		"acks":              "all",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	return newSink(p, topic, encoder), nil
}

func newSink(p producer, topic string, encoder Encoder) *Sink {
	s := &Sink{
		id:       fmt.Sprintf("kafka:%s", topic),
		topic:    topic,
		producer: p,
		encoder:  encoder,
		doneCH:   make(chan struct{}),
	}
	go s.deliveryReportLoop()
	return s
}

func (s *Sink) ID() string {
	return s.id
}

func (s *Sink) Send(e *domain.PaymentEvent) error {
	value, err := s.encoder.Encode(e)
	if err != nil {
		return err
	}
	return s.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &s.topic, Partition: kafka.PartitionAny},
		Key:            []byte(e.PaymentID),
		Value:          value,
		Headers:        []kafka.Header{{Key: "encoding", Value: []byte(s.encoder.GetType())}},
	}, nil)
}

func (s *Sink) deliveryReportLoop() {
	defer close(s.doneCH)
	for e := range s.producer.Events() {
		switch ev := e.(type) {
		case *kafka.Message:
			if ev.TopicPartition.Error != nil {
				logrus.WithFields(logrus.Fields{
					"TOPIC_PRTN": ev.TopicPartition,
					"key":        string(ev.Key),
				}).Errorf("delivery failed: %v", ev.TopicPartition.Error)
				continue
			}
			logrus.WithFields(logrus.Fields{
				"TOPIC_PRTN": ev.TopicPartition,
				"key":        string(ev.Key),
			}).Debug("delivery success")
		case kafka.Error:
			logrus.Errorf("kafka producer error: %v", ev)
		}
	}
}

// Close flushes outstanding messages and stops the delivery loop.
func (s *Sink) Close() {
	if left := s.producer.Flush(flushTimeoutMs); left > 0 {
		logrus.WithField("topic", s.topic).Warnf("%d messages not delivered before close", left)
	}
	s.producer.Close()
	<-s.doneCH
}
