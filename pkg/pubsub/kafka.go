package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	pkglog "github.com/StergiosCha/perpatame/pkg/log"
)

// channelToTopic maps a colon-separated bus channel to a Kafka topic.
//
//	"perpatame:stories" → "perpatame-stories"
func channelToTopic(channel string) (string, error) {
	if channel == "" || strings.ContainsAny(channel, " *") {
		return "", fmt.Errorf("invalid channel: %q", channel)
	}
	return strings.ReplaceAll(channel, ":", "-"), nil
}

type kafkaSubscription struct {
	consumer *kafka.Consumer
	cancel   context.CancelFunc
}

// KafkaPubSub implements PubSub on Kafka topics. Messages are keyed by
// origin instance so one instance's events stay ordered on a partition.
type KafkaPubSub struct {
	producer      *kafka.Producer
	subscriptions map[string]*kafkaSubscription
	config        KafkaConfig
	instanceID    string
	mu            sync.Mutex
	doneCh        chan struct{}
}

// NewKafkaPubSub creates a producer and starts its delivery report loop.
func NewKafkaPubSub(cfg KafkaConfig, instanceID string) (*KafkaPubSub, error) {
	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": cfg.Brokers,
		"acks":              "1",
		"linger.ms":         5,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	kps := &KafkaPubSub{
		producer:      p,
		subscriptions: make(map[string]*kafkaSubscription),
		config:        cfg,
		instanceID:    instanceID,
		doneCh:        make(chan struct{}),
	}

	go kps.deliveryReportHandler()

	return kps, nil
}

// ensureTopic creates topic if it does not exist yet.
func (k *KafkaPubSub) ensureTopic(ctx context.Context, topic string) error {
	admin, err := kafka.NewAdminClientFromProducer(k.producer)
	if err != nil {
		return fmt.Errorf("failed to create admin client: %w", err)
	}
	defer admin.Close()

	partitions := k.config.Partitions
	if partitions <= 0 {
		partitions = 1
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	results, err := admin.CreateTopics(ctx, []kafka.TopicSpecification{{
		Topic:             topic,
		NumPartitions:     partitions,
		ReplicationFactor: 1,
	}})
	if err != nil {
		return fmt.Errorf("failed to create topic %s: %w", topic, err)
	}

	for _, r := range results {
		if r.Error.Code() != kafka.ErrNoError && r.Error.Code() != kafka.ErrTopicAlreadyExists {
			return fmt.Errorf("failed to create topic %s: %w", r.Topic, r.Error)
		}
	}
	return nil
}

func (k *KafkaPubSub) deliveryReportHandler() {
	l := pkglog.L()
	for e := range k.producer.Events() {
		if m, ok := e.(*kafka.Message); ok && m.TopicPartition.Error != nil {
			l.Warn().Err(m.TopicPartition.Error).Msg("kafka pubsub delivery failed")
		}
	}
	close(k.doneCh)
}

// Publish produces the event to the topic derived from channel.
func (k *KafkaPubSub) Publish(ctx context.Context, channel string, event *Event) error {
	topic, err := channelToTopic(channel)
	if err != nil {
		return err
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	err = k.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &topic,
			Partition: kafka.PartitionAny,
		},
		Key:       []byte(event.Origin),
		Value:     data,
		Timestamp: event.Timestamp,
	}, nil)
	if err != nil {
		return fmt.Errorf("failed to produce message: %w", err)
	}
	return nil
}

// Subscribe consumes the channel's topic from the latest offset using a
// consumer group private to this instance.
func (k *KafkaPubSub) Subscribe(ctx context.Context, channel string) (<-chan *Event, error) {
	topic, err := channelToTopic(channel)
	if err != nil {
		return nil, err
	}

	if err := k.ensureTopic(ctx, topic); err != nil {
		l := pkglog.Ctx(ctx)
		l.Warn().Err(err).Str("topic", topic).Msg("kafka topic check failed")
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if existing, ok := k.subscriptions[channel]; ok {
		existing.cancel()
		existing.consumer.Close()
		delete(k.subscriptions, channel)
	}

	groupID := k.config.GroupID
	if groupID == "" {
		groupID = "perpatame"
	}
	groupID = sanitizeGroupID(groupID + "-" + k.instanceID)

	c, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers":       k.config.Brokers,
		"group.id":                groupID,
		"auto.offset.reset":       "latest",
		"enable.auto.commit":      true,
		"auto.commit.interval.ms": 5000,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}

	if err := c.Subscribe(topic, nil); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to subscribe to topic %s: %w", topic, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	eventCh := make(chan *Event, 100)

	k.subscriptions[channel] = &kafkaSubscription{consumer: c, cancel: cancel}

	go k.consumeMessages(subCtx, c, eventCh)

	return eventCh, nil
}

func (k *KafkaPubSub) consumeMessages(ctx context.Context, c *kafka.Consumer, eventCh chan<- *Event) {
	defer close(eventCh)
	l := pkglog.Ctx(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		ev := c.Poll(500)
		if ev == nil {
			continue
		}

		switch e := ev.(type) {
		case *kafka.Message:
			var event Event
			if err := json.Unmarshal(e.Value, &event); err != nil {
				l.Warn().Err(err).Msg("kafka pubsub: undecodable event")
				continue
			}

			select {
			case eventCh <- &event:
			case <-ctx.Done():
				return
			}

		case kafka.Error:
			l.Error().Err(e).Int("code", int(e.Code())).Bool("fatal", e.IsFatal()).Msg("kafka pubsub error")
			if e.IsFatal() {
				return
			}
		}
	}
}

// Unsubscribe stops the consumer for channel.
func (k *KafkaPubSub) Unsubscribe(ctx context.Context, channel string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if sub, ok := k.subscriptions[channel]; ok {
		sub.cancel()
		delete(k.subscriptions, channel)
		if err := sub.consumer.Close(); err != nil {
			return fmt.Errorf("failed to close consumer: %w", err)
		}
	}
	return nil
}

// Close stops all consumers, flushes and closes the producer.
func (k *KafkaPubSub) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()

	for key, sub := range k.subscriptions {
		sub.cancel()
		sub.consumer.Close()
		delete(k.subscriptions, key)
	}

	k.producer.Flush(5000)
	k.producer.Close()
	<-k.doneCh

	return nil
}

var groupIDRegexp = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

func sanitizeGroupID(s string) string {
	return groupIDRegexp.ReplaceAllString(s, "-")
}
