package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/google/uuid"

	"github.com/shravanisdakve/NexusAI-sub002/pkg/log"
)

const (
	kafkaPollTimeout  = 500 * time.Millisecond
	kafkaFlushTimeout = 5 * time.Second
)

// route is where a channel lives in Kafka. All rooms share one topic per
// suffix; the room id is the message key so a room stays on one partition.
type route struct {
	topic  string
	roomID string
}

// parseChannel maps "{prefix}:room:{roomID}:{suffix}" onto a route.
//
//	"studyroom:room:R1:fanout" → topic "studyroom-fanout", room "R1"
func parseChannel(channel string) (route, error) {
	parts := strings.Split(channel, ":")
	if len(parts) != 4 || parts[1] != "room" || parts[2] == "" {
		return route{}, fmt.Errorf("invalid channel format: %s", channel)
	}
	return route{
		topic:  parts[0] + "-" + strings.ReplaceAll(parts[3], "_", "-"),
		roomID: parts[2],
	}, nil
}

// parsePattern maps a pattern with a room wildcard onto its topic. Every
// room of the topic is delivered.
func parsePattern(pattern string) (string, error) {
	r, err := parseChannel(strings.Replace(pattern, "*", "any", 1))
	if err != nil {
		return "", err
	}
	return r.topic, nil
}

type kafkaSubscription struct {
	consumer *kafka.Consumer
	cancel   context.CancelFunc
	done     chan struct{}
}

func (s *kafkaSubscription) stop() {
	s.cancel()
	<-s.done
}

// KafkaPubSub implements PubSub on Kafka topics. Each process consumes with
// its own group id, so every instance sees every event of a topic.
type KafkaPubSub struct {
	cfg      KafkaConfig
	member   string
	producer *kafka.Producer
	reports  chan struct{}

	mu     sync.Mutex
	subs   map[string]*kafkaSubscription
	topics map[string]struct{}
}

func NewKafkaPubSub(cfg KafkaConfig) (*KafkaPubSub, error) {
	if cfg.GroupID == "" {
		cfg.GroupID = "studyroom"
	}
	if cfg.Partitions <= 0 {
		cfg.Partitions = 4
	}

	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers":  cfg.Brokers,
		"acks":               "all",
		"linger.ms":          5,
		"enable.idempotence": true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	k := &KafkaPubSub{
		cfg:      cfg,
		member:   sanitizeGroupID(cfg.GroupID + "-" + uuid.NewString()),
		producer: p,
		reports:  make(chan struct{}),
		subs:     make(map[string]*kafkaSubscription),
		topics:   make(map[string]struct{}),
	}
	go k.watchDeliveries()
	return k, nil
}

// watchDeliveries logs failed deliveries until the producer closes.
func (k *KafkaPubSub) watchDeliveries() {
	defer close(k.reports)
	l := log.L()
	for e := range k.producer.Events() {
		switch ev := e.(type) {
		case *kafka.Message:
			if ev.TopicPartition.Error != nil {
				l.Warn().Err(ev.TopicPartition.Error).Str(log.FieldRoomID, string(ev.Key)).Msg("kafka delivery failed")
			}
		case kafka.Error:
			l.Warn().Err(ev).Msg("kafka producer error")
		}
	}
}

// ensureTopic creates topic once per process. An existing topic is fine.
func (k *KafkaPubSub) ensureTopic(ctx context.Context, topic string) error {
	k.mu.Lock()
	_, known := k.topics[topic]
	k.mu.Unlock()
	if known {
		return nil
	}

	admin, err := kafka.NewAdminClientFromProducer(k.producer)
	if err != nil {
		return fmt.Errorf("failed to create kafka admin client: %w", err)
	}
	defer admin.Close()

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	results, err := admin.CreateTopics(ctx, []kafka.TopicSpecification{{
		Topic:             topic,
		NumPartitions:     k.cfg.Partitions,
		ReplicationFactor: 1,
	}})
	if err != nil {
		return fmt.Errorf("failed to create topic %s: %w", topic, err)
	}
	for _, r := range results {
		if code := r.Error.Code(); code != kafka.ErrNoError && code != kafka.ErrTopicAlreadyExists {
			return fmt.Errorf("failed to create topic %s: %s", r.Topic, r.Error.String())
		}
	}

	k.mu.Lock()
	k.topics[topic] = struct{}{}
	k.mu.Unlock()
	return nil
}

// Publish queues event on the room's partition. Delivery is asynchronous;
// failures are logged by watchDeliveries.
func (k *KafkaPubSub) Publish(ctx context.Context, channel string, event *Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r, err := parseChannel(channel)
	if err != nil {
		return err
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	err = k.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &r.topic, Partition: kafka.PartitionAny},
		Key:            []byte(r.roomID),
		Value:          data,
		Timestamp:      event.Timestamp,
	}, nil)
	if err != nil {
		return fmt.Errorf("failed to produce to %s: %w", r.topic, err)
	}
	return nil
}

// Subscribe delivers the events of one room.
func (k *KafkaPubSub) Subscribe(ctx context.Context, channel string) (<-chan *Event, error) {
	r, err := parseChannel(channel)
	if err != nil {
		return nil, err
	}
	return k.consume(ctx, channel, r.topic, r.roomID)
}

// SubscribePattern delivers the events of every room on the pattern's topic.
func (k *KafkaPubSub) SubscribePattern(ctx context.Context, pattern string) (<-chan *Event, error) {
	topic, err := parsePattern(pattern)
	if err != nil {
		return nil, err
	}
	return k.consume(ctx, pattern, topic, "")
}

func (k *KafkaPubSub) consume(ctx context.Context, key, topic, roomID string) (<-chan *Event, error) {
	if err := k.ensureTopic(ctx, topic); err != nil {
		l := log.L()
		l.Warn().Err(err).Str("topic", topic).Msg("kafka topic not created, subscribing anyway")
	}

	c, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers":  k.cfg.Brokers,
		"group.id":           k.member + "-" + sanitizeGroupID(key),
		"auto.offset.reset":  "latest",
		"enable.auto.commit": true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}
	if err := c.Subscribe(topic, nil); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to subscribe to topic %s: %w", topic, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &kafkaSubscription{consumer: c, cancel: cancel, done: make(chan struct{})}

	k.mu.Lock()
	prev := k.subs[key]
	k.subs[key] = sub
	k.mu.Unlock()
	if prev != nil {
		prev.stop()
	}

	out := make(chan *Event, 100)
	go k.read(subCtx, sub, roomID, out)
	return out, nil
}

// read forwards messages of sub to out until ctx ends or a fatal error. It
// owns the consumer and closes it on exit.
func (k *KafkaPubSub) read(ctx context.Context, sub *kafkaSubscription, roomID string, out chan<- *Event) {
	defer func() {
		sub.consumer.Close()
		close(out)
		close(sub.done)
	}()

	l := log.L()
	for ctx.Err() == nil {
		msg, err := sub.consumer.ReadMessage(kafkaPollTimeout)
		if err != nil {
			var kerr kafka.Error
			if errors.As(err, &kerr) {
				if kerr.IsTimeout() {
					continue
				}
				if kerr.IsFatal() {
					l.Error().Err(err).Msg("kafka consumer failed")
					return
				}
			}
			l.Warn().Err(err).Msg("kafka read error")
			continue
		}
		if roomID != "" && string(msg.Key) != roomID {
			continue
		}

		var event Event
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			l.Warn().Err(err).Str("topic", *msg.TopicPartition.Topic).Msg("kafka: dropping malformed event")
			continue
		}

		select {
		case out <- &event:
		case <-ctx.Done():
			return
		default:
			l.Warn().Str(log.FieldRoomID, event.RoomID).Msg("kafka: subscriber buffer full, event dropped")
		}
	}
}

func (k *KafkaPubSub) Unsubscribe(ctx context.Context, channel string) error {
	k.mu.Lock()
	sub, ok := k.subs[channel]
	delete(k.subs, channel)
	k.mu.Unlock()

	if ok {
		sub.stop()
	}
	return nil
}

// Close stops every consumer, then flushes and closes the producer.
func (k *KafkaPubSub) Close() error {
	k.mu.Lock()
	subs := k.subs
	k.subs = make(map[string]*kafkaSubscription)
	k.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}

	var err error
	if left := k.producer.Flush(int(kafkaFlushTimeout / time.Millisecond)); left > 0 {
		err = fmt.Errorf("kafka: %d events not delivered before close", left)
	}
	k.producer.Close()
	<-k.reports
	return err
}

var groupIDRegexp = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// sanitizeGroupID replaces characters Kafka rejects in group ids.
func sanitizeGroupID(s string) string {
	return groupIDRegexp.ReplaceAllString(s, "-")
}
