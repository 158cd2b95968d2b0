package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/inventory/internal/domain"
	"github.com/vladislavdragonenkov/inventory/internal/messaging/kafka"
)

// dlqValue собирает запись DLQ в том виде, в каком её пишут outbox worker и DLQ-паблишер.
func dlqValue(t *testing.T, outboxID, orderID, eventType string, original any) []byte {
	t.Helper()

	originalRaw, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("marshal original: %v", err)
	}
	letter := domain.NewDeadLetter(domain.OutboxMessage{
		ID:            outboxID,
		AggregateType: kafka.AggregateOrder,
		AggregateID:   orderID,
		EventType:     eventType,
		Payload:       originalRaw,
	}, errors.New("kafka: broker not available"), 3, time.Now())
	letterRaw, err := json.Marshal(letter)
	if err != nil {
		t.Fatalf("marshal dead letter: %v", err)
	}
	raw, err := json.Marshal(kafka.Envelope{
		ID:            outboxID,
		AggregateType: kafka.AggregateOrder,
		AggregateID:   orderID,
		EventType:     eventType,
		Payload:       letterRaw,
		PublishedAt:   time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("marshal dlq value: %v", err)
	}
	return raw
}

func TestParseConfig(t *testing.T) {
	env := func(key string) string {
		if key == brokersEnv {
			return "env-broker:9092"
		}
		return ""
	}

	cfg, err := parseConfig([]string{"-limit=5", "-execute", "-idle-timeout=1s"}, env)
	if err != nil {
		t.Fatalf("parseConfig: %v", err)
	}
	if len(cfg.brokers) != 1 || cfg.brokers[0] != "env-broker:9092" {
		t.Fatalf("expected brokers from env, got %+v", cfg.brokers)
	}
	if cfg.sourceTopic != kafka.TopicDeadLetterQueue || cfg.targetTopic != kafka.TopicOrderEvents {
		t.Fatalf("unexpected default topics: %+v", cfg)
	}
	if cfg.limit != 5 || !cfg.execute || cfg.idleTimeout != time.Second {
		t.Fatalf("unexpected config: %+v", cfg)
	}

	cfg, err = parseConfig([]string{"-brokers=a:1,b:2"}, env)
	if err != nil {
		t.Fatalf("parseConfig: %v", err)
	}
	if len(cfg.brokers) != 2 {
		t.Fatalf("flag must win over env, got %+v", cfg.brokers)
	}
}

func TestParseConfig_ValidationErrors(t *testing.T) {
	noEnv := func(string) string { return "" }
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{name: "no brokers", args: nil, wantErr: "kafka brokers are required"},
		{name: "empty source", args: []string{"-brokers=b:1", "-source-topic= "}, wantErr: "source-topic is required"},
		{name: "same topics", args: []string{"-brokers=b:1", "-source-topic=x", "-target-topic=x"}, wantErr: "must differ"},
		{name: "zero limit", args: []string{"-brokers=b:1", "-limit=0"}, wantErr: "limit must be > 0"},
		{name: "zero idle", args: []string{"-brokers=b:1", "-idle-timeout=0s"}, wantErr: "idle-timeout must be > 0"},
		{name: "unknown flag", args: []string{"-dry"}, wantErr: "flag provided but not defined"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := parseConfig(tc.args, noEnv)
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestDecodeDLQMessage(t *testing.T) {
	value := dlqValue(t, "outbox-1", "order-1", "order.cancelled", map[string]any{"status": "CANCELLED"})

	event, publishErr, err := decodeDLQMessage(value)
	if err != nil {
		t.Fatalf("decodeDLQMessage: %v", err)
	}
	if event.ID != "outbox-1" || event.AggregateID != "order-1" || event.EventType != "order.cancelled" {
		t.Fatalf("unexpected event: %+v", event)
	}
	if string(event.Payload) != `{"status":"CANCELLED"}` {
		t.Fatalf("original payload must be restored, got %s", event.Payload)
	}
	if publishErr != "kafka: broker not available" {
		t.Fatalf("unexpected publish error: %q", publishErr)
	}
}

func TestDecodeDLQMessage_Rejects(t *testing.T) {
	tests := map[string]string{
		"not json":          `nope`,
		"no payload":        `{"id":"o-1","aggregate_type":"order"}`,
		"no original":       `{"id":"o-1","aggregate_type":"order","payload":{"outbox_id":"o-1"}}`,
		"foreign aggregate": `{"id":"o-1","aggregate_type":"payment","payload":{"aggregate_type":"payment","payload":{"a":1}}}`,
	}
	for name, value := range tests {
		t.Run(name, func(t *testing.T) {
			if _, _, err := decodeDLQMessage([]byte(value)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestReplay_DryRunDoesNotPublish(t *testing.T) {
	r, consumer := newTestReplayer(t, false, nil, []*sarama.ConsumerMessage{
		{Partition: 0, Offset: 0, Value: dlqValue(t, "o-1", "order-1", "order.created", map[string]any{"n": 1})},
		{Partition: 0, Offset: 1, Value: []byte(`garbage`)},
	})

	stats, err := r.replay(context.Background())
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if stats.processed != 2 || stats.replayed != 1 || stats.skipped != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if len(consumer.calls) != 1 || consumer.calls[0].offset != 0 {
		t.Fatalf("unexpected consume calls: %+v", consumer.calls)
	}
}

func TestReplay_ExecutePublishesOriginalEvent(t *testing.T) {
	publisher := &stubPublisher{}
	r, _ := newTestReplayer(t, true, publisher, []*sarama.ConsumerMessage{
		{Partition: 0, Offset: 0, Value: dlqValue(t, "o-1", "order-1", "order.completed", map[string]any{"status": "COMPLETED"})},
	})

	stats, err := r.replay(context.Background())
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if stats.replayed != 1 {
		t.Fatalf("expected one replayed message, got %+v", stats)
	}
	if len(publisher.events) != 1 {
		t.Fatalf("expected one published event, got %d", len(publisher.events))
	}
	got := publisher.events[0]
	if got.ID != "o-1" || got.AggregateID != "order-1" || string(got.Payload) != `{"status":"COMPLETED"}` {
		t.Fatalf("unexpected published event: %+v", got)
	}
}

func TestReplay_PublishFailureStops(t *testing.T) {
	publisher := &stubPublisher{err: errors.New("broker down")}
	r, _ := newTestReplayer(t, true, publisher, []*sarama.ConsumerMessage{
		{Partition: 0, Offset: 0, Value: dlqValue(t, "o-1", "order-1", "order.created", map[string]any{})},
	})

	_, err := r.replay(context.Background())
	if !errors.Is(err, errPublish) {
		t.Fatalf("expected publish error, got %v", err)
	}
}

func TestReplay_ExecuteRequiresPublisher(t *testing.T) {
	r, _ := newTestReplayer(t, true, nil, nil)
	if _, err := r.replay(context.Background()); err == nil {
		t.Fatal("expected error without publisher")
	}
}

func TestReplay_RespectsLimitAcrossPartitions(t *testing.T) {
	client := &stubOffsetClient{
		partitions: []int32{1, 0},
		offsets: map[int32]offsetRange{
			0: {oldest: 0, newest: 2},
			1: {oldest: 0, newest: 2},
		},
	}
	msgs := func(p int32) []*sarama.ConsumerMessage {
		return []*sarama.ConsumerMessage{
			{Partition: p, Offset: 0, Value: dlqValue(t, fmt.Sprintf("o-%d-0", p), "order", "order.created", map[string]any{})},
			{Partition: p, Offset: 1, Value: dlqValue(t, fmt.Sprintf("o-%d-1", p), "order", "order.created", map[string]any{})},
		}
	}
	consumer := &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{
		0: closedPartitionConsumer(msgs(0)),
		1: closedPartitionConsumer(msgs(1)),
	}}
	r := &replayer{
		cfg:      config{sourceTopic: "dlq", targetTopic: "events", limit: 3, idleTimeout: 50 * time.Millisecond},
		client:   client,
		consumer: consumer,
		logger:   log.WithField("test", "dlq"),
	}

	stats, err := r.replay(context.Background())
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if stats.processed != 3 {
		t.Fatalf("expected limit of 3 processed, got %+v", stats)
	}
	if len(consumer.calls) != 2 || consumer.calls[0].partition != 0 {
		t.Fatalf("partitions must be scanned in order, got %+v", consumer.calls)
	}
}

func TestReplayPartition_FromNewestAndErrors(t *testing.T) {
	client := &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 10, newest: 20}}}
	consumer := &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{0: closedPartitionConsumer(nil)}}
	r := &replayer{
		cfg:      config{sourceTopic: "dlq", fromNewest: true, idleTimeout: 20 * time.Millisecond},
		client:   client,
		consumer: consumer,
		logger:   log.WithField("test", "dlq"),
	}

	if _, err := r.replayPartition(context.Background(), 0, 4); err != nil {
		t.Fatalf("replayPartition: %v", err)
	}
	if consumer.calls[0].offset != 16 {
		t.Fatalf("expected start offset 16, got %d", consumer.calls[0].offset)
	}

	r.client = &stubOffsetClient{offsetErr: map[int32]error{0: errors.New("offset")}}
	if _, err := r.replayPartition(context.Background(), 0, 4); err == nil {
		t.Fatal("expected offset error")
	}

	r.client = client
	r.consumer = &stubPartitionConsumerSource{consumeErr: errors.New("consume")}
	if _, err := r.replayPartition(context.Background(), 0, 4); err == nil {
		t.Fatal("expected consume error")
	}
}

func TestReplayPartition_ContextCancelled(t *testing.T) {
	pc := &stubPartitionConsumer{
		messages: make(chan *sarama.ConsumerMessage),
		errors:   make(chan *sarama.ConsumerError),
	}
	r := &replayer{
		cfg:      config{sourceTopic: "dlq", idleTimeout: time.Minute},
		client:   &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 0, newest: 5}}},
		consumer: &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{0: pc}},
		logger:   log.WithField("test", "dlq"),
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := r.replayPartition(ctx, 0, 5); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if !pc.closed {
		t.Fatal("partition consumer must be closed")
	}
}

func newTestReplayer(t *testing.T, execute bool, publisher domain.OutboxPublisher, messages []*sarama.ConsumerMessage) (*replayer, *stubPartitionConsumerSource) {
	t.Helper()

	consumer := &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{
		0: closedPartitionConsumer(messages),
	}}
	r := &replayer{
		cfg: config{
			sourceTopic: kafka.TopicDeadLetterQueue,
			targetTopic: kafka.TopicOrderEvents,
			limit:       100,
			execute:     execute,
			idleTimeout: 50 * time.Millisecond,
		},
		client:   &stubOffsetClient{partitions: []int32{0}, offsets: map[int32]offsetRange{0: {oldest: 0, newest: int64(len(messages))}}},
		consumer: consumer,
		logger:   log.WithField("test", "dlq"),
	}
	if publisher != nil {
		r.publisher = publisher
	}
	return r, consumer
}

type stubPublisher struct {
	mu     sync.Mutex
	err    error
	events []domain.OutboxMessage
}

func (s *stubPublisher) Publish(_ context.Context, event domain.OutboxMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, event)
	return nil
}

type offsetRange struct {
	oldest int64
	newest int64
}

type stubOffsetClient struct {
	partitions []int32
	offsets    map[int32]offsetRange
	offsetErr  map[int32]error
}

func (s *stubOffsetClient) GetOffset(_ string, partition int32, marker int64) (int64, error) {
	if err, ok := s.offsetErr[partition]; ok {
		return 0, err
	}
	r := s.offsets[partition]
	switch marker {
	case sarama.OffsetOldest:
		return r.oldest, nil
	case sarama.OffsetNewest:
		return r.newest, nil
	default:
		return 0, fmt.Errorf("unsupported marker %d", marker)
	}
}

func (s *stubOffsetClient) Partitions(string) ([]int32, error) {
	return append([]int32(nil), s.partitions...), nil
}

func (s *stubOffsetClient) Close() error { return nil }

type consumeCall struct {
	partition int32
	offset    int64
}

type stubPartitionConsumerSource struct {
	consumers  map[int32]partitionConsumer
	consumeErr error
	calls      []consumeCall
}

func (s *stubPartitionConsumerSource) ConsumePartition(_ string, partition int32, offset int64) (partitionConsumer, error) {
	s.calls = append(s.calls, consumeCall{partition: partition, offset: offset})
	if s.consumeErr != nil {
		return nil, s.consumeErr
	}
	pc, ok := s.consumers[partition]
	if !ok {
		return nil, fmt.Errorf("partition %d not configured", partition)
	}
	return pc, nil
}

func (s *stubPartitionConsumerSource) Close() error { return nil }

type stubPartitionConsumer struct {
	messages chan *sarama.ConsumerMessage
	errors   chan *sarama.ConsumerError
	closed   bool
}

func (s *stubPartitionConsumer) Messages() <-chan *sarama.ConsumerMessage { return s.messages }
func (s *stubPartitionConsumer) Errors() <-chan *sarama.ConsumerError     { return s.errors }
func (s *stubPartitionConsumer) Close() error {
	s.closed = true
	return nil
}

func closedPartitionConsumer(messages []*sarama.ConsumerMessage) *stubPartitionConsumer {
	msgCh := make(chan *sarama.ConsumerMessage, len(messages))
	errCh := make(chan *sarama.ConsumerError)
	for _, msg := range messages {
		msgCh <- msg
	}
	close(msgCh)
	close(errCh)
	return &stubPartitionConsumer{messages: msgCh, errors: errCh}
}
