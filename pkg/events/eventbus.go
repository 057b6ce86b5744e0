package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/canvasflow/engine/pkg/logger"
)

// Event is the envelope published on every state change of an
// execution or one of its nodes.
type Event struct {
	ID          string                 `json:"id"`
	Type        string                 `json:"type"`
	ExecutionID string                 `json:"executionId"`
	WorkflowID  string                 `json:"workflowId"`
	NodeID      string                 `json:"nodeId,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
	Payload     map[string]interface{} `json:"payload"`
}

type EventHandler func(ctx context.Context, event Event) error

type EventBus interface {
	Publish(ctx context.Context, event Event) error
	Subscribe(eventType string, handler EventHandler) error
	Close() error
}

// Execution lifecycle event types.
const (
	ExecutionQueued    = "execution.queued"
	ExecutionStarted   = "execution.started"
	ExecutionPaused    = "execution.paused"
	ExecutionResumed   = "execution.resumed"
	ExecutionCompleted = "execution.completed"
	ExecutionFailed    = "execution.failed"
	ExecutionCancelled = "execution.cancelled"

	NodeStarted   = "node.started"
	NodeCompleted = "node.completed"
	NodeFailed    = "node.failed"
	NodeSkipped   = "node.skipped"
	NodeRetried   = "node.retried"

	ApprovalRequested = "approval.requested"
	ApprovalResolved  = "approval.resolved"
)

// EventBuilder assembles an Event with an id and timestamp filled in.
type EventBuilder struct {
	event Event
}

func NewEventBuilder(eventType string) *EventBuilder {
	return &EventBuilder{
		event: Event{
			ID:        uuid.New().String(),
			Type:      eventType,
			Timestamp: time.Now().UTC(),
			Payload:   make(map[string]interface{}),
		},
	}
}

func (b *EventBuilder) WithExecutionID(id string) *EventBuilder {
	b.event.ExecutionID = id
	return b
}

func (b *EventBuilder) WithWorkflowID(id string) *EventBuilder {
	b.event.WorkflowID = id
	return b
}

func (b *EventBuilder) WithNodeID(id string) *EventBuilder {
	b.event.NodeID = id
	return b
}

func (b *EventBuilder) WithPayload(key string, value interface{}) *EventBuilder {
	b.event.Payload[key] = value
	return b
}

func (b *EventBuilder) Build() Event {
	return b.event
}

type KafkaConfig struct {
	Brokers       []string
	Topic         string
	ConsumerGroup string
}

// KafkaEventBus publishes events to a single topic, keyed by execution
// id so events for one execution stay ordered within a partition.
type KafkaEventBus struct {
	config   KafkaConfig
	writer   *kafka.Writer
	readers  []*kafka.Reader
	mu       sync.Mutex
	log      logger.Logger
	cancelFn context.CancelFunc
	ctx      context.Context
}

func NewKafkaEventBus(config KafkaConfig, log logger.Logger) *KafkaEventBus {
	writer := kafka.NewWriter(kafka.WriterConfig{
		Brokers:      config.Brokers,
		Topic:        config.Topic,
		Balancer:     &kafka.LeastBytes{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	return &KafkaEventBus{
		config:   config,
		writer:   writer,
		log:      log,
		ctx:      ctx,
		cancelFn: cancel,
	}
}

func (k *KafkaEventBus) Publish(ctx context.Context, event Event) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	return k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.ExecutionID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(event.Type)},
		},
	})
}

// Subscribe consumes the bus topic and invokes handler for events of
// the given type. An empty eventType matches everything.
func (k *KafkaEventBus) Subscribe(eventType string, handler EventHandler) error {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     k.config.Brokers,
		Topic:       k.config.Topic,
		GroupID:     k.config.ConsumerGroup,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafka.LastOffset,
		MaxWait:     time.Second,
	})

	k.mu.Lock()
	k.readers = append(k.readers, reader)
	k.mu.Unlock()

	go k.consume(reader, eventType, handler)
	return nil
}

func (k *KafkaEventBus) consume(reader *kafka.Reader, eventType string, handler EventHandler) {
	for {
		msg, err := reader.ReadMessage(k.ctx)
		if err != nil {
			if k.ctx.Err() != nil {
				return
			}
			k.log.Warn("event read failed", "error", err)
			time.Sleep(time.Second)
			continue
		}

		var event Event
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			k.log.Warn("event decode failed", "error", err)
			continue
		}
		if eventType != "" && event.Type != eventType {
			continue
		}

		if err := handler(k.ctx, event); err != nil {
			k.log.Error("event handler failed", "type", event.Type, "error", err)
		}
	}
}

func (k *KafkaEventBus) Close() error {
	k.cancelFn()
	if err := k.writer.Close(); err != nil {
		return fmt.Errorf("close writer: %w", err)
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	for _, reader := range k.readers {
		if err := reader.Close(); err != nil {
			return fmt.Errorf("close reader: %w", err)
		}
	}
	return nil
}
