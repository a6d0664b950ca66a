// Package audit emits events for state changes. Persisting them is someone
// else's job; LeadVault only publishes.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/dharsanguruparan/LeadVault/internal/logger"
)

const (
	OrganizationApproved = "organization.approved"
	OrganizationRejected = "organization.rejected"
	PersonApproved       = "person.approved"
	PersonAssigned       = "person.assigned"
	PersonScheduled      = "person.scheduled"
	AssignmentCreated    = "assignment.created"
	BatchFinished        = "batch.finished"
	SweepFinished        = "sweep.finished"
)

// Event describes one committed change.
type Event struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	SubjectID  string            `json:"subject_id"`
	Actor      string            `json:"actor"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// Emitter publishes events. Implementations must be safe for concurrent use.
type Emitter interface {
	Emit(ctx context.Context, event Event) error
}

func stamp(event *Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
}

// KafkaEmitter writes events as JSON to a single topic, keyed by subject.
type KafkaEmitter struct {
	writer *kafka.Writer
	log    *logger.Logger
}

func NewKafkaEmitter(brokers []string, topic string, log *logger.Logger) *KafkaEmitter {
	return &KafkaEmitter{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.LeastBytes{},
			BatchTimeout:           50 * time.Millisecond,
			RequiredAcks:           kafka.RequireOne,
			AllowAutoTopicCreation: true,
		},
		log: log.With("component", "audit"),
	}
}

func (k *KafkaEmitter) Emit(ctx context.Context, event Event) error {
	stamp(&event)
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(event.SubjectID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
		},
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish audit event: %w", err)
	}
	k.log.Debug("audit event published", "type", event.Type, "subject_id", event.SubjectID)
	return nil
}

func (k *KafkaEmitter) Close() error {
	return k.writer.Close()
}

// NewEmitter publishes to Kafka when brokers are configured and falls back
// to the log otherwise. The returned close func is never nil.
func NewEmitter(brokers []string, topic string, log *logger.Logger) (Emitter, func() error) {
	if len(brokers) == 0 {
		return NewLogEmitter(log), func() error { return nil }
	}
	k := NewKafkaEmitter(brokers, topic, log)
	return k, k.Close
}

// LogEmitter writes events to the structured log. Used when no brokers are
// configured.
type LogEmitter struct {
	log *logger.Logger
}

func NewLogEmitter(log *logger.Logger) *LogEmitter {
	return &LogEmitter{log: log.With("component", "audit")}
}

func (l *LogEmitter) Emit(_ context.Context, event Event) error {
	stamp(&event)
	l.log.Info("audit",
		"event_id", event.ID,
		"type", event.Type,
		"subject_id", event.SubjectID,
		"actor", event.Actor,
		"attributes", event.Attributes,
	)
	return nil
}

// Recorder keeps events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(_ context.Context, event Event) error {
	stamp(&event)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

// Events returns a copy of what was recorded.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Count returns how many events of the given type were recorded.
func (r *Recorder) Count(eventType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}
