// Package kafka publishes ledger records as JSON events on a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/alanyoungcy/positionbot/internal/domain"
)

// Event types on the ledger topic.
const (
	EventRecord       = "ledger_record"
	EventStatusUpdate = "status_update"
)

// Event is the envelope written for every ledger call.
type Event struct {
	Type      string               `json:"type"`
	Record    *domain.LedgerRecord `json:"record,omitempty"`
	Update    *domain.StatusUpdate `json:"update,omitempty"`
	Timestamp time.Time            `json:"timestamp"`
}

// Config configures the sink.
type Config struct {
	Brokers []string
	Topic   string
	// StatusEvents declares that downstream consumers apply status labels.
	StatusEvents bool
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Sink is a domain.LedgerSink over a kafka-go Writer. Messages are keyed by
// position so one position's events stay ordered within a partition.
type Sink struct {
	cfg    Config
	writer messageWriter
	probe  func(ctx context.Context) (int, error)
	now    func() time.Time
}

// New creates a Sink. The writer connects lazily on first write.
func New(cfg Config) (*Sink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka ledger: no brokers configured")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka ledger: no topic configured")
	}
	s := &Sink{
		cfg: cfg,
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			BatchTimeout: 10 * time.Millisecond,
		},
		now: time.Now,
	}
	s.probe = s.readPartitions
	return s, nil
}

func (s *Sink) Name() string { return "kafka:" + s.cfg.Topic }

// readPartitions dials the first broker and counts the topic partitions.
func (s *Sink) readPartitions(ctx context.Context) (int, error) {
	conn, err := kafka.DialContext(ctx, "tcp", s.cfg.Brokers[0])
	if err != nil {
		return 0, fmt.Errorf("dial %s: %w", s.cfg.Brokers[0], err)
	}
	defer conn.Close()

	partitions, err := conn.ReadPartitions(s.cfg.Topic)
	if err != nil {
		if errors.Is(err, kafka.UnknownTopicOrPartition) {
			return 0, nil
		}
		return 0, fmt.Errorf("read partitions: %w", err)
	}
	return len(partitions), nil
}

// Probe checks that the topic exists.
func (s *Sink) Probe(ctx context.Context) (domain.LedgerCapabilities, error) {
	n, err := s.probe(ctx)
	if err != nil {
		return domain.LedgerCapabilities{}, fmt.Errorf("kafka ledger: probe %s: %w", s.cfg.Topic, err)
	}
	if n == 0 {
		return domain.LedgerCapabilities{}, fmt.Errorf("kafka ledger: topic %s: %w", s.cfg.Topic, domain.ErrNotFound)
	}
	return domain.LedgerCapabilities{StatusField: s.cfg.StatusEvents}, nil
}

func (s *Sink) publish(ctx context.Context, key string, ev Event) error {
	ev.Timestamp = s.now().UTC()
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("kafka ledger: marshal %s: %w", ev.Type, err)
	}
	if err := s.writer.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: data}); err != nil {
		return fmt.Errorf("kafka ledger: write %s: %w", ev.Type, err)
	}
	return nil
}

// Append publishes a ledger_record event.
func (s *Sink) Append(ctx context.Context, rec domain.LedgerRecord) error {
	key := rec.ParentID
	if key == "" {
		key = rec.PositionID
	}
	return s.publish(ctx, key, Event{Type: EventRecord, Record: &rec})
}

// UpdateStatus publishes a status_update event keyed by record id.
func (s *Sink) UpdateStatus(ctx context.Context, upd domain.StatusUpdate) error {
	return s.publish(ctx, upd.RecordID, Event{Type: EventStatusUpdate, Update: &upd})
}

// Close flushes and closes the writer.
func (s *Sink) Close() error { return s.writer.Close() }

var _ domain.LedgerSink = (*Sink)(nil)
