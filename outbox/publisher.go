package outbox

import (
	"context"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

const defaultScanLimit = 256

// Publisher relays pending escrow records to a Kafka topic. It scans the
// source on a fixed interval, publishes each record with full acks, then
// marks it sent. A crash between publish and mark re-publishes on the next
// scan; consumers dedupe on the record ID, which is the result ID.
type Publisher struct {
	source   Source
	producer sarama.SyncProducer
	topic    string
	interval time.Duration
	clock    func() time.Time
	log      *zap.Logger
}

// NewPublisher wires a publisher onto an existing producer.
func NewPublisher(source Source, producer sarama.SyncProducer, topic string, interval time.Duration, log *zap.Logger) *Publisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Publisher{
		source:   source,
		producer: producer,
		topic:    topic,
		interval: interval,
		clock:    time.Now,
		log:      log,
	}
}

// NewProducer builds a SyncProducer with full-acknowledgement settings.
func NewProducer(brokers []string) (sarama.SyncProducer, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	return sarama.NewSyncProducer(brokers, cfg)
}

// Run scans until ctx is cancelled. It drains one final scan on shutdown
// so records settled just before cancellation still go out.
func (p *Publisher) Run(ctx context.Context) error {
	p.log.Info("escrow publisher started",
		zap.String("topic", p.topic),
		zap.Duration("interval", p.interval),
	)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.scanOnce(context.Background())
			p.log.Info("escrow publisher stopped")
			return ctx.Err()
		case <-ticker.C:
			p.scanOnce(ctx)
		}
	}
}

func (p *Publisher) scanOnce(ctx context.Context) {
	records, err := p.source.PendingEscrowEvents(ctx, defaultScanLimit)
	if err != nil {
		p.log.Error("failed on scan pending escrow events", zap.Error(err))
		return
	}

	for _, rec := range records {
		msg := &sarama.ProducerMessage{
			Topic: p.topic,
			Key:   sarama.StringEncoder(rec.ID.String()),
			Value: sarama.ByteEncoder(rec.Payload),
		}
		partition, offset, err := p.producer.SendMessage(msg)
		if err != nil {
			p.log.Error("failed on publish escrow event",
				zap.String("record_id", rec.ID.String()),
				zap.Error(err),
			)
			return // keep ordering; retry the whole tail next scan
		}

		if err := p.source.MarkEscrowEventSent(ctx, rec.ID, p.clock()); err != nil {
			p.log.Error("failed on mark escrow event sent",
				zap.String("record_id", rec.ID.String()),
				zap.Error(err),
			)
			return
		}

		p.log.Info("escrow event published",
			zap.String("record_id", rec.ID.String()),
			zap.Int32("partition", partition),
			zap.Int64("offset", offset),
		)
	}
}
