package job

import (
	"context"
	"log"
	"time"

	"posledger/internal/config"
	"posledger/internal/infrastructure/mq"
	"posledger/internal/model"
	"posledger/internal/repository"

	"gorm.io/gorm"
)

// OutboxSender drains pending outbox messages to Kafka. It is the
// fire-and-forget edge of event publishing: settlements commit with their
// events staged, and delivery failures here are retried and eventually
// marked FAILED without ever touching the ledger.
type OutboxSender struct {
	db         *gorm.DB
	producer   *mq.Producer
	outboxRepo *repository.OutboxRepository
	cfg        *config.Config
	interval   time.Duration
	batchSize  int
}

func NewOutboxSender(db *gorm.DB, producer *mq.Producer, cfg *config.Config) *OutboxSender {
	return &OutboxSender{
		db:         db,
		producer:   producer,
		outboxRepo: repository.NewOutboxRepository(db),
		cfg:        cfg,
		interval:   100 * time.Millisecond,
		batchSize:  100,
	}
}

func (s *OutboxSender) Start(ctx context.Context) {
	log.Println("[OutboxSender] started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[OutboxSender] stopped")
			return
		case <-ticker.C:
			s.processPendingMessages(ctx)
		}
	}
}

func (s *OutboxSender) processPendingMessages(ctx context.Context) {
	messages, err := s.outboxRepo.GetPendingMessages(ctx, s.batchSize)
	if err != nil {
		log.Printf("[OutboxSender] fetch pending messages: %v", err)
		return
	}

	for _, msg := range messages {
		s.sendMessage(ctx, msg)
	}
}

func (s *OutboxSender) sendMessage(ctx context.Context, msg *model.OutboxMessage) {
	err := s.producer.Send(msg.Topic, msg.MessageKey, msg.Payload)

	if err == nil {
		if updateErr := s.outboxRepo.UpdateStatus(ctx, msg.ID, model.OutboxStatusSent); updateErr != nil {
			log.Printf("[OutboxSender] mark sent failed: id=%d, err=%v", msg.ID, updateErr)
		}
		return
	}

	log.Printf("[OutboxSender] send failed: id=%d, event=%s, err=%v", msg.ID, msg.EventType, err)

	if msg.RetryCount+1 >= s.cfg.Business.MaxRetryCount {
		if err := s.outboxRepo.MarkAsFailed(ctx, msg.ID); err != nil {
			log.Printf("[OutboxSender] mark failed failed: id=%d, err=%v", msg.ID, err)
		} else {
			log.Printf("[OutboxSender] message exceeded max retries: id=%d", msg.ID)
		}
		return
	}

	if err := s.outboxRepo.IncrementRetryCount(ctx, msg.ID); err != nil {
		log.Printf("[OutboxSender] increment retry count failed: id=%d, err=%v", msg.ID, err)
	}
}
