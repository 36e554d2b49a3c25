package outbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vaidashi/courier-lifecycle/internal/models"
	"github.com/vaidashi/courier-lifecycle/internal/repository"
	"github.com/vaidashi/courier-lifecycle/pkg/logger"
)

// MessageHandler defines the interface for handling outbox messages
type MessageHandler interface {
	HandleMessage(ctx context.Context, message *models.OutboxMessage) error
}

// Processor delivers committed outbox messages to their handlers
type Processor struct {
	store           repository.OutboxStore
	handlers        map[string]MessageHandler
	pollingInterval time.Duration
	batchSize       int
	maxRetries      int
	lease           time.Duration
	now             func() time.Time
	logger          logger.Logger
	ctx             context.Context
	cancel          context.CancelFunc
	wg              sync.WaitGroup
	running         bool
	mu              sync.Mutex
}

// ProcessorConfig holds the configuration for the Processor
type ProcessorConfig struct {
	PollingInterval time.Duration
	BatchSize       int
	MaxRetries      int
	// ProcessingLease is how long a claimed message may stay in processing before it is reclaimed.
	ProcessingLease time.Duration
}

// BatchResult counts what one polling pass did
type BatchResult struct {
	Reclaimed int
	Delivered int
	Retried   int
	Failed    int
}

// NewProcessor creates a new Processor
func NewProcessor(store repository.OutboxStore, config ProcessorConfig, logger logger.Logger) *Processor {
	if config.PollingInterval <= 0 {
		config.PollingInterval = time.Second
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 50
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 5
	}
	if config.ProcessingLease <= 0 {
		config.ProcessingLease = time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Processor{
		store:           store,
		handlers:        make(map[string]MessageHandler),
		pollingInterval: config.PollingInterval,
		batchSize:       config.BatchSize,
		maxRetries:      config.MaxRetries,
		lease:           config.ProcessingLease,
		now:             time.Now,
		logger:          logger,
		ctx:             ctx,
		cancel:          cancel,
	}
}

// RegisterHandler registers a message handler for a specific event type
func (p *Processor) RegisterHandler(eventType string, handler MessageHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.handlers[eventType] = handler
}

// Start starts the polling loop
func (p *Processor) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return
	}

	p.running = true
	p.wg.Add(1)

	go func() {
		defer p.wg.Done()
		p.loop()
	}()

	p.logger.Info("Outbox processor started",
		"pollingInterval", p.pollingInterval,
		"batchSize", p.batchSize)
}

// Stop stops the polling loop and waits for the current batch
func (p *Processor) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return
	}

	p.cancel()
	p.wg.Wait()
	p.running = false

	p.logger.Info("Outbox processor stopped")
}

func (p *Processor) loop() {
	ticker := time.NewTicker(p.pollingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(p.ctx, p.pollingInterval*5)
			if _, err := p.ProcessBatch(ctx); err != nil {
				p.logger.Error("Failed to process outbox batch", "error", err)
			}
			cancel()
		}
	}
}

// ProcessBatch delivers up to one batch of pending messages
func (p *Processor) ProcessBatch(ctx context.Context) (BatchResult, error) {
	var result BatchResult

	reclaimed, err := p.store.ReclaimStale(ctx, p.now().Add(-p.lease))

	if err != nil {
		return result, fmt.Errorf("failed to reclaim stale messages: %w", err)
	}

	if reclaimed > 0 {
		p.logger.Warn("Reclaimed outbox messages with expired claims", "count", reclaimed)
	}
	result.Reclaimed = reclaimed

	messages, err := p.store.GetPendingMessages(ctx, p.batchSize)

	if err != nil {
		return result, fmt.Errorf("failed to get pending messages: %w", err)
	}

	if len(messages) == 0 {
		return result, nil
	}

	p.logger.Debug("Processing batch of outbox messages", "count", len(messages))

	for _, msg := range messages {
		switch p.processMessage(ctx, msg) {
		case outcomeDelivered:
			result.Delivered++
		case outcomeRetry:
			result.Retried++
		case outcomeFailed:
			result.Failed++
		}
	}

	return result, nil
}

type outcome int

const (
	outcomeDelivered outcome = iota
	outcomeRetry
	outcomeFailed
)

func (p *Processor) processMessage(ctx context.Context, msg *models.OutboxMessage) outcome {
	if err := p.store.MarkAsProcessing(ctx, msg.ID, p.now()); err != nil {
		p.logger.Error("Failed to mark message as processing", "error", err, "messageID", msg.ID)
		return outcomeRetry
	}
	attempts := msg.ProcessingAttempts + 1

	// Once claimed, the outcome is recorded even if the batch is cancelled
	settle := context.WithoutCancel(ctx)

	p.mu.Lock()
	handler, exists := p.handlers[msg.EventType]
	p.mu.Unlock()

	if !exists {
		p.fail(settle, msg, fmt.Sprintf("no handler registered for event type: %s", msg.EventType))
		return outcomeFailed
	}

	if err := handler.HandleMessage(ctx, msg); err != nil {
		if attempts >= p.maxRetries {
			p.fail(settle, msg, fmt.Sprintf("max retries reached: %s", err.Error()))
			return outcomeFailed
		}

		p.logger.Warn("Message processing failed, will retry",
			"error", err,
			"messageID", msg.ID,
			"attempt", attempts)

		if markErr := p.store.MarkAsPending(settle, msg.ID, err.Error()); markErr != nil {
			p.logger.Error("Failed to return message to queue", "error", markErr, "messageID", msg.ID)
		}
		return outcomeRetry
	}

	if err := p.store.MarkAsCompleted(settle, msg.ID); err != nil {
		p.logger.Error("Failed to mark message as completed, it will be redelivered after its lease",
			"error", err, "messageID", msg.ID)
		return outcomeRetry
	}

	p.logger.Debug("Processed outbox message",
		"messageID", msg.ID,
		"aggregateID", msg.AggregateID,
		"eventType", msg.EventType)

	return outcomeDelivered
}

func (p *Processor) fail(ctx context.Context, msg *models.OutboxMessage, reason string) {
	p.logger.Error("Outbox message parked", "reason", reason, "messageID", msg.ID, "aggregateID", msg.AggregateID)

	if err := p.store.MarkAsFailed(ctx, msg.ID, reason); err != nil {
		p.logger.Error("Failed to mark message as failed", "error", err, "messageID", msg.ID)
	}
}
