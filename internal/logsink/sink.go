package logsink

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/omnichat/gateway/internal/core_domain"
	"github.com/omnichat/gateway/internal/logsink/repository"
	"github.com/omnichat/gateway/internal/platform/messagebroker"
)

// Config tunes batching behavior.
type Config struct {
	BatchSize     int
	FlushInterval time.Duration
}

// Sink consumes the logs lane and batches inserts, flushing on whichever
// comes first: the batch-size threshold or the flush window. A failure to
// persist logs is swallowed after being reported on the process's own error
// stream; the log pipeline must never take a worker down.
type Sink struct {
	repo   repository.GatewayLogRepository
	db     repository.CopyQuerier
	logger *slog.Logger
	cfg    Config

	mu  sync.Mutex
	buf []core_domain.GatewayLog
}

// NewSink wires a log sink.
func NewSink(repo repository.GatewayLogRepository, db repository.CopyQuerier, logger *slog.Logger, cfg Config) *Sink {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	return &Sink{
		repo:   repo,
		db:     db,
		logger: logger.With("component", "logsink"),
		cfg:    cfg,
	}
}

// HandleDelivery buffers one log record, flushing when the batch fills. Log
// records are acked immediately; they are not worth a retry loop.
func (s *Sink) HandleDelivery(ctx context.Context, d amqp.Delivery) messagebroker.Outcome {
	var entry core_domain.GatewayLog
	if err := json.Unmarshal(d.Body, &entry); err != nil {
		s.logger.WarnContext(ctx, "undecodable log record, dropping", "error", err)
		return messagebroker.OutcomeAck
	}
	if entry.Level == "" {
		entry.Level = levelFromRoutingKey(d.RoutingKey)
	}

	s.mu.Lock()
	s.buf = append(s.buf, entry)
	full := len(s.buf) >= s.cfg.BatchSize
	s.mu.Unlock()

	if full {
		s.Flush(ctx)
	}
	return messagebroker.OutcomeAck
}

// RunFlusher flushes on the time window until ctx is cancelled, then flushes
// any partial batch one last time before returning.
func (s *Sink) RunFlusher(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Flush(ctx)
		case <-ctx.Done():
			// Shutdown flush uses a fresh context; the loop's is already dead.
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			s.Flush(flushCtx)
			cancel()
			return ctx.Err()
		}
	}
}

// Flush writes the buffered batch. A failed insert drops the batch after
// logging; the records are lost rather than wedging the consumer.
func (s *Sink) Flush(ctx context.Context) {
	s.mu.Lock()
	batch := s.buf
	s.buf = nil
	s.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	if err := s.repo.InsertBatch(ctx, s.db, batch); err != nil {
		s.logger.Error("failed to flush log batch", "size", len(batch), "error", err)
		return
	}
	s.logger.Debug("flushed log batch", "size", len(batch))
}

// Buffered reports the current buffer size.
func (s *Sink) Buffered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buf)
}

// levelFromRoutingKey recovers the level from a "logs.{level}" routing key.
func levelFromRoutingKey(rk string) string {
	const prefix = "logs."
	if len(rk) > len(prefix) && rk[:len(prefix)] == prefix {
		return rk[len(prefix):]
	}
	return "info"
}
