package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"vlwatch/internal/config"
	"vlwatch/internal/model"
)

// messageReader is the part of *kafka.Reader the consumer loop uses.
type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

// StartKafka consumes capture messages (one capture object or an array
// per message) from the configured topic.
func StartKafka(ctx context.Context, cfg *config.Manager, parser *Parser, out chan<- model.Capture, logger *slog.Logger) {
	current := cfg.Get().Ingest.Kafka
	if !current.Enabled {
		if logger != nil {
			logger.Info("kafka ingest disabled")
		}
		return
	}
	if logger != nil {
		logger.Info("kafka ingest enabled", "brokers", current.Brokers, "topic", current.Topic, "group_id", current.GroupID)
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  current.Brokers,
		Topic:    current.Topic,
		GroupID:  current.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	go func() {
		defer reader.Close()
		consumeKafka(ctx, reader, parser, out, logger, time.Second)
	}()
}

func consumeKafka(ctx context.Context, reader messageReader, parser *Parser, out chan<- model.Capture, logger *slog.Logger, retry time.Duration) {
	for {
		m, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if logger != nil {
				logger.Warn("kafka read error", "err", err)
			}
			if !BackoffSleep(ctx, retry) {
				return
			}
			continue
		}
		captures, failed, err := parser.ParseCaptures(m.Value, "kafka")
		if (err != nil || failed > 0) && logger != nil {
			logger.Warn("kafka capture rejected", "partition", m.Partition, "offset", m.Offset, "failed", failed, "err", err)
		}
		for _, c := range captures {
			SendNonBlocking(ctx, out, c, logger)
		}
	}
}
