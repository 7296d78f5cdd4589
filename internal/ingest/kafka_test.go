package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"vlwatch/internal/model"
)

type scriptedReader struct {
	mu       sync.Mutex
	messages []kafka.Message
	errs     []error
	cancel   context.CancelFunc
}

func (r *scriptedReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.errs) > 0 {
		err := r.errs[0]
		r.errs = r.errs[1:]
		return kafka.Message{}, err
	}
	if len(r.messages) == 0 {
		r.cancel()
		return kafka.Message{}, ctx.Err()
	}
	m := r.messages[0]
	r.messages = r.messages[1:]
	return m, nil
}

func TestConsumeKafkaForwardsCaptures(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reader := &scriptedReader{
		errs: []error{errors.New("broker unavailable")},
		messages: []kafka.Message{
			{Offset: 1, Value: []byte(`[{"url":"https://www.volumeleaders.com/Trades/GetTrades","body":"{\"data\":[]}"},{"url":"https://www.volumeleaders.com/TradeLevelTouches/GetTradeLevelTouches","body":{"data":[]}}]`)},
			{Offset: 2, Value: []byte(`garbage`)},
		},
		cancel: cancel,
	}
	out := make(chan model.Capture, 4)

	done := make(chan struct{})
	go func() {
		consumeKafka(ctx, reader, NewParser(), out, nil, time.Millisecond)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatalf("consumer did not stop")
	}

	if len(out) != 2 {
		t.Fatalf("expected 2 captures, got %d", len(out))
	}
	first := <-out
	if first.Source != "kafka" {
		t.Fatalf("unexpected source %q", first.Source)
	}
}
