package ingest

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"time"

	"vlwatch/internal/config"
	"vlwatch/internal/model"
)

const (
	tailReopenDelay = 500 * time.Millisecond
	tailPollDelay   = 200 * time.Millisecond
)

// StartFileTail follows JSONL capture files, such as a proxy or HAR
// exporter writing one capture per line.
func StartFileTail(ctx context.Context, cfg *config.Manager, parser *Parser, out chan<- model.Capture, logger *slog.Logger) {
	current := cfg.Get().Ingest.FileTail
	if !current.Enabled {
		if logger != nil {
			logger.Info("file tail ingest disabled")
		}
		return
	}
	for _, path := range current.Files {
		if logger != nil {
			logger.Info("file tail ingest enabled", "path", path, "start_at_end", current.StartAtEnd)
		}
		t := &tailer{path: path, startAtEnd: current.StartAtEnd, parser: parser, out: out, logger: logger}
		go t.run(ctx)
	}
}

// tailer follows one file. A file that shrinks below the consumed offset
// is treated as rotated and reopened from the start.
type tailer struct {
	path       string
	startAtEnd bool
	parser     *Parser
	out        chan<- model.Capture
	logger     *slog.Logger

	offset  int64
	pending []byte
}

func (t *tailer) run(ctx context.Context) {
	first := true
	for ctx.Err() == nil {
		f, err := t.open(first)
		if err != nil {
			t.warn("tail open failed", err)
			if !BackoffSleep(ctx, tailReopenDelay) {
				return
			}
			continue
		}
		first = false
		err = t.follow(ctx, f)
		_ = f.Close()
		if ctx.Err() != nil {
			return
		}
		if err != nil && !errors.Is(err, errRotated) {
			t.warn("tail read error", err)
		}
	}
}

var errRotated = errors.New("file rotated")

func (t *tailer) open(first bool) (*os.File, error) {
	f, err := os.Open(t.path)
	if err != nil {
		return nil, err
	}
	t.offset = 0
	t.pending = t.pending[:0]
	if first && t.startAtEnd {
		if pos, err := f.Seek(0, io.SeekEnd); err == nil {
			t.offset = pos
		}
	}
	return f, nil
}

// follow reads complete lines from f until ctx ends, the file rotates, or
// a read fails. Partial trailing lines are held until their newline lands.
func (t *tailer) follow(ctx context.Context, f *os.File) error {
	reader := bufio.NewReaderSize(f, 1<<20)
	for {
		chunk, err := reader.ReadBytes('\n')
		t.pending = append(t.pending, chunk...)
		switch {
		case err == nil:
			t.offset += int64(len(t.pending))
			t.emit(ctx, t.pending)
			t.pending = t.pending[:0]
		case errors.Is(err, io.EOF):
			if !BackoffSleep(ctx, tailPollDelay) {
				return ctx.Err()
			}
			if info, statErr := os.Stat(t.path); statErr == nil && info.Size() < t.offset {
				return errRotated
			}
		default:
			return err
		}
	}
}

func (t *tailer) emit(ctx context.Context, line []byte) {
	if len(bytes.TrimSpace(line)) == 0 {
		return
	}
	fields, err := t.parser.ParseLine(string(line))
	if err != nil {
		t.warn("tail parse error", err)
		return
	}
	if fields == nil {
		return
	}
	c, err := t.parser.normalize(fields, "file_tail")
	if err != nil {
		t.warn("tail normalize error", err)
		return
	}
	SendNonBlocking(ctx, t.out, c, t.logger)
}

func (t *tailer) warn(msg string, err error) {
	if t.logger != nil {
		t.logger.Warn(msg, "path", t.path, "err", err)
	}
}
