package events

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestLogger_AsyncDropsWhenBufferFull(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	l := NewLogger(nil, logger)

	// Fill the buffer without starting the flush goroutine.
	for i := 0; i < asyncBufferSize; i++ {
		l.Async("test.event", "task", uuid.New(), nil, map[string]string{"i": "x"})
	}

	// One more should be dropped, not block.
	done := make(chan struct{})
	go func() {
		l.Async("test.event", "task", uuid.New(), nil, nil)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Async blocked with a full buffer instead of dropping")
	}
}
