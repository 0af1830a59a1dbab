package conversation

import (
	"context"
	"log/slog"
	"time"
)

const DefaultTypingInterval = 2 * time.Second

// startTyping sends a typing indicator now and then every interval until the
// returned stop func is called. stop blocks until the ticker goroutine exits.
func startTyping(ctx context.Context, messenger Messenger, chatID int64, interval time.Duration, logger *slog.Logger) func() {
	if interval <= 0 {
		interval = DefaultTypingInterval
	}
	done := make(chan struct{})
	exited := make(chan struct{})
	send := func() {
		if err := messenger.SendTyping(ctx, chatID); err != nil {
			logger.Debug("typing indicator failed", "chat_id", chatID, "error", err)
		}
	}

	go func() {
		defer close(exited)
		send()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-ticker.C:
				send()
			}
		}
	}()

	stopped := false
	return func() {
		if stopped {
			return
		}
		stopped = true
		close(done)
		<-exited
	}
}
