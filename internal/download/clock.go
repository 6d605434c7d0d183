package download

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vinayakrastogi/D3AS-DownloadDuplicationAlertSystem/internal/db"
	"github.com/vinayakrastogi/D3AS-DownloadDuplicationAlertSystem/internal/hub"
)

// ProgressEvent is one tick observed by the streaming caller. The event with
// Complete set is always the last one on the stream.
type ProgressEvent struct {
	CurrentChunk int  `json:"chunk"`
	TotalChunks  int  `json:"total"`
	Progress     int  `json:"progress"`
	Complete     bool `json:"complete,omitempty"`
}

type stopReason int

const (
	stopCompleted stopReason = iota
	stopCancelled
	stopDisconnected
)

// clock advances one session's simulated progress on a fixed interval. The
// three stop triggers (completion, cancel, disconnect) race through stop();
// only the winner performs the terminal state write, and every per-tick write
// is conditional on the record still being busy.
type clock struct {
	sessionID   string
	userToken   string
	objectName  string
	totalChunks int
	current     int

	interval time.Duration
	store    *db.DB
	hub      *hub.Hub
	logger   *slog.Logger

	events   chan ProgressEvent
	done     chan struct{}
	stopOnce sync.Once
	reason   stopReason
}

func newClock(s *db.DownloadSession, interval time.Duration, store *db.DB, h *hub.Hub, logger *slog.Logger) *clock {
	return &clock{
		sessionID:   s.ID,
		userToken:   s.UserToken,
		objectName:  s.ObjectName,
		totalChunks: s.TotalChunks,
		current:     s.CurrentChunk,
		interval:    interval,
		store:       store,
		hub:         h,
		logger:      logger.With("session_id", s.ID),
		events:      make(chan ProgressEvent, 16),
		done:        make(chan struct{}),
	}
}

// stop sets the one-shot termination signal and reports whether this call won
// the race. Only the winner may write the session's terminal state; losers
// must observe the closed channel and mutate nothing further.
func (c *clock) stop(reason stopReason) bool {
	won := false
	c.stopOnce.Do(func() {
		c.reason = reason
		close(c.done)
		won = true
	})
	return won
}

// run drives the ticker until a stop trigger fires, then closes the event
// stream. ctx is the streaming caller's context; its cancellation is the
// disconnect trigger.
func (c *clock) run(ctx context.Context) {
	defer close(c.events)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ctx.Done():
			if c.stop(stopDisconnected) {
				c.release()
			}
			return
		case <-ticker.C:
			if c.current >= c.totalChunks {
				c.complete(ctx)
				return
			}
			if !c.tick(ctx) {
				return
			}
		}
	}
}

// tick persists and publishes one chunk of progress. Reports false when the
// clock should stop, either because another path finalized the record or the
// caller went away mid-send.
func (c *clock) tick(ctx context.Context) bool {
	progress := c.current * 100 / c.totalChunks
	now := time.Now().UTC().Format(time.RFC3339)

	ok, err := c.store.AdvanceProgress(c.sessionID, c.current, progress, now)
	if err != nil {
		c.logger.Error("advance progress", "err", err)
		c.stop(stopCancelled)
		return false
	}
	if !ok {
		// Cancel or reap finalized the record first; this tick lost the race.
		c.stop(stopCancelled)
		return false
	}

	c.hub.Publish(hub.Event{
		UserToken:    c.userToken,
		SessionID:    c.sessionID,
		ObjectName:   c.objectName,
		Progress:     progress,
		CurrentChunk: c.current,
		TotalChunks:  c.totalChunks,
	})

	select {
	case c.events <- ProgressEvent{CurrentChunk: c.current, TotalChunks: c.totalChunks, Progress: progress}:
	case <-c.done:
		return false
	case <-ctx.Done():
		if c.stop(stopDisconnected) {
			c.release()
		}
		return false
	}

	c.current++
	return true
}

// complete performs the terminal completion write and publishes the final
// event. A session completes at most once; if cancel or reap won the race the
// conditional write is a no-op and no completion event is published.
func (c *clock) complete(ctx context.Context) {
	if !c.stop(stopCompleted) {
		return
	}

	now := time.Now().UTC().Format(time.RFC3339)
	ok, err := c.store.CompleteSession(c.sessionID, now)
	if err != nil {
		c.logger.Error("complete session", "err", err)
		return
	}
	if !ok {
		return
	}

	c.hub.Publish(hub.Event{
		UserToken:    c.userToken,
		SessionID:    c.sessionID,
		ObjectName:   c.objectName,
		Progress:     100,
		CurrentChunk: c.totalChunks,
		TotalChunks:  c.totalChunks,
		Complete:     true,
	})

	select {
	case c.events <- ProgressEvent{CurrentChunk: c.totalChunks, TotalChunks: c.totalChunks, Progress: 100, Complete: true}:
	case <-ctx.Done():
	}
}

// release frees the record without forcing progress (cancel and disconnect
// paths). Callers invoke it only after winning the stop race.
func (c *clock) release() {
	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := c.store.ReleaseSession(c.sessionID, now); err != nil {
		c.logger.Error("release session", "err", err)
	}
}
