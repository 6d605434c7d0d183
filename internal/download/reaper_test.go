package download

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/vinayakrastogi/D3AS-DownloadDuplicationAlertSystem/internal/db"
)

func TestReaperFreesStaleSessions(t *testing.T) {
	m, d, _, _ := newTestManager(t, time.Hour)

	old := time.Now().UTC().Add(-10 * time.Minute).Format(time.RFC3339)
	stale := &db.DownloadSession{
		ID:          uuid.NewString(),
		UserToken:   "user-1",
		ObjectID:    uuid.NewString(),
		ObjectName:  "abandoned.iso",
		State:       db.StateBusy,
		TotalChunks: 10,
		StartedAt:   old,
		UpdatedAt:   old,
	}
	if err := d.CreateSession(stale); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.RunReaper(ctx, 5*time.Millisecond)
		close(done)
	}()

	deadline := time.After(5 * time.Second)
	for {
		s, err := d.GetSession(stale.ID)
		if err != nil {
			t.Fatalf("GetSession: %v", err)
		}
		if s.State == db.StateFree {
			if s.CompletedAt == nil {
				t.Fatalf("reaped session has no completion time: %+v", s)
			}
			break
		}
		select {
		case <-deadline:
			t.Fatal("reaper never reclaimed the stale session")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("reaper did not stop on context cancellation")
	}
}

func TestReaperDisabledWithoutInterval(t *testing.T) {
	m, _, _, _ := newTestManager(t, time.Hour)

	done := make(chan struct{})
	go func() {
		m.RunReaper(context.Background(), 0)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reaper with zero interval should return immediately")
	}
}
