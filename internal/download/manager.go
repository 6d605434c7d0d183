// Package download implements the download session manager: single-flight
// admission per user, timer-driven progress simulation, cancellation, and
// reclamation of abandoned sessions.
package download

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/vinayakrastogi/D3AS-DownloadDuplicationAlertSystem/internal/catalog"
	"github.com/vinayakrastogi/D3AS-DownloadDuplicationAlertSystem/internal/config"
	"github.com/vinayakrastogi/D3AS-DownloadDuplicationAlertSystem/internal/db"
	"github.com/vinayakrastogi/D3AS-DownloadDuplicationAlertSystem/internal/hub"
)

// Manager orchestrates download sessions. It admits at most one busy session
// per user token, owns the lifecycle of progress clocks, and coordinates them
// with the store and the broadcast hub. Cross-clock coordination happens only
// through the store's conditional writes; the manager holds no per-session
// locks beyond the clock registry.
type Manager struct {
	store   *db.DB
	catalog catalog.Lookup
	hub     *hub.Hub
	logger  *slog.Logger

	tickInterval time.Duration
	staleAfter   time.Duration

	mu     sync.Mutex
	clocks map[string]*clock // keyed by session id
}

// New creates a Manager with the given configuration.
func New(cfg *config.Config, store *db.DB, lookup catalog.Lookup, h *hub.Hub, logger *slog.Logger) *Manager {
	return &Manager{
		store:        store,
		catalog:      lookup,
		hub:          h,
		logger:       logger,
		tickInterval: cfg.TickInterval,
		staleAfter:   cfg.StaleAfter,
		clocks:       make(map[string]*clock),
	}
}

// AdmitResult is the successful outcome of an admission request.
type AdmitResult struct {
	SessionID   string
	ObjectName  string
	TotalChunks int
}

// Admit starts a new download session for the user, enforcing the one busy
// session per user invariant. Stale sessions for this user are reclaimed
// first; a live busy session yields a ConflictError naming the blocking
// download. The create itself is a single conditional write, retried once
// through a reap when a concurrent admission wins the race.
func (m *Manager) Admit(ctx context.Context, userToken, objectID string) (*AdmitResult, error) {
	now := time.Now().UTC()
	nowStr := now.Format(time.RFC3339)
	cutoff := now.Add(-m.staleAfter).Format(time.RFC3339)

	reaped, err := m.store.ReapStale(userToken, cutoff, nowStr)
	if err != nil {
		return nil, fmt.Errorf("reap stale sessions: %w", err)
	}
	if reaped > 0 {
		m.logger.Info("reclaimed stale downloads", "user_token", userToken, "count", reaped)
	}

	active, err := m.store.ActiveSession(userToken)
	if err != nil {
		return nil, fmt.Errorf("check active session: %w", err)
	}
	if active != nil {
		return nil, &ConflictError{ObjectName: active.ObjectName, Progress: active.Progress}
	}

	obj, err := m.catalog.GetObject(ctx, objectID)
	if err != nil {
		return nil, fmt.Errorf("look up object: %w", err)
	}
	if obj == nil {
		return nil, ErrObjectNotFound
	}

	totalChunks := int(obj.SizeMB * 1024)
	if totalChunks < 1 {
		totalChunks = 1
	}

	create := func() (*db.DownloadSession, error) {
		s := &db.DownloadSession{
			ID:          uuid.NewString(),
			UserToken:   userToken,
			ObjectID:    obj.ID,
			ObjectName:  obj.Name,
			State:       db.StateBusy,
			TotalChunks: totalChunks,
			StartedAt:   nowStr,
			UpdatedAt:   nowStr,
		}
		return s, m.store.CreateSession(s)
	}

	s, err := create()
	if errors.Is(err, db.ErrDuplicateActive) {
		// A concurrent admission created a busy record between our check and
		// the insert. Reap once more and retry; a persistent violation means
		// the other session is live, not stale.
		if _, rerr := m.store.ReapStale(userToken, cutoff, nowStr); rerr != nil {
			return nil, fmt.Errorf("reap before retry: %w", rerr)
		}
		s, err = create()
		if errors.Is(err, db.ErrDuplicateActive) {
			if active, aerr := m.store.ActiveSession(userToken); aerr == nil && active != nil {
				return nil, &ConflictError{ObjectName: active.ObjectName, Progress: active.Progress}
			}
			return nil, &StoreConflictError{UserToken: userToken, Err: err}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("create download session: %w", err)
	}

	m.logger.Info("download admitted",
		"user_token", userToken,
		"object", obj.Name,
		"size", humanize.IBytes(uint64(obj.SizeMB*1024*1024)),
		"total_chunks", totalChunks,
	)

	return &AdmitResult{SessionID: s.ID, ObjectName: obj.Name, TotalChunks: totalChunks}, nil
}

// StreamProgress starts the progress clock for a session and returns the live
// event stream. The channel is closed after the final event: a Complete event
// on natural completion, or nothing further on cancel and disconnect. The
// caller's ctx cancellation is the disconnect trigger and releases the session.
func (m *Manager) StreamProgress(ctx context.Context, sessionID, userToken string) (<-chan ProgressEvent, error) {
	s, err := m.store.GetSession(sessionID)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if s == nil {
		return nil, ErrSessionNotFound
	}
	if s.UserToken != userToken {
		return nil, ErrForbidden
	}
	if s.State != db.StateBusy {
		return nil, ErrSessionNotActive
	}

	c := newClock(s, m.tickInterval, m.store, m.hub, m.logger)

	m.mu.Lock()
	if _, exists := m.clocks[sessionID]; exists {
		m.mu.Unlock()
		return nil, ErrAlreadyStreaming
	}
	m.clocks[sessionID] = c
	m.mu.Unlock()

	go func() {
		c.run(ctx)
		m.mu.Lock()
		delete(m.clocks, sessionID)
		m.mu.Unlock()
	}()

	return c.events, nil
}

// Cancel frees the user's busy session, stopping its progress clock if one is
// running. Cancelling when no session is busy returns ErrNoActiveDownload, so
// a repeated cancel is a clean not-found rather than a double-cancel fault.
func (m *Manager) Cancel(ctx context.Context, userToken string) error {
	s, err := m.store.ActiveSession(userToken)
	if err != nil {
		return fmt.Errorf("check active session: %w", err)
	}
	if s == nil {
		return ErrNoActiveDownload
	}

	m.mu.Lock()
	c := m.clocks[s.ID]
	m.mu.Unlock()

	if c != nil {
		if c.stop(stopCancelled) {
			c.release()
		}
		return nil
	}

	// Admitted but never streamed: release the record directly, with the same
	// conditional-write discipline as the clock paths.
	now := time.Now().UTC().Format(time.RFC3339)
	ok, err := m.store.ReleaseSession(s.ID, now)
	if err != nil {
		return fmt.Errorf("release session: %w", err)
	}
	if !ok {
		return ErrNoActiveDownload
	}
	return nil
}

// StatusResult describes a user's current download state.
type StatusResult struct {
	State   string
	Session *db.DownloadSession // nil when State is free
}

// Status reports the user's busy session, if any. Side-effect-free.
func (m *Manager) Status(ctx context.Context, userToken string) (*StatusResult, error) {
	s, err := m.store.ActiveSession(userToken)
	if err != nil {
		return nil, fmt.Errorf("check active session: %w", err)
	}
	if s == nil {
		return &StatusResult{State: db.StateFree}, nil
	}
	return &StatusResult{State: db.StateBusy, Session: s}, nil
}

// ListActive returns a snapshot of every busy session for the monitoring
// surface, most recently started first.
func (m *Manager) ListActive(ctx context.Context) ([]db.DownloadSession, error) {
	return m.store.ListActiveSessions()
}

// UserDownloads groups one user's current state with their full download
// history for the monitoring surface.
type UserDownloads struct {
	UserToken    string
	CurrentState string
	Current      *db.DownloadSession // nil unless CurrentState is busy
	History      []db.DownloadSession
}

// ListUsers groups all sessions ever recorded by user token, most recently
// active users first. Derived entirely from the store.
func (m *Manager) ListUsers(ctx context.Context) ([]UserDownloads, error) {
	sessions, err := m.store.ListSessions()
	if err != nil {
		return nil, err
	}

	byToken := make(map[string]*UserDownloads)
	var order []string
	for i := range sessions {
		s := sessions[i]
		u, ok := byToken[s.UserToken]
		if !ok {
			u = &UserDownloads{UserToken: s.UserToken, CurrentState: db.StateFree}
			byToken[s.UserToken] = u
			order = append(order, s.UserToken)
		}
		// Sessions are sorted newest first, so the first busy record per user
		// is their current download.
		if s.State == db.StateBusy && u.Current == nil {
			u.CurrentState = db.StateBusy
			cur := s
			u.Current = &cur
		}
		u.History = append(u.History, s)
	}

	users := make([]UserDownloads, 0, len(order))
	for _, token := range order {
		users = append(users, *byToken[token])
	}
	return users, nil
}
