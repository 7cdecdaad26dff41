package referral

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	internalsettings "github.com/router-for-me/MemberLedger/internal/settings"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const defaultSnapshotTTL = 30 * time.Second

// Snapshot serves an eventually consistent Index for read-heavy views.
// Commission payouts never read it.
type Snapshot struct {
	db  *gorm.DB
	ttl time.Duration
	now func() time.Time

	current atomic.Pointer[Index]
	mu      sync.Mutex // serializes rebuilds
}

// NewSnapshot constructs a Snapshot that is rebuilt when older than ttl.
func NewSnapshot(conn *gorm.DB, ttl time.Duration) *Snapshot {
	if ttl <= 0 {
		ttl = defaultSnapshotTTL
	}
	return &Snapshot{db: conn, ttl: ttl, now: func() time.Time { return time.Now().UTC() }}
}

// TTL returns the snapshot freshness window.
func (s *Snapshot) TTL() time.Duration { return s.ttl }

// Index returns the current index, rebuilding it when stale or missing.
func (s *Snapshot) Index(ctx context.Context) (*Index, error) {
	if idx := s.current.Load(); idx != nil && s.now().Sub(idx.BuiltAt()) < s.ttl {
		return idx, nil
	}
	return s.rebuildIfStale(ctx)
}

// Rebuild loads every member and replaces the current index.
func (s *Snapshot) Rebuild(ctx context.Context) (*Index, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rebuildLocked(ctx)
}

func (s *Snapshot) rebuildIfStale(ctx context.Context) (*Index, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx := s.current.Load(); idx != nil && s.now().Sub(idx.BuiltAt()) < s.ttl {
		return idx, nil
	}
	return s.rebuildLocked(ctx)
}

func (s *Snapshot) rebuildLocked(ctx context.Context) (*Index, error) {
	members, errLoad := LoadMembers(ctx, s.db, 0)
	if errLoad != nil {
		return nil, errLoad
	}
	idx := BuildIndex(members, s.now())
	s.current.Store(idx)
	return idx, nil
}

// SnapshotRefresher rebuilds a Snapshot in the background.
type SnapshotRefresher struct {
	snapshot *Snapshot
	interval time.Duration
}

// NewSnapshotRefresher refreshes snapshot every interval; the
// GRAPH_SNAPSHOT_REFRESH_SECONDS setting overrides it at runtime.
func NewSnapshotRefresher(snapshot *Snapshot, interval time.Duration) *SnapshotRefresher {
	if snapshot == nil {
		return nil
	}
	if interval <= 0 {
		interval = snapshot.TTL()
	}
	return &SnapshotRefresher{snapshot: snapshot, interval: interval}
}

// Start launches the refresh loop in a background goroutine.
func (r *SnapshotRefresher) Start(ctx context.Context) {
	if r == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	go r.run(ctx)
	log.Infof("referral snapshot refresher started (interval=%s)", r.interval)
}

func (r *SnapshotRefresher) run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if idx, err := r.snapshot.Rebuild(ctx); err != nil {
			if ctx.Err() == nil {
				log.WithError(err).Warn("referral snapshot refresher: rebuild failed")
			}
		} else {
			log.Debugf("referral snapshot refresher: indexed %d members", idx.Len())
		}
		timer := time.NewTimer(internalsettings.Seconds(internalsettings.SnapshotRefreshSecondsKey, r.interval))
		select {
		case <-ctx.Done():
			if !timer.Stop() {
				<-timer.C
			}
			return
		case <-timer.C:
		}
	}
}
