package referral

import (
	"context"
	"fmt"
	"time"

	"github.com/router-for-me/MemberLedger/internal/ledger"
	"github.com/router-for-me/MemberLedger/internal/models"
)

// Downline summarizes the members beneath one member.
type Downline struct {
	MemberID    uint64           `json:"member_id"`
	Depth       int              `json:"depth"`
	Total       int              `json:"total"`
	Active      int              `json:"active"`
	Levels      []LevelCount     `json:"levels"`
	Members     []DownlineMember `json:"members"`
	GeneratedAt time.Time        `json:"generated_at"`
}

// LevelCount counts the members of one downline level.
type LevelCount struct {
	Level  int `json:"level"`
	Count  int `json:"count"`
	Active int `json:"active"`
}

// DownlineMember is the public view of a downline member.
type DownlineMember struct {
	ID          uint64              `json:"id"`
	Handle      string              `json:"handle"`
	DisplayName string              `json:"display_name"`
	Status      models.MemberStatus `json:"status"`
	Level       int                 `json:"level"`
	ReferredBy  string              `json:"referred_by"`
	JoinedAt    time.Time           `json:"joined_at"`
}

// Downlines serves downline views from the snapshot through a cache.
type Downlines struct {
	snapshot *Snapshot
	cache    DownlineCache
}

// NewDownlines constructs a Downlines service. A nil cache disables caching.
func NewDownlines(snapshot *Snapshot, cache DownlineCache) *Downlines {
	return &Downlines{snapshot: snapshot, cache: cache}
}

// Downline returns the downline of memberID up to maxDepth levels.
func (d *Downlines) Downline(ctx context.Context, memberID uint64, maxDepth int) (*Downline, error) {
	maxDepth = NormalizeDepth(maxDepth)
	if d.cache != nil {
		if cached, ok := d.cache.Get(ctx, memberID, maxDepth); ok {
			return cached, nil
		}
	}

	idx, errIdx := d.snapshot.Index(ctx)
	if errIdx != nil {
		return nil, errIdx
	}
	if _, ok := idx.ByID(memberID); !ok {
		// Members created after the last build are not indexed yet.
		idx, errIdx = d.snapshot.Rebuild(ctx)
		if errIdx != nil {
			return nil, errIdx
		}
		if _, found := idx.ByID(memberID); !found {
			return nil, fmt.Errorf("%w: member %d", ledger.ErrNotFound, memberID)
		}
	}

	out := summarize(idx, memberID, maxDepth)
	if d.cache != nil {
		d.cache.Set(ctx, out, d.snapshot.TTL())
	}
	return out, nil
}

// Invalidate drops cached summaries and forces the next read to rebuild.
func (d *Downlines) Invalidate(ctx context.Context) error {
	if d.cache != nil {
		if err := d.cache.Invalidate(ctx); err != nil {
			return err
		}
	}
	_, err := d.snapshot.Rebuild(ctx)
	return err
}

func summarize(idx *Index, memberID uint64, maxDepth int) *Downline {
	nodes := idx.Descendants(memberID, maxDepth)
	out := &Downline{
		MemberID:    memberID,
		Depth:       maxDepth,
		Total:       len(nodes),
		Levels:      make([]LevelCount, 0),
		Members:     make([]DownlineMember, 0, len(nodes)),
		GeneratedAt: idx.BuiltAt(),
	}
	levels := make(map[int]int)
	for _, node := range nodes {
		pos, ok := levels[node.Level]
		if !ok {
			out.Levels = append(out.Levels, LevelCount{Level: node.Level})
			pos = len(out.Levels) - 1
			levels[node.Level] = pos
		}
		out.Levels[pos].Count++
		if node.Member.IsActive() {
			out.Levels[pos].Active++
			out.Active++
		}
		out.Members = append(out.Members, DownlineMember{
			ID:          node.Member.ID,
			Handle:      node.Member.Handle,
			DisplayName: node.Member.DisplayName,
			Status:      node.Member.Status,
			Level:       node.Level,
			ReferredBy:  node.Member.ReferrerHandle(),
			JoinedAt:    node.Member.CreatedAt,
		})
	}
	return out
}
